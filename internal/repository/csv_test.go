package repository

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPriceCSV(t *testing.T) {
	in := `symbol,date,open,high,low,close,volume
aapl,2024-06-27,210.1,214.9,209.5,213.25,49772700
MSFT, 2024-06-27, 447.0, 451.1, 445.2, 452.85, 14806300
`
	bars, err := ReadPriceCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, time.Date(2024, 6, 27, 0, 0, 0, 0, time.UTC), bars[0].Date)
	assert.Equal(t, 214.9, bars[0].High)
	assert.Equal(t, 213.25, bars[0].Close)
	assert.EqualValues(t, 14806300, bars[1].Volume)
}

func TestReadPriceCSV_NoHeader(t *testing.T) {
	bars, err := ReadPriceCSV(strings.NewReader("XOM,2024-01-02,1,2,0.5,1.5,100\n"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
}

func TestReadPriceCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"bad date", "AAPL,27/06/2024,1,2,0.5,1.5,100\n", "line 1: bad date"},
		{"bad close", "AAPL,2024-06-27,1,2,0.5,x,100\n", "bad close"},
		{"bad volume", "AAPL,2024-06-27,1,2,0.5,1.5,1e3\n", "bad volume"},
		{"short row", "AAPL,2024-06-27,1\n", "read csv"},
		{"empty symbol", " ,2024-06-27,1,2,0.5,1.5,100\n", "empty symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPriceCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestReadPriceCSV_ImportIntoSQLite(t *testing.T) {
	f, err := os.Open("testdata/prices.csv")
	require.NoError(t, err)
	defer f.Close()

	bars, err := ReadPriceCSV(f)
	require.NoError(t, err)
	require.Len(t, bars, 15)

	store := setupTestDB(t)
	ctx := context.Background()
	n, err := store.SavePrices(ctx, bars)
	require.NoError(t, err)
	assert.EqualValues(t, 15, n)

	dates, err := store.TradingDates(ctx, time.Date(2024, 6, 25, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, dates, 3)

	got, err := store.FetchPrices(ctx, []string{"XOM"}, time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 115.12, got[4].Close)
}
