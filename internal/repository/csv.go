package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fedutinova/stockrank/internal/models"
)

var priceColumns = []string{"symbol", "date", "open", "high", "low", "close", "volume"}

// ReadPriceCSV parses symbol,date,open,high,low,close,volume rows. A header
// row naming those columns is optional.
func ReadPriceCSV(r io.Reader) ([]models.PriceBar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(priceColumns)
	cr.TrimLeadingSpace = true

	var bars []models.PriceBar
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return bars, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && strings.EqualFold(row[0], priceColumns[0]) {
			continue
		}
		bar, err := parsePriceRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
}

func parsePriceRow(row []string) (models.PriceBar, error) {
	symbol := strings.ToUpper(strings.TrimSpace(row[0]))
	if symbol == "" {
		return models.PriceBar{}, errors.New("empty symbol")
	}
	date, err := time.Parse(dateFormat, strings.TrimSpace(row[1]))
	if err != nil {
		return models.PriceBar{}, fmt.Errorf("bad date %q", row[1])
	}

	var ohlc [4]float64
	for i := range ohlc {
		ohlc[i], err = strconv.ParseFloat(strings.TrimSpace(row[2+i]), 64)
		if err != nil {
			return models.PriceBar{}, fmt.Errorf("bad %s %q", priceColumns[2+i], row[2+i])
		}
	}
	volume, err := strconv.ParseInt(strings.TrimSpace(row[6]), 10, 64)
	if err != nil {
		return models.PriceBar{}, fmt.Errorf("bad volume %q", row[6])
	}

	return models.PriceBar{
		Symbol: symbol,
		Date:   date,
		Open:   ohlc[0],
		High:   ohlc[1],
		Low:    ohlc[2],
		Close:  ohlc[3],
		Volume: volume,
	}, nil
}
