// Package markettest builds deterministic price histories for tests.
package markettest

import (
	"fmt"
	"time"

	"github.com/fedutinova/stockrank/internal/models"
)

// Weekdays returns n consecutive weekdays ending on last (inclusive).
func Weekdays(last time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	for len(out) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, -1)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Symbols returns n tickers SYM00, SYM01, ...
func Symbols(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%02d", i)
	}
	return out
}

// Bars builds a linear series per symbol over dates, ordered by symbol then
// date. Symbol i starts at 50+i and grows by drift*(i+1) per bar, so later
// symbols are stronger.
func Bars(symbols []string, dates []time.Time, drift float64) []models.PriceBar {
	bars := make([]models.PriceBar, 0, len(symbols)*len(dates))
	for i, sym := range symbols {
		start := 50 + float64(i)
		step := drift * float64(i+1)
		for d, date := range dates {
			c := start + step*float64(d)
			bars = append(bars, models.PriceBar{
				Symbol: sym,
				Date:   date,
				Open:   c,
				High:   c * 1.01,
				Low:    c * 0.99,
				Close:  c,
				Volume: int64(100_000 + 10*d),
			})
		}
	}
	return bars
}
