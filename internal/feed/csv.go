// Package feed reads and writes bar and zone data as CSV.
package feed

import (
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/models"
)

// BarRecord is one CSV row of OHLCV data. The symbol column is optional.
type BarRecord struct {
	Symbol string  `csv:"symbol"`
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume int64   `csv:"volume"`
}

// timeLayouts are tried in order for the time column.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a bar timestamp. Values without a zone are read in loc;
// all-digit values are Unix seconds.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if loc == nil {
		loc = time.UTC
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperrors.NewValidationError("time", value, "unrecognised timestamp")
}

// Reader decodes bar CSV.
type Reader struct {
	Location      *time.Location
	DefaultSymbol string
}

// ReadBars decodes every row of r into bars, in file order.
func (rd Reader) ReadBars(r io.Reader) ([]models.Bar, error) {
	var records []*BarRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, apperrors.NewDataError("csv", rd.DefaultSymbol, "decoding bars", err)
	}

	bars := make([]models.Bar, 0, len(records))
	for i, rec := range records {
		bar, err := rd.toBar(rec)
		if err != nil {
			return nil, apperrors.Wrapf(err, "row %d", i+2)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// ReadFile opens path and decodes it with ReadBars.
func (rd Reader) ReadFile(path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, "opening bar file")
	}
	defer f.Close()
	return rd.ReadBars(f)
}

func (rd Reader) toBar(rec *BarRecord) (models.Bar, error) {
	ts, err := ParseTime(rec.Time, rd.Location)
	if err != nil {
		return models.Bar{}, err
	}
	if rec.High < rec.Low {
		return models.Bar{}, apperrors.NewValidationError("high", rec.High, "below low")
	}
	symbol := strings.TrimSpace(rec.Symbol)
	if symbol == "" {
		symbol = rd.DefaultSymbol
	}
	return models.Bar{
		Symbol:    strings.ToUpper(symbol),
		Timestamp: ts,
		Open:      rec.Open,
		High:      rec.High,
		Low:       rec.Low,
		Close:     rec.Close,
		Volume:    rec.Volume,
	}, nil
}

// GroupBySymbol splits bars per symbol, keeping each symbol's file order.
func GroupBySymbol(bars []models.Bar) map[string][]models.Bar {
	out := make(map[string][]models.Bar)
	for _, b := range bars {
		out[b.Symbol] = append(out[b.Symbol], b)
	}
	return out
}

// Symbols returns the sorted symbol names of a grouping.
func Symbols(groups map[string][]models.Bar) []string {
	out := make([]string, 0, len(groups))
	for s := range groups {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// WriteBars encodes bars as CSV with RFC 3339 timestamps.
func WriteBars(w io.Writer, bars []models.Bar) error {
	records := make([]*BarRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, &BarRecord{
			Symbol: b.Symbol,
			Time:   b.Timestamp.Format(time.RFC3339),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return gocsv.Marshal(records, w)
}

// ZoneRecord is the CSV export of a zone.
type ZoneRecord struct {
	ID         string  `csv:"id"`
	Symbol     string  `csv:"symbol"`
	Polarity   string  `csv:"polarity"`
	Kind       string  `csv:"kind"`
	CreatedAt  string  `csv:"created_at"`
	CreatedBar int     `csv:"created_bar"`
	AnchorBar  int     `csv:"anchor_bar"`
	SwingHigh  float64 `csv:"swing_high"`
	SwingLow   float64 `csv:"swing_low"`
	Level1     float64 `csv:"level1"`
	Level2     float64 `csv:"level2"`
	WidthBars  int     `csv:"width_bars"`
}

// WriteZones encodes zones as CSV.
func WriteZones(w io.Writer, zones []models.Zone) error {
	records := make([]*ZoneRecord, 0, len(zones))
	for _, z := range zones {
		records = append(records, &ZoneRecord{
			ID:         z.ID,
			Symbol:     z.Symbol,
			Polarity:   string(z.Polarity),
			Kind:       string(z.Kind),
			CreatedAt:  z.CreatedAt.Format(time.RFC3339),
			CreatedBar: z.CreatedBar,
			AnchorBar:  z.AnchorBar,
			SwingHigh:  z.SwingHigh,
			SwingLow:   z.SwingLow,
			Level1:     z.Level1,
			Level2:     z.Level2,
			WidthBars:  z.WidthBars,
		})
	}
	return gocsv.Marshal(records, w)
}
