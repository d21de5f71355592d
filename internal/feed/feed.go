// Package feed decodes the tabular Nord Pool price feed into price intervals.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andygrunwald/nordpool-prices/internal/models"
)

const (
	// ColumnStart is the interval start timestamp column.
	ColumnStart = "ts_start"
	// ColumnEnd is the interval end timestamp column.
	ColumnEnd = "ts_end"
	// ColumnPrice is the price column.
	ColumnPrice = "price"
)

// ErrUnparseableTimestamp is returned when no known layout matches a timestamp.
var ErrUnparseableTimestamp = errors.New("unparseable timestamp")

// timestampLayout is one accepted timestamp format. Layouts without an
// offset are interpreted in the reference timezone.
type timestampLayout struct {
	layout    string
	hasOffset bool
}

// Tried in order, first match wins.
var timestampLayouts = []timestampLayout{
	{layout: time.RFC3339, hasOffset: true},
	{layout: "2006-01-02T15:04:05"},
	{layout: "2006-01-02 15:04:05"},
	{layout: "2006-01-02 15:04"},
}

// Row is one feed row keyed by column name.
type Row map[string]string

// ReadCSV reads a CSV document whose first record is the header.
// Records with a different number of fields than the header are skipped.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("reading header: empty document")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		if len(record) != len(header) {
			continue
		}

		row := make(Row, len(header))
		for i, name := range header {
			row[name] = record[i]
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// ParseTimestamp parses raw with the first matching accepted layout.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrUnparseableTimestamp
	}

	for _, l := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if l.hasOffset {
			t, err = time.Parse(l.layout, raw)
		} else {
			t, err = time.ParseInLocation(l.layout, raw, loc)
		}
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTimestamp, raw)
}

// Parser turns feed rows into price intervals.
type Parser struct {
	// Location is used for timestamps without a UTC offset.
	Location *time.Location
}

// NewParser creates a Parser for the given reference timezone.
func NewParser(loc *time.Location) *Parser {
	return &Parser{Location: loc}
}

// Parse converts rows into intervals, preserving order. Rows with a missing
// or malformed timestamp or price are dropped.
func (p *Parser) Parse(rows []Row) []models.PriceInterval {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	intervals := make([]models.PriceInterval, 0, len(rows))
	for _, row := range rows {
		interval, ok := parseRow(row, loc)
		if !ok {
			continue
		}
		intervals = append(intervals, interval)
	}
	return intervals
}

func parseRow(row Row, loc *time.Location) (models.PriceInterval, bool) {
	rawPrice, ok := row[ColumnPrice]
	if !ok {
		return models.PriceInterval{}, false
	}
	price, err := decimal.NewFromString(strings.TrimSpace(rawPrice))
	if err != nil {
		return models.PriceInterval{}, false
	}

	start, err := ParseTimestamp(row[ColumnStart], loc)
	if err != nil {
		return models.PriceInterval{}, false
	}
	end, err := ParseTimestamp(row[ColumnEnd], loc)
	if err != nil {
		return models.PriceInterval{}, false
	}

	return models.PriceInterval{Start: start, End: end, Price: price}, true
}
