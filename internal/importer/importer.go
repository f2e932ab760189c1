package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"coursecart/internal/domain"
)

type CourseWriter interface {
	Upsert(ctx context.Context, course domain.Course) (*domain.Course, error)
}

// CSVImporter reads a course catalog export and inserts or updates courses
// by key. Expected columns: key,title,price_cents,currency.
type CSVImporter struct {
	reader          *csv.Reader
	courses         CourseWriter
	defaultCurrency string
}

func NewCSVImporter(r io.Reader, repo CourseWriter, defaultCurrency string) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	csvr.Comment = '#'
	return &CSVImporter{
		reader:          csvr,
		courses:         repo,
		defaultCurrency: defaultCurrency,
	}
}

type csvRow struct {
	line     int
	Key      string
	Title    string
	Cents    int64
	Currency string
}

// Run parses CSV rows and upserts one course per row. It stops at the first
// invalid row; rows before it stay imported.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	for _, col := range []string{"key", "title", "price_cents"} {
		if _, ok := index[col]; !ok {
			return 0, fmt.Errorf("missing column %q", col)
		}
	}

	imported := 0
	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read row: %w", err)
		}

		line, _ := i.reader.FieldPos(0)
		row, err := parseRow(record, index)
		if err != nil {
			return imported, fmt.Errorf("line %d: %w", line, err)
		}
		if row == nil {
			continue
		}
		row.line = line
		if err := i.save(ctx, row); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func (i *CSVImporter) save(ctx context.Context, row *csvRow) error {
	if row.Key == "" || row.Title == "" {
		return fmt.Errorf("line %d: invalid course row (missing key or title)", row.line)
	}
	if row.Cents <= 0 {
		return fmt.Errorf("line %d: price for %q must be positive", row.line, row.Key)
	}
	currency := row.Currency
	if currency == "" {
		currency = i.defaultCurrency
	}

	_, err := i.courses.Upsert(ctx, domain.Course{
		Key:        row.Key,
		Title:      row.Title,
		PriceCents: row.Cents,
		Currency:   strings.ToUpper(currency),
	})
	if err != nil {
		return fmt.Errorf("upsert course %q: %w", row.Key, err)
	}
	return nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// parseRow returns nil for blank rows.
func parseRow(record []string, index map[string]int) (*csvRow, error) {
	key := pick(record, index, "key")
	title := pick(record, index, "title")
	centStr := pick(record, index, "price_cents")
	if key == "" && title == "" && centStr == "" {
		return nil, nil
	}

	cents, err := strconv.ParseInt(centStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("price_cents %q for %q: %w", centStr, key, err)
	}
	return &csvRow{
		Key:      key,
		Title:    title,
		Cents:    cents,
		Currency: pick(record, index, "currency"),
	}, nil
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
