package input

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
)

// dateLayouts are the date renderings excelize hands back depending on the
// cell format. Tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"01-02-06",
	"1/2/06",
	"2006-01-02 15:04:05",
}

// RowError points at one unusable sheet row. Rows are 1-based as shown in
// Excel, so the message can be handed straight to the user.
type RowError struct {
	Row     int
	Message string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Loader reads the query sheet: flight numbers in column A, departure
// dates in column B, one record per row.
type Loader struct {
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load reads every record from the first sheet of the workbook at path.
// Rows that cannot be parsed are returned as RowErrors alongside the
// usable records; an empty workbook is an error.
func (l *Loader) Load(path string) ([]flight.InputRecord, []RowError, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", common.ErrInputMissing, path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}

	var (
		records   []flight.InputRecord
		rowErrors []RowError
	)
	for i, row := range rows {
		rowNum := i + 1
		number := cell(row, 0)
		date := cell(row, 1)

		if number == "" && date == "" {
			continue
		}
		if i == 0 && isHeader(number) {
			continue
		}
		if number == "" {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Message: "missing flight number"})
			continue
		}
		if date == "" {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Message: fmt.Sprintf("missing departure date for %s", number)})
			continue
		}
		parsed, err := parseDate(date)
		if err != nil {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Message: fmt.Sprintf("unparseable date %q", date)})
			continue
		}
		records = append(records, flight.InputRecord{
			FlightNumber:  strings.ToUpper(number),
			DepartureDate: parsed,
		})
	}

	if len(records) == 0 && len(rowErrors) == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no data rows", common.ErrInputMissing, path)
	}
	l.logger.Info("input.loaded", "path", path, "records", len(records), "bad_rows", len(rowErrors))
	return records, rowErrors, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// isHeader recognizes the label row the sample generator writes, plus the
// common hand-written variants.
func isHeader(first string) bool {
	switch strings.ToLower(first) {
	case "flight number", "flight_number", "flight", "航班号":
		return true
	}
	return false
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matched %q", raw)
}
