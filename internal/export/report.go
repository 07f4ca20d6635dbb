package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
)

const (
	flightsSheet = "Flights"
	summarySheet = "Summary"
)

// Writer renders a finished batch into an XLSX report: one row per leg on
// the Flights sheet, plus an optional Summary sheet with run counters and
// the failed records.
type Writer struct {
	cfg    common.OutputConfig
	logger *slog.Logger
}

func NewWriter(cfg common.OutputConfig, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{cfg: cfg, logger: logger}
}

// Write saves the report and returns the path it was written to.
func (w *Writer) Write(result *flight.BatchResult) (string, error) {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("output dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes Flights.
	_ = f.SetSheetName(f.GetSheetName(0), flightsSheet)
	if err := w.writeFlights(f, result); err != nil {
		return "", err
	}
	if w.cfg.GenerateSummary {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return "", err
		}
		w.writeSummary(f, result)
	}
	idx, _ := f.GetSheetIndex(flightsSheet)
	f.SetActiveSheet(idx)

	name := fmt.Sprintf("%s%s.xlsx", w.cfg.FilePrefix, result.StartedAt.Format("20060102_150405"))
	path := filepath.Join(w.cfg.Dir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("xlsx write: %w", err)
	}

	w.logger.Info("export.report.ok",
		"path", path,
		"run_id", result.RunID,
		"legs", len(result.AllLegs()),
		"failed", result.Counts.Failed)
	return path, nil
}

func (w *Writer) writeFlights(f *excelize.File, result *flight.BatchResult) error {
	headers := []string{
		"Flight Number",
		"Departure Date",
		"Leg",
		"Origin",
		"Destination",
		"Scheduled Departure",
		"Scheduled Arrival",
		"Actual Departure",
		"Actual Arrival",
		"Status",
		"Extracted At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(flightsSheet, cell, h)
	}

	row := 2
	for _, outcome := range result.Outcomes {
		for _, leg := range outcome.Legs {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(flightsSheet, cell, v)
			}
			write(1, outcome.Record.FlightNumber)
			write(2, outcome.Record.DateString())
			write(3, leg.LegIndex)
			write(4, leg.Origin)
			write(5, leg.Destination)
			write(6, leg.ScheduledDeparture)
			write(7, leg.ScheduledArrival)
			write(8, orDash(leg.ActualDeparture))
			write(9, orDash(leg.ActualArrival))
			write(10, string(leg.Status))
			write(11, leg.ExtractedAt.Format("2006-01-02 15:04:05"))
			row++
		}
	}

	_ = f.SetColWidth(flightsSheet, "A", "B", 15)
	_ = f.SetColWidth(flightsSheet, "C", "C", 6)
	_ = f.SetColWidth(flightsSheet, "D", "E", 18)
	_ = f.SetColWidth(flightsSheet, "F", "I", 19)
	_ = f.SetColWidth(flightsSheet, "J", "J", 12)
	_ = f.SetColWidth(flightsSheet, "K", "K", 20)
	return nil
}

func (w *Writer) writeSummary(f *excelize.File, result *flight.BatchResult) {
	write := func(row int, label string, v any) {
		cellA, _ := excelize.CoordinatesToCellName(1, row)
		cellB, _ := excelize.CoordinatesToCellName(2, row)
		_ = f.SetCellValue(summarySheet, cellA, label)
		_ = f.SetCellValue(summarySheet, cellB, v)
	}

	c := result.Counts
	rate := 0.0
	if c.Total > 0 {
		rate = float64(c.Succeeded) / float64(c.Total) * 100
	}
	elapsed := result.FinishedAt.Sub(result.StartedAt).Round(time.Second)

	legs := result.AllLegs()
	depRecognized, arrRecognized := 0, 0
	for _, leg := range legs {
		if leg.ActualDeparture != "" {
			depRecognized++
		}
		if leg.ActualArrival != "" {
			arrRecognized++
		}
	}

	write(1, "Run ID", result.RunID)
	write(2, "Started", result.StartedAt.Format("2006-01-02 15:04:05"))
	write(3, "Finished", result.FinishedAt.Format("2006-01-02 15:04:05"))
	write(4, "Elapsed", elapsed.String())
	write(5, "Total Records", c.Total)
	write(6, "Succeeded", c.Succeeded)
	write(7, "Partial (missing times)", c.Partial)
	write(8, "Failed", c.Failed)
	write(9, "Success Rate", fmt.Sprintf("%.1f%%", rate))
	write(10, "Actual Departure Recognized", fieldRate(depRecognized, len(legs)))
	write(11, "Actual Arrival Recognized", fieldRate(arrRecognized, len(legs)))

	row := 13
	if c.Failed > 0 {
		headers := []string{"Flight Number", "Departure Date", "Failure Kind", "Detail"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(summarySheet, cell, h)
		}
		row++
		for _, outcome := range result.Outcomes {
			if outcome.Err == nil {
				continue
			}
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(summarySheet, cell, v)
			}
			write(1, outcome.Record.FlightNumber)
			write(2, outcome.Record.DateString())
			write(3, string(outcome.Err.Kind))
			write(4, outcome.Err.Message)
			row++
		}
	}

	_ = f.SetColWidth(summarySheet, "A", "A", 24)
	_ = f.SetColWidth(summarySheet, "B", "B", 28)
	_ = f.SetColWidth(summarySheet, "C", "C", 24)
	_ = f.SetColWidth(summarySheet, "D", "D", 48)
}

func fieldRate(recognized, total int) string {
	if total == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%d/%d (%.1f%%)", recognized, total, float64(recognized)/float64(total)*100)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
