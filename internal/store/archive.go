package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
)

// BatchRun is the archived header of one batch execution.
type BatchRun struct {
	ID         string `gorm:"primaryKey;size:36"`
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Succeeded  int
	Failed     int
	Partial    int
	ReportPath string
}

// LegRow is one extracted leg, denormalized for ad-hoc querying.
type LegRow struct {
	ID                 uint   `gorm:"primaryKey"`
	RunID              string `gorm:"index;size:36"`
	FlightNumber       string `gorm:"index;size:8"`
	DepartureDate      string `gorm:"size:10"`
	LegIndex           int
	Origin             string
	Destination        string
	ScheduledDeparture string
	ScheduledArrival   string
	ActualDeparture    string
	ActualArrival      string
	Status             string `gorm:"size:16"`
	ExtractedAt        time.Time
}

// FailureRow is one record that produced no legs.
type FailureRow struct {
	ID            uint   `gorm:"primaryKey"`
	RunID         string `gorm:"index;size:36"`
	FlightNumber  string `gorm:"size:8"`
	DepartureDate string `gorm:"size:10"`
	Kind          string `gorm:"size:32"`
	Message       string
}

// Archive persists finished runs so results outlive the report files.
// A nil *Archive is valid and drops every call, which is how archiving is
// disabled.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema. An
// empty DSN disables archiving and returns (nil, nil).
func Open(cfg common.StoreConfig, logger *slog.Logger) (*Archive, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("store driver %q not supported", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if err := db.AutoMigrate(&BatchRun{}, &LegRow{}, &FailureRow{}); err != nil {
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	logger.Info("store.open", "driver", cfg.Driver)
	return &Archive{db: db, logger: logger}, nil
}

// SaveRun archives the run header, every leg, and every failure in one
// transaction.
func (a *Archive) SaveRun(ctx context.Context, result *flight.BatchResult, reportPath string) error {
	if a == nil {
		return nil
	}
	run := BatchRun{
		ID:         result.RunID,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Total:      result.Counts.Total,
		Succeeded:  result.Counts.Succeeded,
		Failed:     result.Counts.Failed,
		Partial:    result.Counts.Partial,
		ReportPath: reportPath,
	}

	var legs []LegRow
	var failures []FailureRow
	for _, outcome := range result.Outcomes {
		if outcome.Err != nil {
			failures = append(failures, FailureRow{
				RunID:         result.RunID,
				FlightNumber:  outcome.Record.FlightNumber,
				DepartureDate: outcome.Record.DateString(),
				Kind:          string(outcome.Err.Kind),
				Message:       outcome.Err.Message,
			})
			continue
		}
		for _, leg := range outcome.Legs {
			legs = append(legs, LegRow{
				RunID:              result.RunID,
				FlightNumber:       outcome.Record.FlightNumber,
				DepartureDate:      outcome.Record.DateString(),
				LegIndex:           leg.LegIndex,
				Origin:             leg.Origin,
				Destination:        leg.Destination,
				ScheduledDeparture: leg.ScheduledDeparture,
				ScheduledArrival:   leg.ScheduledArrival,
				ActualDeparture:    leg.ActualDeparture,
				ActualArrival:      leg.ActualArrival,
				Status:             string(leg.Status),
				ExtractedAt:        leg.ExtractedAt,
			})
		}
	}

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(legs) > 0 {
			if err := tx.Create(&legs).Error; err != nil {
				return err
			}
		}
		if len(failures) > 0 {
			if err := tx.Create(&failures).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store save run %s: %w", result.RunID, err)
	}
	a.logger.Info("store.run.saved", "run_id", result.RunID, "legs", len(legs), "failures", len(failures))
	return nil
}

// RecentRuns returns the newest runs, most recent first.
func (a *Archive) RecentRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	if a == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	var runs []BatchRun
	err := a.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}
