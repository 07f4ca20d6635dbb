package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(common.StoreConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "runs.db"),
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func TestOpenDisabledWithoutDSN(t *testing.T) {
	a, err := Open(common.StoreConfig{Driver: "sqlite"}, nil)
	require.NoError(t, err)
	assert.Nil(t, a)

	// The nil archive is usable: every call is a no-op.
	require.NoError(t, a.SaveRun(context.Background(), &flight.BatchResult{}, ""))
	runs, err := a.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, runs)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(common.StoreConfig{Driver: "oracle", DSN: "x"}, nil)
	require.Error(t, err)
}

func TestSaveRun(t *testing.T) {
	a := openTestArchive(t)
	date := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	result := &flight.BatchResult{RunID: "run-1", StartedAt: time.Now(), FinishedAt: time.Now()}
	result.Append(flight.RecordOutcome{
		Record: flight.InputRecord{FlightNumber: "MU5100", DepartureDate: date},
		Legs: []flight.LegRecord{
			{LegIndex: 1, Origin: "PVG", Destination: "XIY", ActualDeparture: "08:05", ActualArrival: "10:20", Status: flight.StatusArrived},
		},
	})
	result.Append(flight.RecordOutcome{
		Record: flight.InputRecord{FlightNumber: "CA9999", DepartureDate: date},
		Err:    flight.NewFailure(flight.KindNoDataFound, "no segments", flight.ErrNoDataFound),
	})

	require.NoError(t, a.SaveRun(context.Background(), result, "output/report.xlsx"))

	runs, err := a.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, 2, runs[0].Total)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, "output/report.xlsx", runs[0].ReportPath)

	var legs []LegRow
	require.NoError(t, a.db.Find(&legs).Error)
	require.Len(t, legs, 1)
	assert.Equal(t, "MU5100", legs[0].FlightNumber)

	var failures []FailureRow
	require.NoError(t, a.db.Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Equal(t, "no_data_found", failures[0].Kind)
}
