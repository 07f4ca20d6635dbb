package legs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquery/skyquery/internal/browser"
	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
	"github.com/skyquery/skyquery/internal/recognize"
)

var legSelectors = common.Selectors{
	SegmentBase:        "//seg[%d]",
	Origin:             "//seg[%d]/origin",
	Destination:        "//seg[%d]/dest",
	ScheduledDeparture: "//seg[%d]/sched-dep",
	ScheduledArrival:   "//seg[%d]/sched-arr",
	ActualDepartureImg: "//seg[%d]/actual-dep-img",
	ActualArrivalImg:   "//seg[%d]/actual-arr-img",
	FlightStatus:       "//seg[%d]/status",
}

type fakeLegSession struct {
	texts       map[string]string
	exists      map[string]bool
	images      map[string]string
	screenshots map[string]int
}

func (s *fakeLegSession) Navigate(ctx context.Context, url string) error        { return nil }
func (s *fakeLegSession) Fill(ctx context.Context, xpath, value string) error   { return nil }
func (s *fakeLegSession) Click(ctx context.Context, xpath string) error         { return nil }
func (s *fakeLegSession) WaitVisible(ctx context.Context, xpath string) error   { return nil }
func (s *fakeLegSession) PageContains(ctx context.Context, n string) (bool, error) {
	return false, nil
}
func (s *fakeLegSession) Close() error { return nil }

func (s *fakeLegSession) Text(ctx context.Context, xpath string) (string, error) {
	if v, ok := s.texts[xpath]; ok {
		return v, nil
	}
	return "", browser.ErrElementNotFound
}

func (s *fakeLegSession) ElementExists(ctx context.Context, xpath string) (bool, error) {
	return s.exists[xpath], nil
}

func (s *fakeLegSession) ScreenshotElement(ctx context.Context, xpath string) ([]byte, error) {
	if s.screenshots == nil {
		s.screenshots = map[string]int{}
	}
	s.screenshots[xpath]++
	if v, ok := s.images[xpath]; ok {
		return []byte(v), nil
	}
	return nil, browser.ErrElementNotFound
}

// timeRecognizer maps screenshot payloads onto readings.
type timeRecognizer struct {
	readings  map[string]recognize.Result
	threshold float64
	calls     int
}

func (r *timeRecognizer) Recognize(ctx context.Context, image []byte, purpose recognize.Purpose) recognize.Result {
	r.calls++
	return r.readings[string(image)]
}

func (r *timeRecognizer) Threshold() float64 { return r.threshold }

func sessionWithSegments(n int) *fakeLegSession {
	s := &fakeLegSession{
		texts:  map[string]string{},
		exists: map[string]bool{},
		images: map[string]string{},
	}
	for i := 1; i <= n; i++ {
		s.exists[fmt.Sprintf(legSelectors.SegmentBase, i)] = true
		s.exists[fmt.Sprintf(legSelectors.ActualDepartureImg, i)] = true
		s.exists[fmt.Sprintf(legSelectors.ActualArrivalImg, i)] = true
		s.texts[fmt.Sprintf(legSelectors.Origin, i)] = fmt.Sprintf("Origin%d", i)
		s.texts[fmt.Sprintf(legSelectors.Destination, i)] = fmt.Sprintf("Dest%d", i)
		s.texts[fmt.Sprintf(legSelectors.ScheduledDeparture, i)] = "08:00"
		s.texts[fmt.Sprintf(legSelectors.ScheduledArrival, i)] = "10:30"
		s.texts[fmt.Sprintf(legSelectors.FlightStatus, i)] = "到达"
		s.images[fmt.Sprintf(legSelectors.ActualDepartureImg, i)] = fmt.Sprintf("dep%d", i)
		s.images[fmt.Sprintf(legSelectors.ActualArrivalImg, i)] = fmt.Sprintf("arr%d", i)
	}
	return s
}

func confidentReadings(n int) map[string]recognize.Result {
	readings := map[string]recognize.Result{}
	for i := 1; i <= n; i++ {
		readings[fmt.Sprintf("dep%d", i)] = recognize.Result{Text: "08:05", Confidence: 0.9}
		readings[fmt.Sprintf("arr%d", i)] = recognize.Result{Text: "10:20", Confidence: 0.9}
	}
	return readings
}

func legRetry() common.RetryConfig {
	return common.RetryConfig{TimeImageMaxAttempts: 3}
}

func legRecord() flight.InputRecord {
	return flight.InputRecord{FlightNumber: "MU5100", DepartureDate: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)}
}

func TestExtractSingleSegment(t *testing.T) {
	session := sessionWithSegments(1)
	rec := &timeRecognizer{threshold: 0.6, readings: confidentReadings(1)}
	ex := NewExtractor(session, rec, legSelectors, legRetry(), nil)

	legs, err := ex.Extract(context.Background(), legRecord())

	require.NoError(t, err)
	require.Len(t, legs, 1)
	leg := legs[0]
	assert.Equal(t, 1, leg.LegIndex)
	assert.Equal(t, "Origin1", leg.Origin)
	assert.Equal(t, "Dest1", leg.Destination)
	assert.Equal(t, "08:05", leg.ActualDeparture)
	assert.Equal(t, "10:20", leg.ActualArrival)
	assert.Equal(t, flight.StatusArrived, leg.Status)
	assert.True(t, leg.Complete())
	assert.False(t, leg.ExtractedAt.IsZero())
}

func TestExtractMultiSegmentOrder(t *testing.T) {
	session := sessionWithSegments(3)
	rec := &timeRecognizer{threshold: 0.6, readings: confidentReadings(3)}
	ex := NewExtractor(session, rec, legSelectors, legRetry(), nil)

	legs, err := ex.Extract(context.Background(), legRecord())

	require.NoError(t, err)
	require.Len(t, legs, 3)
	for i, leg := range legs {
		assert.Equal(t, i+1, leg.LegIndex)
		assert.Equal(t, fmt.Sprintf("Origin%d", i+1), leg.Origin)
	}
}

func TestExtractNoSegments(t *testing.T) {
	session := sessionWithSegments(0)
	rec := &timeRecognizer{threshold: 0.6}
	ex := NewExtractor(session, rec, legSelectors, legRetry(), nil)

	_, err := ex.Extract(context.Background(), legRecord())
	require.ErrorIs(t, err, flight.ErrNoDataFound)
}

func TestExtractTimeOCRExhaustionLeavesFieldAbsent(t *testing.T) {
	session := sessionWithSegments(1)
	readings := confidentReadings(1)
	readings["dep1"] = recognize.Result{Text: "08:05", Confidence: 0.2} // never confident
	rec := &timeRecognizer{threshold: 0.6, readings: readings}
	ex := NewExtractor(session, rec, legSelectors, legRetry(), nil)

	legs, err := ex.Extract(context.Background(), legRecord())

	require.NoError(t, err, "an unreadable time image must not fail the leg")
	require.Len(t, legs, 1)
	assert.Empty(t, legs[0].ActualDeparture)
	assert.Equal(t, "10:20", legs[0].ActualArrival)
	assert.False(t, legs[0].Complete())
	assert.Equal(t, 3, session.screenshots[fmt.Sprintf(legSelectors.ActualDepartureImg, 1)],
		"every attempt should re-capture the image")
}

func TestExtractMissingTimeImageElement(t *testing.T) {
	session := sessionWithSegments(1)
	session.exists[fmt.Sprintf(legSelectors.ActualArrivalImg, 1)] = false
	rec := &timeRecognizer{threshold: 0.6, readings: confidentReadings(1)}
	ex := NewExtractor(session, rec, legSelectors, legRetry(), nil)

	legs, err := ex.Extract(context.Background(), legRecord())

	require.NoError(t, err)
	assert.Empty(t, legs[0].ActualArrival)
}

func TestExtractMissingStatusMapsToUnknown(t *testing.T) {
	session := sessionWithSegments(1)
	delete(session.texts, fmt.Sprintf(legSelectors.FlightStatus, 1))
	rec := &timeRecognizer{threshold: 0.6, readings: confidentReadings(1)}
	ex := NewExtractor(session, rec, legSelectors, legRetry(), nil)

	legs, err := ex.Extract(context.Background(), legRecord())

	require.NoError(t, err)
	assert.Equal(t, flight.StatusUnknown, legs[0].Status)
}
