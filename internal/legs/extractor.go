package legs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skyquery/skyquery/internal/browser"
	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
	"github.com/skyquery/skyquery/internal/recognize"
)

// maxSegments bounds the probe over the result list. No real itinerary on
// the site has more hops than this.
const maxSegments = 10

// Recognizer is the slice of the recognition service the extractor needs.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, purpose recognize.Purpose) recognize.Result
	Threshold() float64
}

// Extractor walks the result page after a successful query and turns each
// rendered segment into a LegRecord. Scheduled times and airports are
// plain text; actual times are rendered as images and go through OCR.
type Extractor struct {
	session    browser.Session
	recognizer Recognizer
	selectors  common.Selectors
	retry      common.RetryConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewExtractor(session browser.Session, recognizer Recognizer, selectors common.Selectors, retry common.RetryConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		session:    session,
		recognizer: recognizer,
		selectors:  selectors,
		retry:      retry,
		logger:     logger,
		now:        time.Now,
	}
}

// Extract reads every segment off the current result page, in display
// order, with LegIndex running 1..N. An empty result list yields
// flight.ErrNoDataFound.
func (e *Extractor) Extract(ctx context.Context, record flight.InputRecord) ([]flight.LegRecord, error) {
	count, err := e.segmentCount(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("no segments for %s on %s: %w",
			record.FlightNumber, record.DateString(), flight.ErrNoDataFound)
	}

	legs := make([]flight.LegRecord, 0, count)
	for i := 1; i <= count; i++ {
		leg, err := e.extractSegment(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		e.logger.Debug("legs.extracted",
			"flight", record.FlightNumber, "leg", i,
			"origin", leg.Origin, "destination", leg.Destination,
			"status", string(leg.Status), "complete", leg.Complete())
		legs = append(legs, leg)
	}
	return legs, nil
}

// segmentCount probes the segment container selector until it stops
// matching.
func (e *Extractor) segmentCount(ctx context.Context) (int, error) {
	count := 0
	for i := 1; i <= maxSegments; i++ {
		exists, err := e.session.ElementExists(ctx, fmt.Sprintf(e.selectors.SegmentBase, i))
		if err != nil {
			return 0, fmt.Errorf("probing segment %d: %w", i, err)
		}
		if !exists {
			break
		}
		count = i
	}
	return count, nil
}

func (e *Extractor) extractSegment(ctx context.Context, idx int) (flight.LegRecord, error) {
	origin, err := e.session.Text(ctx, fmt.Sprintf(e.selectors.Origin, idx))
	if err != nil {
		return flight.LegRecord{}, fmt.Errorf("origin: %w", err)
	}
	destination, err := e.session.Text(ctx, fmt.Sprintf(e.selectors.Destination, idx))
	if err != nil {
		return flight.LegRecord{}, fmt.Errorf("destination: %w", err)
	}

	leg := flight.LegRecord{
		LegIndex:           idx,
		Origin:             origin,
		Destination:        destination,
		ScheduledDeparture: e.optionalText(ctx, fmt.Sprintf(e.selectors.ScheduledDeparture, idx)),
		ScheduledArrival:   e.optionalText(ctx, fmt.Sprintf(e.selectors.ScheduledArrival, idx)),
		ActualDeparture:    e.timeFromImage(ctx, fmt.Sprintf(e.selectors.ActualDepartureImg, idx)),
		ActualArrival:      e.timeFromImage(ctx, fmt.Sprintf(e.selectors.ActualArrivalImg, idx)),
		Status:             flight.ParseStatus(e.optionalText(ctx, fmt.Sprintf(e.selectors.FlightStatus, idx))),
		ExtractedAt:        e.now(),
	}
	return leg, nil
}

// optionalText reads a text field that is allowed to be missing.
func (e *Extractor) optionalText(ctx context.Context, xpath string) string {
	txt, err := e.session.Text(ctx, xpath)
	if err != nil {
		if errors.Is(err, browser.ErrElementNotFound) || errors.Is(err, browser.ErrTimeout) {
			return ""
		}
		e.logger.Warn("legs.text", "xpath", xpath, "error", err)
		return ""
	}
	return txt
}

// timeFromImage OCRs a rendered time image. Each attempt re-captures the
// element, since the site occasionally serves a fresh rendering. The field
// is recorded absent when no attempt reaches the confidence threshold.
func (e *Extractor) timeFromImage(ctx context.Context, xpath string) string {
	exists, err := e.session.ElementExists(ctx, xpath)
	if err != nil || !exists {
		return ""
	}
	attempts := e.retry.TimeImageMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ""
		}
		img, err := e.session.ScreenshotElement(ctx, xpath)
		if err != nil {
			e.logger.Warn("legs.time_image.screenshot", "xpath", xpath, "error", err)
			return ""
		}
		res := e.recognizer.Recognize(ctx, img, recognize.PurposeTimeField)
		if res.Text != "" && res.Confidence >= e.recognizer.Threshold() {
			return res.Text
		}
		e.logger.Debug("legs.time_image.retry",
			"xpath", xpath, "attempt", i+1, "confidence", res.Confidence)
	}
	return ""
}
