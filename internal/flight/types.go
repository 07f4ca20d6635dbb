package flight

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// flightNumberRe matches a carrier code (2 letters/digits) followed by a
// 3-4 digit flight number, e.g. MU5100, G54381, 3U8888.
var flightNumberRe = regexp.MustCompile(`^[A-Z0-9]{2}[0-9]{3,4}$`)

// InputRecord is one row of the query sheet: a flight number and the
// departure date to query it for. Immutable once loaded.
type InputRecord struct {
	FlightNumber  string
	DepartureDate time.Time
}

// Validate checks the flight number against the carrier-code pattern.
// Records failing this never reach the browser.
func (r InputRecord) Validate() error {
	fn := strings.ToUpper(strings.TrimSpace(r.FlightNumber))
	if !flightNumberRe.MatchString(fn) {
		return fmt.Errorf("%w: flight number %q (want 2 letters/digits + 3-4 digits)", ErrInvalidInput, r.FlightNumber)
	}
	if r.DepartureDate.IsZero() {
		return fmt.Errorf("%w: departure date missing for %s", ErrInvalidInput, r.FlightNumber)
	}
	return nil
}

// Normalized returns the record with the flight number upper-cased and trimmed.
func (r InputRecord) Normalized() InputRecord {
	r.FlightNumber = strings.ToUpper(strings.TrimSpace(r.FlightNumber))
	return r
}

// DateString renders the departure date the way the query form expects it.
func (r InputRecord) DateString() string {
	return r.DepartureDate.Format("2006-01-02")
}

// CaptchaAttempt records a single recognize-and-submit iteration. Attempts
// are kept for logging only; they never reach the output report.
type CaptchaAttempt struct {
	Engine     string
	Text       string
	Confidence float64
	Accepted   bool
}

// LegRecord is one hop of a (possibly multi-segment) itinerary. Actual
// departure/arrival come from OCR over time images and may be absent.
type LegRecord struct {
	LegIndex           int
	Origin             string
	Destination        string
	ScheduledDeparture string
	ScheduledArrival   string
	ActualDeparture    string // empty when recognition never met the threshold
	ActualArrival      string
	Status             Status
	ExtractedAt        time.Time
}

// Complete reports whether both OCR-derived actual times were recognized.
func (l LegRecord) Complete() bool {
	return l.ActualDeparture != "" && l.ActualArrival != ""
}

// RecordOutcome is the tagged result of processing one InputRecord: either
// an ordered list of legs, or a classified failure. Exactly one of Legs /
// Err is meaningful, discriminated by Err == nil.
type RecordOutcome struct {
	Record InputRecord
	Legs   []LegRecord
	Err    *Failure
}

// Success reports whether the record produced at least one leg.
func (o RecordOutcome) Success() bool { return o.Err == nil }

// Partial reports whether the record succeeded but at least one leg is
// missing an OCR-derived field.
func (o RecordOutcome) Partial() bool {
	if o.Err != nil {
		return false
	}
	for _, l := range o.Legs {
		if !l.Complete() {
			return true
		}
	}
	return false
}

// Counts summarizes a batch run. partial counts success outcomes with at
// least one unrecognized time field; such records are also in succeeded.
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Partial   int
}

// BatchResult accumulates outcomes in input order. It is built
// incrementally by the orchestrator and immutable once the run finishes.
type BatchResult struct {
	RunID      string
	Outcomes   []RecordOutcome
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     Counts
}

// Append folds one outcome into the result, keeping counters consistent.
func (b *BatchResult) Append(o RecordOutcome) {
	b.Outcomes = append(b.Outcomes, o)
	b.Counts.Total++
	if o.Success() {
		b.Counts.Succeeded++
		if o.Partial() {
			b.Counts.Partial++
		}
	} else {
		b.Counts.Failed++
	}
}

// AllLegs returns every leg across all success outcomes, in input order.
func (b *BatchResult) AllLegs() []LegRecord {
	var out []LegRecord
	for _, o := range b.Outcomes {
		out = append(out, o.Legs...)
	}
	return out
}
