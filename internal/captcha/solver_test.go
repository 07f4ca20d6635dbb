package captcha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquery/skyquery/internal/browser"
	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
	"github.com/skyquery/skyquery/internal/recognize"
)

var testSelectors = common.Selectors{
	CaptchaImage: "//img",
	CaptchaInput: "//input",
	QueryButton:  "//button",
	ResultList:   "//list",
}

type fakeRecognizer struct {
	results   []recognize.Result
	threshold float64
	calls     int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte, purpose recognize.Purpose) recognize.Result {
	res := f.results[f.calls%len(f.results)]
	f.calls++
	return res
}

func (f *fakeRecognizer) Threshold() float64 { return f.threshold }

// fakeSession scripts the site's verdicts: one bool per submission, true
// meaning the result list rendered.
type fakeSession struct {
	verdicts     []bool
	lastRejected bool

	screenshots int
	fills       []string
	clicks      []string
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error { return nil }

func (s *fakeSession) Fill(ctx context.Context, xpath, value string) error {
	s.fills = append(s.fills, value)
	return nil
}

func (s *fakeSession) Click(ctx context.Context, xpath string) error {
	s.clicks = append(s.clicks, xpath)
	return nil
}

func (s *fakeSession) WaitVisible(ctx context.Context, xpath string) error {
	if xpath != testSelectors.ResultList {
		return nil
	}
	if len(s.verdicts) == 0 {
		s.lastRejected = true
		return browser.ErrTimeout
	}
	v := s.verdicts[0]
	s.verdicts = s.verdicts[1:]
	if v {
		s.lastRejected = false
		return nil
	}
	s.lastRejected = true
	return browser.ErrTimeout
}

func (s *fakeSession) Text(ctx context.Context, xpath string) (string, error) { return "", nil }

func (s *fakeSession) ScreenshotElement(ctx context.Context, xpath string) ([]byte, error) {
	s.screenshots++
	return []byte("png"), nil
}

func (s *fakeSession) ElementExists(ctx context.Context, xpath string) (bool, error) {
	return true, nil
}

func (s *fakeSession) PageContains(ctx context.Context, needle string) (bool, error) {
	return s.lastRejected, nil
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) queryClicks() int {
	n := 0
	for _, c := range s.clicks {
		if c == testSelectors.QueryButton {
			n++
		}
	}
	return n
}

func newTestSolver(session *fakeSession, rec Recognizer, retry common.RetryConfig) *Solver {
	s := NewSolver(session, rec, testSelectors, retry, "", nil)
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	clock := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func testRetry() common.RetryConfig {
	return common.RetryConfig{
		CaptchaMaxAttempts:  5,
		RateLimitWindow:     common.Duration(10 * time.Second),
		RateLimitRejections: 100,
	}
}

func record() flight.InputRecord {
	return flight.InputRecord{FlightNumber: "MU5100", DepartureDate: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)}
}

func TestSolveFirstAttemptAccepted(t *testing.T) {
	session := &fakeSession{verdicts: []bool{true}}
	rec := &fakeRecognizer{threshold: 0.6, results: []recognize.Result{{Text: "ABCD", Confidence: 0.9, Engine: "tesseract"}}}
	solver := newTestSolver(session, rec, testRetry())

	attempts, err := solver.Solve(context.Background(), record())

	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Accepted)
	assert.Equal(t, 1, session.queryClicks())
	assert.Equal(t, []string{"ABCD"}, session.fills)
}

func TestSolveSoftFailureDoesNotSubmit(t *testing.T) {
	session := &fakeSession{}
	rec := &fakeRecognizer{threshold: 0.6, results: []recognize.Result{{Text: "ABCD", Confidence: 0.2}}}
	solver := newTestSolver(session, rec, testRetry())

	attempts, err := solver.Solve(context.Background(), record())

	require.ErrorIs(t, err, flight.ErrCaptchaExhausted)
	assert.Equal(t, 0, session.queryClicks(), "low-confidence readings must never be submitted")
	assert.Len(t, attempts, 5)
	assert.Equal(t, 5, session.screenshots)
}

func TestSolveRejectionsExhaustCap(t *testing.T) {
	session := &fakeSession{verdicts: []bool{false, false, false, false, false}}
	rec := &fakeRecognizer{threshold: 0.6, results: []recognize.Result{{Text: "ABCD", Confidence: 0.9}}}
	solver := newTestSolver(session, rec, testRetry())

	attempts, err := solver.Solve(context.Background(), record())

	require.ErrorIs(t, err, flight.ErrCaptchaExhausted)
	assert.Equal(t, 5, session.queryClicks())
	assert.Len(t, attempts, 5)
	for _, a := range attempts {
		assert.False(t, a.Accepted)
	}
}

func TestSolveAcceptedAfterRejection(t *testing.T) {
	session := &fakeSession{verdicts: []bool{false, true}}
	rec := &fakeRecognizer{threshold: 0.6, results: []recognize.Result{{Text: "ABCD", Confidence: 0.9}}}
	solver := newTestSolver(session, rec, testRetry())

	attempts, err := solver.Solve(context.Background(), record())

	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Accepted)
	assert.True(t, attempts[1].Accepted)
}

func TestSolveRateLimited(t *testing.T) {
	retry := testRetry()
	retry.RateLimitRejections = 3
	retry.RateLimitWindow = common.Duration(time.Hour)

	session := &fakeSession{verdicts: []bool{false, false, false, false, false}}
	rec := &fakeRecognizer{threshold: 0.6, results: []recognize.Result{{Text: "ABCD", Confidence: 0.9}}}
	solver := newTestSolver(session, rec, retry)

	_, err := solver.Solve(context.Background(), record())

	require.ErrorIs(t, err, flight.ErrRateLimited)
	assert.Equal(t, 3, session.queryClicks(), "solver must stop at the rejection burst, not the cap")
}

func TestSolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := &fakeSession{}
	rec := &fakeRecognizer{threshold: 0.6, results: []recognize.Result{{Text: "ABCD", Confidence: 0.9}}}
	solver := newTestSolver(session, rec, testRetry())

	_, err := solver.Solve(ctx, record())
	assert.True(t, errors.Is(err, context.Canceled))
}
