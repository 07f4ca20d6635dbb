package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skyquery/skyquery/internal/browser"
	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
	"github.com/skyquery/skyquery/internal/recognize"
)

// State names the solver's position in its loop, carried on every log line.
type State string

const (
	StatePresented   State = "presented"
	StateRecognizing State = "recognizing"
	StateSubmitted   State = "submitted"
	StateAccepted    State = "accepted"
	StateRejected    State = "rejected"
)

// rejectionMarkers are the site's captcha-error strings. Any of them on
// the page after a submission means the challenge was rejected.
var rejectionMarkers = []string{"验证码错误", "验证码不正确", "captcha error"}

// Recognizer is the slice of the recognition service the solver needs.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, purpose recognize.Purpose) recognize.Result
	Threshold() float64
}

// Solver drives the challenge loop on the query form: screenshot the
// image, recognize it, submit, and judge the site's verdict. Readings
// below the confidence threshold refresh the image without submitting and
// do not consume a submission; only submissions count against the cap.
type Solver struct {
	session    browser.Session
	recognizer Recognizer
	selectors  common.Selectors
	retry      common.RetryConfig
	saveDir    string
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSolver wires a solver. saveDir may be empty to disable image retention.
func NewSolver(session browser.Session, recognizer Recognizer, selectors common.Selectors, retry common.RetryConfig, saveDir string, logger *slog.Logger) *Solver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{
		session:    session,
		recognizer: recognizer,
		selectors:  selectors,
		retry:      retry,
		saveDir:    saveDir,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Solve runs the challenge loop for one record until the site accepts a
// submission or a budget runs out. It returns the attempt trail either
// way. Exhausting the submission cap yields flight.ErrCaptchaExhausted;
// a burst of rejections inside the rate-limit window yields
// flight.ErrRateLimited instead.
func (s *Solver) Solve(ctx context.Context, record flight.InputRecord) ([]flight.CaptchaAttempt, error) {
	var (
		attempts     []flight.CaptchaAttempt
		submissions  int
		softFailures int
		rejections   []time.Time
	)

	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		s.logState(record, StatePresented, submissions)
		img, err := s.session.ScreenshotElement(ctx, s.selectors.CaptchaImage)
		if err != nil {
			return attempts, fmt.Errorf("captcha screenshot: %w", err)
		}
		s.retainImage(record, len(attempts), img)

		s.logState(record, StateRecognizing, submissions)
		res := s.recognizer.Recognize(ctx, img, recognize.PurposeCaptcha)
		attempts = append(attempts, flight.CaptchaAttempt{
			Engine:     res.Engine,
			Text:       res.Text,
			Confidence: res.Confidence,
		})

		if res.Text == "" || res.Confidence < s.recognizer.Threshold() {
			// Soft failure: nothing readable enough to risk a submission.
			softFailures++
			s.logger.Debug("captcha.soft_failure",
				"flight", record.FlightNumber, "confidence", res.Confidence,
				"soft_failures", softFailures)
			if softFailures >= s.retry.CaptchaMaxAttempts {
				return attempts, fmt.Errorf("no readable challenge after %d refreshes: %w",
					softFailures, flight.ErrCaptchaExhausted)
			}
			if err := s.refresh(ctx); err != nil {
				return attempts, err
			}
			continue
		}

		if err := s.submit(ctx, res.Text); err != nil {
			return attempts, err
		}
		submissions++
		s.logState(record, StateSubmitted, submissions)

		accepted, err := s.verdict(ctx)
		if err != nil {
			return attempts, err
		}
		if accepted {
			attempts[len(attempts)-1].Accepted = true
			s.logState(record, StateAccepted, submissions)
			return attempts, nil
		}

		s.logState(record, StateRejected, submissions)
		rejections = append(rejections, s.now())
		if s.rateLimited(rejections) {
			return attempts, fmt.Errorf("%d rejections within %s: %w",
				s.retry.RateLimitRejections, s.retry.RateLimitWindow, flight.ErrRateLimited)
		}
		if submissions >= s.retry.CaptchaMaxAttempts {
			return attempts, fmt.Errorf("challenge rejected %d times: %w",
				submissions, flight.ErrCaptchaExhausted)
		}
		if err := s.sleep(ctx, s.retry.DelayBetweenAttempts.Std()); err != nil {
			return attempts, err
		}
		if err := s.refresh(ctx); err != nil {
			return attempts, err
		}
	}
}

// refresh clicks the challenge image, which the site treats as a reload
// request, and gives the new image a moment to render.
func (s *Solver) refresh(ctx context.Context) error {
	if err := s.session.Click(ctx, s.selectors.CaptchaImage); err != nil {
		return fmt.Errorf("captcha refresh: %w", err)
	}
	return s.sleep(ctx, 500*time.Millisecond)
}

func (s *Solver) submit(ctx context.Context, text string) error {
	if err := s.session.Fill(ctx, s.selectors.CaptchaInput, text); err != nil {
		return fmt.Errorf("captcha input: %w", err)
	}
	if err := s.session.Click(ctx, s.selectors.QueryButton); err != nil {
		return fmt.Errorf("query submit: %w", err)
	}
	return nil
}

// verdict decides whether the site accepted the submission. The result
// list appearing means yes. A rejection marker means no. Neither one
// showing up also counts as accepted: the captcha cleared but the query
// had no rows, which is the leg extractor's call to make.
func (s *Solver) verdict(ctx context.Context) (bool, error) {
	if err := s.session.WaitVisible(ctx, s.selectors.ResultList); err == nil {
		return true, nil
	}
	for _, marker := range rejectionMarkers {
		found, err := s.session.PageContains(ctx, marker)
		if err != nil {
			return false, fmt.Errorf("captcha verdict: %w", err)
		}
		if found {
			return false, nil
		}
	}
	return true, nil
}

func (s *Solver) rateLimited(rejections []time.Time) bool {
	n := s.retry.RateLimitRejections
	if n < 1 || len(rejections) < n {
		return false
	}
	window := s.retry.RateLimitWindow.Std()
	oldest := rejections[len(rejections)-n]
	newest := rejections[len(rejections)-1]
	return newest.Sub(oldest) <= window
}

// retainImage writes the challenge PNG under the output directory so bad
// recognitions can be inspected after the run. Failures only log.
func (s *Solver) retainImage(record flight.InputRecord, seq int, img []byte) {
	if s.saveDir == "" || len(img) == 0 {
		return
	}
	dir := filepath.Join(s.saveDir, "captcha")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("captcha.save_dir", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%02d.png", record.FlightNumber, s.now().Format("150405"), seq)
	if err := os.WriteFile(filepath.Join(dir, name), img, 0o644); err != nil {
		s.logger.Warn("captcha.save_image", "error", err)
	}
}

func (s *Solver) logState(record flight.InputRecord, state State, submissions int) {
	s.logger.Debug("captcha.state",
		"flight", record.FlightNumber,
		"date", record.DateString(),
		"state", string(state),
		"submissions", submissions)
}
