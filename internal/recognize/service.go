package recognize

import (
	"context"
	"log/slog"
)

// Purpose tells the service what shape of text the image should contain,
// which drives preprocessing, whitelists, and result cleaning.
type Purpose string

const (
	PurposeCaptcha   Purpose = "captcha"    // 4 uppercase letters
	PurposeTimeField Purpose = "time_field" // HH:MM
)

// Result is one engine's best-effort reading of an image. Confidence is in
// [0,1]; a blank or unreadable image yields empty text and confidence 0.
type Result struct {
	Text       string
	Confidence float64
	Engine     string
}

// Engine is a single OCR backend. Implementations must not fail on
// unreadable images; they return a zero Result instead.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, image []byte, purpose Purpose) (Result, error)
}

// Service selects over an ordered set of engines: the preferred engine is
// tried first, and each fallback only when the previous reading stayed
// below the confidence threshold.
type Service struct {
	engines   []Engine
	threshold float64
	logger    *slog.Logger
}

// NewService builds a recognition service. engines are tried in order.
func NewService(threshold float64, logger *slog.Logger, engines ...Engine) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engines: engines, threshold: threshold, logger: logger}
}

// Threshold returns the configured acceptance threshold.
func (s *Service) Threshold() float64 { return s.threshold }

// Recognize runs the engine chain over one image. It never returns an
// error: the zero Result stands in for "nothing readable", leaving the
// accept/retry decision to the caller.
func (s *Service) Recognize(ctx context.Context, image []byte, purpose Purpose) Result {
	var best Result
	for _, eng := range s.engines {
		if ctx.Err() != nil {
			break
		}
		res, err := eng.Recognize(ctx, image, purpose)
		if err != nil {
			s.logger.Warn("recognize.engine.failed", "engine", eng.Name(), "purpose", string(purpose), "error", err)
			continue
		}
		cleaned, ok := Clean(res.Text, purpose)
		if !ok {
			s.logger.Debug("recognize.engine.unparseable",
				"engine", eng.Name(), "purpose", string(purpose), "raw", res.Text)
			continue
		}
		res.Text = cleaned
		if res.Confidence >= s.threshold {
			s.logger.Debug("recognize.accepted",
				"engine", eng.Name(), "purpose", string(purpose),
				"text", res.Text, "confidence", res.Confidence)
			return res
		}
		if res.Confidence > best.Confidence {
			best = res
		}
		s.logger.Debug("recognize.below_threshold",
			"engine", eng.Name(), "purpose", string(purpose),
			"confidence", res.Confidence, "threshold", s.threshold)
	}
	return best
}
