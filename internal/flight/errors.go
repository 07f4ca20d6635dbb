package flight

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a record failed. The kinds mirror the stages of
// the pipeline so the report can tell the user what to re-run.
type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindPageInteractionFailed ErrorKind = "page_interaction_failed"
	KindCaptchaExhausted      ErrorKind = "captcha_exhausted"
	KindRateLimited           ErrorKind = "rate_limited"
	KindNoDataFound           ErrorKind = "no_data_found"
	KindUnexpectedFailure     ErrorKind = "unexpected_failure"
)

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrInvalidInput     = errors.New("invalid input record")
	ErrCaptchaExhausted = errors.New("captcha attempts exhausted")
	ErrRateLimited      = errors.New("rate limited by target site")
	ErrNoDataFound      = errors.New("no flight data found")
)

// Failure is a classified record failure. It satisfies error so it can be
// returned through the pipeline, and Unwrap exposes the cause.
type Failure struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

// NewFailure builds a classified failure.
func NewFailure(kind ErrorKind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Cause: cause}
}

// Classify wraps an arbitrary error into a Failure, mapping known
// sentinels onto their kinds and everything else to UnexpectedFailure.
func Classify(err error, message string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return NewFailure(KindInvalidInput, message, err)
	case errors.Is(err, ErrCaptchaExhausted):
		return NewFailure(KindCaptchaExhausted, message, err)
	case errors.Is(err, ErrRateLimited):
		return NewFailure(KindRateLimited, message, err)
	case errors.Is(err, ErrNoDataFound):
		return NewFailure(KindNoDataFound, message, err)
	default:
		return NewFailure(KindUnexpectedFailure, message, err)
	}
}
