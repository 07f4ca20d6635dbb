package browser

import (
	"context"
	"errors"
)

// Typed navigation/element errors surfaced to the pipeline, which maps
// them onto its retry budget.
var (
	ErrElementNotFound = errors.New("element not found")
	ErrTimeout         = errors.New("browser operation timed out")
	ErrSessionClosed   = errors.New("browser session closed")
)

// Session is the capability the pipeline holds against the live page. All
// selectors are XPath. The session is singly owned: one record at a time.
type Session interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Fill clears the element and types value into it.
	Fill(ctx context.Context, xpath, value string) error
	// Click waits for the element to be visible and clicks it.
	Click(ctx context.Context, xpath string) error
	// WaitVisible blocks until the element is rendered.
	WaitVisible(ctx context.Context, xpath string) error
	// Text returns the rendered text content of the element.
	Text(ctx context.Context, xpath string) (string, error)
	// ScreenshotElement captures a PNG of the element's box.
	ScreenshotElement(ctx context.Context, xpath string) ([]byte, error)
	// ElementExists reports presence without waiting.
	ElementExists(ctx context.Context, xpath string) (bool, error)
	// PageContains reports whether the rendered page contains needle.
	PageContains(ctx context.Context, needle string) (bool, error)
	// Close tears the session down. Safe to call twice.
	Close() error
}
