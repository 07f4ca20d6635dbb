package common

import "errors"

// Startup-level sentinels. Record-level failures use flight.Failure; these
// cover the cases where a run cannot begin at all.
var (
	ErrConfig       = errors.New("configuration error")
	ErrInputMissing = errors.New("input file missing")
	ErrBrowserStart = errors.New("browser startup failed")
)
