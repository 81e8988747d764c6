package notifier

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrFetch             = errors.New("fetch failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("notification not found")
	ErrStopped           = errors.New("notifier stopped")
	ErrDisabled          = errors.New("notifications disabled")

	errNoFetcher = errors.New("no fetcher configured")
)

// FetchError is one failed poll cycle. It matches ErrFetch.
type FetchError struct {
	At  time.Time
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("%v: %v", ErrFetch, e.Err) }

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Err} }
