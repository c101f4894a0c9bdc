package browser

import "errors"

var (
	// ErrPoolExhausted is returned when no context frees up within the
	// lease timeout. Scrapes hitting it are requeued, not failed.
	ErrPoolExhausted = errors.New("browser: pool exhausted")

	// ErrPoolClosed is returned by Lease after Close.
	ErrPoolClosed = errors.New("browser: pool closed")

	// ErrLoadTimeout is returned when a page does not reach the loaded
	// state within the page-load timeout.
	ErrLoadTimeout = errors.New("browser: page load timeout")

	// ErrNavigation is returned when navigation fails outright (DNS,
	// connection refused, protocol error).
	ErrNavigation = errors.New("browser: navigation failed")
)
