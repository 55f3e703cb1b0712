package history

import "errors"

var (
	// ErrEmptyStore is returned when current ownership is requested before
	// anything was ingested or loaded.
	ErrEmptyStore = errors.New("history: store is empty")
	// ErrCurrentNotComputed is returned by PruneDead and Redirects when
	// ComputeCurrent has not run since the last mutation.
	ErrCurrentNotComputed = errors.New("history: current ownership not computed")
	// ErrStaleCurrent is returned by Redirects when current ownership was
	// computed for a period other than the newest load.
	ErrStaleCurrent = errors.New("history: current ownership is stale")
	// ErrMalformedLine marks a snapshot row that cannot be decoded.
	ErrMalformedLine = errors.New("history: malformed snapshot line")
)
