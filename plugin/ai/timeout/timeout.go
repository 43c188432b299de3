// Package timeout defines centralized timeout constants for I/O around
// the decision engine.
package timeout

import "time"

const (
	// StoreTimeout bounds a single calendar store call.
	StoreTimeout = 5 * time.Second

	// FlushTimeout bounds an agent memory load or flush.
	FlushTimeout = 3 * time.Second

	// ParseTimeout bounds a language model parse of a request.
	ParseTimeout = 20 * time.Second

	// RequestTimeout bounds a whole API request.
	RequestTimeout = 30 * time.Second

	// ShutdownTimeout bounds graceful server shutdown.
	ShutdownTimeout = 10 * time.Second

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	MaxTruncateLength = 200
)
