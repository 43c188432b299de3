package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/server/service/schedule"
)

// ErrorClass represents the category of error for retry decisions.
type ErrorClass int

const (
	// ErrorClassTransient indicates a temporary error that should be retried.
	ErrorClassTransient ErrorClass = iota

	// ErrorClassPermanent indicates a non-retryable error.
	ErrorClassPermanent

	// ErrorClassConflict indicates the calendar has no room for the request.
	ErrorClassConflict
)

// String returns the string representation of ErrorClass.
func (e ErrorClass) String() string {
	switch e {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassPermanent:
		return "permanent"
	case ErrorClassConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its classification and retry guidance.
type ClassifiedError struct {
	Class      ErrorClass
	Original   error
	RetryAfter time.Duration // Suggested delay before retry (for transient errors)
	ActionHint string        // Suggested action for conflict errors
}

func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: class=%s", c.Class)
	}
	return fmt.Sprintf("%s: %v", c.Class, c.Original)
}

func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// IsTransient returns true if the error is temporary and should be retried.
func (c *ClassifiedError) IsTransient() bool {
	return c.Class == ErrorClassTransient
}

// IsPermanent returns true if the error is non-retryable.
func (c *ClassifiedError) IsPermanent() bool {
	return c.Class == ErrorClassPermanent
}

// IsConflict returns true if the error is a conflict.
func (c *ClassifiedError) IsConflict() bool {
	return c.Class == ErrorClassConflict
}

// classed is implemented by the engine error types.
type classed interface {
	Class() ErrorClass
}

// ClassifyError analyzes an error and determines its class and retry strategy.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Typed engine errors first, they carry the most precise meaning.
	var typed classed
	if errors.As(err, &typed) {
		return withGuidance(typed.Class(), err)
	}

	if errors.Is(err, schedule.ErrInvalidRequest) || errors.Is(err, schedule.ErrInvalidMeeting) ||
		errors.Is(err, schedule.ErrExpansionLimit) || errors.Is(err, memory.ErrInvalidFeedback) {
		return withGuidance(ErrorClassPermanent, err)
	}
	if errors.Is(err, schedule.ErrSearchExhausted) || errors.Is(err, schedule.ErrMeetingConflict) {
		return withGuidance(ErrorClassConflict, err)
	}
	if errors.Is(err, context.Canceled) {
		return withGuidance(ErrorClassPermanent, err)
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) ||
		isTimeoutError(err) || isNetworkError(err) {
		return withGuidance(ErrorClassTransient, err)
	}

	// Default to permanent for unknown errors (fail safe)
	return withGuidance(ErrorClassPermanent, err)
}

func withGuidance(class ErrorClass, err error) *ClassifiedError {
	c := &ClassifiedError{Class: class, Original: err}
	switch class {
	case ErrorClassTransient:
		c.RetryAfter = 3 * time.Second
		if errors.Is(err, ErrBookingNotPersisted) || isNetworkError(err) {
			c.RetryAfter = 2 * time.Second
		}
	case ErrorClassConflict:
		c.ActionHint = "find_free_time"
		if errors.Is(err, schedule.ErrSearchExhausted) {
			c.ActionHint = "widen_horizon"
		}
	}
	return c
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no such host",
		"dial tcp",
		"database is locked",
	} {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	errMsg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "deadline exceeded", "timed out"} {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
