// Package agent runs the scheduling decision cycle for one identity:
// conflict check, candidate search, scoring, mode policy and learning.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/hrygo/meetingagent/server/service/schedule"
)

var (
	// ErrStoreUnavailable marks calendar or memory store failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBookingNotPersisted marks a booking decision whose create failed.
	ErrBookingNotPersisted = errors.New("booking not persisted")
)

// ExhaustionError is returned when no conflict-free slot exists in the horizon.
type ExhaustionError = schedule.ExhaustionError

// ValidationError rejects a malformed request before any store access.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StoreUnavailableError wraps a failing or timed out store call.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Transient reports whether the same request may succeed later.
func (e *StoreUnavailableError) Transient() bool {
	return e.Class() == ErrorClassTransient
}

// BookingNotPersistedError is returned when the engine decided to book but
// the calendar store did not accept the meeting.
type BookingNotPersistedError struct {
	Start time.Time
	End   time.Time
	Err   error
}

func (e *BookingNotPersistedError) Error() string {
	return fmt.Sprintf("%s: %s - %s: %v", ErrBookingNotPersisted,
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Err)
}

func (e *BookingNotPersistedError) Unwrap() []error {
	return []error{ErrBookingNotPersisted, e.Err}
}

// Class reports the retry class of a validation failure.
func (e *ValidationError) Class() ErrorClass { return ErrorClassPermanent }

// Class reports the retry class of a store failure. A calendar too dense
// to expand fails the same way on every retry.
func (e *StoreUnavailableError) Class() ErrorClass {
	if errors.Is(e.Err, schedule.ErrExpansionLimit) {
		return ErrorClassPermanent
	}
	return ErrorClassTransient
}

// Class reports the retry class of a failed booking. A booking refused
// because the slot was taken meanwhile is a conflict.
func (e *BookingNotPersistedError) Class() ErrorClass {
	var validation *ValidationError
	switch {
	case errors.Is(e.Err, schedule.ErrMeetingConflict):
		return ErrorClassConflict
	case errors.Is(e.Err, schedule.ErrInvalidMeeting), errors.As(e.Err, &validation):
		return ErrorClassPermanent
	default:
		return ErrorClassTransient
	}
}
