package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hrygo/meetingagent/plugin/ai/agent"
	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/plugin/ai/schedule"
	"github.com/hrygo/meetingagent/server/ai"
	calendar "github.com/hrygo/meetingagent/server/service/schedule"
)

// ErrorCode represents a specific error type returned by the API.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates the request carries no identity.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the meeting or decision record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeMeetingConflict indicates a write would create a hard conflict.
	ErrCodeMeetingConflict ErrorCode = "MEETING_CONFLICT"
	// ErrCodeSearchExhausted indicates no conflict-free slot exists within the horizon.
	ErrCodeSearchExhausted ErrorCode = "SEARCH_EXHAUSTED"
	// ErrCodeCalendarTooDense indicates a recurring meeting expands past the instance limit.
	ErrCodeCalendarTooDense ErrorCode = "CALENDAR_TOO_DENSE"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeServiceUnavailable indicates the calendar store is not available.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeBookingNotPersisted indicates a chosen slot could not be written.
	ErrCodeBookingNotPersisted ErrorCode = "BOOKING_NOT_PERSISTED"
	// ErrCodeLLMUnavailable indicates the LLM service is not available.
	ErrCodeLLMUnavailable ErrorCode = "LLM_UNAVAILABLE"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInternal is used for anything unclassified.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// StatusClientClosedRequest is the de facto status for requests abandoned by the client.
const StatusClientClosedRequest = 499

var httpStatus = map[ErrorCode]int{
	ErrCodeUnauthorized:        http.StatusUnauthorized,
	ErrCodeInvalidArgument:     http.StatusBadRequest,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeMeetingConflict:     http.StatusConflict,
	ErrCodeSearchExhausted:     http.StatusConflict,
	ErrCodeCalendarTooDense:    http.StatusUnprocessableEntity,
	ErrCodeRateLimitExceeded:   http.StatusTooManyRequests,
	ErrCodeServiceUnavailable:  http.StatusServiceUnavailable,
	ErrCodeBookingNotPersisted: http.StatusServiceUnavailable,
	ErrCodeLLMUnavailable:      http.StatusServiceUnavailable,
	ErrCodeContextCanceled:     StatusClientClosedRequest,
	ErrCodeTimeout:             http.StatusGatewayTimeout,
	ErrCodeInternal:            http.StatusInternalServerError,
}

var grpcCodes = map[ErrorCode]codes.Code{
	ErrCodeUnauthorized:        codes.Unauthenticated,
	ErrCodeInvalidArgument:     codes.InvalidArgument,
	ErrCodeNotFound:            codes.NotFound,
	ErrCodeMeetingConflict:     codes.Aborted,
	ErrCodeSearchExhausted:     codes.FailedPrecondition,
	ErrCodeCalendarTooDense:    codes.FailedPrecondition,
	ErrCodeRateLimitExceeded:   codes.ResourceExhausted,
	ErrCodeServiceUnavailable:  codes.Unavailable,
	ErrCodeBookingNotPersisted: codes.Unavailable,
	ErrCodeLLMUnavailable:      codes.Unavailable,
	ErrCodeContextCanceled:     codes.Canceled,
	ErrCodeTimeout:             codes.DeadlineExceeded,
	ErrCodeInternal:            codes.Internal,
}

// APIError represents a structured error returned to API clients.
type APIError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any

	// Retry guidance from the engine error classification.
	Retryable  bool
	RetryAfter time.Duration
	ActionHint string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *APIError) WithContext(key string, value any) *APIError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// HTTPStatus returns the HTTP status code of the error.
func (e *APIError) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// GRPCStatus makes the error usable with status.FromError.
func (e *APIError) GRPCStatus() *status.Status {
	c, ok := grpcCodes[e.Code]
	if !ok {
		c = codes.Internal
	}
	return status.New(c, e.Message)
}

// RetryAfterSeconds is the Retry-After header value, zero when the
// request should not be retried as is.
func (e *APIError) RetryAfterSeconds() int {
	if !e.Retryable || e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Body is the JSON error envelope shared by the HTTP API and the CLI.
func (e *APIError) Body() map[string]any {
	body := map[string]any{
		"code":      e.Code,
		"message":   e.Message,
		"grpc_code": status.Code(e).String(),
		"retryable": e.Retryable,
	}
	if secs := e.RetryAfterSeconds(); secs > 0 {
		body["retry_after"] = strconv.Itoa(secs) + "s"
	}
	if e.ActionHint != "" {
		body["action_hint"] = e.ActionHint
	}
	if len(e.Context) > 0 {
		body["details"] = e.Context
	}
	return body
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *APIError {
	return &APIError{Code: ErrCodeUnauthorized, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *APIError {
	return &APIError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *APIError {
	return &APIError{Code: ErrCodeNotFound, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error that may be retried
// once the bucket refills.
func RateLimitExceeded(msg string, retryAfter time.Duration) *APIError {
	return &APIError{Code: ErrCodeRateLimitExceeded, Message: msg, Retryable: true, RetryAfter: retryAfter}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *APIError {
	return &APIError{Code: code, Message: msg, Cause: cause}
}

// FromError maps an engine, store or parser error onto an API error with
// the retry guidance of its class.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	apiErr = mapError(err)
	if classified := agent.ClassifyError(err); classified != nil {
		apiErr.Retryable = classified.IsTransient()
		apiErr.RetryAfter = classified.RetryAfter
		apiErr.ActionHint = classified.ActionHint
	}
	return apiErr
}

// mapError picks the code. Order matters: a booking failure caused by a
// conflict is reported as a conflict, and a timed out store call is
// reported as unavailable.
func mapError(err error) *APIError {

	var exhausted *calendar.ExhaustionError
	var conflict *calendar.ConflictError
	var booking *agent.BookingNotPersistedError

	switch {
	case stderrors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeContextCanceled, "operation canceled")
	case stderrors.Is(err, calendar.ErrMeetingNotFound):
		return Wrap(err, ErrCodeNotFound, "meeting not found")
	case stderrors.Is(err, memory.ErrRecordNotFound):
		return Wrap(err, ErrCodeNotFound, "decision record not found")
	case isValidation(err):
		return Wrap(err, ErrCodeInvalidArgument, err.Error())
	case stderrors.As(err, &exhausted):
		return Wrap(err, ErrCodeSearchExhausted, "no conflict-free slot within the search horizon").
			WithContext("horizon", exhausted.Horizon.String()).
			WithContext("step", exhausted.Step.String())
	case stderrors.As(err, &booking) && stderrors.Is(err, calendar.ErrMeetingConflict):
		return Wrap(err, ErrCodeMeetingConflict, "slot was taken before the booking was written")
	case stderrors.As(err, &booking):
		return Wrap(err, ErrCodeBookingNotPersisted, "booking could not be persisted")
	case stderrors.As(err, &conflict):
		return Wrap(err, ErrCodeMeetingConflict, "meeting conflicts detected").
			WithContext("meeting_ids", conflict.MeetingIDs())
	case stderrors.Is(err, calendar.ErrMeetingConflict):
		return Wrap(err, ErrCodeMeetingConflict, "meeting conflicts detected")
	case stderrors.Is(err, calendar.ErrExpansionLimit):
		return Wrap(err, ErrCodeCalendarTooDense, "a recurring meeting has too many instances in the search window")
	case stderrors.Is(err, agent.ErrStoreUnavailable):
		return Wrap(err, ErrCodeServiceUnavailable, "calendar store unavailable")
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "operation timed out")
	case stderrors.Is(err, ai.ErrNotConfigured):
		return Wrap(err, ErrCodeLLMUnavailable, "language model is not configured")
	default:
		return Wrap(err, ErrCodeInternal, "internal error")
	}
}

func isValidation(err error) bool {
	var validation *agent.ValidationError
	return stderrors.As(err, &validation) ||
		stderrors.Is(err, calendar.ErrInvalidRequest) ||
		stderrors.Is(err, calendar.ErrInvalidMeeting) ||
		stderrors.Is(err, memory.ErrInvalidFeedback) ||
		stderrors.Is(err, schedule.ErrEmptyInput) ||
		stderrors.Is(err, schedule.ErrInputTooLong)
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
