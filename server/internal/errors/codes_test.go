package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hrygo/meetingagent/plugin/ai/agent"
	"github.com/hrygo/meetingagent/plugin/ai/memory"
	"github.com/hrygo/meetingagent/plugin/ai/schedule"
	calendar "github.com/hrygo/meetingagent/server/service/schedule"
)

func TestFromError(t *testing.T) {
	start := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		err      error
		code     ErrorCode
		http     int
		grpcCode codes.Code
	}{
		{
			name:     "validation",
			err:      &agent.ValidationError{Err: fmt.Errorf("%w: title is required", calendar.ErrInvalidRequest)},
			code:     ErrCodeInvalidArgument,
			http:     http.StatusBadRequest,
			grpcCode: codes.InvalidArgument,
		},
		{
			name:     "empty parser input",
			err:      schedule.ErrEmptyInput,
			code:     ErrCodeInvalidArgument,
			http:     http.StatusBadRequest,
			grpcCode: codes.InvalidArgument,
		},
		{
			name:     "feedback out of range",
			err:      memory.ErrInvalidFeedback,
			code:     ErrCodeInvalidArgument,
			http:     http.StatusBadRequest,
			grpcCode: codes.InvalidArgument,
		},
		{
			name:     "exhaustion",
			err:      &calendar.ExhaustionError{Horizon: 14 * 24 * time.Hour, Step: 15 * time.Minute},
			code:     ErrCodeSearchExhausted,
			http:     http.StatusConflict,
			grpcCode: codes.FailedPrecondition,
		},
		{
			name:     "store unavailable",
			err:      &agent.StoreUnavailableError{Op: "find meetings", Err: stderrors.New("connection refused")},
			code:     ErrCodeServiceUnavailable,
			http:     http.StatusServiceUnavailable,
			grpcCode: codes.Unavailable,
		},
		{
			name:     "recurring expansion too large",
			err:      &agent.StoreUnavailableError{Op: "query calendar", Err: fmt.Errorf("meeting 7: %w", calendar.ErrExpansionLimit)},
			code:     ErrCodeCalendarTooDense,
			http:     http.StatusUnprocessableEntity,
			grpcCode: codes.FailedPrecondition,
		},
		{
			name:     "booking lost to a concurrent write",
			err:      &agent.BookingNotPersistedError{Start: start, End: start.Add(time.Hour), Err: calendar.ErrMeetingConflict},
			code:     ErrCodeMeetingConflict,
			http:     http.StatusConflict,
			grpcCode: codes.Aborted,
		},
		{
			name:     "booking write failed",
			err:      &agent.BookingNotPersistedError{Start: start, End: start.Add(time.Hour), Err: stderrors.New("disk full")},
			code:     ErrCodeBookingNotPersisted,
			http:     http.StatusServiceUnavailable,
			grpcCode: codes.Unavailable,
		},
		{
			name:     "meeting not found",
			err:      fmt.Errorf("cancel: %w", calendar.ErrMeetingNotFound),
			code:     ErrCodeNotFound,
			http:     http.StatusNotFound,
			grpcCode: codes.NotFound,
		},
		{
			name:     "record not found",
			err:      memory.ErrRecordNotFound,
			code:     ErrCodeNotFound,
			http:     http.StatusNotFound,
			grpcCode: codes.NotFound,
		},
		{
			name:     "canceled",
			err:      context.Canceled,
			code:     ErrCodeContextCanceled,
			http:     StatusClientClosedRequest,
			grpcCode: codes.Canceled,
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("find meetings: %w", context.DeadlineExceeded),
			code:     ErrCodeTimeout,
			http:     http.StatusGatewayTimeout,
			grpcCode: codes.DeadlineExceeded,
		},
		{
			name:     "unknown",
			err:      stderrors.New("boom"),
			code:     ErrCodeInternal,
			http:     http.StatusInternalServerError,
			grpcCode: codes.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.http, apiErr.HTTPStatus())
			assert.True(t, stderrors.Is(apiErr, tt.err))

			st, ok := status.FromError(apiErr)
			require.True(t, ok)
			assert.Equal(t, tt.grpcCode, st.Code())
		})
	}
}

func TestFromError_Nil(t *testing.T) {
	assert.Nil(t, FromError(nil))
}

func TestFromError_KeepsAPIError(t *testing.T) {
	original := RateLimitExceeded("slow down", time.Second)
	wrapped := fmt.Errorf("middleware: %w", original)

	assert.Same(t, original, FromError(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeRateLimitExceeded))
	assert.False(t, IsCode(wrapped, ErrCodeInternal))
}

func TestAPIError_Body(t *testing.T) {
	err := InvalidArgument("bad").WithContext("field", "title")
	body := err.Body()

	assert.Equal(t, ErrCodeInvalidArgument, body["code"])
	assert.Equal(t, "bad", body["message"])
	assert.Equal(t, map[string]any{"field": "title"}, body["details"])
	assert.Equal(t, codes.InvalidArgument.String(), body["grpc_code"])
	assert.Equal(t, false, body["retryable"])
	assert.Equal(t, "[INVALID_ARGUMENT] bad", err.Error())
}

func TestFromError_RetryGuidance(t *testing.T) {
	unavailable := FromError(&agent.StoreUnavailableError{Op: "find meetings", Err: stderrors.New("connection refused")})
	assert.True(t, unavailable.Retryable)
	body := unavailable.Body()
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, "2s", body["retry_after"])
	assert.Equal(t, codes.Unavailable.String(), body["grpc_code"])
	assert.NotContains(t, body, "action_hint")

	exhausted := FromError(&calendar.ExhaustionError{Horizon: 14 * 24 * time.Hour, Step: 15 * time.Minute})
	body = exhausted.Body()
	assert.Equal(t, false, body["retryable"])
	assert.Equal(t, "widen_horizon", body["action_hint"])
	assert.NotContains(t, body, "retry_after")

	dense := FromError(&agent.StoreUnavailableError{Op: "query calendar", Err: calendar.ErrExpansionLimit})
	assert.False(t, dense.Retryable)
	assert.Zero(t, dense.RetryAfterSeconds())

	limited := RateLimitExceeded("slow down", 1500*time.Millisecond)
	assert.Equal(t, 2, limited.RetryAfterSeconds())
	assert.Equal(t, codes.ResourceExhausted.String(), limited.Body()["grpc_code"])
}
