package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("groupName is required"), http.StatusBadRequest},
		{NotFound("dynamic link"), http.StatusNotFound},
		{Forbidden("instance"), http.StatusNotFound},
		{Conflict("slug %q already exists", "promo"), http.StatusConflict},
		{Upstream("create group", errors.New("timeout")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", NotFound("group")), http.StatusNotFound},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.err), tt.err.Error())
	}
}

func TestForbiddenDoesNotLeak(t *testing.T) {
	assert.Equal(t, NotFound("instance").Error(), Forbidden("instance").Error())
	assert.True(t, IsNotFound(Forbidden("instance")))
}

func TestUpstreamWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("send text", cause)

	assert.True(t, IsUpstream(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")

	// Re-wrapping keeps the innermost operation.
	again := Upstream("rotate", fmt.Errorf("ctx: %w", err))
	var up *UpstreamError
	assert.True(t, errors.As(again, &up))
	assert.Equal(t, "send text", up.Op)

	assert.Nil(t, Upstream("noop", nil))
}

func TestMessageHidesInternalErrors(t *testing.T) {
	assert.Equal(t, "Internal server error", Message(errors.New("sql: database is locked")))
	assert.Equal(t, "group not found", Message(NotFound("group")))
	assert.Contains(t, Message(Upstream("create group", errors.New("rate limited"))), "rate limited")
}
