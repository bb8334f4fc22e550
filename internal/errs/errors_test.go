package errs_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fuzumoe/smartspider-api/internal/errs"
)

func TestErrorMessage(t *testing.T) {
	withURL := errs.Network("http://example.com", "connection refused", nil)
	assert.Equal(t, "network: connection refused (http://example.com)", withURL.Error())

	withoutURL := errs.Validation("name is required")
	assert.Equal(t, "validation: name is required", withoutURL.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, errs.KindTimeout, errs.KindOf(errs.Timeout("http://example.com", "deadline", nil)))
	assert.Equal(t, errs.KindUnknown, errs.KindOf(errors.New("plain")))
	assert.Equal(t, errs.KindUnknown, errs.KindOf(nil))

	// Wrapped errors keep their kind.
	wrapped := fmt.Errorf("starting task: %w", errs.Conflict("already running"))
	assert.Equal(t, errs.KindConflict, errs.KindOf(wrapped))
	assert.True(t, errs.Is(wrapped, errs.KindConflict))
	assert.False(t, errs.Is(wrapped, errs.KindNotFound))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := errs.Network("http://example.com", "connect failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestCarriedMetadata(t *testing.T) {
	rl := errs.RateLimit("http://example.com", 30*time.Second)
	assert.Equal(t, 429, errs.StatusOf(rl))
	assert.Equal(t, 30*time.Second, errs.RetryAfterOf(rl))

	srv := errs.Server("http://example.com", 503)
	assert.Equal(t, 503, errs.StatusOf(srv))
	assert.Zero(t, errs.RetryAfterOf(srv))

	assert.Zero(t, errs.StatusOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.Validation("bad input"), 400},
		{errs.Config("bad selector type"), 400},
		{errs.NotFound("no such task"), 404},
		{errs.Conflict("already running"), 409},
		{errs.RateLimit("u", time.Second), 429},
		{errs.Timeout("u", "deadline", nil), 504},
		{errs.Network("u", "refused", nil), 502},
		{errs.Proxy("u", 502), 502},
		{errs.Server("u", 500), 502},
		{errs.Storage("insert failed", nil), 500},
		{errors.New("plain"), 500},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, errs.HTTPStatus(tc.err), tc.err)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "rate_limit", errs.KindRateLimit.String())
	assert.Equal(t, "unknown", errs.KindUnknown.String())
	assert.Equal(t, "unknown", errs.Kind(99).String())
}
