package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "gone")))
	assert.Equal(t, CodeUnavailable, CodeOf(errors.New("plain error")))
	assert.Equal(t, CodeUnavailable, CodeOf(nil))

	// codes survive wrapping with %w
	wrapped := fmt.Errorf("get allocation: %w", New(CodeCapacityExceeded, "over"))
	assert.Equal(t, CodeCapacityExceeded, CodeOf(wrapped))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(New(CodeNotFound, "gone")))
	assert.True(t, IsInvalidQuantity(New(CodeInvalidQuantity, "bad qty")))
	assert.True(t, IsCapacityExceeded(New(CodeCapacityExceeded, "over")))

	assert.False(t, IsNotFound(nil))
	assert.False(t, IsCapacityExceeded(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeUnavailable, cause, "allocation store unreachable")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHTTPStatusRoundTrip(t *testing.T) {
	for _, code := range []Code{CodeInvalidQuantity, CodeCapacityExceeded, CodeNotFound, CodeUnavailable} {
		assert.Equal(t, code, FromHTTPStatus(HTTPStatus(code)), "code %s", code)
	}

	assert.Equal(t, CodeUnavailable, FromHTTPStatus(http.StatusBadGateway))
}
