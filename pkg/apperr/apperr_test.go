package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Forbidden, KindOf(New(Forbidden, "")))

	wrapped := fmt.Errorf("accept: %w", New(InvalidTransition, "already accepted"))
	assert.Equal(t, InvalidTransition, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, InvalidTransition))
	assert.True(t, errors.Is(wrapped, New(InvalidTransition, "other text")))
	assert.False(t, errors.Is(wrapped, New(Forbidden, "")))
}

func TestMessageHidesInternalCause(t *testing.T) {
	err := Wrap(Internal, "insert exchange", errors.New("pq: relation does not exist"))
	assert.Equal(t, defaultMessages[Internal], Message(err))
	assert.Equal(t, defaultMessages[Internal], Message(errors.New("raw driver error")))

	assert.Equal(t, "You cannot request your own book.", Message(New(SelfRequest, "")))
	assert.Equal(t, "title is required", Message(New(Validation, "title is required")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		NotAuthenticated:  http.StatusUnauthorized,
		Forbidden:         http.StatusForbidden,
		NotFound:          http.StatusNotFound,
		InvalidTransition: http.StatusConflict,
		NotAvailable:      http.StatusConflict,
		SelfRequest:       http.StatusBadRequest,
		Validation:        http.StatusBadRequest,
		RateLimited:       http.StatusTooManyRequests,
		Inconsistent:      http.StatusInternalServerError,
		Internal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), kind)
	}
}
