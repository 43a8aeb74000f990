package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Unauthenticated("no token"), http.StatusUnauthorized},
		{Forbidden("nope"), http.StatusForbidden},
		{NotFound("conversation"), http.StatusNotFound},
		{Conflict("dup"), http.StatusConflict},
		{RateLimited("slow down"), http.StatusTooManyRequests},
		{Internal("boom", errors.New("db down")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("conversation"))
	assert.True(t, Is(err, KindNotFound))
	assert.Equal(t, http.StatusNotFound, Status(err))
	assert.Equal(t, "conversation not found", PublicMessage(err))
}

func TestPublicMessageHidesInternalCause(t *testing.T) {
	err := Internal("failed to load conversations", errors.New("connection reset by peer"))
	assert.Equal(t, "internal server error", PublicMessage(err))
	assert.ErrorContains(t, err, "connection reset by peer")
}
