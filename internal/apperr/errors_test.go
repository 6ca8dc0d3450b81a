package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "gone")))
	assert.Equal(t, CodeConflict, CodeOf(fmt.Errorf("outer: %w", New(CodeConflict, "already deleted"))))
	assert.Equal(t, CodeTimeout, CodeOf(context.DeadlineExceeded))
	assert.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("store: %w", context.DeadlineExceeded)))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("driver exploded")))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(CodeInvalidArgument, "bad"), fiber.StatusBadRequest},
		{New(CodeUnauthenticated, "who"), fiber.StatusUnauthorized},
		// forbidden deliberately answers 404 so resource existence never leaks
		{New(CodeForbidden, "no"), fiber.StatusNotFound},
		{New(CodeNotFound, "gone"), fiber.StatusNotFound},
		{New(CodeConflict, "dup"), fiber.StatusConflict},
		{New(CodeTimeout, "slow"), fiber.StatusGatewayTimeout},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err))
	}
}

func TestMessageHidesInternalDetails(t *testing.T) {
	assert.Equal(t, "internal server error", Message(errors.New("pq: connection refused")))
	assert.Equal(t, "message already deleted", Message(New(CodeConflict, "message already deleted")))
	assert.Equal(t, "request timed out", Message(context.DeadlineExceeded))
}

func TestWrapUnwraps(t *testing.T) {
	inner := errors.New("io fail")
	err := Wrap(CodeInternal, "insert message", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "insert message")
}
