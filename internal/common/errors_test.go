package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserErrorMessage(t *testing.T) {
	wrapped := NewUserError("cannot open database at /tmp/x.db", errors.New("disk full"))

	assert.Equal(t, "cannot open database at /tmp/x.db: disk full", wrapped.Error())

	var userErr *UserError
	require.ErrorAs(t, wrapped, &userErr)
	assert.Equal(t, "cannot open database at /tmp/x.db", userErr.UserMessage)
}

func TestUserErrorUnwrapsSentinel(t *testing.T) {
	inner := fmt.Errorf("%w: connection refused", ErrProviderUnavailable)
	wrapped := NewUserError("embedding service is unreachable", inner)

	assert.ErrorIs(t, wrapped, ErrProviderUnavailable)
}

func TestUserErrorWithoutCause(t *testing.T) {
	err := NewUserError("nothing to review", nil)
	assert.Equal(t, "nothing to review", err.Error())
}
