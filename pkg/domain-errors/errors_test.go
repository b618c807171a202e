package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodes(t *testing.T) {
	t.Run("new error carries code and message", func(t *testing.T) {
		err := New(CodeNotFound, "profile not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.Equal(t, "profile not found", err.Error())
		assert.Equal(t, "profile not found", MessageOf(err))
	})

	t.Run("wrapped cause stays reachable", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, CodeDirectoryUnreachable, "identity directory unreachable")
		require.ErrorIs(t, err, cause)
		assert.True(t, Is(err, CodeDirectoryUnreachable))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("outermost code wins through fmt wrapping", func(t *testing.T) {
		inner := New(CodeValidation, "fullName too short")
		err := fmt.Errorf("store profile: %w", inner)
		assert.Equal(t, CodeValidation, CodeOf(err))
	})

	t.Run("plain errors are internal", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.Equal(t, "internal error", MessageOf(err))
	})
}
