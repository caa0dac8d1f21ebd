package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfKnownError(t *testing.T) {
	err := RuleViolation("bad move")
	require.Equal(t, KindRuleViolation, KindOf(err))
	require.True(t, IsWarnLevel(err))
}

func TestKindOfUnknownErrorDefaultsTransient(t *testing.T) {
	err := errors.New("boom")
	require.Equal(t, KindTransient, KindOf(err))
	require.False(t, IsWarnLevel(err))
}

func TestWrappedErrorUnwraps(t *testing.T) {
	root := errors.New("connection refused")
	err := Transient("redis unavailable", root)
	require.ErrorIs(t, err, root)
	require.Contains(t, err.Error(), "connection refused")
}
