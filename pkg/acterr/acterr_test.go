package acterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := New(KindPolicy, "policy.Evaluate", "destination_not_allowlisted", "to=abc")

	assert.True(t, errors.Is(err, ErrPolicy))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(err, &Error{Kind: KindPolicy, Code: "destination_not_allowlisted"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindPolicy, Code: "daily_cap_exceeded"}))
}

func TestError_WrappedChain(t *testing.T) {
	root := errors.New("rpc timeout")
	err := fmt.Errorf("commit: %w", Wrap(KindExternal, "executor.Commit", "broadcast_failed", root))

	assert.True(t, errors.Is(err, ErrExternal))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, KindExternal, KindOf(err))
	assert.Equal(t, "broadcast_failed", CodeOf(err))
	assert.True(t, Retryable(err))
}

func TestWrap_Nil(t *testing.T) {
	require.NoError(t, Wrap(KindIntegrity, "op", "code", nil))
}

func TestError_Message(t *testing.T) {
	err := New(KindIntegrity, "receipts.Load", "receipt_hash_mismatch", "stored=aa computed=bb")
	assert.Equal(t, "receipts.Load: IntegrityViolation (receipt_hash_mismatch): stored=aa computed=bb", err.Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
