package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := New(ErrCodeNotFound, "laptop not found")
	assert.Equal(t, "[NOT_FOUND] laptop not found", err.Error())

	wrapped := Wrap(ErrCodeDatabaseError, "failed to load laptop", stderrors.New("connection reset"))
	assert.Equal(t, "[DATABASE_ERROR] failed to load laptop: connection reset", wrapped.Error())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeIneligible, CodeOf(New(ErrCodeIneligible, "final year")))
	assert.Equal(t, ErrCodeConflict, CodeOf(fmt.Errorf("outer: %w", New(ErrCodeConflict, "x"))))
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestIs_WalksCauseChain(t *testing.T) {
	inner := New(ErrCodeConflict, "laptop not available")
	outer := Wrap(ErrCodeDatabaseError, "reserve failed", inner)

	assert.True(t, Is(outer, ErrCodeDatabaseError))
	assert.True(t, Is(outer, ErrCodeConflict))
	assert.False(t, Is(outer, ErrCodeNotFound))
	assert.False(t, Is(nil, ErrCodeNotFound))
}

func TestClassification(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeTimeoutError, "timeout")))
	assert.False(t, IsRetryable(New(ErrCodeExceedsBalance, "too much")))

	assert.True(t, IsBusinessError(New(ErrCodeDuplicatePending, "dup")))
	assert.False(t, IsBusinessError(New(ErrCodeProviderUnavailable, "down")))
}
