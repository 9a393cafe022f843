package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testCode  = MustNewCode("test.code")
	testCode2 = MustNewCode("test.code2")
)

func TestNew(t *testing.T) {
	err := New(CommonInternal, "test error", nil)

	require.Equal(t, "test error", err.Message)
	require.Equal(t, "common.internal", err.Code.String())
	require.False(t, err.Timestamp.IsZero())
	require.NotEmpty(t, err.Stack)
}

func TestNewWithCause(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := New(testCode, "wrapped", cause)

	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "underlying failure")
}

func TestNewf(t *testing.T) {
	err := Newf(testCode, "test error with %s", "formatting")
	assert.Equal(t, "test error with formatting", err.Message)
}

func TestAddContext(t *testing.T) {
	err := New(testCode, "table not found", nil).
		AddContext("table_name", "users").
		AddContext("database", "main")

	assert.Equal(t, "users", err.GetContext("table_name"))
	assert.Equal(t, "main", err.GetContext("database"))
	assert.True(t, err.HasContext("table_name"))
	assert.False(t, err.HasContext("missing"))
	assert.ElementsMatch(t, []string{"table_name", "database"}, err.GetContextKeys())
}

func TestAddContextFreeFunction(t *testing.T) {
	stdErr := fmt.Errorf("plain error")
	enhanced := AddContext(stdErr, "request_id", "abc123")

	require.Equal(t, CommonInternal, enhanced.Code)
	assert.Equal(t, "abc123", enhanced.GetContext("request_id"))

	wrapped := New(testCode2, "already ours", nil)
	again := AddContext(wrapped, "extra", 1)
	assert.Same(t, wrapped, again)
	assert.Equal(t, 1, again.GetContext("extra"))
}

func TestErrorString(t *testing.T) {
	err := New(testCode, "parse failed", fmt.Errorf("invalid json"))
	assert.Contains(t, err.Error(), "parse failed: invalid json")

	withCtx := err.AddContext("table", "users")
	assert.Contains(t, withCtx.Error(), "table=users")
}

func TestCodeOfAndIs(t *testing.T) {
	err := New(CommonCommitConflict, "lost the race", nil)
	wrapped := fmt.Errorf("commit: %w", err)

	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, CommonCommitConflict, code)
	assert.True(t, Is(wrapped, CommonCommitConflict))
	assert.False(t, Is(wrapped, CommonValidationFailure))

	_, ok = CodeOf(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestSuggestionsAndRecovery(t *testing.T) {
	err := New(testCode, "connection failed", nil).
		AddSuggestion("check network").
		AddRecoveryAction(RecoveryAction{Type: "retry", Automatic: true}).
		AddRecoveryAction(RecoveryAction{Type: "check_config", Automatic: false})

	assert.Equal(t, []string{"check network"}, err.Suggestions)
	assert.True(t, err.IsRecoverable())
	assert.Len(t, err.GetAutomaticRecoveryActions(), 1)
}

func TestIsErrorAndGetCode(t *testing.T) {
	err := New(testCode, "boom", nil)
	assert.True(t, IsError(err))
	assert.Equal(t, "test.code", GetCode(err))

	stdErr := fmt.Errorf("plain")
	assert.False(t, IsError(stdErr))
	assert.Equal(t, "", GetCode(stdErr))
}

func TestFormatForLog(t *testing.T) {
	err := New(testCode, "boom", fmt.Errorf("cause")).AddContext("k", "v")
	formatted := FormatForLog(err)
	assert.Contains(t, formatted, "code=test.code")
	assert.Contains(t, formatted, "message=boom")
	assert.Contains(t, formatted, "k=v")
	assert.Contains(t, formatted, "cause=cause")
}
