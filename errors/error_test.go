package errors

import (
	"fmt"
	"io"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	err := RetryableError{Op: "upsert", Cause: io.ErrUnexpectedEOF}
	require.True(t, IsRetryable(err))
	require.True(t, IsRetryable(pkgerrors.Wrap(err, "partition 3")))
	require.True(t, IsRetryable(fmt.Errorf("outer: %w", err)))
	require.False(t, IsRetryable(io.EOF))
	require.False(t, IsRetryable(nil))
}

func TestMissingSampleUnwrap(t *testing.T) {
	err := MissingSampleError{ID: "a", Cause: io.ErrUnexpectedEOF}
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Contains(t, err.Error(), "a")
	require.Equal(t, "Sample b is missing", MissingSampleError{ID: "b"}.Error())
}

func TestSchemaErrorMessage(t *testing.T) {
	require.Equal(t, "Schema error in table t, column c: absent", SchemaError{Table: "t", Column: "c", Reason: "absent"}.Error())
	require.Equal(t, "Schema error in table t: absent", SchemaError{Table: "t", Reason: "absent"}.Error())
}
