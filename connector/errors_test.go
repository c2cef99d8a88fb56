package connector

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("should classify through wrapping", func(t *testing.T) {
		err := fmt.Errorf("pipeline: %w", WriteError("orders", errors.New("deadlock"), true))

		assert.True(t, IsRetryable(err))
		assert.Equal(t, ErrorKindWrite, KindOf(err))
		assert.Equal(t, "write error (retryable) during write batch on orders: deadlock", errors.Unwrap(err).Error())
	})

	t.Run("should never retry a cancelled operation", func(t *testing.T) {
		assert.False(t, IsRetryable(ReadError("orders", context.Canceled, true)))
		assert.False(t, IsRetryable(ConnectionError("connect", context.DeadlineExceeded)))
		assert.True(t, IsRetryable(ConnectionError("connect", errors.New("refused"))))
	})

	t.Run("should treat schema and ddl errors as fatal", func(t *testing.T) {
		assert.False(t, IsRetryable(SchemaError("orders", ErrTableNotFound)))
		assert.False(t, IsRetryable(DDLError("ALTER TABLE x", errors.New("syntax"))))
		assert.True(t, IsTableNotFound(SchemaError("orders", ErrTableNotFound)))
	})

	t.Run("should return empty kind for foreign errors", func(t *testing.T) {
		assert.Equal(t, ErrorKind(""), KindOf(errors.New("boom")))
		assert.False(t, IsRetryable(errors.New("boom")))
	})
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(driver.ErrBadConn))
	assert.True(t, IsTransient(fmt.Errorf("read: %w", io.ErrUnexpectedEOF)))
	assert.True(t, IsTransient(errors.New("dial tcp 10.0.0.1:5432: connect: Connection Refused")))
	assert.True(t, IsTransient(errors.New("Error 1040: Too many connections")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("duplicate key value violates unique constraint")))
	assert.False(t, IsTransient(nil))
}
