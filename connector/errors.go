package connector

import (
	"context"
	"database/sql/driver"
	goerrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
)

type ErrorKind string

const (
	ErrorKindConnection ErrorKind = "connection"
	ErrorKindSchema     ErrorKind = "schema"
	ErrorKindRead       ErrorKind = "read"
	ErrorKindWrite      ErrorKind = "write"
	ErrorKindDDL        ErrorKind = "ddl"
)

var ErrTableNotFound = goerrors.New("table not found")

// Error is the typed failure returned by every connector operation.
type Error struct {
	Kind      ErrorKind
	Op        string
	Table     string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Retryable {
		b.WriteString(" (retryable)")
	} else {
		b.WriteString(" (fatal)")
	}
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.Table != "" {
		b.WriteString(" on ")
		b.WriteString(e.Table)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func ConnectionError(op string, err error) *Error {
	return &Error{Kind: ErrorKindConnection, Op: op, Retryable: !isContextError(err), Err: err}
}

func SchemaError(table string, err error) *Error {
	return &Error{Kind: ErrorKindSchema, Op: "introspect", Table: table, Err: err}
}

func ReadError(table string, err error, retryable bool) *Error {
	return &Error{Kind: ErrorKindRead, Op: "read batch", Table: table, Retryable: retryable && !isContextError(err), Err: err}
}

func WriteError(table string, err error, retryable bool) *Error {
	return &Error{Kind: ErrorKindWrite, Op: "write batch", Table: table, Retryable: retryable && !isContextError(err), Err: err}
}

func DDLError(statement string, err error) *Error {
	return &Error{Kind: ErrorKindDDL, Op: "execute ddl", Err: fmt.Errorf("%s: %w", statement, err)}
}

// IsRetryable reports whether err carries a connector error marked retryable.
func IsRetryable(err error) bool {
	var cErr *Error
	if goerrors.As(err, &cErr) {
		return cErr.Retryable
	}
	return false
}

// KindOf returns the connector error kind of err, or the empty kind.
func KindOf(err error) ErrorKind {
	var cErr *Error
	if goerrors.As(err, &cErr) {
		return cErr.Kind
	}
	return ""
}

func IsTableNotFound(err error) bool {
	return goerrors.Is(err, ErrTableNotFound)
}

var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"i/o timeout",
	"broken pipe",
	"connection closed",
	"connection lost",
	"temporary failure",
	"bad connection",
	"server has gone away",
	"too many connections",
}

// IsTransient checks if an error is a network level failure that may succeed on retry.
// Engine specific codes (deadlocks, lock timeouts) are classified by each variant.
func IsTransient(err error) bool {
	if err == nil || isContextError(err) {
		return false
	}

	if goerrors.Is(err, driver.ErrBadConn) || goerrors.Is(err, io.ErrUnexpectedEOF) || goerrors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if goerrors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func isContextError(err error) bool {
	return goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded)
}
