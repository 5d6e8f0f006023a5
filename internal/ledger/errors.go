package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/docindex/internal/status"
)

// Kind classifies a ledger failure.
type Kind int

const (
	KindUnclassified Kind = iota
	KindAuthentication
	KindTypeMismatch
	KindNotFound
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindTypeMismatch:
		return "type mismatch"
	case KindNotFound:
		return "not found"
	case KindTransport:
		return "transport"
	default:
		return "unclassified"
	}
}

// Error is returned by every ledger operation. Err is the store-level cause.
type Error struct {
	Op   string
	Key  string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("ledger")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so callers can write
// errors.Is(err, ledger.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Key != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrTypeMismatch   = &Error{Kind: KindTypeMismatch}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrTransport      = &Error{Kind: KindTransport}
	ErrUnclassified   = &Error{Kind: KindUnclassified}
)

var (
	errNilStatus       = errors.New("status is nil")
	errUnexpectedReply = errors.New("unexpected script reply")
)

// KindOf returns the kind of a ledger error, or KindUnclassified for any
// other error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnclassified
}

// classify wraps err exactly once. Errors that are already ledger errors are
// returned unchanged.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{Op: op, Key: key, Kind: kindOf(err), Err: err}
}

func kindOf(err error) Kind {
	var decodeErr *status.DecodeError
	switch {
	case errors.Is(err, redis.Nil):
		return KindNotFound
	case errors.As(err, &decodeErr), errors.Is(err, errUnexpectedReply):
		return KindTypeMismatch
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		switch {
		case isAuthMessage(msg):
			return KindAuthentication
		case strings.HasPrefix(msg, "WRONGTYPE"):
			return KindTypeMismatch
		}
		return KindUnclassified
	}

	if isTransport(err) {
		return KindTransport
	}
	return KindUnclassified
}

func isAuthMessage(msg string) bool {
	switch {
	case strings.HasPrefix(msg, "WRONGPASS"),
		strings.HasPrefix(msg, "NOAUTH"),
		strings.HasPrefix(msg, "NOPERM"),
		strings.HasPrefix(msg, "ERR AUTH"):
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "invalid password") ||
		strings.Contains(lower, "invalid username-password")
}

func isTransport(err error) bool {
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func unexpectedReply(v interface{}) error {
	return fmt.Errorf("%w: %T", errUnexpectedReply, v)
}
