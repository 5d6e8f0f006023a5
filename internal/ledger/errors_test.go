package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/docindex/internal/status"
)

// replyError mimics an error reply sent by the Redis server.
type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func TestKindOf_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil reply", redis.Nil, KindNotFound},
		{"decode", &status.DecodeError{Text: "Bedro"}, KindTypeMismatch},
		{"unexpected reply", unexpectedReply(int64(1)), KindTypeMismatch},
		{"wrong type", replyError("WRONGTYPE Operation against a key holding the wrong kind of value"), KindTypeMismatch},
		{"wrongpass", replyError("WRONGPASS invalid username-password pair or user is disabled."), KindAuthentication},
		{"noauth", replyError("NOAUTH Authentication required."), KindAuthentication},
		{"legacy password", replyError("ERR invalid password"), KindAuthentication},
		{"auth without password", replyError("ERR AUTH <password> called without any password configured for the default user."), KindAuthentication},
		{"other reply", replyError("ERR unknown command"), KindUnclassified},
		{"closed client", redis.ErrClosed, KindTransport},
		{"eof", io.EOF, KindTransport},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, KindTransport},
		{"wrapped reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindTransport},
		{"deadline", context.DeadlineExceeded, KindTransport},
		{"plain", errors.New("boom"), KindUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("get", "k", tt.err)
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("classified error does not wrap the cause")
			}
		})
	}
}

func TestClassify_WrapsOnce(t *testing.T) {
	first := classify("get", "k", redis.Nil)
	second := classify("set", "k", fmt.Errorf("outer: %w", first))

	var le *Error
	if !errors.As(second, &le) {
		t.Fatalf("expected *Error, got %T", second)
	}
	if le.Op != "get" {
		t.Errorf("Op = %q, want the original operation", le.Op)
	}
	if classify("get", "k", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestError_IsSentinel(t *testing.T) {
	err := &Error{Op: "set", Key: "k", Kind: KindAuthentication, Err: errors.New("WRONGPASS")}

	if !errors.Is(err, ErrAuthentication) {
		t.Error("expected ErrAuthentication match")
	}
	for _, other := range []error{ErrNotFound, ErrTransport, ErrTypeMismatch, ErrUnclassified} {
		if errors.Is(err, other) {
			t.Errorf("unexpected match with %v", other)
		}
	}
	if errors.Is(err, &Error{Op: "set", Kind: KindAuthentication}) {
		t.Error("non-sentinel targets must not match by kind")
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Op: "get", Key: "abc", Kind: KindNotFound, Err: redis.Nil}
	if got, want := err.Error(), "ledger: get abc: not found: redis: nil"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := ErrTransport.Error(), "ledger: transport"; got != want {
		t.Errorf("sentinel Error() = %q, want %q", got, want)
	}
}
