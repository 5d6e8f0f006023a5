// Package ledger records job statuses in Redis so that any number of workers
// can report progress for the same job without coordinating.
//
// Every write goes through one of two Lua scripts executed atomically by
// Redis: Accepted is only written when no record exists, and Done or Failed
// only replace a missing or Accepted record. A terminal status is therefore
// never overwritten. Set returns the status actually stored, which callers
// compare with the one they asked for.
//
// Usage:
//
//	l, err := ledger.Connect(ctx, "redis://:secret@localhost:6379/0")
//	if err != nil { ... }
//	defer l.Close()
//	got, err := l.Set(ctx, jobID, status.Done{})
package ledger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/docindex/internal/status"
)

const (
	opConnect = "connect"
	opGet     = "get"
	opSet     = "set"
	opLoad    = "load scripts"
	opPing    = "ping"
)

// Option configures the Ledger.
type Option func(*Ledger)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

// Ledger reads and advances job statuses. It holds no status state of its
// own and is safe for concurrent use.
type Ledger struct {
	client redis.UniversalClient
	owned  bool
	logger *slog.Logger
}

// New wraps an existing Redis client. The caller owns the client lifecycle
// and its retry policy.
func New(client redis.UniversalClient, opts ...Option) *Ledger {
	l := &Ledger{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Connect opens a connection to the Redis server at address, which is either
// a redis:// (or rediss://) URL or a bare host:port. The connection is
// verified with PING so bad credentials fail here with KindAuthentication and
// unreachable servers with KindTransport. Commands are never retried.
func Connect(ctx context.Context, address string, opts ...Option) (*Ledger, error) {
	ropts, err := parseAddress(address)
	if err != nil {
		return nil, &Error{Op: opConnect, Kind: KindUnclassified, Err: err}
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, classify(opConnect, "", err)
	}

	l := New(client, opts...)
	l.owned = true
	l.logger.Debug("ledger connected", "addr", ropts.Addr, "db", ropts.DB)
	return l, nil
}

func parseAddress(address string) (*redis.Options, error) {
	var ropts *redis.Options
	if strings.Contains(address, "://") {
		parsed, err := redis.ParseURL(address)
		if err != nil {
			return nil, err
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{Addr: address}
	}
	if ropts.MaxRetries == 0 {
		ropts.MaxRetries = -1
	}
	return ropts, nil
}

// Close releases the connection opened by Connect. It is a no-op for a
// Ledger built with New.
func (l *Ledger) Close() error {
	if !l.owned {
		return nil
	}
	return l.client.Close()
}

// Ping verifies the store is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return classify(opPing, "", l.client.Ping(ctx).Err())
}

// LoadScripts uploads both transition scripts so later calls are served by
// EVALSHA. Calling it is optional; Set falls back to EVAL on NOSCRIPT.
func (l *Ledger) LoadScripts(ctx context.Context) error {
	for _, s := range []*redis.Script{setIfNotExists, setIfAcceptedOrAbsent} {
		if err := s.Load(ctx, l.client).Err(); err != nil {
			return classify(opLoad, "", err)
		}
	}
	return nil
}

// Get returns the stored status of the job. A missing record yields
// KindNotFound and an undecodable one KindTypeMismatch.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (status.JobStatus, error) {
	key := id.String()

	text, err := l.client.Get(ctx, key).Result()
	if err != nil {
		return nil, classify(opGet, key, err)
	}

	st, err := status.Decode(text)
	if err != nil {
		return nil, classify(opGet, key, err)
	}
	return st, nil
}

// Set requests a transition of the job to s and returns the status stored
// afterwards. When the record already holds a terminal status, or s is
// Accepted and any record exists, the store is left unchanged and the
// existing status is returned without error.
func (l *Ledger) Set(ctx context.Context, id uuid.UUID, s status.JobStatus) (status.JobStatus, error) {
	key := id.String()
	if s == nil {
		return nil, &Error{Op: opSet, Key: key, Kind: KindUnclassified, Err: errNilStatus}
	}

	reply, err := scriptFor(s).Run(ctx, l.client, []string{key}, status.Encode(s)).Result()
	if err != nil {
		return nil, classify(opSet, key, err)
	}

	text, ok := reply.(string)
	if !ok {
		return nil, classify(opSet, key, unexpectedReply(reply))
	}

	stored, err := status.Decode(text)
	if err != nil {
		return nil, classify(opSet, key, err)
	}

	if !status.Equal(stored, s) {
		l.logger.Debug("ledger transition rejected",
			"job_id", key,
			"requested", s.String(),
			"stored", stored.String(),
		)
	}
	return stored, nil
}
