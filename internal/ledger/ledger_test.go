package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/docindex/internal/ledger"
	"github.com/makeasinger/docindex/internal/status"
)

// newTestLedger starts an in-process Redis and connects a ledger to it.
func newTestLedger(t *testing.T) (*ledger.Ledger, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	l, err := ledger.Connect(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func mustSet(t *testing.T, l *ledger.Ledger, id uuid.UUID, s status.JobStatus) status.JobStatus {
	t.Helper()
	got, err := l.Set(context.Background(), id, s)
	if err != nil {
		t.Fatalf("Set(%v) error = %v", s, err)
	}
	return got
}

func assertStatus(t *testing.T, got, want status.JobStatus) {
	t.Helper()
	if !status.Equal(got, want) {
		t.Errorf("status = %v, want %v", got, want)
	}
}

func TestLedger_EndToEnd(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id := uuid.New()

	assertStatus(t, mustSet(t, l, id, status.Accepted{}), status.Accepted{})
	assertStatus(t, mustSet(t, l, id, status.Done{}), status.Done{})
	assertStatus(t, mustSet(t, l, id, status.Failed{Code: "1", Message: "x"}), status.Done{})

	got, err := l.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	assertStatus(t, got, status.Done{})
}

func TestLedger_StoresWireFormat(t *testing.T) {
	l, mr := newTestLedger(t)
	id := uuid.New()

	mustSet(t, l, id, status.Failed{Code: "0x0", Message: "Error status"})

	raw, err := mr.Get(id.String())
	if err != nil {
		t.Fatalf("miniredis Get error = %v", err)
	}
	if raw != "Error(0x0: Error status)" {
		t.Errorf("stored value = %q", raw)
	}
}

func TestLedger_TerminalWithoutAccepted(t *testing.T) {
	l, _ := newTestLedger(t)
	id := uuid.New()

	want := status.Failed{Code: "0x1", Message: "file missing"}
	assertStatus(t, mustSet(t, l, id, want), want)
	assertStatus(t, mustSet(t, l, id, status.Done{}), want)
	assertStatus(t, mustSet(t, l, id, status.Accepted{}), want)
}

func TestLedger_AcceptedIsIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	id := uuid.New()

	assertStatus(t, mustSet(t, l, id, status.Accepted{}), status.Accepted{})
	assertStatus(t, mustSet(t, l, id, status.Accepted{}), status.Accepted{})
}

func TestLedger_AcceptedNeverOverwritesProgress(t *testing.T) {
	l, _ := newTestLedger(t)
	id := uuid.New()

	mustSet(t, l, id, status.Accepted{})
	mustSet(t, l, id, status.Done{})
	assertStatus(t, mustSet(t, l, id, status.Accepted{}), status.Done{})
}

// TestLedger_NoRegression replays every sequence of up to four writes on a
// fresh id and checks the stored value against the state machine.
func TestLedger_NoRegression(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	candidates := []status.JobStatus{
		status.Accepted{},
		status.Done{},
		status.Failed{Code: "1", Message: "x"},
		status.Failed{Code: "2", Message: "y"},
	}

	var sequences [][]status.JobStatus
	var build func(prefix []status.JobStatus)
	build = func(prefix []status.JobStatus) {
		if len(prefix) > 0 {
			sequences = append(sequences, prefix)
		}
		if len(prefix) == 4 {
			return
		}
		for _, c := range candidates {
			next := append(append([]status.JobStatus(nil), prefix...), c)
			build(next)
		}
	}
	build(nil)

	for _, seq := range sequences {
		id := uuid.New()
		var expected status.JobStatus

		for i, s := range seq {
			switch {
			case expected == nil:
				expected = s
			case !expected.Terminal() && s.Terminal():
				expected = s
			}

			got := mustSet(t, l, id, s)
			if !status.Equal(got, expected) {
				t.Fatalf("sequence %v step %d: Set(%v) = %v, want %v", seq, i, s, got, expected)
			}
		}

		got, err := l.Get(ctx, id)
		if err != nil {
			t.Fatalf("sequence %v: Get() error = %v", seq, err)
		}
		if !status.Equal(got, expected) {
			t.Fatalf("sequence %v: Get() = %v, want %v", seq, got, expected)
		}
	}
}

func TestLedger_ConcurrentAccepted(t *testing.T) {
	l, _ := newTestLedger(t)
	id := uuid.New()

	const workers = 16
	results := make([]status.JobStatus, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Set(context.Background(), id, status.Accepted{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("worker %d: error = %v", i, errs[i])
			continue
		}
		assertStatus(t, results[i], status.Accepted{})
	}
}

func TestLedger_ConcurrentCompletionFirstWins(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id := uuid.New()
	mustSet(t, l, id, status.Accepted{})

	const workers = 16
	results := make([]status.JobStatus, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var s status.JobStatus = status.Done{}
			if i%2 == 1 {
				s = status.Failed{Code: fmt.Sprintf("%d", i), Message: "worker failed"}
			}
			results[i], errs[i] = l.Set(ctx, id, s)
		}(i)
	}
	wg.Wait()

	final, err := l.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !final.Terminal() {
		t.Fatalf("final status %v is not terminal", final)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("worker %d: error = %v", i, errs[i])
			continue
		}
		if !status.Equal(results[i], final) {
			t.Errorf("worker %d observed %v, final is %v", i, results[i], final)
		}
	}
}

func TestLedger_GetMissing(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Get(context.Background(), uuid.New())
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if ledger.KindOf(err) != ledger.KindNotFound {
		t.Errorf("KindOf = %v", ledger.KindOf(err))
	}
}

func TestLedger_GetCorrupt(t *testing.T) {
	l, mr := newTestLedger(t)
	id := uuid.New()
	mr.Set(id.String(), "Bedro")

	_, err := l.Get(context.Background(), id)
	if !errors.Is(err, ledger.ErrTypeMismatch) {
		t.Fatalf("Get() error = %v, want ErrTypeMismatch", err)
	}
	var decodeErr *status.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected wrapped *status.DecodeError, got %v", err)
	}
	if decodeErr.Error() != "Status unknown: Bedro" {
		t.Errorf("decode error = %q", decodeErr.Error())
	}
}

func TestLedger_GetWrongType(t *testing.T) {
	l, mr := newTestLedger(t)
	id := uuid.New()
	mr.Lpush(id.String(), "Done")

	_, err := l.Get(context.Background(), id)
	if !errors.Is(err, ledger.ErrTypeMismatch) {
		t.Fatalf("Get() error = %v, want ErrTypeMismatch", err)
	}
}

func TestLedger_SetOverCorruptValue(t *testing.T) {
	l, mr := newTestLedger(t)
	id := uuid.New()
	mr.Set(id.String(), "Bedro")

	_, err := l.Set(context.Background(), id, status.Done{})
	if !errors.Is(err, ledger.ErrTypeMismatch) {
		t.Fatalf("Set() error = %v, want ErrTypeMismatch", err)
	}
	raw, _ := mr.Get(id.String())
	if raw != "Bedro" {
		t.Errorf("corrupt value was overwritten with %q", raw)
	}
}

func TestLedger_SetNil(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Set(context.Background(), uuid.New(), nil)
	if ledger.KindOf(err) != ledger.KindUnclassified {
		t.Fatalf("Set(nil) error = %v, want unclassified", err)
	}
}

func TestLedger_LoadScripts(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.LoadScripts(ctx); err != nil {
		t.Fatalf("LoadScripts() error = %v", err)
	}
	id := uuid.New()
	assertStatus(t, mustSet(t, l, id, status.Accepted{}), status.Accepted{})
	assertStatus(t, mustSet(t, l, id, status.Done{}), status.Done{})
}

func TestConnect_URL(t *testing.T) {
	mr := miniredis.RunT(t)

	l, err := ledger.Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer l.Close()

	if err := l.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestConnect_WrongPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	_, err := ledger.Connect(context.Background(), "redis://:wrong@"+mr.Addr())
	if !errors.Is(err, ledger.ErrAuthentication) {
		t.Fatalf("Connect() error = %v, want ErrAuthentication", err)
	}
	if errors.Is(err, ledger.ErrTransport) || errors.Is(err, ledger.ErrUnclassified) {
		t.Errorf("authentication failure matched another kind: %v", err)
	}
}

func TestConnect_MissingPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	_, err := ledger.Connect(context.Background(), mr.Addr())
	if !errors.Is(err, ledger.ErrAuthentication) {
		t.Fatalf("Connect() error = %v, want ErrAuthentication", err)
	}
}

func TestConnect_CorrectPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	l, err := ledger.Connect(context.Background(), "redis://:secret@"+mr.Addr())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer l.Close()
	assertStatus(t, mustSet(t, l, uuid.New(), status.Done{}), status.Done{})
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	_, err := ledger.Connect(context.Background(), addr)
	if !errors.Is(err, ledger.ErrTransport) {
		t.Fatalf("Connect() error = %v, want ErrTransport", err)
	}
}

func TestConnect_BadURL(t *testing.T) {
	_, err := ledger.Connect(context.Background(), "redis://localhost:6379/not-a-db")
	if err == nil {
		t.Fatal("expected error")
	}
	if ledger.KindOf(err) != ledger.KindUnclassified {
		t.Errorf("KindOf = %v, want unclassified", ledger.KindOf(err))
	}
}

func TestLedger_ServerGone(t *testing.T) {
	l, mr := newTestLedger(t)
	mr.Close()

	_, err := l.Get(context.Background(), uuid.New())
	if !errors.Is(err, ledger.ErrTransport) {
		t.Fatalf("Get() error = %v, want ErrTransport", err)
	}
}

func TestNew_SharedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := ledger.New(client)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// The shared client stays usable after closing the ledger.
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("client closed by ledger: %v", err)
	}
	assertStatus(t, mustSet(t, l, uuid.New(), status.Accepted{}), status.Accepted{})
}
