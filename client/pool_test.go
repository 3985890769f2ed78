package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport"
	"github.com/tabstream/go-tabstream/transport/mock"
)

// trackingFactory hands out a fresh mock transport per connect and keeps
// every one it created, so tests can reach the transport behind each
// pooled session.
type trackingFactory struct {
	mu    sync.Mutex
	mocks []*mock.MockTransport
}

func (f *trackingFactory) factory(ctx context.Context) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := mock.NewMockTransport()
	f.mocks = append(f.mocks, m)
	return m, nil
}

func (f *trackingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mocks)
}

func (f *trackingFactory) at(i int) *mock.MockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mocks[i]
}

func newTestPool(t *testing.T, f *trackingFactory, configure func(*SessionOptions)) *SessionPool {
	t.Helper()
	opts := testOptions()
	opts.PoolMinIdle = 0
	opts.PoolMaxOpen = 4
	opts.HealthCheckInterval = 0
	if configure != nil {
		configure(opts)
	}
	p := NewSessionPool(f.factory, opts)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize pool: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPoolInitializeMinIdle(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, func(o *SessionOptions) {
		o.PoolMinIdle = 2
	})

	if got := f.count(); got != 2 {
		t.Errorf("expected 2 initial connects, got %d", got)
	}
	stats := p.Stats()
	if got := stats.IdleSessions.Load(); got != 2 {
		t.Errorf("expected 2 idle sessions, got %d", got)
	}
	if got := stats.TotalSessions.Load(); got != 2 {
		t.Errorf("expected 2 total sessions, got %d", got)
	}
}

func TestPoolGetPutReuse(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, nil)

	s1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Put(s1)

	s2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	defer p.Put(s2)

	if s1 != s2 {
		t.Error("expected the idle session to be reused")
	}
	if got := f.count(); got != 1 {
		t.Errorf("expected a single connect, got %d", got)
	}

	stats := p.Stats()
	if got := stats.Misses.Load(); got != 1 {
		t.Errorf("expected 1 miss, got %d", got)
	}
	if got := stats.Hits.Load(); got != 1 {
		t.Errorf("expected 1 hit, got %d", got)
	}
}

func TestPoolDiscardsPoisonedSessionOnPut(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, nil)

	s1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	f.at(0).WithMessages(serverMessage(9002, 21, "log full"))
	if _, err := s1.Execute(context.Background(), "INSERT INTO t VALUES (1)"); err == nil {
		t.Fatal("expected fatal execute error")
	}
	if s1.Usable() {
		t.Fatal("expected poisoned session")
	}

	p.Put(s1)
	if f.at(0).GetCloseCallCount() == 0 {
		t.Error("expected poisoned session closed on checkin")
	}

	s2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("replacement get: %v", err)
	}
	defer p.Put(s2)

	if s2 == s1 {
		t.Error("expected a fresh session, got the poisoned one back")
	}
	if !s2.Usable() {
		t.Error("expected replacement session usable")
	}
}

func TestPoolDiscardsSessionPoisonedWhileIdle(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, nil)

	s1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Put(s1)

	// The session goes bad while sitting idle in the pool.
	f.at(0).WithMessages(serverMessage(9002, 21, "log full"))
	if _, err := s1.Execute(context.Background(), "SELECT 1"); err == nil {
		t.Fatal("expected fatal execute error")
	}

	s2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get after poisoning: %v", err)
	}
	defer p.Put(s2)

	if s2 == s1 {
		t.Error("expected the poisoned idle session to be skipped")
	}
	if got := f.count(); got != 2 {
		t.Errorf("expected a replacement connect, got %d total", got)
	}
}

func TestPoolAcquireTimeout(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, func(o *SessionOptions) {
		o.PoolMaxOpen = 1
		o.AcquireTimeout = 30 * time.Millisecond
	})

	s1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer p.Put(s1)

	start := time.Now()
	_, err = p.Get(context.Background())
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected the acquire to wait, returned after %v", elapsed)
	}
	stats := p.Stats()
	if got := stats.Timeouts.Load(); got != 1 {
		t.Errorf("expected 1 timeout, got %d", got)
	}
}

func TestPoolRollbackOnCheckin(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, func(o *SessionOptions) {
		o.Autocommit = false
	})

	s1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Put(s1)

	inv := f.at(0).GetInvocations()
	if len(inv) < 2 {
		t.Fatalf("expected setup and rollback invocations, got %d", len(inv))
	}
	last := paramText(t, inv[len(inv)-1].Params[0])
	if last != stmtRollback {
		t.Errorf("expected checkin rollback, last statement was %q", last)
	}
}

func TestPoolCheckinDropsOpenStream(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, nil)

	s1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	f.at(0).WithResult(mock.Result{Sets: []mock.ResultSet{{
		Columns: []protocol.Column{col("n", protocol.TypeInt)},
		Rows:    [][]protocol.Value{{wire(t, protocol.Int(1))}},
	}}})
	rs, err := s1.Execute(context.Background(), "SELECT n FROM t")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	p.Put(s1)

	if _, err := rs.Next(); err == nil {
		t.Error("expected the stream dropped at checkin")
	}

	s2, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get after checkin: %v", err)
	}
	defer p.Put(s2)
	if s2 != s1 {
		t.Error("expected the session back after a clean checkin")
	}
	if s2.State() != READY {
		t.Errorf("expected READY, got %s", s2.State())
	}
}

func TestPoolCloseStopsHandouts(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, func(o *SessionOptions) {
		o.PoolMinIdle = 1
	})

	borrowed, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Get(context.Background()); err == nil {
		t.Error("expected Get to fail on a closed pool")
	}

	// A session returned after close is closed, not pooled.
	p.Put(borrowed)
	if borrowed.State() != CLOSED {
		t.Errorf("expected the returned session closed, got %s", borrowed.State())
	}

	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestPoolIdleCleanup(t *testing.T) {
	f := &trackingFactory{}
	p := newTestPool(t, f, func(o *SessionOptions) {
		o.PoolMinIdle = 0
		o.PoolMaxOpen = 2
		o.PoolIdleTimeout = 20 * time.Millisecond
	})

	s1, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Put(s1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := p.Stats()
		if stats.IdleSessions.Load() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	stats := p.Stats()
	t.Errorf("expected the idle session reaped, still %d idle", stats.IdleSessions.Load())
}
