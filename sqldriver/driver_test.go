package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/tabstream/go-tabstream/client"
	"github.com/tabstream/go-tabstream/testutil"
	"github.com/tabstream/go-tabstream/transport"
	"github.com/tabstream/go-tabstream/transport/mock"
)

// queueFactory pre-creates its transports so tests can script replies
// before the connection that will consume them exists.
type queueFactory struct {
	mu    sync.Mutex
	mocks []*mock.MockTransport
	next  int
}

func newQueueFactory(n int) *queueFactory {
	f := &queueFactory{}
	for i := 0; i < n; i++ {
		f.mocks = append(f.mocks, mock.NewMockTransport())
	}
	return f
}

func (f *queueFactory) factory() transport.Factory {
	return func(ctx context.Context) (transport.Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.next >= len(f.mocks) {
			return nil, fmt.Errorf("factory exhausted after %d connections", f.next)
		}
		m := f.mocks[f.next]
		f.next++
		return m, nil
	}
}

func (f *queueFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func openTestDB(t *testing.T, f *queueFactory) *sql.DB {
	t.Helper()
	db := sql.OpenDB(NewConnector(f.factory(), testutil.Options()))
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenByNameFails(t *testing.T) {
	db, err := sql.Open("tabstream", "server=anywhere")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	err = db.Ping()
	if err == nil {
		t.Fatal("expected connection-string open to fail")
	}
	if !strings.Contains(err.Error(), "sql.OpenDB") {
		t.Errorf("error should point at sql.OpenDB, got %v", err)
	}
}

func TestConnectorConnectsAndPings(t *testing.T) {
	f := newQueueFactory(1)
	db := openTestDB(t, f)

	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if f.created() != 1 {
		t.Errorf("connections created = %d, want 1", f.created())
	}

	inv := f.mocks[0].GetInvocations()
	if len(inv) != 1 {
		t.Fatalf("invocations = %d, want 1", len(inv))
	}
	if got := testutil.StatementText(t, inv[0].Params[0]); got != "SELECT 1" {
		t.Errorf("ping statement = %q, want SELECT 1", got)
	}
}

func TestConnectorNilOptionsUsesDefaults(t *testing.T) {
	f := newQueueFactory(1)
	c := NewConnector(f.factory(), nil)
	if c.opts == nil {
		t.Fatal("nil options should be replaced with defaults")
	}
	if c.opts.StatementCacheSize != client.DefaultOptions().StatementCacheSize {
		t.Errorf("expected default statement cache size, got %d", c.opts.StatementCacheSize)
	}

	db := sql.OpenDB(c)
	defer db.Close()
	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("ping with default options: %v", err)
	}
}

func TestConnectorDriver(t *testing.T) {
	f := newQueueFactory(1)
	c := NewConnector(f.factory(), testutil.Options())
	if c.Driver() == nil {
		t.Fatal("connector must report its driver")
	}
	if _, err := c.Driver().Open("anything"); err == nil {
		t.Error("driver.Open must reject connection strings")
	}
}
