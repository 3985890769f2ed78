// Package testutil provides shared builders for driver tests: sessions
// wired to a scriptable in-memory transport, wire-form value fixtures,
// and small polling utilities for asynchronous assertions.
//
// Test files compiled into package client keep local copies of the
// smallest fixtures; importing this package there would cycle back
// into client.
package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tabstream/go-tabstream/client"
	"github.com/tabstream/go-tabstream/transport"
	"github.com/tabstream/go-tabstream/transport/mock"
)

// Options returns session options quieted for tests: no logging and no
// default operation timeout, so slow assertions never race a deadline.
func Options() *client.SessionOptions {
	opts := client.DefaultOptions()
	opts.Logger = client.NewNoopLogger()
	opts.DefaultTimeoutMs = 0
	return &opts
}

// Factory wraps an existing transport in a transport.Factory.
func Factory(tr transport.Transport) transport.Factory {
	return func(ctx context.Context) (transport.Transport, error) {
		return tr, nil
	}
}

// NewSession connects a session over the given mock transport and closes
// it when the test ends.
func NewSession(tb testing.TB, m *mock.MockTransport) *client.Session {
	tb.Helper()
	return NewSessionWithOptions(tb, m, Options())
}

// NewSessionWithOptions is NewSession with caller-controlled options.
func NewSessionWithOptions(tb testing.TB, m *mock.MockTransport, opts *client.SessionOptions) *client.Session {
	tb.Helper()
	s, err := client.Connect(context.Background(), Factory(m), opts)
	if err != nil {
		tb.Fatalf("connect: %v", err)
	}
	tb.Cleanup(func() {
		var closed *client.ClosedSessionError
		if err := s.Close(); err != nil && !errors.As(err, &closed) {
			tb.Logf("session close: %v", err)
		}
	})
	return s
}

// NewScriptedSession builds a mock transport preloaded with the given
// replies, in order, and connects a session over it.
func NewScriptedSession(tb testing.TB, replies ...mock.Result) (*client.Session, *mock.MockTransport) {
	tb.Helper()
	m := mock.NewMockTransport()
	for _, r := range replies {
		m.WithResult(r)
	}
	return NewSession(tb, m), m
}

// Context returns a context cancelled when the test ends, bounded by the
// given timeout when one is supplied.
func Context(tb testing.TB, timeout ...time.Duration) context.Context {
	tb.Helper()
	ctx := context.Background()
	var cancel context.CancelFunc
	if len(timeout) > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout[0])
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	tb.Cleanup(cancel)
	return ctx
}

// WaitFor polls a condition until it holds or the timeout elapses,
// failing the test on timeout. Useful against background goroutines
// such as pool health checks.
func WaitFor(tb testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	tb.Errorf("condition not met within %v", timeout)
	return false
}
