package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tabstream/go-tabstream/transport/mock"
)

func TestHealthMonitorPoisonsAfterThreshold(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)
	defer s.Close()

	m.WithMessages(serverMessage(8134, 16, "ping failed"))
	m.WithMessages(serverMessage(8134, 16, "ping failed"))

	h := NewHealthMonitor(s, 10*time.Millisecond, 2)
	h.Start()
	defer h.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.Usable() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if s.Usable() {
		t.Fatal("session should be poisoned after repeated health check failures")
	}
	var fatal *FatalConnectionError
	if !errors.As(s.FatalError(), &fatal) {
		t.Fatalf("fatal error type = %T, want *FatalConnectionError", s.FatalError())
	}
	if fatal.Code != "E_TRANSPORT_FAILURE" {
		t.Errorf("code = %q, want E_TRANSPORT_FAILURE", fatal.Code)
	}
}

func TestHealthMonitorRecoversOnSuccess(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)
	defer s.Close()

	// One failing ping, then unscripted replies succeed.
	m.WithMessages(serverMessage(8134, 16, "ping failed"))

	h := NewHealthMonitor(s, 10*time.Millisecond, 3)
	h.Start()

	deadline := time.Now().Add(2 * time.Second)
	for m.GetInvokeCallCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop()

	if m.GetInvokeCallCount() < 3 {
		t.Fatalf("expected at least 3 pings, got %d", m.GetInvokeCallCount())
	}
	if got := h.failureCount.Load(); got != 0 {
		t.Errorf("failure count = %d, want 0 after a successful ping", got)
	}
	if !s.Usable() {
		t.Error("session should remain usable below the failure threshold")
	}
}

func TestHealthMonitorBusySessionIsHealthy(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithRowCount(0)
	s := newTestSession(t, m)
	defer s.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	s.RegisterHook(&gateHook{entered: entered, release: release})

	done := make(chan error, 1)
	go func() {
		rs, err := s.Execute(context.Background(), "UPDATE t SET x = 1")
		if err == nil {
			rs.Close()
		}
		done <- err
	}()
	<-entered

	h := NewHealthMonitor(s, 10*time.Millisecond, 1)
	h.Start()
	time.Sleep(60 * time.Millisecond)
	h.Stop()

	if got := h.failureCount.Load(); got != 0 {
		t.Errorf("failure count = %d, want 0 while session is busy", got)
	}
	if !s.Usable() {
		t.Error("busy pings must not poison the session")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("gated operation failed: %v", err)
	}
}

func TestHealthMonitorThresholdFloor(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)
	defer s.Close()

	m.WithMessages(serverMessage(8134, 16, "ping failed"))

	h := NewHealthMonitor(s, 10*time.Millisecond, 0)
	h.Start()
	defer h.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.Usable() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Usable() {
		t.Error("threshold below one should clamp to one and poison on the first failure")
	}
}

func TestHealthMonitorStopWhileIdle(t *testing.T) {
	m := mock.NewMockTransport()
	s := newTestSession(t, m)
	defer s.Close()

	h := NewHealthMonitor(s, time.Hour, 2)
	h.Start()

	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	if m.GetInvokeCallCount() != 0 {
		t.Errorf("expected no pings before the first interval, got %d", m.GetInvokeCallCount())
	}
}
