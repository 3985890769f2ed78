package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// HealthMonitor periodically pings a session and poisons it once a
// failure threshold is reached, so pools and callers stop handing it
// work. Sessions are never revived: a replacement comes from connecting
// anew, not from retrying the poisoned one.
type HealthMonitor struct {
	session          *Session
	interval         time.Duration
	failureThreshold int
	failureCount     atomic.Int32
	stopCh           chan struct{}
	wg               sync.WaitGroup
	logger           Logger
}

// NewHealthMonitor creates a health monitor for the session.
func NewHealthMonitor(session *Session, interval time.Duration, threshold int) *HealthMonitor {
	if threshold < 1 {
		threshold = 1
	}
	return &HealthMonitor{
		session:          session,
		interval:         interval,
		failureThreshold: threshold,
		stopCh:           make(chan struct{}),
		logger:           session.logger.WithFields(String("component", "health_monitor")),
	}
}

// Start begins health check monitoring in a background goroutine.
func (h *HealthMonitor) Start() {
	h.wg.Add(1)
	go h.monitorLoop()
	h.logger.Info("health monitor started", Duration("interval", h.interval))
}

// Stop stops the health monitor gracefully.
func (h *HealthMonitor) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

// monitorLoop is the main monitoring loop.
func (h *HealthMonitor) monitorLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return

		case <-ticker.C:
			if !h.session.Usable() {
				return
			}

			if err := h.performHealthCheck(); err != nil {
				h.logger.Warn("health check failed",
					Error("error", err),
					Int("failureCount", int(h.failureCount.Add(1))))

				if int(h.failureCount.Load()) >= h.failureThreshold {
					h.logger.Error("health check failure threshold exceeded, poisoning session")
					h.session.noteTransportFailure("health check", err)
					return
				}
			} else {
				// Reset failure count on success
				if prev := h.failureCount.Swap(0); prev > 0 {
					h.logger.Info("health check recovered", Int("previousFailures", int(prev)))
				}
			}
		}
	}
}

// performHealthCheck runs one ping. A session busy serving a real
// operation counts as healthy.
func (h *HealthMonitor) performHealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.session.Ping(ctx)
	if _, busy := err.(*UsageError); busy {
		return nil
	}
	return err
}
