package client

import (
	"context"
	"sync"
	"testing"

	"github.com/tabstream/go-tabstream/transport/mock"
)

// captureLogger records emitted log lines for assertion.
type captureLogger struct {
	mu      sync.Mutex
	entries []capturedEntry
}

type capturedEntry struct {
	level  string
	msg    string
	fields []Field
}

func (l *captureLogger) record(level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, capturedEntry{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) Debug(msg string, fields ...Field) { l.record("DEBUG", msg, fields) }
func (l *captureLogger) Info(msg string, fields ...Field)  { l.record("INFO", msg, fields) }
func (l *captureLogger) Warn(msg string, fields ...Field)  { l.record("WARN", msg, fields) }
func (l *captureLogger) Error(msg string, fields ...Field) { l.record("ERROR", msg, fields) }
func (l *captureLogger) WithFields(fields ...Field) Logger { return l }

func (l *captureLogger) find(msg string) *capturedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].msg == msg {
			return &l.entries[i]
		}
	}
	return nil
}

func TestMetricsHookCountsOperations(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithRowCount(2)
	m.WithBulkDoneCount(3)
	m.WithMessages(serverMessage(547, 16, "constraint violation"))
	s := newTestSession(t, m)

	h := NewMetricsHook()
	s.RegisterHook(h)

	// One counted execute.
	if _, err := s.ExecuteMany(context.Background(), "INSERT INTO t VALUES (:0)", [][]interface{}{{1}}); err != nil {
		t.Fatalf("executemany: %v", err)
	}

	// One bulk load.
	if _, err := s.BulkLoad(context.Background(), BulkLoadRequest{
		Table: "dbo.people",
		Rows:  RowsFromSlices([][]interface{}{{1}, {2}, {3}}),
	}); err != nil {
		t.Fatalf("bulk load: %v", err)
	}

	// One failure.
	if _, err := s.Execute(context.Background(), "INSERT INTO t VALUES (1)"); err == nil {
		t.Fatal("expected server error")
	}

	if got := h.TotalOperations.Load(); got != 3 {
		t.Errorf("expected 3 operations, got %d", got)
	}
	if got := h.TotalExecutes.Load(); got != 2 {
		t.Errorf("expected 2 executes, got %d", got)
	}
	if got := h.TotalBulkLoads.Load(); got != 1 {
		t.Errorf("expected 1 bulk load, got %d", got)
	}
	if got := h.TotalErrors.Load(); got != 1 {
		t.Errorf("expected 1 error, got %d", got)
	}
	if got := h.TotalRows.Load(); got != 5 {
		t.Errorf("expected 5 rows across operations, got %d", got)
	}
}

func TestMetricsHookStatsAndReset(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithRowCount(1)
	s := newTestSession(t, m)

	h := NewMetricsHook()
	s.RegisterHook(h)

	if _, err := s.ExecuteMany(context.Background(), "INSERT INTO t VALUES (:0)", [][]interface{}{{1}}); err != nil {
		t.Fatalf("executemany: %v", err)
	}

	stats := h.GetStats()
	if got := stats["total_operations"]; got != uint64(1) {
		t.Errorf("expected 1 operation in stats, got %v", got)
	}
	if got := stats["total_executes"]; got != uint64(1) {
		t.Errorf("expected 1 execute in stats, got %v", got)
	}
	for _, key := range []string{"total_rows", "total_errors", "avg_duration_ns", "total_duration_ms"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("expected stats key %q", key)
		}
	}

	h.Reset()
	if got := h.TotalOperations.Load(); got != 0 {
		t.Errorf("expected counters cleared, got %d operations", got)
	}
	if got := h.GetStats()["avg_duration_ns"]; got != int64(0) {
		t.Errorf("expected zero average after reset, got %v", got)
	}
}

func TestLoggingHookRecordsCompletion(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithRowCount(4)
	s := newTestSession(t, m)

	logger := &captureLogger{}
	s.RegisterHook(NewLoggingHook(logger, true, true))

	if _, err := s.ExecuteMany(context.Background(), "DELETE FROM t WHERE id = :0", [][]interface{}{{9}}); err != nil {
		t.Fatalf("executemany: %v", err)
	}

	if entry := logger.find("executing operation"); entry == nil {
		t.Error("expected a statement log line before execution")
	}
	entry := logger.find("operation completed")
	if entry == nil {
		t.Fatal("expected a completion log line")
	}
	if entry.level != "DEBUG" {
		t.Errorf("expected DEBUG completion, got %s", entry.level)
	}

	var sawRows bool
	for _, f := range entry.fields {
		if f.Key == "rows" {
			sawRows = true
		}
	}
	if !sawRows {
		t.Error("expected the row count among completion fields")
	}
}

func TestLoggingHookRecordsFailure(t *testing.T) {
	m := mock.NewMockTransport()
	m.WithMessages(serverMessage(547, 16, "constraint violation"))
	s := newTestSession(t, m)

	logger := &captureLogger{}
	s.RegisterHook(NewLoggingHook(logger, false, false))

	if _, err := s.Execute(context.Background(), "INSERT INTO t VALUES (1)"); err == nil {
		t.Fatal("expected server error")
	}

	if entry := logger.find("executing operation"); entry != nil {
		t.Error("expected statement logging disabled")
	}
	entry := logger.find("operation failed")
	if entry == nil {
		t.Fatal("expected a failure log line")
	}
	if entry.level != "ERROR" {
		t.Errorf("expected ERROR on failure, got %s", entry.level)
	}
}
