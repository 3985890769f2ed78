package client

import (
	"context"
	"sync/atomic"
)

// ============================================================================
// LoggingHook - Logs operation details
// ============================================================================

// LoggingHook logs operation execution with configurable detail levels.
type LoggingHook struct {
	logger        Logger
	logStatements bool // Log raw statement text
	logDurations  bool // Log execution times
}

// NewLoggingHook creates a new logging hook with the given logger.
func NewLoggingHook(logger Logger, logStatements, logDurations bool) *LoggingHook {
	return &LoggingHook{
		logger:        logger,
		logStatements: logStatements,
		logDurations:  logDurations,
	}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	if h.logStatements {
		h.logger.Debug("executing operation",
			String("operation", hookCtx.Operation),
			String("statement", hookCtx.Statement),
			Int("params", hookCtx.ParamCount),
			String("trace_id", hookCtx.TraceID))
	}
	return nil
}

func (h *LoggingHook) After(ctx context.Context, hookCtx *HookContext) error {
	fields := []Field{
		String("operation", hookCtx.Operation),
		String("trace_id", hookCtx.TraceID),
	}

	if h.logDurations {
		fields = append(fields, Duration("duration", hookCtx.Duration))
	}

	if hookCtx.Error != nil {
		fields = append(fields, Error("error", hookCtx.Error))
		h.logger.Error("operation failed", fields...)
	} else {
		fields = append(fields, Int64("rows", hookCtx.RowsAffected))
		h.logger.Debug("operation completed", fields...)
	}

	return nil
}

// ============================================================================
// MetricsHook - Collects performance metrics
// ============================================================================

// MetricsHook collects operation metrics using atomic counters.
type MetricsHook struct {
	TotalOperations atomic.Uint64
	TotalExecutes   atomic.Uint64
	TotalBulkLoads  atomic.Uint64
	TotalErrors     atomic.Uint64
	TotalRows       atomic.Uint64
	TotalDurationNs atomic.Uint64
}

// NewMetricsHook creates a new metrics collection hook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{}
}

func (h *MetricsHook) Name() string {
	return "metrics"
}

func (h *MetricsHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *MetricsHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.TotalOperations.Add(1)
	h.TotalDurationNs.Add(uint64(hookCtx.Duration.Nanoseconds()))

	switch hookCtx.Operation {
	case "execute", "executemany", "callproc":
		h.TotalExecutes.Add(1)
	case "bulkload":
		h.TotalBulkLoads.Add(1)
	}

	if hookCtx.Error != nil {
		h.TotalErrors.Add(1)
	} else if hookCtx.RowsAffected > 0 {
		h.TotalRows.Add(uint64(hookCtx.RowsAffected))
	}

	return nil
}

// GetStats returns current metrics as a map.
func (h *MetricsHook) GetStats() map[string]interface{} {
	totalOps := h.TotalOperations.Load()
	totalDur := h.TotalDurationNs.Load()

	avgDuration := int64(0)
	if totalOps > 0 {
		avgDuration = int64(totalDur / totalOps)
	}

	return map[string]interface{}{
		"total_operations":  totalOps,
		"total_executes":    h.TotalExecutes.Load(),
		"total_bulk_loads":  h.TotalBulkLoads.Load(),
		"total_errors":      h.TotalErrors.Load(),
		"total_rows":        h.TotalRows.Load(),
		"total_duration_ns": totalDur,
		"avg_duration_ns":   avgDuration,
		"avg_duration_ms":   float64(avgDuration) / 1_000_000,
		"total_duration_ms": float64(totalDur) / 1_000_000,
	}
}

// Reset clears all metrics.
func (h *MetricsHook) Reset() {
	h.TotalOperations.Store(0)
	h.TotalExecutes.Store(0)
	h.TotalBulkLoads.Store(0)
	h.TotalErrors.Store(0)
	h.TotalRows.Store(0)
	h.TotalDurationNs.Store(0)
}
