package client

import (
	"encoding/json"
	"fmt"
)

// EnableDebugMode enables debug mode with verbose logging and full error
// serialization.
func (s *Session) EnableDebugMode() {
	s.debugMode.Store(true)
	s.logger.Info("debug mode enabled")
}

// DisableDebugMode disables debug mode.
func (s *Session) DisableDebugMode() {
	s.debugMode.Store(false)
	s.logger.Info("debug mode disabled")
}

// IsDebugMode returns whether debug mode is currently enabled.
func (s *Session) IsDebugMode() bool {
	return s.debugMode.Load()
}

// GetDebugInfo returns a snapshot of session state for debugging.
func (s *Session) GetDebugInfo() map[string]interface{} {
	info := map[string]interface{}{
		"version":    Version,
		"state":      s.State().String(),
		"debugMode":  s.IsDebugMode(),
		"usable":     s.Usable(),
		"autocommit": s.Autocommit(),
	}

	if s.transport != nil {
		ci := s.transport.Info()
		metrics := s.transport.GetMetrics()
		info["connection"] = map[string]interface{}{
			"server":       ci.Server,
			"database":     ci.Database,
			"protocol":     ci.Protocol.String(),
			"healthy":      s.transport.IsHealthy(),
			"lastActivity": s.LastActivity().Format("2006-01-02T15:04:05.000Z07:00"),
		}
		info["transport"] = map[string]interface{}{
			"totalRequests":   metrics.TotalRequests,
			"totalErrors":     metrics.TotalErrors,
			"averageLatency":  metrics.AverageLatency.String(),
			"rowsStreamed":    metrics.RowsStreamed,
			"bulkBatchesSent": metrics.BulkBatchesSent,
			"bulkRowsSent":    metrics.BulkRowsSent,
		}
	}

	cacheStats := s.CacheStats()
	info["statementCache"] = map[string]interface{}{
		"hits":      cacheStats.Hits,
		"misses":    cacheStats.Misses,
		"evictions": cacheStats.Evictions,
		"size":      cacheStats.CurrentSize,
	}

	info["options"] = map[string]interface{}{
		"defaultTimeoutMs":    s.opts.DefaultTimeoutMs,
		"statementCacheSize":  s.opts.StatementCacheSize,
		"bulkBatchSize":       s.opts.BulkBatchSize,
		"catalogCacheTTL":     s.opts.CatalogCacheTTL.String(),
		"poolMinIdle":         s.opts.PoolMinIdle,
		"poolMaxOpen":         s.opts.PoolMaxOpen,
		"poolIdleTimeout":     s.opts.PoolIdleTimeout.String(),
		"healthCheckInterval": s.opts.HealthCheckInterval.String(),
	}

	if err := s.FatalError(); err != nil {
		info["fatalError"] = err.Error()
	}

	return info
}

// DumpDebugInfoJSON returns debug info as a formatted JSON string.
func (s *Session) DumpDebugInfoJSON() string {
	info := s.GetDebugInfo()
	bytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal debug info: %s"}`, err.Error())
	}
	return string(bytes)
}
