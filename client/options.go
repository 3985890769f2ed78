package client

import "time"

// SessionOptions configures session behavior.
type SessionOptions struct {
	// DefaultTimeoutMs is the default timeout in milliseconds applied to
	// operations whose context carries no deadline. Zero disables it.
	// Default: 10000 (10 seconds)
	DefaultTimeoutMs int

	// DebugMode enables verbose error serialization with full cause chains
	// and raw statement logging.
	// Default: false
	DebugMode bool

	// Autocommit controls whether each statement commits on completion.
	// When false, work accumulates until Commit or Rollback.
	// Default: true
	Autocommit bool

	// StatementCacheSize is the maximum number of rewritten statements to
	// cache per session.
	// Default: 100
	StatementCacheSize int

	// BulkBatchSize is the default row count per bulk-load batch when a
	// load does not specify its own. Zero sends the whole load as a
	// single batch.
	// Default: 0
	BulkBatchSize int

	// CatalogCacheTTL is the duration for which table column metadata is
	// cached. After this period, metadata is refreshed from the server on
	// next use.
	// Default: 5 minutes
	CatalogCacheTTL time.Duration

	// PoolMinIdle is the minimum number of idle sessions a pool maintains.
	// Default: 1
	PoolMinIdle int

	// PoolMaxOpen is the maximum number of open sessions in a pool.
	// Default: 1 (single session mode)
	PoolMaxOpen int

	// PoolIdleTimeout is the duration after which idle pooled sessions
	// are closed.
	// Default: 30s
	PoolIdleTimeout time.Duration

	// HealthCheckInterval is how often a pool probes idle sessions.
	// Default: 30s
	HealthCheckInterval time.Duration

	// AcquireTimeout bounds how long a pool acquire waits for a free
	// session when the pool is exhausted. Zero waits until the caller's
	// context expires.
	// Default: 0
	AcquireTimeout time.Duration

	// Logger is the logger implementation to use.
	// If nil, a default logger is used.
	Logger Logger

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Default: "INFO"
	LogLevel string

	// OnStateChange is called on every session state transition.
	OnStateChange func(StateTransition)
}

// DefaultOptions returns SessionOptions with default values.
func DefaultOptions() SessionOptions {
	return SessionOptions{
		DefaultTimeoutMs:    10000,
		DebugMode:           false,
		Autocommit:          true,
		StatementCacheSize:  100,
		BulkBatchSize:       0,
		CatalogCacheTTL:     5 * time.Minute,
		PoolMinIdle:         1,
		PoolMaxOpen:         1,
		PoolIdleTimeout:     30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		AcquireTimeout:      0,
		LogLevel:            "INFO",
	}
}
