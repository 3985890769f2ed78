// Package transport defines the transport layer abstraction for the
// tabular data stream protocol. A Transport owns one logged-in wire
// connection and exposes the two sub-protocols the driver core drives:
// parameterized remote-procedure invocation and bulk load. Byte framing,
// TLS negotiation and the login handshake are the transport's concern;
// the driver core never sees a raw packet.
package transport

import (
	"context"
	"time"

	"github.com/tabstream/go-tabstream/protocol"
)

// Transport is one live logical connection.
//
// A transport multiplexes at most one in-flight operation: callers must not
// issue a second InvokeRPC or BulkBegin before the previous RowStream or
// BulkSession is closed. The client layer enforces this.
type Transport interface {
	// InvokeRPC invokes a server procedure with encoded parameters and
	// returns the reply token stream.
	InvokeRPC(ctx context.Context, proc string, params []protocol.Parameter) (RowStream, error)

	// BulkBegin opens the bulk-load sub-protocol against a target table.
	BulkBegin(ctx context.Context, table string, opts BulkOptions) (BulkSession, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// IsHealthy returns whether the transport considers the connection
	// usable.
	IsHealthy() bool

	// Info describes the logged-in connection.
	Info() ConnectionInfo

	// GetMetrics returns transport performance metrics.
	GetMetrics() Metrics
}

// BatchInvoker is an optional capability: transports that can pipeline
// repeated invocations of one procedure implement it, and ExecuteMany uses
// it instead of the per-set fallback loop.
type BatchInvoker interface {
	// InvokeRPCBatch invokes a procedure once per parameter set in a
	// single round-trip, returning the combined token stream.
	InvokeRPCBatch(ctx context.Context, proc string, paramSets [][]protocol.Parameter) (RowStream, error)
}

// RowStream is the reply to one invocation: column metadata, lazily
// delivered rows, and the diagnostics the server interleaved with them.
// Single-pass; owned by exactly one reader.
type RowStream interface {
	// Columns describes the current result set. Empty for replies that
	// carry only a row count.
	Columns() []protocol.Column

	// Next returns the next row of the current result set, or io.EOF
	// when the set is exhausted.
	Next() ([]protocol.Value, error)

	// NextResultSet advances to the following result set, reporting
	// false when none remain.
	NextResultSet() (bool, error)

	// Messages returns the diagnostics received so far, in arrival order.
	Messages() []protocol.Message

	// RowsAffected returns the server-reported affected row count, valid
	// once the stream is drained.
	RowsAffected() int64

	// OutputValues returns post-execution values of output parameters,
	// valid once the stream is drained.
	OutputValues() []protocol.Value

	// Close releases the stream, discarding any unread rows.
	Close() error
}

// BulkOptions carries the per-load hints of the bulk sub-protocol.
type BulkOptions struct {
	// TableLock requests a bulk-update table-level lock for the duration
	// of the load.
	TableLock bool
}

// BulkSession is one open bulk-load channel.
type BulkSession interface {
	// Columns describes the target table's physical column order, as
	// reported by the server when the channel opened.
	Columns() []protocol.Column

	// SendBatch transmits a batch of encoded rows and asks the server to
	// validate it, returning the diagnostics for that batch.
	SendBatch(ctx context.Context, rows [][]protocol.Parameter) ([]protocol.Message, error)

	// Done commits the load and returns the inserted row count.
	Done(ctx context.Context) (int64, error)

	// Close aborts the load if Done has not been called.
	Close() error
}

// ConnectionInfo describes a logged-in connection.
type ConnectionInfo struct {
	// Server is the server identity reported during login.
	Server string

	// Database is the database in use after login.
	Database string

	// Protocol is the negotiated protocol version.
	Protocol protocol.Version
}

// Metrics contains performance and health metrics.
type Metrics struct {
	// TotalRequests is the total number of invocations sent
	TotalRequests int64

	// TotalErrors is the total number of errors encountered
	TotalErrors int64

	// AverageLatency is the average round-trip latency
	AverageLatency time.Duration

	// LastError is the most recent error encountered
	LastError error

	// LastErrorTime is when the last error occurred
	LastErrorTime time.Time

	// RowsStreamed is the total number of result rows delivered
	RowsStreamed int64

	// BulkBatchesSent is the total number of bulk-load batches sent
	BulkBatchesSent int64

	// BulkRowsSent is the total number of bulk-load rows sent
	BulkRowsSent int64
}

// Factory creates new transport instances. The factory performs the login
// handshake; a returned Transport is ready for invocations.
type Factory func(ctx context.Context) (Transport, error)
