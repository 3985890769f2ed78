package client

// Wire Protocol Limitations
//
// This document tracks protocol-level limitations that affect driver
// behavior. These are properties of the tabular data stream itself, not of
// this implementation; client code cannot work around them by switching
// drivers.
//
// Last Updated: August 2026

// Text and Binary Values

// Zero-length strings cannot be transmitted. The variable-length wire
// encoding reserves the empty length marker for NULL, so '' and NULL are
// indistinguishable on the wire. Empty string and empty []byte parameters
// arrive at the server as NULL, and empty values written through BulkLoad
// read back as NULL.
// Workaround: store a sentinel (e.g. a single space) where the distinction
// matters, or make the column NOT NULL with a default.

// VarChar parameter data is encoded with the session's single-byte codepage
// codec (UTF-8 by default). Text containing characters outside the target
// column's collation cannot be represented; use NVarChar (UTF-16) values for
// arbitrary Unicode text.

// Temporal Values

// DateTimeOffset requires negotiated protocol version 7.3 or newer. On older
// versions the offset cannot be transmitted: parameter encoding falls back
// to the legacy DateTime layout and the offset is dropped, and
// DateTimeOffset result columns fail to decode with a usage error.

// Sub-tick fractional seconds truncate. DateTime has ~3.33 ms resolution,
// Time/DateTime2/DateTimeOffset carry at most 100 ns ticks at scale 7.
// Host values with finer precision are truncated toward zero, never rounded,
// so a round-tripped value is always <= the value sent.

// Bulk Loading

// Bulk validation is batch-granular. The server validates rows only when a
// batch is flushed, so a constraint violation reports the failing batch, not
// the failing row. Smaller BatchSize values narrow the search window at the
// cost of more round-trips; BatchSize 0 defers all validation to the final
// flush.

// Temporary tables (#name) are invisible to the catalog views, so AutoEncode
// cannot resolve their column metadata. Bulk loads into temp tables fail
// with UnsupportedTargetError before any row is sent.
// Workaround: load into a real staging table, or supply TypedValue cells and
// disable AutoEncode.

// Execution Model

// One operation per session. The protocol interleaves nothing: a session
// whose ResultSet is still open must close or drain it before the next
// Execute, and a concurrent call while an operation is in flight fails fast
// with a usage error rather than queueing. Use a SessionPool for concurrent
// work.

// No mid-operation cancellation. Context cancellation is honored between
// protocol exchanges, but a round-trip already on the wire runs to
// completion on the server; cancelling the context abandons the connection
// state and the session is discarded rather than reused.

// ExecuteMany reports only the aggregate row count. Per-set counts are not
// recoverable once sets are batched into a single round-trip.

// Diagnostics

// Warnings never raise. Severity 10 and below accumulates on the session
// (Messages/Warnings) and is cleared by the next operation; callers that
// care must read them before executing again.

// Severity 20 and above poisons the session. The connection state after a
// fatal server error is indeterminate, so every subsequent operation returns
// the original FatalConnectionError and a pool discards the session on
// release. There is no transparent reconnect.

// Feature Availability Matrix
//
// | Feature                        | Status       | Protocol  | Driver Support |
// |--------------------------------|--------------|-----------|----------------|
// | Parameterized execution (:N)   | Available    | all       | Implemented    |
// | Output parameters (CallProc)   | Available    | all       | Implemented    |
// | Multiple result sets           | Available    | all       | Implemented    |
// | Bulk load with batching        | Available    | all       | Implemented    |
// | Catalog-driven auto-encode     | Available    | all       | Implemented    |
// | DateTimeOffset                 | Available    | >= 7.3    | Implemented    |
// | DateTimeOffset (pre-7.3)       | Degraded     | < 7.3     | Offset dropped |
// | Empty string round-trip        | Not possible | all       | Reads as NULL  |
// | Row-level bulk validation      | Not possible | all       | Batch-granular |
// | Temp-table catalog metadata    | Not possible | all       | Fails early    |
// | Mid-operation cancellation     | Not possible | all       | Between ops    |
// | Transparent reconnect          | Not possible | all       | Pool replaces  |
