// Package client implements the driver core: sessions over a transport,
// parameterized statement execution, lazy result streaming, bulk loading,
// and the severity-classified diagnostics model.
package client

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"

	"github.com/tabstream/go-tabstream/catalog"
	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport"
)

// Session is one logical connection to the server. A session owns exactly
// one transport and serializes operations over it: starting a new
// operation invalidates the previous operation's open ResultSet.
//
// Sessions are safe for concurrent use, but concurrent operations do not
// queue. A second operation started while the first still holds the
// session fails fast with a usage error.
type Session struct {
	transport transport.Transport
	codec     *protocol.Codec
	opts      SessionOptions
	logger    Logger
	stateMgr  *StateManager
	diags     *Diagnostics
	stmtCache *StatementCache

	debugMode  atomic.Bool
	autocommit atomic.Bool
	serial     atomic.Uint64
	lastUsed   atomic.Int64

	// opMu is held for the duration of one operation. TryLock keeps a
	// concurrent caller from queueing behind an in-flight operation.
	opMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	usable       bool
	fatalErr     error
	currentOp    string
	activeStream *ResultSet

	catalogMu    sync.Mutex
	catalogCache map[uint64]catalogEntry

	hooks   []hookEntry
	hooksMu sync.RWMutex
}

// Connect logs in through the factory and wraps the transport in a ready
// session. If opts is nil, default options are used.
func Connect(ctx context.Context, factory transport.Factory, opts *SessionOptions) (*Session, error) {
	if opts == nil {
		defaultOpts := DefaultOptions()
		opts = &defaultOpts
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.LogLevel, nil)
	}

	cacheSize := opts.StatementCacheSize
	if cacheSize == 0 {
		cacheSize = 100
	}

	s := &Session{
		opts:         *opts,
		logger:       logger,
		stateMgr:     NewStateManager(),
		diags:        NewDiagnostics(),
		stmtCache:    NewStatementCache(cacheSize),
		catalogCache: make(map[uint64]catalogEntry),
	}
	s.debugMode.Store(opts.DebugMode)
	s.autocommit.Store(true)
	s.touch()

	if opts.OnStateChange != nil {
		s.stateMgr.OnStateChange(opts.OnStateChange)
	}

	logger.Info("connecting")

	t, err := factory(ctx)
	if err != nil {
		s.stateMgr.TransitionTo(CLOSED, err, map[string]interface{}{
			"reason": "login_failed",
		})
		logger.Error("login failed", Error("error", err))
		return nil, ErrTransportFailure("connect", err)
	}

	s.transport = t
	s.codec = protocol.NewCodec(t.Info().Protocol)
	s.usable = true

	if !opts.Autocommit {
		if err := s.applyAutocommit(ctx, false); err != nil {
			t.Close()
			s.stateMgr.TransitionTo(CLOSED, err, map[string]interface{}{
				"reason": "setup_failed",
			})
			return nil, err
		}
	}

	s.stateMgr.TransitionTo(READY, nil, map[string]interface{}{
		"reason": "login_complete",
		"server": t.Info().Server,
	})
	logger.Info("session ready",
		String("server", t.Info().Server),
		String("database", t.Info().Database),
		String("protocol", t.Info().Protocol.String()))
	return s, nil
}

// Close shuts the session down, invalidating any open ResultSet and
// releasing the transport. Closing an already closed session returns
// ClosedSessionError.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed("Close")
	}
	s.closed = true
	prev := s.activeStream
	s.activeStream = nil
	s.mu.Unlock()

	s.logger.Info("closing session")

	s.serial.Add(1)
	if prev != nil {
		prev.invalidate()
	}
	s.stmtCache.Clear()

	var closeErr error
	if s.transport != nil {
		closeErr = s.transport.Close()
	}

	s.stateMgr.TransitionTo(CLOSED, closeErr, map[string]interface{}{
		"reason": "user_initiated",
	})
	if closeErr != nil {
		s.logger.Error("error during close", Error("error", closeErr))
		return closeErr
	}
	s.logger.Info("session closed")
	return nil
}

// Ping verifies the session can reach the server by running a trivial
// statement end to end.
func (s *Session) Ping(ctx context.Context) error {
	op, err := s.beginOp(ctx, "ping", "SELECT 1", 0)
	if err != nil {
		return err
	}

	args, err := s.execArgs("SELECT 1", nil)
	if err != nil {
		return op.fail(err)
	}
	rows, err := s.transport.InvokeRPC(op.ctx, procExecuteSQL, args)
	if err != nil {
		return op.fail(s.noteTransportFailure("ping", err))
	}
	if _, err := s.drainCount(rows); err != nil {
		return op.fail(err)
	}
	op.finish(0)
	return nil
}

// Messages returns every diagnostic received during the current
// operation, in arrival order and regardless of severity.
func (s *Session) Messages() []protocol.Message {
	return s.diags.Messages()
}

// Warnings returns the warning-severity subset of Messages.
func (s *Session) Warnings() []protocol.Message {
	return s.diags.Warnings()
}

// Usable reports whether the session can start new operations. A fatal
// server error or a transport failure clears it permanently.
func (s *Session) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.usable
}

// FatalError returns the error that poisoned the session, or nil.
func (s *Session) FatalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Healthy reports whether the session and its transport look usable.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	ok := !s.closed && s.usable
	s.mu.Unlock()
	return ok && s.transport != nil && s.transport.IsHealthy()
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return s.stateMgr.GetState()
}

// OnStateChange registers a handler called on every state transition.
func (s *Session) OnStateChange(handler StateChangeHandler) {
	s.stateMgr.OnStateChange(handler)
}

// Info describes the logged-in connection.
func (s *Session) Info() transport.ConnectionInfo {
	if s.transport == nil {
		return transport.ConnectionInfo{}
	}
	return s.transport.Info()
}

// Autocommit reports the session's current autocommit mode.
func (s *Session) Autocommit() bool {
	return s.autocommit.Load()
}

// CacheStats returns statement cache counters.
func (s *Session) CacheStats() CacheStats {
	return s.stmtCache.Stats()
}

// LastActivity returns when the session last finished an operation.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// SetLogLevel changes the logging level at runtime.
// Valid levels: DEBUG, INFO, WARN, ERROR.
func (s *Session) SetLogLevel(level string) {
	parsedLevel := ParseLogLevel(level)
	s.opts.LogLevel = level
	if _, ok := s.logger.(*defaultLogger); ok {
		s.logger = NewLogger(parsedLevel.String(), nil)
		s.logger.Info("log level changed", String("newLevel", level))
	}
}

// ColumnsOf resolves a table's column metadata from the server catalog.
// Results are cached per session for the configured TTL. Temporary
// tables are not visible in the catalog and fail with
// UnsupportedTargetError.
func (s *Session) ColumnsOf(ctx context.Context, table string) ([]catalog.Column, error) {
	op, err := s.beginOp(ctx, "columns", table, 0)
	if err != nil {
		return nil, err
	}

	cols, err := s.resolveColumns(op.ctx, table)
	if err != nil {
		return nil, op.fail(err)
	}
	op.finish(int64(len(cols)))
	return cols, nil
}

// operation is the per-call bookkeeping for one session operation: the
// derived context, the hook context, and the serial that identifies any
// stream the operation produced.
type operation struct {
	s      *Session
	name   string
	hc     *HookContext
	ctx    context.Context
	cancel context.CancelFunc
	serial uint64
	start  time.Time
	done   bool
}

// beginOp takes ownership of the session for one operation: it rejects
// closed, poisoned and busy sessions, invalidates the previous result
// stream, clears accumulated diagnostics, and runs before hooks.
func (s *Session) beginOp(ctx context.Context, name, stmt string, paramCount int) (*operation, error) {
	if !s.opMu.TryLock() {
		s.mu.Lock()
		owner := s.currentOp
		s.mu.Unlock()
		return nil, ErrSessionBusy(name, owner)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil, ErrSessionClosed(name)
	}
	if !s.usable {
		err := s.fatalErr
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil, err
	}
	s.currentOp = name
	prev := s.activeStream
	s.activeStream = nil
	s.mu.Unlock()

	serial := s.serial.Add(1)
	if prev != nil {
		prev.invalidate()
	}
	s.diags.Reset()

	target := EXECUTING
	if name == "bulkload" {
		target = BULKLOADING
	}
	if err := s.stateMgr.TransitionTo(target, nil, map[string]interface{}{
		"operation": name,
	}); err != nil {
		s.mu.Lock()
		s.currentOp = ""
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil, err
	}

	start := time.Now()
	op := &operation{
		s:    s,
		name: name,
		hc: &HookContext{
			Operation:  name,
			Statement:  stmt,
			ParamCount: paramCount,
			StartTime:  start,
			Metadata:   make(map[string]interface{}),
			TraceID:    uuid.New().String(),
		},
		serial: serial,
		start:  start,
	}
	op.ctx, op.cancel = s.opContext(ctx)

	if s.IsDebugMode() {
		s.logger.Debug("operation start",
			String("operation", name),
			String("statement", stmt),
			Int("params", paramCount),
			String("trace_id", op.hc.TraceID))
	}

	if err := s.executeBeforeHooks(op.ctx, op.hc); err != nil {
		return nil, op.fail(err)
	}
	return op, nil
}

// opContext derives the operation context, applying the configured
// default timeout when the caller's context has no deadline.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.DefaultTimeoutMs <= 0 {
		return ctx, nil
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, nil
	}
	return context.WithTimeout(ctx, time.Duration(s.opts.DefaultTimeoutMs)*time.Millisecond)
}

// fail ends the operation with an error, running after hooks. It returns
// the error for use in a return statement.
func (op *operation) fail(err error) error {
	op.hc.Error = err
	op.hc.Duration = time.Since(op.start)
	op.s.executeAfterHooks(op.ctx, op.hc)
	op.s.logger.Error("operation failed",
		String("operation", op.name),
		Error("error", err),
		String("trace_id", op.hc.TraceID))
	op.release(READY)
	return err
}

// finish ends the operation successfully with a settled row count.
func (op *operation) finish(rows int64) {
	op.hc.RowsAffected = rows
	op.hc.Duration = time.Since(op.start)
	op.s.executeAfterHooks(op.ctx, op.hc)
	if op.s.IsDebugMode() {
		op.s.logger.Debug("operation complete",
			String("operation", op.name),
			Int64("rows", rows),
			Duration("elapsed", op.hc.Duration),
			String("trace_id", op.hc.TraceID))
	}
	op.release(READY)
}

// finishStream ends the operation with an open result stream. The
// operation context transfers to the stream and is cancelled when the
// stream closes.
func (op *operation) finishStream(rs *ResultSet) {
	op.s.mu.Lock()
	op.s.activeStream = rs
	op.s.mu.Unlock()

	rs.cancel = op.cancel
	op.cancel = nil

	op.hc.Duration = time.Since(op.start)
	op.s.executeAfterHooks(op.ctx, op.hc)
	op.release(STREAMING)
}

// release returns session ownership, transitioning to the target state.
func (op *operation) release(target SessionState) {
	if op.done {
		return
	}
	op.done = true

	if op.s.stateMgr.GetState() != target {
		op.s.stateMgr.TransitionTo(target, op.hc.Error, map[string]interface{}{
			"operation": op.name,
		})
	}

	op.s.mu.Lock()
	op.s.currentOp = ""
	op.s.mu.Unlock()

	if op.cancel != nil {
		op.cancel()
	}
	op.s.touch()
	op.s.opMu.Unlock()
}

// currentSerial identifies the operation a live ResultSet must belong to.
func (s *Session) currentSerial() uint64 {
	return s.serial.Load()
}

// streamClosed returns the session to READY when its current stream is
// closed by the caller.
func (s *Session) streamClosed(serial uint64) {
	if s.serial.Load() != serial {
		return
	}
	s.mu.Lock()
	s.activeStream = nil
	s.mu.Unlock()

	if s.stateMgr.GetState() == STREAMING {
		s.stateMgr.TransitionTo(READY, nil, map[string]interface{}{
			"reason": "stream_closed",
		})
	}
	s.touch()
}

// reset prepares the session for reuse by another borrower: any open
// result stream is invalidated and dropped. It reports whether the
// session is still fit to hand out.
func (s *Session) reset() bool {
	s.mu.Lock()
	if s.closed || !s.usable {
		s.mu.Unlock()
		return false
	}
	prev := s.activeStream
	s.activeStream = nil
	s.mu.Unlock()

	if prev != nil {
		s.serial.Add(1)
		prev.invalidate()
	}
	if s.stateMgr.GetState() == STREAMING {
		s.stateMgr.TransitionTo(READY, nil, map[string]interface{}{
			"reason": "pool_checkin",
		})
	}
	return true
}

// absorb feeds freshly received diagnostics into the session and applies
// the severity rule: at most one error is raised per batch, the highest
// severity wins, and fatal severities poison the session.
func (s *Session) absorb(msgs []protocol.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	err := s.diags.Absorb(msgs...)
	if err == nil {
		if s.IsDebugMode() {
			for _, m := range msgs {
				s.logger.Debug("server message",
					Int64("number", m.Number),
					Int("severity", m.Severity),
					String("text", m.Description))
			}
		}
		return nil
	}
	if fe, ok := err.(*FatalConnectionError); ok {
		s.markUnusable(fe)
	}
	return err
}

// markUnusable poisons the session. The first fatal error wins and is
// returned to every subsequent operation.
func (s *Session) markUnusable(err error) {
	s.mu.Lock()
	if !s.usable {
		s.mu.Unlock()
		return
	}
	s.usable = false
	s.fatalErr = err
	s.mu.Unlock()

	s.logger.Error("session poisoned", Error("error", err))
}

// noteTransportFailure wraps an I/O failure and poisons the session. A
// connection that failed mid-operation sits at an indeterminate protocol
// position and cannot be reused.
func (s *Session) noteTransportFailure(operation string, err error) error {
	fe := ErrTransportFailure(operation, err)
	s.markUnusable(fe)
	return fe
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// rawExec runs a statement without parameters outside the operation
// lifecycle, for session setup and transaction control.
func (s *Session) rawExec(ctx context.Context, stmt string) error {
	args, err := s.execArgs(stmt, nil)
	if err != nil {
		return err
	}
	rows, err := s.transport.InvokeRPC(ctx, procExecuteSQL, args)
	if err != nil {
		return s.noteTransportFailure("exec", err)
	}
	_, err = s.drainCount(rows)
	return err
}

// catalogEntry is one cached catalog lookup.
type catalogEntry struct {
	columns []catalog.Column
	expires time.Time
}

func catalogKey(id catalog.Identifier) uint64 {
	return xxhash.Sum64String(id.String())
}

// resolveColumns parses and resolves a table's column metadata, serving
// repeat lookups from the session cache. Callers must own the session.
func (s *Session) resolveColumns(ctx context.Context, table string) ([]catalog.Column, error) {
	id, err := catalog.Parse(table)
	if err != nil {
		return nil, ErrTargetUnresolved(table, err)
	}
	if id.IsTemporary() {
		return nil, ErrTemporaryTarget(table)
	}

	key := catalogKey(id)
	if cols, ok := s.catalogLookup(key); ok {
		return cols, nil
	}

	query, params := catalog.ColumnsQuery(id)
	args, err := s.assembleExec(query, params)
	if err != nil {
		return nil, err
	}
	rows, err := s.transport.InvokeRPC(ctx, procExecuteSQL, args)
	if err != nil {
		return nil, s.noteTransportFailure("catalog", err)
	}

	cols, err := s.decodeColumns(rows)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrTargetUnresolved(table, nil)
	}

	s.catalogStore(key, cols)
	return cols, nil
}

// decodeColumns reads a catalog reply shaped as
// (COLUMN_NAME, DATA_TYPE, CodePage) rows in ordinal position order.
func (s *Session) decodeColumns(rows transport.RowStream) ([]catalog.Column, error) {
	defer rows.Close()

	meta := rows.Columns()
	var cols []catalog.Column
	for {
		wire, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, s.noteTransportFailure("catalog", err)
		}
		if len(wire) < 3 || len(meta) < 3 {
			return nil, scanError("catalog reply is missing columns")
		}

		var col catalog.Column
		name, err := s.codec.DecodeValue(meta[0], wire[0])
		if err != nil {
			return nil, err
		}
		col.Name = toString(name)

		dataType, err := s.codec.DecodeValue(meta[1], wire[1])
		if err != nil {
			return nil, err
		}
		col.DataType = toString(dataType)
		if wt, ok := catalog.TypeFromName(col.DataType); ok {
			col.Type = wt
		}

		if !wire[2].Null {
			cp, err := s.codec.DecodeValue(meta[2], wire[2])
			if err != nil {
				return nil, err
			}
			n, err := toInt64(cp)
			if err != nil {
				return nil, scanError("catalog codepage is not numeric")
			}
			col.Codepage = int(n)
		}

		cols = append(cols, col)
	}

	if err := s.absorb(rows.Messages()); err != nil {
		return nil, err
	}
	return cols, nil
}

func (s *Session) catalogLookup(key uint64) ([]catalog.Column, bool) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	e, ok := s.catalogCache[key]
	if !ok {
		return nil, false
	}
	if s.opts.CatalogCacheTTL > 0 && time.Now().After(e.expires) {
		delete(s.catalogCache, key)
		return nil, false
	}
	return e.columns, true
}

func (s *Session) catalogStore(key uint64, cols []catalog.Column) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.catalogCache[key] = catalogEntry{
		columns: cols,
		expires: time.Now().Add(s.opts.CatalogCacheTTL),
	}
}
