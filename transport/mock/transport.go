// Package mock provides a scriptable in-memory transport for tests.
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport"
)

// ResultSet is one scripted result set.
type ResultSet struct {
	Columns []protocol.Column
	Rows    [][]protocol.Value
}

// Result is one scripted reply to an invocation.
type Result struct {
	Sets     []ResultSet
	Messages []protocol.Message
	RowCount int64
	Output   []protocol.Value
	Err      error
}

// Invocation records one InvokeRPC call.
type Invocation struct {
	Proc   string
	Params []protocol.Parameter
}

// MockTransport implements transport.Transport for testing. Replies are
// scripted with the With* builders and consumed in FIFO order; an
// unscripted invocation returns an empty reply.
type MockTransport struct {
	// Behavior configuration
	invokeErr   error
	bulkErr     error
	healthy     bool
	invokeDelay time.Duration
	info        transport.ConnectionInfo

	// Scripted replies
	results []Result

	// Bulk scripting
	bulkColumns  map[string][]protocol.Column
	batchMsgs    map[int][]protocol.Message
	batchErrs    map[int]error
	bulkDoneErr  error
	bulkRowCount int64

	// Call tracking
	invokeCalls atomic.Int32
	bulkCalls   atomic.Int32
	closeCalls  atomic.Int32

	// Metrics
	metrics mockMetrics

	mu          sync.RWMutex
	closed      bool
	invocations []Invocation
	bulkTargets []string
	bulkOpts    []transport.BulkOptions
	sentBatches [][][]protocol.Parameter
}

type mockMetrics struct {
	totalRequests   atomic.Int64
	totalErrors     atomic.Int64
	rowsStreamed    atomic.Int64
	bulkBatchesSent atomic.Int64
	bulkRowsSent    atomic.Int64
	latencySum      atomic.Int64
}

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		healthy:     true,
		bulkColumns: make(map[string][]protocol.Column),
		batchMsgs:   make(map[int][]protocol.Message),
		batchErrs:   make(map[int]error),
		info: transport.ConnectionInfo{
			Server:   "mockserver",
			Database: "master",
			Protocol: protocol.Version74,
		},
	}
}

// WithResult enqueues a scripted reply for the next unconsumed invocation.
func (m *MockTransport) WithResult(r Result) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return m
}

// WithRowCount enqueues a row-count-only reply.
func (m *MockTransport) WithRowCount(n int64) *MockTransport {
	return m.WithResult(Result{RowCount: n})
}

// WithMessages enqueues a reply carrying only diagnostics.
func (m *MockTransport) WithMessages(msgs ...protocol.Message) *MockTransport {
	return m.WithResult(Result{Messages: msgs})
}

// WithInvokeError configures a persistent error for InvokeRPC.
func (m *MockTransport) WithInvokeError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeErr = err
	return m
}

// WithInvokeDelay adds a delay to invocations.
func (m *MockTransport) WithInvokeDelay(delay time.Duration) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeDelay = delay
	return m
}

// WithHealthy configures the health status.
func (m *MockTransport) WithHealthy(healthy bool) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
	return m
}

// WithInfo configures the connection identity.
func (m *MockTransport) WithInfo(info transport.ConnectionInfo) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
	return m
}

// WithBulkColumns configures the column metadata reported when a bulk load
// opens against the given table.
func (m *MockTransport) WithBulkColumns(table string, cols []protocol.Column) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkColumns[table] = cols
	return m
}

// WithBulkError configures BulkBegin to fail.
func (m *MockTransport) WithBulkError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkErr = err
	return m
}

// WithBatchMessages scripts the diagnostics returned for the batch with the
// given zero-based index.
func (m *MockTransport) WithBatchMessages(batch int, msgs ...protocol.Message) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchMsgs[batch] = msgs
	return m
}

// WithBatchError scripts a transport failure for the batch with the given
// zero-based index.
func (m *MockTransport) WithBatchError(batch int, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErrs[batch] = err
	return m
}

// WithBulkDoneCount configures the row count reported when a load commits.
func (m *MockTransport) WithBulkDoneCount(n int64) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkRowCount = n
	return m
}

// InvokeRPC implements transport.Transport.
func (m *MockTransport) InvokeRPC(ctx context.Context, proc string, params []protocol.Parameter) (transport.RowStream, error) {
	m.invokeCalls.Add(1)
	m.metrics.totalRequests.Add(1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("transport is closed")
	}
	delay := m.invokeDelay
	invokeErr := m.invokeErr
	m.invocations = append(m.invocations, Invocation{Proc: proc, Params: params})
	var result Result
	if len(m.results) > 0 {
		result = m.results[0]
		m.results = m.results[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if invokeErr != nil {
		m.metrics.totalErrors.Add(1)
		return nil, invokeErr
	}
	if result.Err != nil {
		m.metrics.totalErrors.Add(1)
		return nil, result.Err
	}

	return &mockRowStream{owner: m, result: result}, nil
}

// BulkBegin implements transport.Transport.
func (m *MockTransport) BulkBegin(ctx context.Context, table string, opts transport.BulkOptions) (transport.BulkSession, error) {
	m.bulkCalls.Add(1)
	m.metrics.totalRequests.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("transport is closed")
	}
	if m.bulkErr != nil {
		m.metrics.totalErrors.Add(1)
		return nil, m.bulkErr
	}
	m.bulkTargets = append(m.bulkTargets, table)
	m.bulkOpts = append(m.bulkOpts, opts)

	return &mockBulkSession{
		owner:   m,
		columns: m.bulkColumns[table],
	}, nil
}

// Close implements transport.Transport.
func (m *MockTransport) Close() error {
	m.closeCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsHealthy implements transport.Transport.
func (m *MockTransport) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy && !m.closed
}

// Info implements transport.Transport.
func (m *MockTransport) Info() transport.ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// GetMetrics implements transport.Transport.
func (m *MockTransport) GetMetrics() transport.Metrics {
	totalReqs := m.metrics.totalRequests.Load()
	avgLatency := time.Duration(0)
	if totalReqs > 0 {
		avgLatency = time.Duration(m.metrics.latencySum.Load() / totalReqs)
	}

	return transport.Metrics{
		TotalRequests:   totalReqs,
		TotalErrors:     m.metrics.totalErrors.Load(),
		AverageLatency:  avgLatency,
		RowsStreamed:    m.metrics.rowsStreamed.Load(),
		BulkBatchesSent: m.metrics.bulkBatchesSent.Load(),
		BulkRowsSent:    m.metrics.bulkRowsSent.Load(),
	}
}

// GetInvokeCallCount returns the number of times InvokeRPC was called.
func (m *MockTransport) GetInvokeCallCount() int {
	return int(m.invokeCalls.Load())
}

// GetBulkCallCount returns the number of times BulkBegin was called.
func (m *MockTransport) GetBulkCallCount() int {
	return int(m.bulkCalls.Load())
}

// GetCloseCallCount returns the number of times Close was called.
func (m *MockTransport) GetCloseCallCount() int {
	return int(m.closeCalls.Load())
}

// GetInvocations returns all recorded invocations.
func (m *MockTransport) GetInvocations() []Invocation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := make([]Invocation, len(m.invocations))
	copy(history, m.invocations)
	return history
}

// GetBulkTargets returns the tables bulk loads were opened against.
func (m *MockTransport) GetBulkTargets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	targets := make([]string, len(m.bulkTargets))
	copy(targets, m.bulkTargets)
	return targets
}

// GetBulkOptions returns the options of each opened bulk load.
func (m *MockTransport) GetBulkOptions() []transport.BulkOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opts := make([]transport.BulkOptions, len(m.bulkOpts))
	copy(opts, m.bulkOpts)
	return opts
}

// GetSentBatches returns every bulk batch sent, in order.
func (m *MockTransport) GetSentBatches() [][][]protocol.Parameter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	batches := make([][][]protocol.Parameter, len(m.sentBatches))
	copy(batches, m.sentBatches)
	return batches
}

// IsClosed returns whether the transport has been closed.
func (m *MockTransport) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Reset clears all state, scripting and call counts.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invokeErr = nil
	m.bulkErr = nil
	m.healthy = true
	m.invokeDelay = 0
	m.closed = false
	m.results = nil
	m.bulkColumns = make(map[string][]protocol.Column)
	m.batchMsgs = make(map[int][]protocol.Message)
	m.batchErrs = make(map[int]error)
	m.bulkDoneErr = nil
	m.bulkRowCount = 0
	m.invocations = nil
	m.bulkTargets = nil
	m.bulkOpts = nil
	m.sentBatches = nil

	m.invokeCalls.Store(0)
	m.bulkCalls.Store(0)
	m.closeCalls.Store(0)

	m.metrics.totalRequests.Store(0)
	m.metrics.totalErrors.Store(0)
	m.metrics.rowsStreamed.Store(0)
	m.metrics.bulkBatchesSent.Store(0)
	m.metrics.bulkRowsSent.Store(0)
	m.metrics.latencySum.Store(0)
}

// mockRowStream replays one scripted Result.
type mockRowStream struct {
	owner  *MockTransport
	result Result

	mu     sync.Mutex
	set    int
	row    int
	closed bool
}

func (s *mockRowStream) Columns() []protocol.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set >= len(s.result.Sets) {
		return nil
	}
	return s.result.Sets[s.set].Columns
}

func (s *mockRowStream) Next() ([]protocol.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("row stream is closed")
	}
	if s.set >= len(s.result.Sets) {
		return nil, io.EOF
	}
	set := s.result.Sets[s.set]
	if s.row >= len(set.Rows) {
		return nil, io.EOF
	}
	row := set.Rows[s.row]
	s.row++
	s.owner.metrics.rowsStreamed.Add(1)
	return row, nil
}

func (s *mockRowStream) NextResultSet() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("row stream is closed")
	}
	if s.set+1 >= len(s.result.Sets) {
		s.set = len(s.result.Sets)
		return false, nil
	}
	s.set++
	s.row = 0
	return true, nil
}

func (s *mockRowStream) Messages() []protocol.Message {
	return s.result.Messages
}

func (s *mockRowStream) RowsAffected() int64 {
	return s.result.RowCount
}

func (s *mockRowStream) OutputValues() []protocol.Value {
	return s.result.Output
}

func (s *mockRowStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// mockBulkSession records batches and replays scripted per-batch replies.
type mockBulkSession struct {
	owner   *MockTransport
	columns []protocol.Column

	mu     sync.Mutex
	batch  int
	rows   int64
	closed bool
	done   bool
}

func (b *mockBulkSession) Columns() []protocol.Column {
	return b.columns
}

func (b *mockBulkSession) SendBatch(ctx context.Context, rows [][]protocol.Parameter) ([]protocol.Message, error) {
	b.mu.Lock()
	if b.closed || b.done {
		b.mu.Unlock()
		return nil, fmt.Errorf("bulk session is closed")
	}
	index := b.batch
	b.batch++
	b.rows += int64(len(rows))
	b.mu.Unlock()

	b.owner.mu.Lock()
	b.owner.sentBatches = append(b.owner.sentBatches, rows)
	batchErr := b.owner.batchErrs[index]
	msgs := b.owner.batchMsgs[index]
	b.owner.mu.Unlock()

	b.owner.metrics.bulkBatchesSent.Add(1)
	b.owner.metrics.bulkRowsSent.Add(int64(len(rows)))

	if batchErr != nil {
		b.owner.metrics.totalErrors.Add(1)
		return nil, batchErr
	}
	return msgs, nil
}

func (b *mockBulkSession) Done(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fmt.Errorf("bulk session is closed")
	}
	b.done = true

	b.owner.mu.RLock()
	defer b.owner.mu.RUnlock()
	if b.owner.bulkDoneErr != nil {
		return 0, b.owner.bulkDoneErr
	}
	if b.owner.bulkRowCount > 0 {
		return b.owner.bulkRowCount, nil
	}
	return b.rows, nil
}

func (b *mockBulkSession) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// BatchCapableTransport is a MockTransport that additionally implements
// transport.BatchInvoker, for exercising the pipelined ExecuteMany path.
type BatchCapableTransport struct {
	*MockTransport

	batchInvocations atomic.Int32

	mu       sync.RWMutex
	batchLog [][][]protocol.Parameter
}

// NewBatchCapableTransport creates a mock transport with the batch
// invocation capability.
func NewBatchCapableTransport() *BatchCapableTransport {
	return &BatchCapableTransport{MockTransport: NewMockTransport()}
}

// InvokeRPCBatch implements transport.BatchInvoker. It consumes one
// scripted reply for the whole batch.
func (t *BatchCapableTransport) InvokeRPCBatch(ctx context.Context, proc string, paramSets [][]protocol.Parameter) (transport.RowStream, error) {
	t.batchInvocations.Add(1)

	t.mu.Lock()
	t.batchLog = append(t.batchLog, paramSets)
	t.mu.Unlock()

	m := t.MockTransport
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("transport is closed")
	}
	m.metrics.totalRequests.Add(1)
	var result Result
	if len(m.results) > 0 {
		result = m.results[0]
		m.results = m.results[1:]
	}
	invokeErr := m.invokeErr
	m.mu.Unlock()

	if invokeErr != nil {
		m.metrics.totalErrors.Add(1)
		return nil, invokeErr
	}
	if result.Err != nil {
		m.metrics.totalErrors.Add(1)
		return nil, result.Err
	}
	return &mockRowStream{owner: m, result: result}, nil
}

// GetBatchInvocationCount returns the number of InvokeRPCBatch calls.
func (t *BatchCapableTransport) GetBatchInvocationCount() int {
	return int(t.batchInvocations.Load())
}

// GetBatchLog returns the parameter sets of each batched invocation.
func (t *BatchCapableTransport) GetBatchLog() [][][]protocol.Parameter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	log := make([][][]protocol.Parameter, len(t.batchLog))
	copy(log, t.batchLog)
	return log
}
