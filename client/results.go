package client

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport"
)

// Row is one decoded result row. Values are in column order, in their
// canonical host shapes.
type Row struct {
	columns []protocol.Column
	values  []interface{}
}

// Len returns the number of columns in the row.
func (r Row) Len() int {
	return len(r.values)
}

// Value returns the decoded value at the given column index, or nil when
// the index is out of range.
func (r Row) Value(i int) interface{} {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// ValueByName returns the decoded value of the named column.
func (r Row) ValueByName(name string) (interface{}, bool) {
	for i, col := range r.columns {
		if col.Name == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Values returns the decoded values in column order.
func (r Row) Values() []interface{} {
	out := make([]interface{}, len(r.values))
	copy(out, r.values)
	return out
}

// Scan coerces the row's values into the supplied destination pointers,
// one per column.
func (r Row) Scan(dest ...interface{}) error {
	if len(dest) != len(r.values) {
		return scanError(fmt.Sprintf("scan destination count %d does not match column count %d", len(dest), len(r.values)))
	}
	for i, d := range dest {
		if err := scanValue(d, r.values[i]); err != nil {
			return err
		}
	}
	return nil
}

// ResultSet is the lazy, single-pass view over one statement's results.
// Rows decode on demand as the set advances. Starting any new operation
// on the owning session invalidates the set; reads after that fail with
// a usage error.
type ResultSet struct {
	session *Session
	rows    transport.RowStream
	codec   *protocol.Codec

	columns    []protocol.Column
	outputCols []protocol.Column
	serial     uint64
	absorbed   int
	cancel     context.CancelFunc
	err        error
	closed     bool
	mu         sync.Mutex
}

func newResultSet(s *Session, rows transport.RowStream, serial uint64) *ResultSet {
	return &ResultSet{
		session: s,
		rows:    rows,
		codec:   s.codec,
		columns: rows.Columns(),
		serial:  serial,
	}
}

// Columns describes the current result set. Empty for statements that
// return only a row count.
func (rs *ResultSet) Columns() []protocol.Column {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.columns
}

// Next returns the next row of the current result set, or io.EOF when
// the set is exhausted. Server diagnostics that arrive with the rows
// surface here under the usual severity rule.
func (rs *ResultSet) Next() (Row, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.err != nil {
		return Row{}, rs.err
	}
	if rs.closed {
		return Row{}, ErrStreamClosed("Next")
	}
	if rs.session.currentSerial() != rs.serial {
		rs.err = ErrStaleResultStream("Next")
		return Row{}, rs.err
	}

	wire, err := rs.rows.Next()
	if err == io.EOF {
		if aerr := rs.absorbLocked(); aerr != nil {
			rs.err = aerr
			return Row{}, aerr
		}
		return Row{}, io.EOF
	}
	if err != nil {
		rs.err = rs.session.noteTransportFailure("fetch", err)
		return Row{}, rs.err
	}

	if len(wire) != len(rs.columns) {
		rs.err = scanError(fmt.Sprintf("row has %d values but result set has %d columns", len(wire), len(rs.columns)))
		return Row{}, rs.err
	}
	values := make([]interface{}, len(wire))
	for i, v := range wire {
		decoded, derr := rs.codec.DecodeValue(rs.columns[i], v)
		if derr != nil {
			rs.err = derr
			return Row{}, derr
		}
		values[i] = decoded
	}
	return Row{columns: rs.columns, values: values}, nil
}

// Fetch drains and returns the remaining rows of the current result set.
func (rs *ResultSet) Fetch() ([]Row, error) {
	var out []Row
	for {
		row, err := rs.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}

// NextResultSet advances to the following result set, refreshing the
// column layout. It reports false when no result sets remain.
func (rs *ResultSet) NextResultSet() (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.err != nil {
		return false, rs.err
	}
	if rs.closed {
		return false, ErrStreamClosed("NextResultSet")
	}
	if rs.session.currentSerial() != rs.serial {
		rs.err = ErrStaleResultStream("NextResultSet")
		return false, rs.err
	}

	ok, err := rs.rows.NextResultSet()
	if err != nil {
		rs.err = rs.session.noteTransportFailure("next result set", err)
		return false, rs.err
	}
	if !ok {
		if aerr := rs.absorbLocked(); aerr != nil {
			rs.err = aerr
			return false, aerr
		}
		return false, nil
	}

	rs.columns = rs.rows.Columns()
	return true, nil
}

// RowsAffected returns the server-reported affected row count. The value
// is settled once the set is drained.
func (rs *ResultSet) RowsAffected() int64 {
	return rs.rows.RowsAffected()
}

// Outputs decodes the post-execution values of the procedure's output
// parameters. Valid once the set is drained.
func (rs *ResultSet) Outputs() ([]interface{}, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	wire := rs.rows.OutputValues()
	if len(wire) == 0 {
		return nil, nil
	}
	if len(wire) != len(rs.outputCols) {
		return nil, scanError(fmt.Sprintf("%d output values for %d output parameters", len(wire), len(rs.outputCols)))
	}

	out := make([]interface{}, len(wire))
	for i, v := range wire {
		decoded, err := rs.codec.DecodeValue(rs.outputCols[i], v)
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}

// Close releases the set, discarding any unread rows and draining
// trailing diagnostics into the session. Safe to call more than once.
func (rs *ResultSet) Close() error {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return nil
	}
	rs.closed = true
	serial := rs.serial
	aerr := rs.absorbLocked()
	cancel := rs.cancel
	rs.cancel = nil
	rs.mu.Unlock()

	cerr := rs.rows.Close()
	if cancel != nil {
		cancel()
	}
	rs.session.streamClosed(serial)
	if aerr != nil {
		return aerr
	}
	return cerr
}

// absorb forwards the diagnostics received so far to the session,
// returning the raised error for any message above warning severity.
// Each message is forwarded exactly once.
func (rs *ResultSet) absorb() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.absorbLocked()
}

func (rs *ResultSet) absorbLocked() error {
	msgs := rs.rows.Messages()
	if len(msgs) <= rs.absorbed {
		return nil
	}
	fresh := msgs[rs.absorbed:]
	rs.absorbed = len(msgs)
	return rs.session.absorb(fresh)
}

// invalidate tears down the underlying wire stream when a newer
// operation takes over the session. Subsequent reads report staleness.
func (rs *ResultSet) invalidate() {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return
	}
	rs.closed = true
	rs.err = ErrStaleResultStream("read")
	cancel := rs.cancel
	rs.cancel = nil
	rs.mu.Unlock()

	rs.rows.Close()
	if cancel != nil {
		cancel()
	}
}
