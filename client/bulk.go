package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tabstream/go-tabstream/catalog"
	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport"
)

// RowSource supplies the rows of a bulk load. Each row is either
// positional ([]interface{}, matching the target's column order) or
// name-keyed (map[string]interface{}). Absent keys load as SQL NULL.
type RowSource interface {
	// Next returns the next row, or io.EOF when the source is drained.
	Next() (interface{}, error)
}

type sliceRows struct {
	rows [][]interface{}
	i    int
}

func (r *sliceRows) Next() (interface{}, error) {
	if r.i >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.i]
	r.i++
	return row, nil
}

// RowsFromSlices adapts in-memory positional rows to a RowSource.
func RowsFromSlices(rows [][]interface{}) RowSource {
	return &sliceRows{rows: rows}
}

type mapRows struct {
	rows []map[string]interface{}
	i    int
}

func (r *mapRows) Next() (interface{}, error) {
	if r.i >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.i]
	r.i++
	return row, nil
}

// RowsFromMaps adapts in-memory name-keyed rows to a RowSource.
func RowsFromMaps(rows []map[string]interface{}) RowSource {
	return &mapRows{rows: rows}
}

// BulkLoadRequest describes one bulk load.
type BulkLoadRequest struct {
	// Table is the load target, optionally schema- or catalog-qualified.
	Table string

	// Rows supplies the rows to load.
	Rows RowSource

	// BatchSize asks the server to validate the load every BatchSize
	// rows, so a bad row surfaces before the whole load is transmitted.
	// Zero falls back to the session's BulkBatchSize; if that is also
	// zero, the load validates once at the end. Validation errors name
	// the batch, not the row.
	BatchSize int

	// TableLock requests a bulk-update table lock for the load.
	TableLock bool

	// AutoEncode resolves the target's column encodings from the server
	// catalog and re-encodes string values per column: UTF-16 for wide
	// text columns, the collation codepage for single-byte text columns.
	// Explicitly wrapped values are sent as wrapped. Temporary tables
	// are not visible in the catalog and fail before any row is sent.
	AutoEncode bool
}

// BulkLoad streams rows into a table through the bulk sub-protocol and
// returns the server's inserted row count.
func (s *Session) BulkLoad(ctx context.Context, req BulkLoadRequest) (int64, error) {
	op, err := s.beginOp(ctx, "bulkload", req.Table, 0)
	if err != nil {
		return 0, err
	}

	if req.Rows == nil {
		return 0, op.fail(&UsageError{
			Code:       "E_BULK_NO_ROWS",
			Type:       "USAGE_ERROR",
			Message:    "bulk load requires a row source",
			StackTrace: captureStackTrace(),
			Timestamp:  time.Now(),
		})
	}

	var cols []catalog.Column
	if req.AutoEncode {
		cols, err = s.resolveColumns(op.ctx, req.Table)
		if err != nil {
			return 0, op.fail(err)
		}
	}

	bulk, err := s.transport.BulkBegin(op.ctx, req.Table, transport.BulkOptions{
		TableLock: req.TableLock,
	})
	if err != nil {
		return 0, op.fail(s.noteTransportFailure("bulk begin", err))
	}
	defer bulk.Close()

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.opts.BulkBatchSize
	}

	loader := &bulkLoader{
		s:         s,
		bulk:      bulk,
		plan:      newBulkPlan(cols, bulk.Columns()),
		batchSize: batchSize,
	}

	total, err := loader.run(op.ctx, req.Rows)
	if err != nil {
		return 0, op.fail(err)
	}

	op.finish(total)
	return total, nil
}

// bulkPlan is the per-load column layout: names and wire types in
// physical order, plus the re-encoding rule for each position.
type bulkPlan struct {
	names     []string
	types     []protocol.WireType
	rules     []catalog.EncodeRule
	codepages []int
	width     int
	nameIdx   map[string]int
}

// newBulkPlan joins the transport's reported layout with the catalog's
// encoding metadata. Server metadata fixes structure when present;
// catalog rules attach to it by column name. With no server metadata the
// catalog's ordinal order stands in; with neither, the first row fixes
// the width and values encode as supplied.
func newBulkPlan(cols []catalog.Column, server []protocol.Column) *bulkPlan {
	p := &bulkPlan{}

	byName := make(map[string]catalog.Column, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}

	switch {
	case len(server) > 0:
		p.width = len(server)
		p.names = make([]string, p.width)
		p.types = make([]protocol.WireType, p.width)
		p.rules = make([]catalog.EncodeRule, p.width)
		p.codepages = make([]int, p.width)
		for i, sc := range server {
			p.names[i] = sc.Name
			p.types[i] = sc.Type
			p.codepages[i] = sc.Codepage
			if c, ok := byName[sc.Name]; ok {
				p.rules[i] = c.Rule()
				if c.Codepage != 0 {
					p.codepages[i] = c.Codepage
				}
			}
		}
	case len(cols) > 0:
		p.width = len(cols)
		p.names = make([]string, p.width)
		p.types = make([]protocol.WireType, p.width)
		p.rules = make([]catalog.EncodeRule, p.width)
		p.codepages = make([]int, p.width)
		for i, c := range cols {
			p.names[i] = c.Name
			p.types[i] = c.Type
			p.rules[i] = c.Rule()
			p.codepages[i] = c.Codepage
		}
	}

	if p.width > 0 {
		p.nameIdx = make(map[string]int, p.width)
		for i, name := range p.names {
			if name != "" {
				p.nameIdx[name] = i
			}
		}
	}
	return p
}

func (p *bulkPlan) typeAt(i int) protocol.WireType {
	if i < len(p.types) && p.types[i] != 0 {
		return p.types[i]
	}
	return protocol.TypeNVarChar
}

func (p *bulkPlan) ruleAt(i int) catalog.EncodeRule {
	if i < len(p.rules) {
		return p.rules[i]
	}
	return catalog.EncodeNone
}

func (p *bulkPlan) codepageAt(i int) int {
	if i < len(p.codepages) {
		return p.codepages[i]
	}
	return 0
}

// bulkLoader drives one load: encode rows, batch them, flush at the
// batch boundary, and commit.
type bulkLoader struct {
	s         *Session
	bulk      transport.BulkSession
	plan      *bulkPlan
	batchSize int
	batch     [][]protocol.Parameter
	batchIdx  int
	row       int
}

func (l *bulkLoader) run(ctx context.Context, src RowSource) (int64, error) {
	for {
		raw, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}

		params, err := l.encodeRow(raw)
		if err != nil {
			return 0, err
		}
		l.batch = append(l.batch, params)
		l.row++

		if l.batchSize > 0 && len(l.batch) >= l.batchSize {
			if err := l.flush(ctx); err != nil {
				return 0, err
			}
		}
	}

	if err := l.flush(ctx); err != nil {
		return 0, err
	}

	n, err := l.bulk.Done(ctx)
	if err != nil {
		return 0, l.s.noteTransportFailure("bulk done", err)
	}
	return n, nil
}

// flush transmits the pending batch and applies the severity rule to the
// batch's validation messages. A raised error names the batch index.
func (l *bulkLoader) flush(ctx context.Context) error {
	if len(l.batch) == 0 {
		return nil
	}

	msgs, err := l.bulk.SendBatch(ctx, l.batch)
	if aerr := l.s.absorb(msgs); aerr != nil {
		return tagDetail(aerr, "batch", l.batchIdx)
	}
	if err != nil {
		return l.s.noteTransportFailure("bulk send", err)
	}

	l.batchIdx++
	l.batch = l.batch[:0]
	return nil
}

func (l *bulkLoader) encodeRow(raw interface{}) ([]protocol.Parameter, error) {
	switch row := raw.(type) {
	case []interface{}:
		if l.plan.width == 0 {
			// No metadata; the first row fixes the layout.
			l.plan.width = len(row)
		}
		if len(row) != l.plan.width {
			return nil, ErrRowShape(l.row, fmt.Sprintf("has %d values, target has %d columns", len(row), l.plan.width))
		}
		out := make([]protocol.Parameter, len(row))
		for i, v := range row {
			p, err := l.encodeValue(i, v)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil

	case map[string]interface{}:
		if len(l.plan.nameIdx) == 0 {
			return nil, &UsageError{
				Code:       "E_BULK_NO_LAYOUT",
				Type:       "USAGE_ERROR",
				Message:    "name-keyed rows require column metadata; enable AutoEncode or use positional rows",
				StackTrace: captureStackTrace(),
				Timestamp:  time.Now(),
			}
		}
		for name := range row {
			if _, ok := l.plan.nameIdx[name]; !ok {
				return nil, ErrRowShape(l.row, fmt.Sprintf("unknown column %q", name))
			}
		}
		out := make([]protocol.Parameter, l.plan.width)
		for i := 0; i < l.plan.width; i++ {
			p, err := l.encodeValue(i, row[l.plan.names[i]])
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil

	default:
		return nil, ErrRowShape(l.row, fmt.Sprintf("unsupported row form %T", raw))
	}
}

// encodeValue encodes one cell. Nil loads as a NULL of the column's wire
// type, explicit TypedValues are sent as wrapped, and plain strings
// follow the column's encode rule.
func (l *bulkLoader) encodeValue(pos int, v interface{}) (protocol.Parameter, error) {
	if v == nil {
		return l.s.codec.EncodeParameter(protocol.Null(l.plan.typeAt(pos)))
	}
	if tv, ok := v.(protocol.TypedValue); ok {
		return l.s.codec.EncodeParameter(tv)
	}
	if str, ok := v.(string); ok {
		switch l.plan.ruleAt(pos) {
		case catalog.EncodeUTF16:
			return l.s.codec.EncodeParameter(protocol.NVarChar(str))
		case catalog.EncodeCodepage:
			return l.s.codec.EncodeParameter(protocol.VarCharCP(str, l.plan.codepageAt(pos)))
		}
	}
	tv, err := protocol.Wrap(v)
	if err != nil {
		return protocol.Parameter{}, err
	}
	return l.s.codec.EncodeParameter(tv)
}
