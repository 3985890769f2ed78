package client

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport"
)

// procExecuteSQL is the server procedure behind parameterized execution.
const procExecuteSQL = "sp_executesql"

// Execute runs one statement with :N placeholders bound to the supplied
// parameter values and returns its results. The statement is rewritten to
// the server's @pN parameter form and invoked through the parameterized
// execution procedure; the rewritten form is cached per session.
//
// The returned ResultSet stays valid until the next operation on the
// session begins.
func (s *Session) Execute(ctx context.Context, stmt string, params ...interface{}) (*ResultSet, error) {
	op, err := s.beginOp(ctx, "execute", stmt, len(params))
	if err != nil {
		return nil, err
	}

	args, err := s.assembleExec(stmt, params)
	if err != nil {
		return nil, op.fail(err)
	}

	rows, err := s.transport.InvokeRPC(op.ctx, procExecuteSQL, args)
	if err != nil {
		return nil, op.fail(s.noteTransportFailure("execute", err))
	}

	rs := newResultSet(s, rows, op.serial)
	if aerr := rs.absorb(); aerr != nil {
		rows.Close()
		return nil, op.fail(aerr)
	}

	op.finishStream(rs)
	return rs, nil
}

// ExecuteMany runs one statement once per parameter set. An empty set
// sequence is a no-op: no round-trips, zero row count. Transports that
// implement BatchInvoker receive all sets in a single round-trip;
// otherwise the sets run in a per-set loop. Row counts are summed across
// sets, and warnings from every set accumulate on the session.
//
// A failing set aborts the run; sets after it do not execute. The error
// carries the zero-based set index under the "paramset" detail key.
func (s *Session) ExecuteMany(ctx context.Context, stmt string, paramSets [][]interface{}) (int64, error) {
	op, err := s.beginOp(ctx, "executemany", stmt, len(paramSets))
	if err != nil {
		return 0, err
	}

	if len(paramSets) == 0 {
		op.finish(0)
		return 0, nil
	}

	rw, err := s.prepareStatement(stmt, len(paramSets[0]))
	if err != nil {
		return 0, op.fail(tagParamSet(err, 0))
	}

	if bi, ok := s.transport.(transport.BatchInvoker); ok {
		total, err := s.executeManyBatched(op.ctx, bi, rw, paramSets)
		if err != nil {
			return 0, op.fail(err)
		}
		op.finish(total)
		return total, nil
	}

	var total int64
	for i, set := range paramSets {
		if len(set) != rw.refs {
			return 0, op.fail(tagParamSet(ErrParameterCountMismatch(rw.refs, len(set)), i))
		}
		args, err := s.execArgs(rw.text, set)
		if err != nil {
			return 0, op.fail(tagParamSet(err, i))
		}
		rows, err := s.transport.InvokeRPC(op.ctx, procExecuteSQL, args)
		if err != nil {
			return 0, op.fail(s.noteTransportFailure("executemany", err))
		}
		n, err := s.drainCount(rows)
		if err != nil {
			return 0, op.fail(tagParamSet(err, i))
		}
		total += n
	}

	op.finish(total)
	return total, nil
}

func (s *Session) executeManyBatched(ctx context.Context, bi transport.BatchInvoker, rw rewrittenStatement, paramSets [][]interface{}) (int64, error) {
	argSets := make([][]protocol.Parameter, 0, len(paramSets))
	for i, set := range paramSets {
		if len(set) != rw.refs {
			return 0, tagParamSet(ErrParameterCountMismatch(rw.refs, len(set)), i)
		}
		args, err := s.execArgs(rw.text, set)
		if err != nil {
			return 0, tagParamSet(err, i)
		}
		argSets = append(argSets, args)
	}

	rows, err := bi.InvokeRPCBatch(ctx, procExecuteSQL, argSets)
	if err != nil {
		return 0, s.noteTransportFailure("executemany", err)
	}
	return s.drainCount(rows)
}

// CallProc invokes a stored procedure directly, parameters bound by
// position. Wrap a parameter with protocol.Output to read its
// post-execution value from ResultSet.Outputs once the results are
// drained.
func (s *Session) CallProc(ctx context.Context, proc string, params ...interface{}) (*ResultSet, error) {
	op, err := s.beginOp(ctx, "callproc", proc, len(params))
	if err != nil {
		return nil, err
	}

	encoded := make([]protocol.Parameter, 0, len(params))
	var outputCols []protocol.Column
	for _, v := range params {
		tv, werr := protocol.Wrap(v)
		if werr != nil {
			return nil, op.fail(werr)
		}
		p, perr := s.codec.EncodeParameter(tv)
		if perr != nil {
			return nil, op.fail(perr)
		}
		encoded = append(encoded, p)
		if p.Output {
			outputCols = append(outputCols, protocol.Column{
				Type:      p.Type,
				Size:      p.Size,
				Precision: p.Precision,
				Scale:     p.Scale,
				Nullable:  true,
				Codepage:  tv.Codepage,
			})
		}
	}

	rows, err := s.transport.InvokeRPC(op.ctx, proc, encoded)
	if err != nil {
		return nil, op.fail(s.noteTransportFailure("callproc", err))
	}

	rs := newResultSet(s, rows, op.serial)
	rs.outputCols = outputCols
	if aerr := rs.absorb(); aerr != nil {
		rows.Close()
		return nil, op.fail(aerr)
	}

	op.finishStream(rs)
	return rs, nil
}

// prepareStatement resolves the rewritten form of a statement through the
// session's cache and checks its placeholder count against the supplied
// parameter count.
func (s *Session) prepareStatement(stmt string, paramCount int) (rewrittenStatement, error) {
	key := statementKey(stmt)
	rw, ok := s.stmtCache.Get(key)
	if !ok {
		var err error
		rw, err = rewriteStatement(stmt)
		if err != nil {
			return rewrittenStatement{}, err
		}
		s.stmtCache.Put(key, rw)
	}
	if rw.refs != paramCount {
		return rewrittenStatement{}, ErrParameterCountMismatch(rw.refs, paramCount)
	}
	return rw, nil
}

// assembleExec prepares a statement and encodes one parameter set into
// the full argument list for the parameterized execution procedure.
func (s *Session) assembleExec(stmt string, values []interface{}) ([]protocol.Parameter, error) {
	rw, err := s.prepareStatement(stmt, len(values))
	if err != nil {
		return nil, err
	}
	return s.execArgs(rw.text, values)
}

// execArgs encodes one parameter set and assembles the argument list:
// the rewritten statement, the @pN declaration list, then the parameters
// themselves. Statements without parameters send only the text.
func (s *Session) execArgs(text string, values []interface{}) ([]protocol.Parameter, error) {
	stmtParam, err := s.codec.EncodeParameter(protocol.NVarChar(text))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []protocol.Parameter{stmtParam}, nil
	}

	params, err := s.codec.EncodeValues(values...)
	if err != nil {
		return nil, err
	}

	var decls strings.Builder
	for i := range params {
		params[i].Name = "@p" + strconv.Itoa(i)
		if i > 0 {
			decls.WriteByte(',')
		}
		decls.WriteString(params[i].Name)
		decls.WriteByte(' ')
		decls.WriteString(params[i].Declaration())
		if params[i].Output {
			decls.WriteString(" output")
		}
	}
	declParam, err := s.codec.EncodeParameter(protocol.NVarChar(decls.String()))
	if err != nil {
		return nil, err
	}

	args := make([]protocol.Parameter, 0, len(params)+2)
	args = append(args, stmtParam, declParam)
	return append(args, params...), nil
}

// drainCount discards a reply's rows across all result sets, absorbs its
// diagnostics, and returns the affected row count.
func (s *Session) drainCount(rows transport.RowStream) (int64, error) {
	defer rows.Close()
	for {
		for {
			_, err := rows.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, s.noteTransportFailure("drain", err)
			}
		}
		ok, err := rows.NextResultSet()
		if err != nil {
			return 0, s.noteTransportFailure("drain", err)
		}
		if !ok {
			break
		}
	}
	if err := s.absorb(rows.Messages()); err != nil {
		return 0, err
	}
	return rows.RowsAffected(), nil
}

// tagParamSet annotates an error from ExecuteMany with the zero-based
// index of the parameter set that produced it.
func tagParamSet(err error, i int) error {
	return tagDetail(err, "paramset", i)
}
