package sqldriver

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tabstream/go-tabstream/client"
	"github.com/tabstream/go-tabstream/protocol"
)

// conn wraps one Session as a driver.Conn. database/sql serializes use
// of a conn, which matches the session's single-operation discipline.
type conn struct {
	session *client.Session
}

var (
	_ driver.Conn               = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
	_ driver.SessionResetter    = (*conn)(nil)
	_ driver.Validator          = (*conn)(nil)
	_ driver.NamedValueChecker  = (*conn)(nil)
)

// guard rejects work before any bytes move when the session cannot serve
// it, which is the only point where ErrBadConn is safe to return.
func (c *conn) guard() error {
	if !c.session.Usable() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext validates nothing server-side: execution is a
// parameterized RPC per call, so a statement is just retained text.
func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return &stmt{conn: c, query: query}, nil
}

func (c *conn) Close() error {
	return c.session.Close()
}

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx switches the session out of autocommit. The server opens the
// transaction implicitly on the first data-touching statement.
func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if opts.Isolation != 0 {
		return nil, errors.New("tabstream: isolation levels are not configurable")
	}
	if opts.ReadOnly {
		return nil, errors.New("tabstream: read-only transactions are not supported")
	}
	if err := c.session.SetAutocommit(ctx, false); err != nil {
		return nil, err
	}
	return &tx{conn: c}, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	params, err := hostParams(args)
	if err != nil {
		return nil, err
	}

	rs, err := c.session.Execute(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	if err := drain(rs); err != nil {
		rs.Close()
		return nil, err
	}
	n := rs.RowsAffected()
	if err := rs.Close(); err != nil {
		return nil, err
	}
	return driver.RowsAffected(n), nil
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	params, err := hostParams(args)
	if err != nil {
		return nil, err
	}

	rs, err := c.session.Execute(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	return &rows{rs: rs, columns: rs.Columns()}, nil
}

func (c *conn) Ping(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.session.Ping(ctx); err != nil {
		if !c.session.Usable() {
			return driver.ErrBadConn
		}
		return err
	}
	return nil
}

// ResetSession runs between handouts from the database/sql pool.
func (c *conn) ResetSession(ctx context.Context) error {
	if !c.session.Usable() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *conn) IsValid() bool {
	return c.session.Usable()
}

// CheckNamedValue keeps the wire-faithful parameter types the session
// accepts natively; everything else goes through the default converter.
func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	switch nv.Value.(type) {
	case protocol.TypedValue, uuid.UUID, decimal.Decimal:
		return nil
	}
	return driver.ErrSkip
}

// hostParams orders the driver arguments for the session. Parameters are
// positional; named arguments have no placeholder form to bind to.
func hostParams(args []driver.NamedValue) ([]interface{}, error) {
	params := make([]interface{}, len(args))
	for _, nv := range args {
		if nv.Name != "" {
			return nil, fmt.Errorf("tabstream: named parameter %q is not supported; use positional :N placeholders", nv.Name)
		}
		params[nv.Ordinal-1] = nv.Value
	}
	return params, nil
}

// drain consumes every remaining result set so the affected row count
// settles and trailing diagnostics surface.
func drain(rs *client.ResultSet) error {
	for {
		if _, err := rs.Fetch(); err != nil {
			return err
		}
		more, err := rs.NextResultSet()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// stmt is retained statement text bound to its conn.
type stmt struct {
	conn  *conn
	query string
}

var (
	_ driver.Stmt             = (*stmt)(nil)
	_ driver.StmtExecContext  = (*stmt)(nil)
	_ driver.StmtQueryContext = (*stmt)(nil)
)

func (s *stmt) Close() error { return nil }

// NumInput defers placeholder counting to the session, which rejects
// count mismatches before anything reaches the wire.
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

func namedValues(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

// tx bridges driver.Tx onto the session's implicit transaction model.
// Commit and Rollback settle the open transaction and restore autocommit.
type tx struct {
	conn *conn
}

func (t *tx) Commit() error {
	if err := t.conn.session.Commit(context.Background()); err != nil {
		return err
	}
	return t.conn.session.SetAutocommit(context.Background(), true)
}

func (t *tx) Rollback() error {
	if err := t.conn.session.Rollback(context.Background()); err != nil {
		return err
	}
	return t.conn.session.SetAutocommit(context.Background(), true)
}
