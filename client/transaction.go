package client

import (
	"context"
)

// Transaction control follows the server's implicit transaction model.
// There is no explicit begin: with autocommit off the server opens a
// transaction on the first data-touching statement, and it stays open
// until Commit or Rollback. The commit and rollback statements are
// guarded by the server's transaction count, so calling them with no
// open transaction is harmless.
const (
	stmtImplicitOn  = "SET IMPLICIT_TRANSACTIONS ON"
	stmtImplicitOff = "SET IMPLICIT_TRANSACTIONS OFF"
	stmtCommit      = "IF @@TRANCOUNT > 0 COMMIT TRANSACTION"
	stmtRollback    = "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION"
)

// SetAutocommit switches the session's autocommit mode. Turning
// autocommit off opens an implicit transaction on the next statement;
// work then accumulates until Commit or Rollback. Switching modes with
// a transaction open commits nothing and rolls back nothing: pending
// work stays pending. A no-op when the mode is unchanged.
func (s *Session) SetAutocommit(ctx context.Context, autocommit bool) error {
	if s.autocommit.Load() == autocommit {
		return nil
	}

	op, err := s.beginOp(ctx, "autocommit", "", 0)
	if err != nil {
		return err
	}

	if err := s.applyAutocommit(op.ctx, autocommit); err != nil {
		return op.fail(err)
	}

	op.finish(0)
	return nil
}

// applyAutocommit issues the mode switch. Callers own the session.
func (s *Session) applyAutocommit(ctx context.Context, autocommit bool) error {
	stmt := stmtImplicitOn
	if autocommit {
		stmt = stmtImplicitOff
	}
	if err := s.rawExec(ctx, stmt); err != nil {
		return err
	}
	s.autocommit.Store(autocommit)
	if s.IsDebugMode() {
		s.logger.Debug("autocommit changed", Bool("autocommit", autocommit))
	}
	return nil
}

// Commit makes the open transaction's work permanent. With autocommit
// on, or with no open transaction, it is a harmless no-op on the server.
func (s *Session) Commit(ctx context.Context) error {
	op, err := s.beginOp(ctx, "commit", "", 0)
	if err != nil {
		return err
	}

	if err := s.rawExec(op.ctx, stmtCommit); err != nil {
		return op.fail(err)
	}

	op.finish(0)
	return nil
}

// Rollback discards the open transaction's work.
func (s *Session) Rollback(ctx context.Context) error {
	op, err := s.beginOp(ctx, "rollback", "", 0)
	if err != nil {
		return err
	}

	if err := s.rawExec(op.ctx, stmtRollback); err != nil {
		return op.fail(err)
	}

	op.finish(0)
	return nil
}
