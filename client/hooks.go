package client

import (
	"context"
	"time"
)

// HookContext carries information about the operation being executed.
// It is passed to hooks for inspection.
type HookContext struct {
	// Operation names the session operation: execute, executemany,
	// callproc, bulkload, columns, commit, rollback, autocommit, ping.
	Operation string

	// Statement is the statement text, procedure name, or bulk target.
	Statement string

	// ParamCount is the number of parameters or parameter sets.
	ParamCount int

	// StartTime is when the operation began.
	StartTime time.Time

	// Metadata allows hooks to pass data between Before and After.
	Metadata map[string]interface{}

	// TraceID is the unique identifier for this operation.
	TraceID string

	// RowsAffected is the settled row count (available in After hooks
	// for operations that settle before returning).
	RowsAffected int64

	// Error stores any error that occurred (available in After hooks).
	Error error

	// Duration is the operation time (available in After hooks).
	Duration time.Duration
}

// Hook is the interface that all hooks must implement. Hooks observe
// operations and may abort them before any bytes reach the wire.
type Hook interface {
	// Name returns the unique name of this hook.
	Name() string

	// Before is called before the operation executes. Returning an
	// error aborts the operation and returns the error to the caller.
	Before(ctx context.Context, hookCtx *HookContext) error

	// After is called after the operation completes (even if it
	// failed). Hooks can inspect Error, Duration and RowsAffected.
	After(ctx context.Context, hookCtx *HookContext) error
}

// hookEntry wraps a Hook with its registration order for stable iteration.
type hookEntry struct {
	hook  Hook
	order int
}

// RegisterHook adds a hook to the session's hook chain.
// Hooks execute in FIFO order (first registered, first executed).
// If a hook with the same name already exists, it is replaced.
func (s *Session) RegisterHook(hook Hook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()

	for i, entry := range s.hooks {
		if entry.hook.Name() == hook.Name() {
			// Replace existing hook, preserve order
			s.hooks[i].hook = hook
			s.logger.Info("hook replaced", String("hook", hook.Name()))
			return
		}
	}

	order := len(s.hooks)
	s.hooks = append(s.hooks, hookEntry{hook: hook, order: order})
	s.logger.Info("hook registered", String("hook", hook.Name()), Int("order", order))
}

// UnregisterHook removes a hook by name.
// Returns true if the hook was found and removed, false otherwise.
func (s *Session) UnregisterHook(name string) bool {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()

	for i, entry := range s.hooks {
		if entry.hook.Name() == name {
			s.hooks = append(s.hooks[:i], s.hooks[i+1:]...)
			s.logger.Info("hook unregistered", String("hook", name))
			return true
		}
	}

	return false
}

// GetHooks returns the names of all registered hooks in execution order.
func (s *Session) GetHooks() []string {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()

	names := make([]string, len(s.hooks))
	for i, entry := range s.hooks {
		names[i] = entry.hook.Name()
	}
	return names
}

// executeBeforeHooks runs all Before hooks in order.
// If any hook returns an error, execution stops and the error is returned.
func (s *Session) executeBeforeHooks(ctx context.Context, hookCtx *HookContext) error {
	s.hooksMu.RLock()
	hooks := make([]Hook, len(s.hooks))
	for i, entry := range s.hooks {
		hooks[i] = entry.hook
	}
	s.hooksMu.RUnlock()

	for _, hook := range hooks {
		if err := hook.Before(ctx, hookCtx); err != nil {
			s.logger.Debug("hook aborted operation",
				String("hook", hook.Name()),
				String("operation", hookCtx.Operation),
				Error("error", err))
			return err
		}
	}

	return nil
}

// executeAfterHooks runs all After hooks in order.
// All hooks execute even if one panics; a panicking hook is isolated and
// logged rather than unwinding the operation.
func (s *Session) executeAfterHooks(ctx context.Context, hookCtx *HookContext) {
	s.hooksMu.RLock()
	hooks := make([]Hook, len(s.hooks))
	for i, entry := range s.hooks {
		hooks[i] = entry.hook
	}
	s.hooksMu.RUnlock()

	for _, hook := range hooks {
		s.runAfterHook(ctx, hook, hookCtx)
	}
}

func (s *Session) runAfterHook(ctx context.Context, hook Hook, hookCtx *HookContext) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("hook panicked in After",
				String("hook", hook.Name()),
				String("operation", hookCtx.Operation),
				String("panic", toString(r)))
		}
	}()

	if err := hook.After(ctx, hookCtx); err != nil {
		s.logger.Debug("hook returned error in After",
			String("hook", hook.Name()),
			String("operation", hookCtx.Operation),
			Error("error", err))
	}
}
