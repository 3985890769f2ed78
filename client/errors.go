package client

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/tabstream/go-tabstream/protocol"
)

// UsageError represents client-side misuse of the API: malformed
// placeholders, parameter mismatches, reuse of an invalidated result
// stream, or driving two operations through one session at once.
type UsageError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
// Returns JSON format for structured log capture.
// Use FormatError() for flexible formatting based on debug mode.
func (e *UsageError) Error() string {
	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{
			"message": e.Cause.Error(),
		}
	}

	b, _ := json.Marshal(errorData)
	return string(b)
}

// FormatError formats the error based on debug mode.
// When debugMode=false: returns simple "CODE: message" format.
// When debugMode=true: returns full JSON with stack trace and timestamp.
func (e *UsageError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error for errors.Is and errors.As compatibility.
func (e *UsageError) Unwrap() error {
	return e.Cause
}

// ClosedSessionError represents an operation attempted on a session that
// has been closed.
type ClosedSessionError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

// Error implements the error interface.
func (e *ClosedSessionError) Error() string {
	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	b, _ := json.Marshal(errorData)
	return string(b)
}

// FormatError formats the error based on debug mode.
func (e *ClosedSessionError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
		"details": e.Details,
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// UnsupportedTargetError represents a catalog lookup or auto-encode
// request against a target the catalog cannot resolve, such as a
// temporary table.
type UnsupportedTargetError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Target     string                 `json:"target,omitempty"`
	Details    map[string]interface{} `json:"details"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

// Error implements the error interface.
func (e *UnsupportedTargetError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *UnsupportedTargetError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (target: %s, caused by: %s)", e.Code, e.Message, e.Target, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s (target: %s)", e.Code, e.Message, e.Target)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if e.Target != "" {
		errorData["target"] = e.Target
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *UnsupportedTargetError) Unwrap() error {
	return e.Cause
}

// ServerErrorClass divides recoverable server errors by what went wrong:
// statement-level faults the caller can correct versus server resource
// exhaustion worth backing off from.
type ServerErrorClass string

const (
	// ClassRecoverable covers severities 11 through 16: constraint
	// violations, conversion failures, and other statement-level faults.
	ClassRecoverable ServerErrorClass = "recoverable"

	// ClassResource covers severities 17 through 19: the server ran out
	// of locks, memory, or another internal resource.
	ClassResource ServerErrorClass = "resource"
)

// ServerError represents a server diagnostic of severity 11 through 19.
// The operation that triggered it is aborted but the session remains
// usable. The originating Message is carried in full so callers can
// inspect number, severity, state and source.
type ServerError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Class      ServerErrorClass       `json:"class"`
	Msg        protocol.Message       `json:"server_message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *ServerError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s (msg %d, severity %d, state %d)",
			e.Code, e.Message, e.Msg.Number, e.Msg.Severity, e.Msg.State)
	}

	errorData := map[string]interface{}{
		"code":           e.Code,
		"type":           e.Type,
		"message":        e.Message,
		"class":          e.Class,
		"server_message": e.Msg,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// FatalConnectionError represents a server diagnostic of severity 20 or
// above. The connection is broken: the session is marked unusable, must
// be closed, and must not be returned to a pool.
type FatalConnectionError struct {
	Code        string                 `json:"code"`
	Type        string                 `json:"type"`
	Message     string                 `json:"message"`
	Msg         protocol.Message       `json:"server_message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Cause       error                  `json:"cause,omitempty"`
	StackTrace  []string               `json:"stack_trace,omitempty"`
	Timestamp   time.Time              `json:"timestamp,omitempty"`
	GoroutineID int                    `json:"goroutine_id,omitempty"`
}

// Error implements the error interface.
func (e *FatalConnectionError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *FatalConnectionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s (msg %d, severity %d)",
			e.Code, e.Message, e.Msg.Number, e.Msg.Severity)
	}

	errorData := map[string]interface{}{
		"code":           e.Code,
		"type":           e.Type,
		"message":        e.Message,
		"server_message": e.Msg,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	if e.GoroutineID > 0 {
		errorData["goroutine_id"] = e.GoroutineID
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *FatalConnectionError) Unwrap() error {
	return e.Cause
}

// ErrParameterCountMismatch creates an error for statements whose
// placeholder count does not match the supplied parameters.
func ErrParameterCountMismatch(expected, actual int) *UsageError {
	return &UsageError{
		Code:    "E_PARAM_COUNT_MISMATCH",
		Type:    "USAGE_ERROR",
		Message: fmt.Sprintf("parameter count mismatch: statement references %d, got %d", expected, actual),
		Details: map[string]interface{}{
			"expected": expected,
			"actual":   actual,
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrPlaceholderGap creates an error for non-contiguous positional
// placeholders, such as a statement using :0 and :2 but never :1.
func ErrPlaceholderGap(missing int) *UsageError {
	return &UsageError{
		Code:    "E_PLACEHOLDER_GAP",
		Type:    "USAGE_ERROR",
		Message: fmt.Sprintf("positional placeholders must be contiguous from zero: :%d is missing", missing),
		Details: map[string]interface{}{
			"missing": missing,
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrStaleResultStream creates an error for reads from a result stream
// that a later operation has invalidated.
func ErrStaleResultStream(operation string) *UsageError {
	return &UsageError{
		Code:    "E_STALE_STREAM",
		Type:    "USAGE_ERROR",
		Message: fmt.Sprintf("%s on a result stream invalidated by a newer operation", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// tagDetail annotates a typed error with one extra detail entry, used to
// scope an error to the parameter set or batch that produced it.
func tagDetail(err error, key string, value interface{}) error {
	switch e := err.(type) {
	case *UsageError:
		if e.Details == nil {
			e.Details = make(map[string]interface{})
		}
		e.Details[key] = value
	case *ServerError:
		if e.Details == nil {
			e.Details = make(map[string]interface{})
		}
		e.Details[key] = value
	case *FatalConnectionError:
		if e.Details == nil {
			e.Details = make(map[string]interface{})
		}
		e.Details[key] = value
	case *UnsupportedTargetError:
		if e.Details == nil {
			e.Details = make(map[string]interface{})
		}
		e.Details[key] = value
	}
	return err
}

// ErrStreamClosed creates an error for reads from a result stream the
// caller has already closed.
func ErrStreamClosed(operation string) *UsageError {
	return &UsageError{
		Code:    "E_STREAM_CLOSED",
		Type:    "USAGE_ERROR",
		Message: fmt.Sprintf("%s on a closed result stream", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrSessionBusy creates an error for an operation started while another
// operation still owns the session.
func ErrSessionBusy(operation, owner string) *UsageError {
	return &UsageError{
		Code:    "E_SESSION_BUSY",
		Type:    "USAGE_ERROR",
		Message: fmt.Sprintf("cannot %s: session is serving %s", operation, owner),
		Details: map[string]interface{}{
			"operation": operation,
			"owner":     owner,
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrRowShape creates an error for a bulk row whose width or keys do not
// match the load's column layout.
func ErrRowShape(row int, message string) *UsageError {
	return &UsageError{
		Code:    "E_ROW_SHAPE",
		Type:    "USAGE_ERROR",
		Message: fmt.Sprintf("row %d: %s", row, message),
		Details: map[string]interface{}{
			"row": row,
		},
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// ErrSessionClosed creates an error for operations on a closed session.
func ErrSessionClosed(operation string) *ClosedSessionError {
	return &ClosedSessionError{
		Code:    "E_SESSION_CLOSED",
		Type:    "SESSION_ERROR",
		Message: fmt.Sprintf("cannot %s: session is closed", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		StackTrace: captureStackTrace(),
	}
}

// ErrTemporaryTarget creates an error for auto-encode against a
// temporary table, whose columns are invisible to the catalog views.
func ErrTemporaryTarget(table string) *UnsupportedTargetError {
	return &UnsupportedTargetError{
		Code:    "E_TARGET_TEMPORARY",
		Type:    "TARGET_ERROR",
		Message: "temporary tables are not visible to the catalog; supply explicitly typed values instead",
		Target:  table,
		Details: map[string]interface{}{
			"table": table,
		},
		StackTrace: captureStackTrace(),
	}
}

// ErrTargetUnresolved creates an error when catalog metadata for a table
// cannot be fetched or comes back empty.
func ErrTargetUnresolved(table string, cause error) *UnsupportedTargetError {
	return &UnsupportedTargetError{
		Code:    "E_TARGET_UNRESOLVED",
		Type:    "TARGET_ERROR",
		Message: "could not resolve target columns from the catalog",
		Target:  table,
		Details: map[string]interface{}{
			"table": table,
		},
		Cause:      cause,
		StackTrace: captureStackTrace(),
	}
}

// NewServerError creates a ServerError from a severity 11 through 19
// diagnostic.
func NewServerError(msg protocol.Message) *ServerError {
	class := ClassRecoverable
	code := "E_SERVER_RECOVERABLE"
	if msg.Severity >= 17 {
		class = ClassResource
		code = "E_SERVER_RESOURCE"
	}

	return &ServerError{
		Code:       code,
		Type:       "SERVER_ERROR",
		Message:    msg.Description,
		Class:      class,
		Msg:        msg,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// NewFatalConnectionError creates a FatalConnectionError from a severity
// 20 or higher diagnostic.
func NewFatalConnectionError(msg protocol.Message) *FatalConnectionError {
	return &FatalConnectionError{
		Code:        "E_CONN_FATAL",
		Type:        "CONNECTION_ERROR",
		Message:     msg.Description,
		Msg:         msg,
		StackTrace:  captureStackTrace(),
		Timestamp:   time.Now(),
		GoroutineID: getGoroutineID(),
	}
}

// ErrTransportFailure creates a FatalConnectionError for a transport
// failure with no server diagnostic attached, such as a dropped socket.
func ErrTransportFailure(operation string, cause error) *FatalConnectionError {
	return &FatalConnectionError{
		Code:    "E_TRANSPORT_FAILURE",
		Type:    "CONNECTION_ERROR",
		Message: fmt.Sprintf("transport failed during %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause:       cause,
		StackTrace:  captureStackTrace(),
		Timestamp:   time.Now(),
		GoroutineID: getGoroutineID(),
	}
}

// Helper functions

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs) // Skip captureStackTrace, the error constructor, and runtime.Callers

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()

		// Format: function (file:line)
		frames = append(frames, fmt.Sprintf("%s (%s:%d)",
			frame.Function,
			frame.File,
			frame.Line,
		))

		if !more {
			break
		}
	}

	return frames
}

// getGoroutineID extracts the goroutine ID for debugging.
// Note: This uses runtime stack parsing and is intended for debug purposes only.
func getGoroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack trace format: "goroutine <id> [<status>]:"
	var id int
	fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id)
	return id
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	if formatter, ok := err.(debugFormatter); ok {
		return formatter.FormatError(debugMode)
	}

	return err.Error()
}
