// Package-level error types for value conversion failures.
package protocol

import (
	"encoding/json"
	"fmt"
)

// CodecErrorCode classifies value conversion failures.
type CodecErrorCode int

const (
	// Inference errors (1000-1099)
	CodecErrorInference   CodecErrorCode = 1001
	CodecErrorUntypedNull CodecErrorCode = 1002

	// Encode errors (2000-2099)
	CodecErrorEncode          CodecErrorCode = 2001
	CodecErrorUnknownCodepage CodecErrorCode = 2002
	CodecErrorUnmappableText  CodecErrorCode = 2003
	CodecErrorOutOfRange      CodecErrorCode = 2004

	// Decode errors (3000-3099)
	CodecErrorDecode        CodecErrorCode = 3001
	CodecErrorTruncatedData CodecErrorCode = 3002
	CodecErrorUnsupported   CodecErrorCode = 3003
)

// TypeInferenceError reports a host value whose shape has no representable
// wire type. Untyped nil is the common case: null alone carries no wire
// type, so callers must wrap it with Null.
type TypeInferenceError struct {
	Code    CodecErrorCode         `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *TypeInferenceError) Error() string {
	if len(e.Details) > 0 {
		detailsJSON, _ := json.Marshal(e.Details)
		return fmt.Sprintf("[%d] %s (details: %s)", e.Code, e.Message, string(detailsJSON))
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// NewTypeInferenceError creates a TypeInferenceError for the given host value.
func NewTypeInferenceError(value interface{}, message string) *TypeInferenceError {
	code := CodecErrorInference
	if value == nil {
		code = CodecErrorUntypedNull
	}
	return &TypeInferenceError{
		Code:    code,
		Message: message,
		Details: map[string]interface{}{
			"hostType": fmt.Sprintf("%T", value),
		},
	}
}

// CodecError reports a value that could not be converted between its host
// and wire representations.
type CodecError struct {
	Code    CodecErrorCode         `json:"code"`
	Op      string                 `json:"op"`
	Type    WireType               `json:"type,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	name := ""
	if e.Type != 0 {
		name = " " + e.Type.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s%s: %s: %v", e.Code, e.Op, name, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s%s: %s", e.Code, e.Op, name, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CodecError) Unwrap() error { return e.Cause }

func newCodecError(code CodecErrorCode, op string, t WireType, format string, args ...interface{}) *CodecError {
	return &CodecError{Code: code, Op: op, Type: t, Message: fmt.Sprintf(format, args...)}
}

func wrapCodecError(code CodecErrorCode, op string, t WireType, cause error, format string, args ...interface{}) *CodecError {
	return &CodecError{Code: code, Op: op, Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}
