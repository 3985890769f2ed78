// Package protocol defines the wire-level value model for the tabular data
// stream protocol: wire type tags, typed host values, column metadata, server
// messages, and the codec that converts host values to wire parameters and
// wire values back to host values.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WireType identifies the binary representation of a column or parameter on
// the wire. Values match the protocol's type tokens.
type WireType byte

const (
	TypeGuid           WireType = 0x24
	TypeDate           WireType = 0x28
	TypeTime           WireType = 0x29
	TypeDateTime2      WireType = 0x2A
	TypeDateTimeOffset WireType = 0x2B
	TypeTinyInt        WireType = 0x30
	TypeBit            WireType = 0x32
	TypeSmallInt       WireType = 0x34
	TypeInt            WireType = 0x38
	TypeReal           WireType = 0x3B
	TypeDateTime       WireType = 0x3D
	TypeFloat          WireType = 0x3E
	TypeDecimal        WireType = 0x6A
	TypeBigInt         WireType = 0x7F
	TypeVarBinary      WireType = 0xA5
	TypeVarChar        WireType = 0xA7
	TypeBinary         WireType = 0xAD
	TypeChar           WireType = 0xAF
	TypeNVarChar       WireType = 0xE7
	TypeNChar          WireType = 0xEF
)

var wireTypeNames = map[WireType]string{
	TypeGuid:           "uniqueidentifier",
	TypeDate:           "date",
	TypeTime:           "time",
	TypeDateTime2:      "datetime2",
	TypeDateTimeOffset: "datetimeoffset",
	TypeTinyInt:        "tinyint",
	TypeBit:            "bit",
	TypeSmallInt:       "smallint",
	TypeInt:            "int",
	TypeReal:           "real",
	TypeDateTime:       "datetime",
	TypeFloat:          "float",
	TypeDecimal:        "decimal",
	TypeBigInt:         "bigint",
	TypeVarBinary:      "varbinary",
	TypeVarChar:        "varchar",
	TypeBinary:         "binary",
	TypeChar:           "char",
	TypeNVarChar:       "nvarchar",
	TypeNChar:          "nchar",
}

// String returns the SQL name of the wire type.
func (t WireType) String() string {
	if name, ok := wireTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("wiretype(0x%02X)", byte(t))
}

// IsText reports whether the type carries single-byte-encoded text.
func (t WireType) IsText() bool {
	return t == TypeChar || t == TypeVarChar
}

// IsWideText reports whether the type carries UTF-16 encoded text.
func (t WireType) IsWideText() bool {
	return t == TypeNChar || t == TypeNVarChar
}

// IsBinary reports whether the type carries raw bytes.
func (t WireType) IsBinary() bool {
	return t == TypeBinary || t == TypeVarBinary
}

// Version is the negotiated protocol version for a connection.
type Version uint16

const (
	Version70 Version = 0x0700
	Version71 Version = 0x0710
	Version72 Version = 0x0720
	Version73 Version = 0x0730
	Version74 Version = 0x0740
)

// String renders the version in dotted form, e.g. "7.3".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", byte(v>>8), byte(v)>>4)
}

// SupportsOffsetDateTime reports whether the version carries the
// offset-aware datetime wire type. Older versions have no representation
// for a timezone offset.
func (v Version) SupportsOffsetDateTime() bool {
	return v >= Version73
}

// Column describes one column of a result set or bulk-load target.
// Produced by the server; read-only to callers.
type Column struct {
	Name      string   `json:"name"`
	Type      WireType `json:"type"`
	Size      int      `json:"size,omitempty"`
	Precision uint8    `json:"precision,omitempty"`
	Scale     uint8    `json:"scale,omitempty"`
	Nullable  bool     `json:"nullable"`

	// Codepage is the single-byte encoding of a non-Unicode text column,
	// derived from its collation. Zero means UTF-8.
	Codepage int `json:"codepage,omitempty"`
}

// Parameter is one encoded RPC or bulk-load parameter, ready for the
// transport. Data is the value's wire representation; a nil Data with Null
// set transmits SQL NULL.
type Parameter struct {
	Name      string
	Type      WireType
	Size      int
	Precision uint8
	Scale     uint8
	Data      []byte
	Null      bool
	Output    bool
}

// Declaration renders the parameter's SQL type declaration, as used in the
// parameter list of a parameterized-execution call.
func (p Parameter) Declaration() string {
	switch p.Type {
	case TypeVarChar, TypeChar, TypeVarBinary, TypeBinary:
		size := p.Size
		if size < 1 {
			size = 1
		}
		if size > 8000 {
			return p.Type.String() + "(max)"
		}
		return fmt.Sprintf("%s(%d)", p.Type, size)
	case TypeNVarChar, TypeNChar:
		size := p.Size
		if size < 1 {
			size = 1
		}
		if size > 4000 {
			return p.Type.String() + "(max)"
		}
		return fmt.Sprintf("%s(%d)", p.Type, size)
	case TypeDecimal:
		return fmt.Sprintf("%s(%d,%d)", p.Type, p.Precision, p.Scale)
	case TypeTime, TypeDateTime2, TypeDateTimeOffset:
		return fmt.Sprintf("%s(%d)", p.Type, p.Scale)
	default:
		return p.Type.String()
	}
}

// Value is one raw cell as delivered by the transport.
type Value struct {
	Data []byte
	Null bool
}

// Message is one diagnostic record received from the server. Field names
// follow the protocol's error token layout.
type Message struct {
	Number      int64  `json:"number"`
	Severity    int    `json:"severity"`
	State       int    `json:"state"`
	Description string `json:"description"`
	Server      string `json:"server"`
	Proc        string `json:"proc,omitempty"`
	Line        int    `json:"line"`
}

// String renders the message the way the server tools print it.
func (m Message) String() string {
	src := m.Server
	if m.Proc != "" {
		src += ", proc " + m.Proc
	}
	return fmt.Sprintf("msg %d, severity %d, state %d (%s, line %d): %s",
		m.Number, m.Severity, m.State, src, m.Line, m.Description)
}

// TypedValue wraps a host value together with an explicit wire type tag and
// the directives needed to encode it. Callers normally rely on type
// inference; the wrapper constructors exist for the cases inference cannot
// express, such as typed NULLs, fixed-length text, or a non-default text
// encoding.
type TypedValue struct {
	Type  WireType
	Value interface{}

	// Size overrides the declared size for text and binary types.
	// Zero derives the size from the value.
	Size int

	// Precision and Scale apply to decimal values. Zero values derive
	// both from the host value.
	Precision uint8
	Scale     uint8

	// Codepage selects the single-byte encoding for char/varchar values.
	// Zero means UTF-8.
	Codepage int

	// Output marks a procedure parameter whose post-execution value is
	// returned by the server.
	Output bool
}

// DateTimeOffset marks a timestamp as offset-aware. A plain time.Time is
// encoded as a wall-clock datetime with its offset discarded; a
// DateTimeOffset keeps the UTC instant and the offset on the wire.
type DateTimeOffset time.Time

// Time returns the wrapped timestamp.
func (d DateTimeOffset) Time() time.Time { return time.Time(d) }

// Null builds a typed NULL. A bare nil cannot be inferred because null
// alone carries no wire type.
func Null(t WireType) TypedValue {
	return TypedValue{Type: t}
}

// Bit wraps a bool.
func Bit(v bool) TypedValue { return TypedValue{Type: TypeBit, Value: v} }

// TinyInt wraps an unsigned 8-bit integer.
func TinyInt(v uint8) TypedValue { return TypedValue{Type: TypeTinyInt, Value: int64(v)} }

// SmallInt wraps a 16-bit integer.
func SmallInt(v int16) TypedValue { return TypedValue{Type: TypeSmallInt, Value: int64(v)} }

// Int wraps a 32-bit integer.
func Int(v int32) TypedValue { return TypedValue{Type: TypeInt, Value: int64(v)} }

// BigInt wraps a 64-bit integer.
func BigInt(v int64) TypedValue { return TypedValue{Type: TypeBigInt, Value: v} }

// Real wraps a 32-bit float.
func Real(v float32) TypedValue { return TypedValue{Type: TypeReal, Value: v} }

// Float wraps a 64-bit float.
func Float(v float64) TypedValue { return TypedValue{Type: TypeFloat, Value: v} }

// Char wraps fixed-length single-byte text.
func Char(v string, size int) TypedValue {
	return TypedValue{Type: TypeChar, Value: v, Size: size}
}

// VarChar wraps variable-length text, UTF-8 encoded.
func VarChar(v string) TypedValue { return TypedValue{Type: TypeVarChar, Value: v} }

// VarCharCP wraps variable-length text with an explicit codepage.
func VarCharCP(v string, codepage int) TypedValue {
	return TypedValue{Type: TypeVarChar, Value: v, Codepage: codepage}
}

// NChar wraps fixed-length UTF-16 text.
func NChar(v string, size int) TypedValue {
	return TypedValue{Type: TypeNChar, Value: v, Size: size}
}

// NVarChar wraps variable-length UTF-16 text.
func NVarChar(v string) TypedValue { return TypedValue{Type: TypeNVarChar, Value: v} }

// Binary wraps fixed-length raw bytes.
func Binary(v []byte, size int) TypedValue {
	return TypedValue{Type: TypeBinary, Value: v, Size: size}
}

// VarBinary wraps variable-length raw bytes.
func VarBinary(v []byte) TypedValue { return TypedValue{Type: TypeVarBinary, Value: v} }

// Decimal wraps an exact decimal with explicit precision and scale.
func Decimal(v decimal.Decimal, precision, scale uint8) TypedValue {
	return TypedValue{Type: TypeDecimal, Value: v, Precision: precision, Scale: scale}
}

// Date wraps the date portion of a timestamp.
func Date(v time.Time) TypedValue { return TypedValue{Type: TypeDate, Value: v} }

// Time wraps the time-of-day portion of a timestamp, scale 7.
func Time(v time.Time) TypedValue { return TypedValue{Type: TypeTime, Value: v, Scale: 7} }

// DateTime2 wraps a wall-clock timestamp, scale 7.
func DateTime2(v time.Time) TypedValue {
	return TypedValue{Type: TypeDateTime2, Value: v, Scale: 7}
}

// DateTime wraps a timestamp in the legacy 1/300-second datetime type.
func DateTime(v time.Time) TypedValue { return TypedValue{Type: TypeDateTime, Value: v} }

// OffsetDateTime wraps an offset-aware timestamp, scale 7.
func OffsetDateTime(v time.Time) TypedValue {
	return TypedValue{Type: TypeDateTimeOffset, Value: DateTimeOffset(v), Scale: 7}
}

// Guid wraps a UUID.
func Guid(v uuid.UUID) TypedValue { return TypedValue{Type: TypeGuid, Value: v} }

// Output marks a typed value as a procedure output parameter.
func Output(tv TypedValue) TypedValue {
	tv.Output = true
	return tv
}
