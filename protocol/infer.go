package protocol

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Infer resolves the wire type implied by a host value's shape. Numeric
// values map to the narrowest integer type that holds them without loss,
// strings to variable-length UTF-8 text, byte slices to variable-length
// binary, and timestamps to the wall-clock datetime type unless wrapped as
// DateTimeOffset. Values with no representable wire type fail with
// TypeInferenceError.
func Infer(value interface{}) (WireType, error) {
	tv, err := Wrap(value)
	if err != nil {
		return 0, err
	}
	return tv.Type, nil
}

// Wrap converts a host value to a TypedValue, inferring the wire type.
// A TypedValue passes through unchanged, so explicit wrappers always win
// over inference.
func Wrap(value interface{}) (TypedValue, error) {
	switch v := value.(type) {
	case TypedValue:
		return v, nil
	case nil:
		return TypedValue{}, NewTypeInferenceError(nil,
			"untyped null has no wire type; wrap it with protocol.Null")
	case bool:
		return Bit(v), nil
	case int:
		return wrapInt(int64(v)), nil
	case int8:
		return wrapInt(int64(v)), nil
	case int16:
		return wrapInt(int64(v)), nil
	case int32:
		return wrapInt(int64(v)), nil
	case int64:
		return wrapInt(v), nil
	case uint8:
		return wrapInt(int64(v)), nil
	case uint16:
		return wrapInt(int64(v)), nil
	case uint32:
		return wrapInt(int64(v)), nil
	case uint:
		return wrapUint(uint64(v)), nil
	case uint64:
		return wrapUint(v), nil
	case float32:
		return Real(v), nil
	case float64:
		return Float(v), nil
	case string:
		return VarChar(v), nil
	case []byte:
		return VarBinary(v), nil
	case time.Time:
		return DateTime2(v), nil
	case DateTimeOffset:
		return OffsetDateTime(time.Time(v)), nil
	case decimal.Decimal:
		return wrapDecimal(v), nil
	case uuid.UUID:
		return Guid(v), nil
	default:
		return TypedValue{}, NewTypeInferenceError(value,
			"host type has no wire representation")
	}
}

// wrapInt picks the narrowest integer wire type that holds v exactly.
func wrapInt(v int64) TypedValue {
	switch {
	case v >= 0 && v <= math.MaxUint8:
		return TypedValue{Type: TypeTinyInt, Value: v}
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return TypedValue{Type: TypeSmallInt, Value: v}
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return TypedValue{Type: TypeInt, Value: v}
	default:
		return TypedValue{Type: TypeBigInt, Value: v}
	}
}

// wrapUint handles the unsigned range above MaxInt64, which only the
// decimal wire type holds without loss.
func wrapUint(v uint64) TypedValue {
	if v <= math.MaxInt64 {
		return wrapInt(int64(v))
	}
	return Decimal(decimal.NewFromUint64(v), 20, 0)
}

// wrapDecimal derives precision and scale from the value itself.
func wrapDecimal(v decimal.Decimal) TypedValue {
	scale := 0
	if v.Exponent() < 0 {
		scale = int(-v.Exponent())
	}
	digits := len(v.Coefficient().Text(10))
	if v.Sign() < 0 {
		digits--
	}
	precision := digits
	if precision < scale {
		precision = scale
	}
	if precision < 1 {
		precision = 1
	}
	if precision > 38 {
		precision = 38
	}
	return Decimal(v, uint8(precision), uint8(scale))
}
