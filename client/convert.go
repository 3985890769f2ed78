package client

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tabstream/go-tabstream/protocol"
)

// scanValue coerces one decoded column value into a caller-supplied
// destination pointer. Decoded values arrive in their canonical host
// shapes: nil, bool, int64, float32, float64, string, []byte, time.Time,
// protocol.DateTimeOffset, decimal.Decimal or uuid.UUID.
//
// NULL scans only into *interface{}; every other destination rejects it
// rather than guessing a zero value.
func scanValue(dest interface{}, src interface{}) error {
	if d, ok := dest.(*interface{}); ok {
		*d = src
		return nil
	}

	if src == nil {
		return scanError(fmt.Sprintf("cannot scan NULL into %T", dest))
	}

	switch d := dest.(type) {
	case *string:
		*d = toString(src)
	case *[]byte:
		switch v := src.(type) {
		case []byte:
			*d = v
		case string:
			*d = []byte(v)
		default:
			return scanError(fmt.Sprintf("cannot scan %T into *[]byte", src))
		}
	case *bool:
		v, err := toBool(src)
		if err != nil {
			return err
		}
		*d = v
	case *int:
		v, err := toInt64(src)
		if err != nil {
			return err
		}
		*d = int(v)
	case *int8:
		v, err := toInt64(src)
		if err != nil {
			return err
		}
		if v < math.MinInt8 || v > math.MaxInt8 {
			return scanError(fmt.Sprintf("value %d overflows int8", v))
		}
		*d = int8(v)
	case *int16:
		v, err := toInt64(src)
		if err != nil {
			return err
		}
		if v < math.MinInt16 || v > math.MaxInt16 {
			return scanError(fmt.Sprintf("value %d overflows int16", v))
		}
		*d = int16(v)
	case *int32:
		v, err := toInt64(src)
		if err != nil {
			return err
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return scanError(fmt.Sprintf("value %d overflows int32", v))
		}
		*d = int32(v)
	case *int64:
		v, err := toInt64(src)
		if err != nil {
			return err
		}
		*d = v
	case *float32:
		v, err := toFloat64(src)
		if err != nil {
			return err
		}
		*d = float32(v)
	case *float64:
		v, err := toFloat64(src)
		if err != nil {
			return err
		}
		*d = v
	case *time.Time:
		v, err := toTime(src)
		if err != nil {
			return err
		}
		*d = v
	case *protocol.DateTimeOffset:
		switch v := src.(type) {
		case protocol.DateTimeOffset:
			*d = v
		case time.Time:
			*d = protocol.DateTimeOffset(v)
		default:
			return scanError(fmt.Sprintf("cannot scan %T into *protocol.DateTimeOffset", src))
		}
	case *decimal.Decimal:
		v, err := toDecimal(src)
		if err != nil {
			return err
		}
		*d = v
	case *uuid.UUID:
		v, err := toUUID(src)
		if err != nil {
			return err
		}
		*d = v
	default:
		return scanError(fmt.Sprintf("unsupported scan destination %T", dest))
	}

	return nil
}

// toString converts any decoded value to a string.
func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case decimal.Decimal:
		return v.String()
	case uuid.UUID:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case protocol.DateTimeOffset:
		return v.Time().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toInt64 converts a decoded value to an integer.
func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, scanError(fmt.Sprintf("cannot convert %q to int: %v", v, err))
		}
		return i, nil
	default:
		return 0, scanError(fmt.Sprintf("cannot convert %T to int", value))
	}
}

// toFloat64 converts a decoded value to a float.
func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case decimal.Decimal:
		return v.InexactFloat64(), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, scanError(fmt.Sprintf("cannot convert %q to float: %v", v, err))
		}
		return f, nil
	default:
		return 0, scanError(fmt.Sprintf("cannot convert %T to float", value))
	}
}

// toBool converts a decoded value to a boolean.
func toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case string:
		switch v {
		case "true", "1":
			return true, nil
		case "false", "0", "":
			return false, nil
		default:
			return false, scanError(fmt.Sprintf("cannot convert %q to bool", v))
		}
	default:
		return false, scanError(fmt.Sprintf("cannot convert %T to bool", value))
	}
}

// toTime converts a decoded value to a time.Time.
func toTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case protocol.DateTimeOffset:
		return v.Time(), nil
	case string:
		formats := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"2006-01-02",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, scanError(fmt.Sprintf("cannot parse %q as time", v))
	default:
		return time.Time{}, scanError(fmt.Sprintf("cannot convert %T to time", value))
	}
}

// toDecimal converts a decoded value to a decimal.
func toDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, scanError(fmt.Sprintf("cannot convert %q to decimal: %v", v, err))
		}
		return d, nil
	default:
		return decimal.Decimal{}, scanError(fmt.Sprintf("cannot convert %T to decimal", value))
	}
}

// toUUID converts a decoded value to a UUID.
func toUUID(value interface{}) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return uuid.UUID{}, scanError(fmt.Sprintf("cannot parse %q as uuid: %v", v, err))
		}
		return u, nil
	case []byte:
		u, err := uuid.FromBytes(v)
		if err != nil {
			return uuid.UUID{}, scanError(fmt.Sprintf("cannot convert %d bytes to uuid", len(v)))
		}
		return u, nil
	default:
		return uuid.UUID{}, scanError(fmt.Sprintf("cannot convert %T to uuid", value))
	}
}

// scanError builds the usage error for a failed coercion.
func scanError(message string) *UsageError {
	return &UsageError{
		Code:       "E_SCAN",
		Type:       "USAGE_ERROR",
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}
