package protocol

import (
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Codec converts host values to wire parameters and wire values back to
// host values. It is a pure transformation layer: no I/O, no retries, no
// server state beyond the negotiated protocol version it was built with.
//
// Decimal values carrying more digits than their declared scale are
// truncated to the declared scale, matching the truncation rule for
// sub-tick temporal precision: a value never reads back larger than it
// was written.
type Codec struct {
	version Version
}

// NewCodec creates a codec for the given negotiated protocol version.
func NewCodec(version Version) *Codec {
	return &Codec{version: version}
}

// Version returns the protocol version the codec encodes for.
func (c *Codec) Version() Version { return c.version }

// EncodeValues wraps and encodes a sequence of host values in one pass.
func (c *Codec) EncodeValues(values ...interface{}) ([]Parameter, error) {
	params := make([]Parameter, 0, len(values))
	for _, v := range values {
		tv, err := Wrap(v)
		if err != nil {
			return nil, err
		}
		p, err := c.EncodeParameter(tv)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

// EncodeParameter converts one typed host value to its wire parameter form.
//
// Zero-length text and binary values encode as SQL NULL. The wire protocol
// has no representation for a zero-length value in an RPC parameter, so a
// true empty string cannot be sent; see the limitations notes in the client
// package.
func (c *Codec) EncodeParameter(tv TypedValue) (Parameter, error) {
	p := Parameter{
		Type:      tv.Type,
		Size:      tv.Size,
		Precision: tv.Precision,
		Scale:     tv.Scale,
		Output:    tv.Output,
	}

	if tv.Type == TypeDateTimeOffset && !c.version.SupportsOffsetDateTime() {
		// Older protocol versions have no offset-aware type. The offset
		// is dropped and the wall clock travels as a legacy datetime,
		// matching the long-standing behavior of pre-7.3 stacks.
		p.Type = TypeDateTime
		p.Scale = 0
		if tv.Value == nil {
			p.Null = true
			return p, nil
		}
		t, err := hostTime(tv)
		if err != nil {
			return Parameter{}, err
		}
		p.Data = encodeLegacyDateTime(t)
		return p, nil
	}

	if tv.Value == nil {
		p.Null = true
		if p.Size < 1 && (tv.Type.IsText() || tv.Type.IsWideText() || tv.Type.IsBinary()) {
			p.Size = 1
		}
		if tv.Type == TypeDecimal && p.Precision == 0 {
			p.Precision, p.Scale = 18, 0
		}
		return p, nil
	}

	switch tv.Type {
	case TypeBit:
		v, ok := tv.Value.(bool)
		if !ok {
			return Parameter{}, encodeTypeMismatch(tv)
		}
		if v {
			p.Data = []byte{1}
		} else {
			p.Data = []byte{0}
		}

	case TypeTinyInt:
		v, err := hostInt(tv)
		if err != nil {
			return Parameter{}, err
		}
		if v < 0 || v > math.MaxUint8 {
			return Parameter{}, newCodecError(CodecErrorOutOfRange, "encode", tv.Type, "value %d out of range", v)
		}
		p.Data = []byte{byte(v)}

	case TypeSmallInt:
		v, err := hostInt(tv)
		if err != nil {
			return Parameter{}, err
		}
		if v < math.MinInt16 || v > math.MaxInt16 {
			return Parameter{}, newCodecError(CodecErrorOutOfRange, "encode", tv.Type, "value %d out of range", v)
		}
		p.Data = make([]byte, 2)
		binary.LittleEndian.PutUint16(p.Data, uint16(int16(v)))

	case TypeInt:
		v, err := hostInt(tv)
		if err != nil {
			return Parameter{}, err
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return Parameter{}, newCodecError(CodecErrorOutOfRange, "encode", tv.Type, "value %d out of range", v)
		}
		p.Data = make([]byte, 4)
		binary.LittleEndian.PutUint32(p.Data, uint32(int32(v)))

	case TypeBigInt:
		v, err := hostInt(tv)
		if err != nil {
			return Parameter{}, err
		}
		p.Data = make([]byte, 8)
		binary.LittleEndian.PutUint64(p.Data, uint64(v))

	case TypeReal:
		var v float32
		switch f := tv.Value.(type) {
		case float32:
			v = f
		case float64:
			v = float32(f)
		default:
			return Parameter{}, encodeTypeMismatch(tv)
		}
		p.Data = make([]byte, 4)
		binary.LittleEndian.PutUint32(p.Data, math.Float32bits(v))

	case TypeFloat:
		var v float64
		switch f := tv.Value.(type) {
		case float64:
			v = f
		case float32:
			v = float64(f)
		default:
			return Parameter{}, encodeTypeMismatch(tv)
		}
		p.Data = make([]byte, 8)
		binary.LittleEndian.PutUint64(p.Data, math.Float64bits(v))

	case TypeDecimal:
		v, ok := tv.Value.(decimal.Decimal)
		if !ok {
			return Parameter{}, encodeTypeMismatch(tv)
		}
		if p.Precision == 0 {
			derived := wrapDecimal(v)
			p.Precision, p.Scale = derived.Precision, derived.Scale
		}
		data, err := encodeDecimal(v, p.Precision, p.Scale)
		if err != nil {
			return Parameter{}, err
		}
		p.Data = data

	case TypeChar, TypeVarChar:
		data, err := textBytes(tv)
		if err != nil {
			return Parameter{}, err
		}
		if len(data) == 0 {
			p.Null = true
			p.Size = 1
			return p, nil
		}
		p.Data = data
		if p.Size < len(data) {
			p.Size = len(data)
		}

	case TypeNChar, TypeNVarChar:
		s, ok := tv.Value.(string)
		if !ok {
			return Parameter{}, encodeTypeMismatch(tv)
		}
		if len(s) == 0 {
			p.Null = true
			p.Size = 1
			return p, nil
		}
		data, err := encodeUTF16(s)
		if err != nil {
			return Parameter{}, err
		}
		p.Data = data
		if chars := len(data) / 2; p.Size < chars {
			p.Size = chars
		}

	case TypeBinary, TypeVarBinary:
		v, ok := tv.Value.([]byte)
		if !ok {
			return Parameter{}, encodeTypeMismatch(tv)
		}
		if len(v) == 0 {
			p.Null = true
			p.Size = 1
			return p, nil
		}
		p.Data = append([]byte(nil), v...)
		if p.Size < len(v) {
			p.Size = len(v)
		}

	case TypeGuid:
		v, ok := tv.Value.(uuid.UUID)
		if !ok {
			return Parameter{}, encodeTypeMismatch(tv)
		}
		p.Data = swizzleGUID(v)

	case TypeDate:
		t, err := hostTime(tv)
		if err != nil {
			return Parameter{}, err
		}
		y, mo, d := t.Date()
		p.Data = encodeDays(dateToDays(y, int(mo), d))

	case TypeTime:
		t, err := hostTime(tv)
		if err != nil {
			return Parameter{}, err
		}
		p.Data = encodeTicks(clockTicks(t))
		p.Scale = 7

	case TypeDateTime2:
		t, err := hostTime(tv)
		if err != nil {
			return Parameter{}, err
		}
		y, mo, d := t.Date()
		p.Data = append(encodeTicks(clockTicks(t)), encodeDays(dateToDays(y, int(mo), d))...)
		p.Scale = 7

	case TypeDateTimeOffset:
		t, err := hostTime(tv)
		if err != nil {
			return Parameter{}, err
		}
		utc := t.UTC()
		_, offSecs := t.Zone()
		y, mo, d := utc.Date()
		data := append(encodeTicks(clockTicks(utc)), encodeDays(dateToDays(y, int(mo), d))...)
		off := make([]byte, 2)
		binary.LittleEndian.PutUint16(off, uint16(int16(offSecs/60)))
		p.Data = append(data, off...)
		p.Scale = 7

	case TypeDateTime:
		t, err := hostTime(tv)
		if err != nil {
			return Parameter{}, err
		}
		p.Data = encodeLegacyDateTime(t)

	default:
		return Parameter{}, newCodecError(CodecErrorEncode, "encode", tv.Type, "unsupported wire type")
	}

	return p, nil
}

// DecodeValue converts one wire value to a host value according to its
// column descriptor. Integer widths normalize to int64.
func (c *Codec) DecodeValue(col Column, v Value) (interface{}, error) {
	if v.Null {
		return nil, nil
	}
	b := v.Data

	switch col.Type {
	case TypeBit:
		if err := needBytes(col.Type, b, 1); err != nil {
			return nil, err
		}
		return b[0] != 0, nil

	case TypeTinyInt:
		if err := needBytes(col.Type, b, 1); err != nil {
			return nil, err
		}
		return int64(b[0]), nil

	case TypeSmallInt:
		if err := needBytes(col.Type, b, 2); err != nil {
			return nil, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil

	case TypeInt:
		if err := needBytes(col.Type, b, 4); err != nil {
			return nil, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil

	case TypeBigInt:
		if err := needBytes(col.Type, b, 8); err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil

	case TypeReal:
		if err := needBytes(col.Type, b, 4); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil

	case TypeFloat:
		if err := needBytes(col.Type, b, 8); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil

	case TypeDecimal:
		return decodeDecimal(b, col.Scale)

	case TypeChar, TypeVarChar:
		return decodeText(b, col.Codepage)

	case TypeNChar, TypeNVarChar:
		return decodeUTF16(b)

	case TypeBinary, TypeVarBinary:
		return append([]byte(nil), b...), nil

	case TypeGuid:
		if err := needBytes(col.Type, b, 16); err != nil {
			return nil, err
		}
		return unswizzleGUID(b), nil

	case TypeDate:
		if err := needBytes(col.Type, b, 3); err != nil {
			return nil, err
		}
		y, mo, d := daysToDate(decodeDays(b))
		return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC), nil

	case TypeTime:
		if err := needBytes(col.Type, b, 5); err != nil {
			return nil, err
		}
		h, m, s, ns := ticksToClock(decodeTicks(b))
		return time.Date(1, 1, 1, h, m, s, ns, time.UTC), nil

	case TypeDateTime2:
		if err := needBytes(col.Type, b, 8); err != nil {
			return nil, err
		}
		h, m, s, ns := ticksToClock(decodeTicks(b[:5]))
		y, mo, d := daysToDate(decodeDays(b[5:8]))
		return time.Date(y, time.Month(mo), d, h, m, s, ns, time.UTC), nil

	case TypeDateTimeOffset:
		if !c.version.SupportsOffsetDateTime() {
			return nil, newCodecError(CodecErrorUnsupported, "decode", col.Type,
				"offset-aware datetime requires protocol version 7.3 or later (negotiated %s)", c.version)
		}
		if err := needBytes(col.Type, b, 10); err != nil {
			return nil, err
		}
		h, m, s, ns := ticksToClock(decodeTicks(b[:5]))
		y, mo, d := daysToDate(decodeDays(b[5:8]))
		offMin := int(int16(binary.LittleEndian.Uint16(b[8:10])))
		utc := time.Date(y, time.Month(mo), d, h, m, s, ns, time.UTC)
		return utc.In(time.FixedZone("", offMin*60)), nil

	case TypeDateTime:
		if err := needBytes(col.Type, b, 8); err != nil {
			return nil, err
		}
		days := int32(binary.LittleEndian.Uint32(b[:4]))
		thirds := int32(binary.LittleEndian.Uint32(b[4:8]))
		return fromLegacyDateTime(days, thirds), nil

	default:
		return nil, newCodecError(CodecErrorDecode, "decode", col.Type, "unsupported wire type")
	}
}

// hostInt extracts the normalized integer payload of a typed value.
func hostInt(tv TypedValue) (int64, error) {
	switch v := tv.Value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	default:
		return 0, encodeTypeMismatch(tv)
	}
}

// hostTime extracts the timestamp payload of a typed value.
func hostTime(tv TypedValue) (time.Time, error) {
	switch v := tv.Value.(type) {
	case time.Time:
		return v, nil
	case DateTimeOffset:
		return time.Time(v), nil
	default:
		return time.Time{}, encodeTypeMismatch(tv)
	}
}

func encodeTypeMismatch(tv TypedValue) *CodecError {
	return newCodecError(CodecErrorEncode, "encode", tv.Type, "host type %T does not match wire type", tv.Value)
}

func needBytes(t WireType, b []byte, n int) error {
	if len(b) < n {
		return newCodecError(CodecErrorTruncatedData, "decode", t, "need %d bytes, have %d", n, len(b))
	}
	return nil
}

// decimalWidth returns the wire byte width of a decimal magnitude for a
// given precision.
func decimalWidth(precision uint8) int {
	switch {
	case precision <= 9:
		return 4
	case precision <= 19:
		return 8
	case precision <= 28:
		return 12
	default:
		return 16
	}
}

// encodeDecimal lays a decimal out as a sign byte followed by the
// little-endian magnitude, sized by the precision class.
func encodeDecimal(v decimal.Decimal, precision, scale uint8) ([]byte, error) {
	if precision < 1 || precision > 38 || scale > precision {
		return nil, newCodecError(CodecErrorOutOfRange, "encode", TypeDecimal,
			"invalid precision/scale %d/%d", precision, scale)
	}
	truncated := v.Truncate(int32(scale))
	coef := truncated.Shift(int32(scale)).BigInt()

	sign := byte(1)
	if coef.Sign() < 0 {
		sign = 0
	}
	mag := new(big.Int).Abs(coef).Bytes() // big-endian
	width := decimalWidth(precision)
	if len(mag) > width {
		return nil, newCodecError(CodecErrorOutOfRange, "encode", TypeDecimal,
			"value %s exceeds precision %d", v, precision)
	}

	out := make([]byte, 1+width)
	out[0] = sign
	for i, b := range mag {
		out[1+len(mag)-1-i] = b
	}
	return out, nil
}

// decodeDecimal reverses encodeDecimal using the column's declared scale.
func decodeDecimal(b []byte, scale uint8) (decimal.Decimal, error) {
	if len(b) < 2 {
		return decimal.Decimal{}, newCodecError(CodecErrorTruncatedData, "decode", TypeDecimal,
			"need at least 2 bytes, have %d", len(b))
	}
	mag := make([]byte, len(b)-1)
	for i, v := range b[1:] {
		mag[len(mag)-1-i] = v
	}
	coef := new(big.Int).SetBytes(mag)
	if b[0] == 0 {
		coef.Neg(coef)
	}
	return decimal.NewFromBigInt(coef, -int32(scale)), nil
}

// textBytes renders a single-byte text value, accepting pre-encoded bytes
// untouched so bulk auto-encode can hand the codec already-converted data.
func textBytes(tv TypedValue) ([]byte, error) {
	switch v := tv.Value.(type) {
	case string:
		return encodeText(v, tv.Codepage)
	case []byte:
		return v, nil
	default:
		return nil, encodeTypeMismatch(tv)
	}
}

// swizzleGUID converts a UUID to the wire's mixed-endian layout: the first
// three fields little-endian, the rest as-is.
func swizzleGUID(v uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = v[3], v[2], v[1], v[0]
	b[4], b[5] = v[5], v[4]
	b[6], b[7] = v[7], v[6]
	copy(b[8:], v[8:])
	return b
}

func unswizzleGUID(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}

func encodeDays(days int) []byte {
	return []byte{byte(days), byte(days >> 8), byte(days >> 16)}
}

func decodeDays(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}

func encodeTicks(ticks int64) []byte {
	return []byte{byte(ticks), byte(ticks >> 8), byte(ticks >> 16), byte(ticks >> 24), byte(ticks >> 32)}
}

func decodeTicks(b []byte) int64 {
	return int64(b[0]) | int64(b[1])<<8 | int64(b[2])<<16 | int64(b[3])<<24 | int64(b[4])<<32
}

func encodeLegacyDateTime(t time.Time) []byte {
	days, thirds := legacyDateTime(t)
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[:4], uint32(days))
	binary.LittleEndian.PutUint32(out[4:], uint32(thirds))
	return out
}
