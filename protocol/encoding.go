package protocol

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// codepageEncodings maps the collation codepages reported by the server's
// COLLATIONPROPERTY to their text encodings. The set covers the codepages
// the server family actually ships collations for.
var codepageEncodings = map[int]encoding.Encoding{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	874:   charmap.Windows874,
	932:   japanese.ShiftJIS,
	936:   simplifiedchinese.GBK,
	949:   korean.EUCKR,
	950:   traditionalchinese.Big5,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	65001: unicode.UTF8,
}

// utf16LE is the encoding of the wide text wire types.
var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// CodepageEncoding returns the encoding for a collation codepage.
// The zero codepage means UTF-8.
func CodepageEncoding(codepage int) (encoding.Encoding, bool) {
	if codepage == 0 {
		return unicode.UTF8, true
	}
	enc, ok := codepageEncodings[codepage]
	return enc, ok
}

// encodeText converts a host string to the wire bytes of a single-byte
// text type in the given codepage.
func encodeText(s string, codepage int) ([]byte, error) {
	enc, ok := CodepageEncoding(codepage)
	if !ok {
		return nil, newCodecError(CodecErrorUnknownCodepage, "encode", 0, "unknown codepage %d", codepage)
	}
	if enc == unicode.UTF8 {
		return []byte(s), nil
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, wrapCodecError(CodecErrorUnmappableText, "encode", 0, err, "codepage %d cannot represent value", codepage)
	}
	return out, nil
}

// decodeText converts wire bytes of a single-byte text type back to a
// host string.
func decodeText(b []byte, codepage int) (string, error) {
	enc, ok := CodepageEncoding(codepage)
	if !ok {
		return "", newCodecError(CodecErrorUnknownCodepage, "decode", 0, "unknown codepage %d", codepage)
	}
	if enc == unicode.UTF8 {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", wrapCodecError(CodecErrorDecode, "decode", 0, err, "codepage %d data is malformed", codepage)
	}
	return string(out), nil
}

// encodeUTF16 converts a host string to UTF-16LE wire bytes.
func encodeUTF16(s string) ([]byte, error) {
	out, err := utf16LE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, wrapCodecError(CodecErrorUnmappableText, "encode", TypeNVarChar, err, "value is not valid text")
	}
	return out, nil
}

// decodeUTF16 converts UTF-16LE wire bytes back to a host string.
func decodeUTF16(b []byte) (string, error) {
	out, err := utf16LE.NewDecoder().Bytes(b)
	if err != nil {
		return "", wrapCodecError(CodecErrorDecode, "decode", TypeNVarChar, err, "wide text data is malformed")
	}
	return string(out), nil
}
