package testutil

import (
	"testing"

	"github.com/tabstream/go-tabstream/protocol"
	"github.com/tabstream/go-tabstream/transport/mock"
)

// Values scripted into a mock travel in wire form, so fixtures encode
// host values with the same codec the session decodes with.
var wireCodec = protocol.NewCodec(protocol.Version74)

// Encode converts one typed host value to its wire form.
func Encode(tb testing.TB, tv protocol.TypedValue) protocol.Value {
	tb.Helper()
	p, err := wireCodec.EncodeParameter(tv)
	if err != nil {
		tb.Fatalf("encode fixture: %v", err)
	}
	return protocol.Value{Data: p.Data, Null: p.Null}
}

// Row encodes one row of typed values.
func Row(tb testing.TB, tvs ...protocol.TypedValue) []protocol.Value {
	tb.Helper()
	row := make([]protocol.Value, len(tvs))
	for i, tv := range tvs {
		row[i] = Encode(tb, tv)
	}
	return row
}

// Null returns a wire NULL.
func Null() protocol.Value {
	return protocol.Value{Null: true}
}

// Col describes a nullable column of the given wire type.
func Col(name string, wt protocol.WireType) protocol.Column {
	return protocol.Column{Name: name, Type: wt, Nullable: true}
}

// DecimalCol describes a decimal column with explicit precision and
// scale, which the codec needs to rescale the wire integer on decode.
func DecimalCol(name string, precision, scale uint8) protocol.Column {
	return protocol.Column{Name: name, Type: protocol.TypeDecimal, Precision: precision, Scale: scale, Nullable: true}
}

// ResultOf builds a single-set scripted reply.
func ResultOf(cols []protocol.Column, rows ...[]protocol.Value) mock.Result {
	return mock.Result{Sets: []mock.ResultSet{{Columns: cols, Rows: rows}}}
}

// Message builds a server diagnostic.
func Message(number int64, severity int, text string) protocol.Message {
	return protocol.Message{
		Number:      number,
		Severity:    severity,
		State:       1,
		Description: text,
		Server:      "mockserver",
		Line:        1,
	}
}

// Warning builds an informational diagnostic, below the error threshold.
func Warning(text string) protocol.Message {
	return Message(50000, 10, text)
}

// Fatal builds a diagnostic severe enough to poison a session.
func Fatal(number int64, text string) protocol.Message {
	return Message(number, 21, text)
}

// StatementText decodes the text carried by an invocation parameter. The
// first parameter of every recorded invocation is the statement itself.
func StatementText(tb testing.TB, p protocol.Parameter) string {
	tb.Helper()
	v, err := wireCodec.DecodeValue(protocol.Column{Type: protocol.TypeNVarChar}, protocol.Value{Data: p.Data, Null: p.Null})
	if err != nil {
		tb.Fatalf("decode invocation text: %v", err)
	}
	s, ok := v.(string)
	if !ok {
		tb.Fatalf("invocation text decoded as %T", v)
	}
	return s
}

// Statements returns the decoded statement text of every invocation the
// mock recorded, in call order.
func Statements(tb testing.TB, m *mock.MockTransport) []string {
	tb.Helper()
	invs := m.GetInvocations()
	out := make([]string, len(invs))
	for i, inv := range invs {
		if len(inv.Params) == 0 {
			tb.Fatalf("invocation %d carries no parameters", i)
		}
		out[i] = StatementText(tb, inv.Params[0])
	}
	return out
}
