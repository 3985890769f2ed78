package client

import (
	"testing"
)

func TestRewriteStatement(t *testing.T) {
	tests := []struct {
		name string
		stmt string
		want string
		refs int
	}{
		{
			name: "single placeholder",
			stmt: "SELECT * FROM t WHERE id = :0",
			want: "SELECT * FROM t WHERE id = @p0",
			refs: 1,
		},
		{
			name: "repeated reference",
			stmt: "SELECT :0, :1, :0",
			want: "SELECT @p0, @p1, @p0",
			refs: 2,
		},
		{
			name: "multi digit index",
			stmt: "VALUES (:0,:1,:2,:3,:4,:5,:6,:7,:8,:9,:10)",
			want: "VALUES (@p0,@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8,@p9,@p10)",
			refs: 11,
		},
		{
			name: "no placeholders",
			stmt: "SELECT 1",
			want: "SELECT 1",
			refs: 0,
		},
		{
			name: "empty statement",
			stmt: "",
			want: "",
			refs: 0,
		},
		{
			name: "single quoted literal",
			stmt: "SELECT ':0' WHERE id = :0",
			want: "SELECT ':0' WHERE id = @p0",
			refs: 1,
		},
		{
			name: "doubled quote escape",
			stmt: "SELECT 'it''s :0 here', :0",
			want: "SELECT 'it''s :0 here', @p0",
			refs: 1,
		},
		{
			name: "double quoted identifier",
			stmt: `SELECT ":0" FROM t`,
			want: `SELECT ":0" FROM t`,
			refs: 0,
		},
		{
			name: "unterminated quote",
			stmt: "SELECT ':0",
			want: "SELECT ':0",
			refs: 0,
		},
		{
			name: "bracketed identifier",
			stmt: "SELECT [weird :0 name] FROM t WHERE id = :0",
			want: "SELECT [weird :0 name] FROM t WHERE id = @p0",
			refs: 1,
		},
		{
			name: "bracket escape",
			stmt: "SELECT [a]]b :0] FROM t",
			want: "SELECT [a]]b :0] FROM t",
			refs: 0,
		},
		{
			name: "line comment",
			stmt: "SELECT 1 -- trailing :0 note",
			want: "SELECT 1 -- trailing :0 note",
			refs: 0,
		},
		{
			name: "placeholder after line comment",
			stmt: "-- setup :9\nSELECT :0",
			want: "-- setup :9\nSELECT @p0",
			refs: 1,
		},
		{
			name: "block comment",
			stmt: "/* :0 */ SELECT :0",
			want: "/* :0 */ SELECT @p0",
			refs: 1,
		},
		{
			name: "nested block comment",
			stmt: "/* outer /* :1 inner */ :2 */ SELECT :0",
			want: "/* outer /* :1 inner */ :2 */ SELECT @p0",
			refs: 1,
		},
		{
			name: "server variable passthrough",
			stmt: "SELECT @existing, :0",
			want: "SELECT @existing, @p0",
			refs: 1,
		},
		{
			name: "bare colon",
			stmt: "SELECT a::int, :0",
			want: "SELECT a::int, @p0",
			refs: 1,
		},
		{
			name: "colon before letter",
			stmt: "SELECT :abc FROM t",
			want: "SELECT :abc FROM t",
			refs: 0,
		},
		{
			name: "division not comment",
			stmt: "SELECT 1/2, :0",
			want: "SELECT 1/2, @p0",
			refs: 1,
		},
		{
			name: "hyphen not comment",
			stmt: "SELECT 1-2, :0",
			want: "SELECT 1-2, @p0",
			refs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw, err := rewriteStatement(tt.stmt)
			if err != nil {
				t.Fatalf("rewrite: %v", err)
			}
			if rw.text != tt.want {
				t.Errorf("expected %q, got %q", tt.want, rw.text)
			}
			if rw.refs != tt.refs {
				t.Errorf("expected %d refs, got %d", tt.refs, rw.refs)
			}
		})
	}
}

func TestRewriteStatementGap(t *testing.T) {
	tests := []struct {
		name    string
		stmt    string
		missing int
	}{
		{"skipped middle", "SELECT :0, :2", 1},
		{"missing zero", "SELECT :1", 0},
		{"sparse tail", "SELECT :0, :1, :5", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rewriteStatement(tt.stmt)
			ue, ok := err.(*UsageError)
			if !ok {
				t.Fatalf("expected UsageError, got %T", err)
			}
			if ue.Code != "E_PLACEHOLDER_GAP" {
				t.Errorf("expected E_PLACEHOLDER_GAP, got %s", ue.Code)
			}
			if got := ue.Details["missing"]; got != tt.missing {
				t.Errorf("expected missing index %d, got %v", tt.missing, got)
			}
		})
	}
}

func TestRewriteStatementIndexOverflow(t *testing.T) {
	_, err := rewriteStatement("SELECT :99999999999999999999")
	ue, ok := err.(*UsageError)
	if !ok {
		t.Fatalf("expected UsageError, got %T", err)
	}
	if ue.Code != "E_PLACEHOLDER_INDEX" {
		t.Errorf("expected E_PLACEHOLDER_INDEX, got %s", ue.Code)
	}
}

func TestRewriteStatementPlaceholderInsideWord(t *testing.T) {
	// A colon-digit run rewrites wherever it appears outside protected
	// regions; adjacency to other text does not suppress it.
	rw, err := rewriteStatement("SELECT x:0y")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if rw.text != "SELECT x@p0y" {
		t.Errorf("got %q", rw.text)
	}
	if rw.refs != 1 {
		t.Errorf("expected 1 ref, got %d", rw.refs)
	}
}
