// Package catalog resolves table identifiers and column metadata against
// the server's schema views. The driver uses it to find the wire type and
// collation codepage of each column of a bulk-load target.
package catalog

import (
	"fmt"
	"strings"
)

// Identifier is a parsed, possibly multi-part table name. Empty parts were
// not present in the source text; a present-but-empty schema ("db..table")
// keeps Schema empty and Catalog set.
type Identifier struct {
	Catalog string
	Schema  string
	Table   string

	parts int
}

// IsTemporary reports whether the identifier names a temporary table.
// Temporary tables live in the server's own scratch database and are not
// visible through the catalog views.
func (id Identifier) IsTemporary() bool {
	return strings.HasPrefix(id.Table, "#")
}

// String renders the identifier with bracket quoting on every part.
func (id Identifier) String() string {
	parts := make([]string, 0, 3)
	if id.parts > 2 {
		parts = append(parts, QuotePart(id.Catalog))
	}
	if id.parts > 1 {
		parts = append(parts, QuotePart(id.Schema))
	}
	parts = append(parts, QuotePart(id.Table))
	return strings.Join(parts, ".")
}

// QuotePart bracket-quotes one identifier part, escaping closing brackets
// by doubling them.
func QuotePart(part string) string {
	return "[" + strings.ReplaceAll(part, "]", "]]") + "]"
}

// Parse splits a table identifier into its catalog, schema and table
// parts. Parts split on dots right-to-left: the last part is the table,
// then the schema, then the catalog. Bracketed parts ([a]]b]) and quoted
// parts ("a""b") may contain dots; their escape doubling is undone. An
// unterminated bracket or quote is tolerated and consumes the rest of the
// text. More than three parts is an error.
func Parse(name string) (Identifier, error) {
	var parts []string
	var cur strings.Builder

	i := 0
	for i < len(name) {
		switch name[i] {
		case '.':
			parts = append(parts, cur.String())
			cur.Reset()
			i++
		case '[':
			i++
			i = scanDelimited(name, i, ']', &cur)
		case '"':
			i++
			i = scanDelimited(name, i, '"', &cur)
		default:
			cur.WriteByte(name[i])
			i++
		}
	}
	parts = append(parts, cur.String())

	if len(parts) > 3 {
		return Identifier{}, fmt.Errorf("invalid table name %q: too many parts", name)
	}

	id := Identifier{parts: len(parts), Table: parts[len(parts)-1]}
	if len(parts) > 1 {
		id.Schema = parts[len(parts)-2]
	}
	if len(parts) > 2 {
		id.Catalog = parts[0]
	}
	return id, nil
}

// scanDelimited consumes a delimited run starting at i, undoing doubled
// delimiters, and returns the index after the closing delimiter. A missing
// terminator consumes the rest of the string.
func scanDelimited(s string, i int, delim byte, out *strings.Builder) int {
	for i < len(s) {
		if s[i] != delim {
			out.WriteByte(s[i])
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == delim {
			out.WriteByte(delim)
			i += 2
			continue
		}
		return i + 1
	}
	return i
}
