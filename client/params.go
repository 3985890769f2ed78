package client

import (
	"strconv"
	"strings"
)

// rewrittenStatement is a statement whose positional placeholders have
// been rewritten to named parameter markers, plus the count of distinct
// positions it references.
type rewrittenStatement struct {
	text string
	refs int
}

// rewriteStatement scans a statement for positional placeholders of the
// form :N and rewrites each to @pN, the marker form the server's
// parameterized execution procedure expects. Placeholders inside string
// literals, quoted or bracketed identifiers, and comments are left alone,
// as are @name markers, which pass through for the server to resolve.
//
// Positions must be contiguous from zero: a statement referencing :0 and
// :2 without :1 is rejected.
func rewriteStatement(stmt string) (rewrittenStatement, error) {
	var b strings.Builder
	b.Grow(len(stmt) + 16)

	seen := make(map[int]bool)
	max := -1

	i := 0
	n := len(stmt)
	for i < n {
		switch ch := stmt[i]; ch {
		case '\'':
			i = copyQuoted(stmt, i, '\'', &b)
		case '"':
			i = copyQuoted(stmt, i, '"', &b)
		case '[':
			i = copyBracketed(stmt, i, &b)
		case '-':
			if i+1 < n && stmt[i+1] == '-' {
				i = copyLineComment(stmt, i, &b)
			} else {
				b.WriteByte(ch)
				i++
			}
		case '/':
			if i+1 < n && stmt[i+1] == '*' {
				i = copyBlockComment(stmt, i, &b)
			} else {
				b.WriteByte(ch)
				i++
			}
		case ':':
			j := i + 1
			for j < n && isDigit(stmt[j]) {
				j++
			}
			if j == i+1 {
				b.WriteByte(ch)
				i++
				break
			}
			idx, err := strconv.Atoi(stmt[i+1 : j])
			if err != nil {
				return rewrittenStatement{}, &UsageError{
					Code:    "E_PLACEHOLDER_INDEX",
					Type:    "USAGE_ERROR",
					Message: "placeholder index out of range: " + stmt[i:j],
					Details: map[string]interface{}{
						"placeholder": stmt[i:j],
					},
					Cause:      err,
					StackTrace: captureStackTrace(),
				}
			}
			seen[idx] = true
			if idx > max {
				max = idx
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(idx))
			i = j
		default:
			b.WriteByte(ch)
			i++
		}
	}

	for k := 0; k <= max; k++ {
		if !seen[k] {
			return rewrittenStatement{}, ErrPlaceholderGap(k)
		}
	}

	return rewrittenStatement{text: b.String(), refs: max + 1}, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// copyQuoted copies a quoted run verbatim, honoring doubled-quote
// escapes. An unterminated quote consumes the rest of the statement.
func copyQuoted(s string, i int, quote byte, b *strings.Builder) int {
	b.WriteByte(s[i])
	i++
	for i < len(s) {
		b.WriteByte(s[i])
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// copyBracketed copies a bracketed identifier verbatim, honoring ]]
// escapes.
func copyBracketed(s string, i int, b *strings.Builder) int {
	b.WriteByte(s[i])
	i++
	for i < len(s) {
		b.WriteByte(s[i])
		if s[i] == ']' {
			if i+1 < len(s) && s[i+1] == ']' {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// copyLineComment copies a -- comment through its terminating newline.
func copyLineComment(s string, i int, b *strings.Builder) int {
	for i < len(s) {
		b.WriteByte(s[i])
		if s[i] == '\n' {
			return i + 1
		}
		i++
	}
	return i
}

// copyBlockComment copies a block comment verbatim. Block comments nest,
// so depth is tracked until the outermost terminator.
func copyBlockComment(s string, i int, b *strings.Builder) int {
	depth := 0
	for i < len(s) {
		if i+1 < len(s) && s[i] == '/' && s[i+1] == '*' {
			b.WriteString("/*")
			i += 2
			depth++
			continue
		}
		if i+1 < len(s) && s[i] == '*' && s[i+1] == '/' {
			b.WriteString("*/")
			i += 2
			depth--
			if depth == 0 {
				return i
			}
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return i
}
