package sqldb

import "strings"

// Literal scan modes for Config.LiteralScan.
const (
	// ScanSimple treats every '...' run as a literal, like the pattern '[^']*'.
	ScanSimple = "simple"
	// ScanTokenizer walks the statement as a session sees it: '...' and
	// "..." literals with doubled quotes, `...` identifiers, and -- # /* */
	// comments all hide markers. Backslash is ordinary text, as under
	// NO_BACKSLASH_ESCAPES.
	ScanTokenizer = "tokenizer"
)

// maskTokenized blanks out markers that appear anywhere except plain
// statement text. Like maskLiterals, the result has the same length as sql.
func maskTokenized(sql, marker string) string {
	const (
		sText = iota
		sSQ   // '...'
		sDQ   // "..."
		sBT   // `...`
		sLC   // -- or # up to end of line
		sBC   // /* ... */
	)

	var out []byte
	mask := func(i int) {
		if out == nil {
			out = []byte(sql)
		}
		for k := 0; k < len(marker); k++ {
			out[i+k] = ' '
		}
	}

	state := sText
	for i := 0; i < len(sql); {
		c := sql[i]

		if state != sText && strings.HasPrefix(sql[i:], marker) {
			mask(i)
			i += len(marker)
			continue
		}

		switch state {
		case sText:
			switch {
			case c == '-' && isDashComment(sql[i:]):
				state = sLC
				i += 2
				continue
			case c == '#':
				state = sLC
			case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
				state = sBC
				i += 2
				continue
			case c == '\'':
				state = sSQ
			case c == '"':
				state = sDQ
			case c == '`':
				state = sBT
			}
			i++

		case sSQ, sDQ:
			quote := byte('\'')
			if state == sDQ {
				quote = '"'
			}
			i++
			if c == quote {
				if i < len(sql) && sql[i] == quote {
					i++
				} else {
					state = sText
				}
			}

		case sBT:
			i++
			if c == '`' {
				if i < len(sql) && sql[i] == '`' {
					i++
				} else {
					state = sText
				}
			}

		case sLC:
			i++
			if c == '\n' || c == '\r' {
				state = sText
			}

		case sBC:
			i++
			if c == '*' && i < len(sql) && sql[i] == '/' {
				i++
				state = sText
			}
		}
	}

	if out == nil {
		return sql
	}
	return string(out)
}

// isDashComment reports whether s starts a "-- " comment: two dashes followed
// by whitespace, a control character or the end of input.
func isDashComment(s string) bool {
	if len(s) < 2 || s[0] != '-' || s[1] != '-' {
		return false
	}
	return len(s) == 2 || s[2] <= ' '
}
