package sqldb

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Mismatch describes a Compile call whose bind count did not match the
// number of markers found outside string literals. The template was
// returned unchanged.
type Mismatch struct {
	Template     string
	Placeholders int
	Binds        int
}

// MismatchFunc is notified of every bind-count mismatch.
type MismatchFunc func(Mismatch)

// Compiler substitutes bind markers in SQL text with escaped literals.
// A single Compiler is safe for concurrent use.
type Compiler struct {
	marker     string
	mask       func(sql, marker string) string
	esc        *Escaper
	cache      *lru.Cache[string, []int]
	onMismatch MismatchFunc
}

// NewCompiler returns a Compiler using cfg.BindMarker and the escaping rules
// of esc. A nil esc uses NewEscaper(cfg). onMismatch may be nil.
func NewCompiler(cfg Config, esc *Escaper, onMismatch MismatchFunc) *Compiler {
	cfg = cfg.withDefaults()
	if esc == nil {
		esc = NewEscaper(cfg)
	}
	c := &Compiler{
		marker:     cfg.BindMarker,
		mask:       maskLiterals,
		esc:        esc,
		onMismatch: onMismatch,
	}
	if cfg.LiteralScan == ScanTokenizer {
		c.mask = maskTokenized
	}
	if cfg.CacheSize > 0 {
		// lru.New only fails on a non-positive size.
		c.cache, _ = lru.New[string, []int](cfg.CacheSize)
	}
	return c
}

// Marker returns the bind marker this Compiler replaces.
func (c *Compiler) Marker() string { return c.marker }

// Compile replaces each bind marker in sql, left to right, with the escaped
// literal of the matching bind. Markers inside single-quoted literals are
// not bind markers. A slice bind renders as an IN list.
//
// If binds is empty, or the number of markers differs from len(binds), sql
// is returned unchanged; a mismatch is reported to the MismatchFunc.
func (c *Compiler) Compile(sql string, binds ...any) string {
	if len(binds) == 0 || c.marker == "" || !strings.Contains(sql, c.marker) {
		return sql
	}

	pos := c.positions(sql)
	if len(pos) != len(binds) {
		if c.onMismatch != nil {
			c.onMismatch(Mismatch{Template: sql, Placeholders: len(pos), Binds: len(binds)})
		}
		return sql
	}

	lits := make([]string, len(binds))
	grow := 0
	for i, v := range binds {
		lits[i] = c.esc.Escape(v)
		grow += len(lits[i]) - len(c.marker)
	}

	// Walk from the last marker back so earlier offsets stay valid; the
	// builder is filled back to front through a reversed segment list.
	ml := len(c.marker)
	segs := make([]string, 0, 2*len(pos)+1)
	end := len(sql)
	for i := len(pos) - 1; i >= 0; i-- {
		segs = append(segs, sql[pos[i]+ml:end], lits[i])
		end = pos[i]
	}
	segs = append(segs, sql[:end])

	var buf strings.Builder
	buf.Grow(len(sql) + max(grow, 0))
	for i := len(segs) - 1; i >= 0; i-- {
		buf.WriteString(segs[i])
	}
	return buf.String()
}

// positions returns the byte offsets of every marker outside literal spans.
func (c *Compiler) positions(sql string) []int {
	if c.cache != nil {
		if pos, ok := c.cache.Get(sql); ok {
			return pos
		}
	}
	pos := findMarkers(c.mask(sql, c.marker), c.marker)
	if c.cache != nil {
		c.cache.Add(sql, pos)
	}
	return pos
}

// maskLiterals blanks out markers inside '...' spans. Spans are matched the
// way '[^']*' would match them: a doubled quote closes one span and opens the
// next, so markers inside it are still masked. An unterminated quote is not
// a span. The result has the same length as sql.
func maskLiterals(sql, marker string) string {
	var (
		out    []byte
		blanks = strings.Repeat(" ", len(marker))
	)
	for i := 0; i < len(sql); {
		start := strings.IndexByte(sql[i:], '\'')
		if start < 0 {
			break
		}
		start += i
		end := strings.IndexByte(sql[start+1:], '\'')
		if end < 0 {
			break
		}
		end += start + 1

		span := sql[start : end+1]
		if strings.Contains(span, marker) {
			if out == nil {
				out = []byte(sql)
			}
			copy(out[start:end+1], strings.ReplaceAll(span, marker, blanks))
		}
		i = end + 1
	}
	if out == nil {
		return sql
	}
	return string(out)
}

// findMarkers returns the offsets of non-overlapping marker occurrences.
func findMarkers(s, marker string) []int {
	var pos []int
	for i := 0; i <= len(s)-len(marker); {
		j := strings.Index(s[i:], marker)
		if j < 0 {
			break
		}
		pos = append(pos, i+j)
		i += j + len(marker)
	}
	return pos
}
