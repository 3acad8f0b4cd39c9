package sqldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------
// Test utilities
// --------------------------------

// newTestCompiler returns a Compiler with default settings that records mismatches.
func newTestCompiler(t *testing.T, cfg Config) (*Compiler, *[]Mismatch) {
	t.Helper()
	var got []Mismatch
	c := NewCompiler(cfg, nil, func(m Mismatch) { got = append(got, m) })
	return c, &got
}

// --------------------------------
// Tests: compile
// --------------------------------

// TestCompile_NoBinds_Unchanged verifies that a template is returned as-is when
// no binds are given or when it contains no marker.
func TestCompile_NoBinds_Unchanged(t *testing.T) {
	c, mm := newTestCompiler(t, Config{})

	for _, q := range []string{
		"SELECT * FROM x WHERE a = ?",
		"SELECT 1",
		"",
		"SELECT '?'",
	} {
		assert.Equal(t, q, c.Compile(q))
	}
	assert.Equal(t, "SELECT 1", c.Compile("SELECT 1", 5))
	assert.Empty(t, *mm, "no binds and no marker are not mismatches")
}

// TestCompile_Substitution covers the basic substitution rules.
func TestCompile_Substitution(t *testing.T) {
	c, mm := newTestCompiler(t, Config{})

	tests := []struct {
		name  string
		sql   string
		binds []any
		want  string
	}{
		{
			name:  "marker inside literal is kept",
			sql:   "SELECT '?' FROM t WHERE id = ?",
			binds: []any{5},
			want:  "SELECT '?' FROM t WHERE id = 5",
		},
		{
			name:  "replacements of different lengths",
			sql:   "a=? AND b=?",
			binds: []any{"x", "hello world"},
			want:  "a='x' AND b='hello world'",
		},
		{
			name:  "slice bind becomes IN list",
			sql:   "SELECT * FROM t WHERE id IN ? AND s = ?",
			binds: []any{[]int{1, 2, 3}, "on"},
			want:  "SELECT * FROM t WHERE id IN (1,2,3) AND s = 'on'",
		},
		{
			name:  "bind value containing the marker",
			sql:   "a=? AND b=?",
			binds: []any{"?", 2},
			want:  "a='?' AND b=2",
		},
		{
			name:  "doubled quote inside literal",
			sql:   "SELECT 'it''s ?', ?",
			binds: []any{1},
			want:  "SELECT 'it''s ?', 1",
		},
		{
			name:  "unterminated quote is not a literal",
			sql:   "SELECT ?, 'abc",
			binds: []any{true},
			want:  "SELECT 1, 'abc",
		},
		{
			name:  "null bool and escaped string",
			sql:   "INSERT INTO t VALUES (?, ?, ?)",
			binds: []any{nil, false, "O'Reilly"},
			want:  "INSERT INTO t VALUES (NULL, 0, 'O''Reilly')",
		},
		{
			name:  "marker at both ends",
			sql:   "??",
			binds: []any{1, 2},
			want:  "12",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Compile(tt.sql, tt.binds...))
		})
	}
	assert.Empty(t, *mm)
}

// TestCompile_Mismatch_Unchanged ensures a bind-count mismatch leaves the
// template untouched and is reported with both counts.
func TestCompile_Mismatch_Unchanged(t *testing.T) {
	c, mm := newTestCompiler(t, Config{})

	q := "SELECT * FROM t WHERE a = ? AND b = '?'"
	assert.Equal(t, q, c.Compile(q, 1, 2))
	require.Len(t, *mm, 1)
	assert.Equal(t, Mismatch{Template: q, Placeholders: 1, Binds: 2}, (*mm)[0])

	q = "SELECT ?, ?, ?"
	assert.Equal(t, q, c.Compile(q, 1))
	require.Len(t, *mm, 2)
	assert.Equal(t, 3, (*mm)[1].Placeholders)
}

// TestCompile_MultiCharMarker verifies offset arithmetic with markers longer
// than one byte, both inside and outside literals.
func TestCompile_MultiCharMarker(t *testing.T) {
	c, mm := newTestCompiler(t, Config{BindMarker: "{?}"})

	got := c.Compile("a={?} AND b='{?}' AND c={?}", 1, "x")
	assert.Equal(t, "a=1 AND b='{?}' AND c='x'", got)
	assert.Equal(t, "{?}", c.Marker())

	// a lone '?' is not the marker
	q := "SELECT ? FROM t"
	assert.Equal(t, q, c.Compile(q, 1))
	assert.Empty(t, *mm)
}

// TestCompile_Tokenizer compares the simple literal scan with the tokenizer on
// statements the simple scan cannot read correctly.
func TestCompile_Tokenizer(t *testing.T) {
	simple, _ := newTestCompiler(t, Config{})
	tok, mm := newTestCompiler(t, Config{LiteralScan: ScanTokenizer})

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"double-quoted literal", `SELECT "?", ?`, `SELECT "?", 7`},
		{"backtick identifier", "SELECT `a?`, ?", "SELECT `a?`, 7"},
		{"line comment", "SELECT ? -- why?\n", "SELECT 7 -- why?\n"},
		{"hash comment", "SELECT ? # why?\n", "SELECT 7 # why?\n"},
		{"block comment", "SELECT /* ? */ ?", "SELECT /* ? */ 7"},
		{"doubled double quote", `SELECT "a""?", ?`, `SELECT "a""?", 7`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Compile(tt.sql, 7))
			// the simple scan sees an extra marker and leaves the text alone
			assert.Equal(t, tt.sql, simple.Compile(tt.sql, 7))
		})
	}
	assert.Equal(t, `SELECT 'a\?', 7`, tok.Compile(`SELECT 'a\?', ?`, 7))
	assert.Empty(t, *mm)

	// backslash is plain text, so 'a\' closes the literal
	q := `SELECT 'a\', ?`
	assert.Equal(t, `SELECT 'a\', 7`, tok.Compile(q, 7))
	assert.Equal(t, simple.Compile(q, 7), tok.Compile(q, 7))

	// "--" only opens a comment when followed by whitespace
	assert.Equal(t, "SELECT a--7", tok.Compile("SELECT a--?", 7))
	assert.Equal(t, "SELECT 1--2", tok.Compile("SELECT ?--?", 1, 2))
	assert.Equal(t, "SELECT 7 --\t?", tok.Compile("SELECT ? --\t?", 7))
	assert.Empty(t, *mm)

	// both agree on plain single-quoted literals
	q = "SELECT 'x?y', ?"
	assert.Equal(t, simple.Compile(q, 1), tok.Compile(q, 1))
}

// TestCompile_Cache verifies cached and uncached compilers produce the same text.
func TestCompile_Cache(t *testing.T) {
	cached := NewCompiler(Config{CacheSize: 2}, nil, nil)
	uncached := NewCompiler(Config{CacheSize: -1}, nil, nil)
	require.NotNil(t, cached.cache)
	require.Nil(t, uncached.cache)

	queries := []string{
		"SELECT ? FROM a WHERE b = '?'",
		"SELECT ?, ? FROM c",
		"SELECT ? FROM a WHERE b = '?'",
		"UPDATE d SET e = ?",
	}
	for i, q := range queries {
		binds := make([]any, len(findMarkers(maskLiterals(q, "?"), "?")))
		for j := range binds {
			binds[j] = i + j
		}
		for round := 0; round < 2; round++ {
			assert.Equal(t, uncached.Compile(q, binds...), cached.Compile(q, binds...))
		}
	}
}

// TestMaskLiterals checks masking keeps the length and hides only literal markers.
func TestMaskLiterals(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a = ?", "a = ?"},
		{"'?' ?", "' ' ?"},
		{"'a''?' ?", "'a'' ' ?"},
		{"'?", "'?"},
		{"'' ? '?'", "'' ? ' '"},
	}
	for _, tt := range tests {
		got := maskLiterals(tt.in, "?")
		assert.Equal(t, tt.want, got, "input %q", tt.in)
		assert.Len(t, got, len(tt.in))
	}
}
