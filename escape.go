package sqldb

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// timeLayout is the DATETIME literal format used for time.Time values.
const timeLayout = "2006-01-02 15:04:05.999999"

// Escaper renders Go values as SQL literals that are safe to concatenate
// into statement text. The zero value is not usable; see NewEscaper.
//
// Quotes are escaped by doubling only, so a backslash is ordinary text. That
// holds only under the NO_BACKSLASH_ESCAPES sql_mode, which every session
// enables on connect; literals sent over other connections must run with it too.
type Escaper struct {
	escapeChar    string
	likeEscapeStr string
	likeEscapeChr string
	likeReplacer  *strings.Replacer
}

// NewEscaper returns an Escaper using the identifier and LIKE conventions of cfg.
// Empty fields fall back to their defaults.
func NewEscaper(cfg Config) *Escaper {
	cfg = cfg.withDefaults()
	ch := cfg.LikeEscapeChr
	return &Escaper{
		escapeChar:    cfg.EscapeChar,
		likeEscapeStr: cfg.LikeEscapeStr,
		likeEscapeChr: ch,
		likeReplacer:  strings.NewReplacer(ch, ch+ch, "%", ch+"%", "_", ch+"_"),
	}
}

// Escape renders v as a SQL literal:
//   - nil (and nil pointers) → NULL
//   - bool → 0 or 1
//   - integers and floats → their decimal text, unquoted
//   - strings, []byte, fmt.Stringer and anything else → a quoted string
//   - time.Time → a quoted DATETIME
//   - driver.Valuer → the literal of its Value()
//   - slices and arrays → (e1,e2,...) for IN lists
func (e *Escaper) Escape(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return e.quote(val)
	case []byte:
		if val == nil {
			return "NULL"
		}
		return e.quote(string(val))
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return e.float(float64(val), 32)
	case float64:
		return e.float(val, 64)
	case time.Time:
		return e.quote(val.Format(timeLayout))
	case driver.Valuer:
		if rv := reflect.ValueOf(val); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "NULL"
		}
		dv, err := val.Value()
		if err != nil {
			return "NULL"
		}
		return e.Escape(dv)
	case *time.Time:
		if val == nil {
			return "NULL"
		}
		return e.Escape(*val)
	case fmt.Stringer:
		if rv := reflect.ValueOf(val); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "NULL"
		}
		return e.quote(val.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "NULL"
		}
		return e.Escape(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.quote(string(rv.Bytes()))
		}
		return e.list(rv)
	case reflect.Bool:
		return e.Escape(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return e.float(rv.Float(), rv.Type().Bits())
	case reflect.String:
		return e.quote(rv.String())
	}
	return e.quote(fmt.Sprint(v))
}

// EscapeString doubles single quotes and strips invisible control characters.
// The result is not wrapped in quotes.
func (e *Escaper) EscapeString(s string) string {
	return strings.ReplaceAll(removeInvisible(s), "'", "''")
}

// EscapeLike is EscapeString plus escaping of the LIKE wildcards % and _ and
// of the escape character itself, for use with LikeEscapeClause.
func (e *Escaper) EscapeLike(s string) string {
	return e.likeReplacer.Replace(e.EscapeString(s))
}

// LikeEscapeClause returns the ESCAPE clause matching EscapeLike,
// " ESCAPE '!' " with the defaults.
func (e *Escaper) LikeEscapeClause() string {
	return fmt.Sprintf(e.likeEscapeStr, e.EscapeString(e.likeEscapeChr))
}

// EscapeIdentifier quotes a possibly qualified identifier ("schema.table")
// part by part with the identifier escape character. A "*" part is left bare.
func (e *Escaper) EscapeIdentifier(name string) string {
	if e.escapeChar == "" {
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" {
			continue
		}
		p = strings.ReplaceAll(p, e.escapeChar, e.escapeChar+e.escapeChar)
		parts[i] = e.escapeChar + p + e.escapeChar
	}
	return strings.Join(parts, ".")
}

func (e *Escaper) quote(s string) string {
	return "'" + e.EscapeString(s) + "'"
}

// float renders finite values unquoted; NaN and infinities are not valid
// numeric literals so they go out as strings.
func (e *Escaper) float(f float64, bits int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return e.quote(strconv.FormatFloat(f, 'f', -1, bits))
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// list renders a slice or array as a parenthesized IN list.
func (e *Escaper) list(rv reflect.Value) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.Escape(rv.Index(i).Interface()))
	}
	b.WriteByte(')')
	return b.String()
}

// removeInvisible drops ASCII control characters except tab, LF and CR.
func removeInvisible(s string) string {
	if strings.IndexFunc(s, isInvisible) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isInvisible(r) {
			return -1
		}
		return r
	}, s)
}

func isInvisible(r rune) bool {
	return (r <= 0x08) || r == 0x0b || r == 0x0c || (r >= 0x0e && r <= 0x1f) || r == 0x7f
}
