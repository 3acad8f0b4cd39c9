package sqldb

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Row is a single result row keyed by column name. Text and blob columns are
// returned as string.
type Row map[string]any

// Field describes a result column.
type Field struct {
	Name      string
	Type      string // database type name, e.g. "VARCHAR"
	Nullable  bool
	Length    int64 // 0 when the driver does not report one
	Precision int64
	Scale     int64
}

// Result is the handle of an executed query. Every fetch (Row, Rows, Fields,
// Scan) consumes the handle and releases it; fetching again afterwards
// returns an empty value instead of failing.
type Result struct {
	rows *sql.Rows
}

const fieldCacheSize = 512

var fieldCache, _ = lru.New[reflect.Type, map[string][]int](fieldCacheSize)

func newResult(rows *sql.Rows) *Result {
	return &Result{rows: rows}
}

func (r *Result) freed() bool { return r == nil || r.rows == nil }

// Free releases the handle. Safe to call multiple times.
func (r *Result) Free() error {
	if r.freed() {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	return err
}

// Row returns the next row and releases the handle. It returns a nil Row at
// end of results or when the handle was already released.
func (r *Result) Row() (Row, error) {
	if r.freed() {
		return nil, nil
	}
	defer r.Free()

	cols, err := r.rows.Columns()
	if err != nil {
		return nil, err
	}
	if !r.rows.Next() {
		return nil, r.rows.Err()
	}
	return scanRow(r.rows, cols)
}

// Rows returns every remaining row and releases the handle. A released
// handle yields an empty slice.
func (r *Result) Rows() ([]Row, error) {
	if r.freed() {
		return []Row{}, nil
	}
	defer r.Free()

	cols, err := r.rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []Row{}
	for r.rows.Next() {
		row, err := scanRow(r.rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, r.rows.Err()
}

// Fields returns the column metadata and releases the handle. A released
// handle yields an empty slice.
func (r *Result) Fields() ([]Field, error) {
	if r.freed() {
		return []Field{}, nil
	}
	defer r.Free()

	types, err := r.rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := make([]Field, len(types))
	for i, ct := range types {
		f := Field{Name: ct.Name(), Type: ct.DatabaseTypeName()}
		if n, ok := ct.Nullable(); ok {
			f.Nullable = n
		}
		if l, ok := ct.Length(); ok {
			f.Length = l
		}
		if p, s, ok := ct.DecimalSize(); ok {
			f.Precision, f.Scale = p, s
		}
		out[i] = f
	}
	return out, nil
}

// Scan fills dest from the result and releases the handle. dest may be:
//   - a pointer to a struct (first row; `db` tags or field names match columns)
//   - a pointer to a single-column value (first row)
//   - a pointer to a slice of any of the above, or of struct pointers (all rows)
//
// Scanning a single value from an empty result returns sql.ErrNoRows.
// Columns without a matching field are discarded.
func (r *Result) Scan(dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: dest must be a non-nil pointer", ErrUnsupportedDest)
	}
	if r.freed() {
		return sql.ErrNoRows
	}
	defer r.Free()

	cols, err := r.rows.Columns()
	if err != nil {
		return err
	}
	rv = rv.Elem()

	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		rv.Set(rv.Slice(0, 0))
		elemT := rv.Type().Elem()
		isPtr := elemT.Kind() == reflect.Pointer
		if isPtr {
			elemT = elemT.Elem()
		}
		for r.rows.Next() {
			ev := reflect.New(elemT)
			if err := scanInto(r.rows, cols, ev.Elem()); err != nil {
				return err
			}
			if isPtr {
				rv.Set(reflect.Append(rv, ev))
			} else {
				rv.Set(reflect.Append(rv, ev.Elem()))
			}
		}
		return r.rows.Err()
	}

	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return scanInto(r.rows, cols, rv)
}

// scanRow reads the current row into a Row.
func scanRow(rows *sql.Rows, cols []string) (Row, error) {
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(cols))
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			row[c] = string(b)
			continue
		}
		row[c] = vals[i]
	}
	return row, nil
}

// scanInto reads the current row into dst, a struct or a single value.
func scanInto(rows *sql.Rows, cols []string, dst reflect.Value) error {
	if dst.Kind() != reflect.Struct || reflect.PointerTo(dst.Type()).Implements(scannerIface) || isTimeType(dst.Type()) {
		if len(cols) != 1 {
			return fmt.Errorf("%w: scanning into %s requires 1 column, got %d", ErrUnsupportedDest, dst.Type(), len(cols))
		}
		return rows.Scan(dst.Addr().Interface())
	}

	index := fieldIndex(dst.Type())
	targets := make([]any, len(cols))
	for i, c := range cols {
		path, ok := index[c]
		if !ok {
			targets[i] = new(any)
			continue
		}
		targets[i] = fieldByIndexAlloc(dst, path).Addr().Interface()
	}
	return rows.Scan(targets...)
}

var scannerIface = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

func isTimeType(t reflect.Type) bool {
	return t.PkgPath() == "time" && t.Name() == "Time"
}

// fieldIndex maps column names to field index paths for struct type t.
// Names come from the `db` tag, else the field name; `db:"-"` skips a field.
// Embedded structs are flattened; the outermost field wins on collisions.
func fieldIndex(t reflect.Type) map[string][]int {
	if m, ok := fieldCache.Get(t); ok {
		return m
	}
	m := make(map[string][]int, t.NumField())
	var walk func(rt reflect.Type, path []int, depth int)
	walk = func(rt reflect.Type, path []int, depth int) {
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			tag := f.Tag.Get("db")
			if tag == "-" {
				continue
			}
			idx := append(append([]int(nil), path...), i)
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if f.Anonymous && tag == "" && ft.Kind() == reflect.Struct && !isTimeType(ft) && depth < 8 {
				walk(ft, idx, depth+1)
				continue
			}
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if n, _, _ := strings.Cut(tag, ","); n != "" {
				name = n
			}
			if prev, exists := m[name]; exists && len(prev) <= len(idx) {
				continue
			}
			m[name] = idx
		}
	}
	walk(t, nil, 0)
	fieldCache.Add(t, m)
	return m
}

// fieldByIndexAlloc is like FieldByIndex but allocates nil embedded pointers.
func fieldByIndexAlloc(v reflect.Value, path []int) reflect.Value {
	for i, idx := range path {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	return v
}
