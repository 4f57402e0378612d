// Package fieldmap maps `db` struct tags to struct fields so records can be
// read and written by column name.
package fieldmap

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

var ErrUnknownColumn = errors.New("fieldmap: unknown column")

var (
	cacheMu sync.RWMutex
	cache   = map[reflect.Type]map[string][]int{}
	timeTyp = reflect.TypeOf(time.Time{})
)

// Columns lists the tagged columns of v in declaration order.
func Columns(v any) []string {
	t := structType(reflect.TypeOf(v))
	if t == nil {
		return nil
	}
	var cols []string
	collect(t, nil, func(col string, _ []int) {
		cols = append(cols, col)
	})
	return cols
}

// Get returns the value of column on v, which must be a pointer to a struct.
func Get(v any, column string) (any, error) {
	field, err := lookup(v, column)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns value to column on v. nil clears the field. Values are converted
// between T and *T and between numeric kinds.
func Set(v any, column string, value any) error {
	field, err := lookup(v, column)
	if err != nil {
		return err
	}
	if err := assign(field, value); err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	return nil
}

// Add adds delta to an integer column.
func Add(v any, column string, delta int) error {
	field, err := lookup(v, column)
	if err != nil {
		return err
	}
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		field.SetInt(field.Int() + int64(delta))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		field.SetUint(uint64(int64(field.Uint()) + int64(delta)))
	default:
		return fmt.Errorf("add %s: column is %s, not an integer", column, field.Kind())
	}
	return nil
}

// Pointers returns the addresses of the fields behind columns, for scanning.
func Pointers(v any, columns []string) ([]any, error) {
	out := make([]any, 0, len(columns))
	for _, column := range columns {
		field, err := lookup(v, column)
		if err != nil {
			return nil, err
		}
		out = append(out, field.Addr().Interface())
	}
	return out, nil
}

// Values returns the values of columns on v.
func Values(v any, columns []string) ([]any, error) {
	out := make([]any, 0, len(columns))
	for _, column := range columns {
		value, err := Get(v, column)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// Clone returns a pointer to a shallow copy of the struct v points to.
func Clone(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return v
	}
	out := reflect.New(rv.Elem().Type())
	out.Elem().Set(rv.Elem())
	return out.Interface()
}

// New returns a pointer to a new zero value of the struct type v points to.
func New(v any) any {
	t := reflect.TypeOf(v)
	if t == nil || t.Kind() != reflect.Pointer {
		return nil
	}
	return reflect.New(t.Elem()).Interface()
}

func lookup(v any, column string) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("fieldmap: %T is not a pointer to a struct", v)
	}

	index, ok := fields(rv.Elem().Type())[column]
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s on %T", ErrUnknownColumn, column, v)
	}
	field, err := rv.Elem().FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("fieldmap: %s on %T: %w", column, v, err)
	}
	return field, nil
}

func fields(t reflect.Type) map[string][]int {
	cacheMu.RLock()
	m, ok := cache[t]
	cacheMu.RUnlock()
	if ok {
		return m
	}

	m = map[string][]int{}
	collect(t, nil, func(col string, index []int) {
		if _, dup := m[col]; !dup {
			m[col] = index
		}
	})

	cacheMu.Lock()
	cache[t] = m
	cacheMu.Unlock()
	return m
}

func collect(t reflect.Type, prefix []int, fn func(col string, index []int)) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		tag := sf.Tag.Get("db")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")

		if sf.Anonymous && name == "" {
			if et := structType(sf.Type); et != nil && sf.Type.Kind() == reflect.Struct {
				collect(et, index, fn)
			}
			continue
		}
		if name == "" || !sf.IsExported() {
			continue
		}
		fn(name, index)
	}
}

func structType(t reflect.Type) reflect.Type {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == timeTyp {
		return nil
	}
	return t
}

func assign(field reflect.Value, value any) error {
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	rv := reflect.ValueOf(value)
	ft := field.Type()

	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		field.Set(reflect.Zero(ft))
		return nil
	}

	switch {
	case rv.Type().AssignableTo(ft):
		field.Set(rv)
	case ft.Kind() == reflect.Pointer && rv.Type().AssignableTo(ft.Elem()):
		ptr := reflect.New(ft.Elem())
		ptr.Elem().Set(rv)
		field.Set(ptr)
	case rv.Kind() == reflect.Pointer && rv.Elem().Type().AssignableTo(ft):
		field.Set(rv.Elem())
	case numeric(rv.Kind()) && numeric(ft.Kind()):
		field.Set(rv.Convert(ft))
	default:
		return fmt.Errorf("cannot assign %s to %s", rv.Type(), ft)
	}
	return nil
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
