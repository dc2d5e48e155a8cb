package compiler

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"unicode/utf8"
)

const (
	DefaultMaxString = 200
	DefaultMaxArray  = 10
)

// Bound applies deterministic size limits to arbitrary payloads.
// A zero field disables that limit.
type Bound struct {
	MaxString int
	MaxArray  int
}

// DefaultBound is the limit used for prompt dumps and judge payloads.
func DefaultBound() Bound {
	return Bound{MaxString: DefaultMaxString, MaxArray: DefaultMaxArray}
}

// Truncate shortens s to MaxString runes and appends a marker with the dropped count.
func (b Bound) Truncate(s string) string {
	if b.MaxString <= 0 {
		return s
	}
	n := utf8.RuneCountInString(s)
	if n <= b.MaxString {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s…[truncated %d chars]", string(runes[:b.MaxString]), n-b.MaxString)
}

// Apply returns a bounded copy of v: strings truncated, slices sampled to their
// first MaxArray items followed by a count marker, maps and structs walked recursively.
func (b Bound) Apply(v any) any {
	if v == nil {
		return nil
	}
	return b.apply(reflect.ValueOf(v))
}

func (b Bound) apply(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return b.apply(rv.Elem())
	case reflect.String:
		return b.Truncate(rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return b.Truncate(string(rv.Bytes()))
		}
		n := rv.Len()
		keep := n
		if b.MaxArray > 0 && n > b.MaxArray {
			keep = b.MaxArray
		}
		out := make([]any, 0, keep+1)
		for i := 0; i < keep; i++ {
			out = append(out, b.apply(rv.Index(i)))
		}
		if keep < n {
			out = append(out, fmt.Sprintf("…[%d more items]", n-keep))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = b.apply(iter.Value())
		}
		return out
	case reflect.Struct:
		// Round-trip through JSON so struct tags decide the field names.
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return b.Truncate(fmt.Sprint(rv.Interface()))
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return b.Truncate(string(data))
		}
		return b.Apply(generic)
	default:
		return rv.Interface()
	}
}

// JSON renders the bounded value as indented JSON.
func (b Bound) JSON(v any) string {
	data, err := json.MarshalIndent(b.Apply(v), "", "  ")
	if err != nil {
		return b.Truncate(fmt.Sprint(v))
	}
	return string(data)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
