package bus

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// opaqueFormat is the stand-in text for values JSON cannot represent.
const opaqueFormat = "Internal server data: %T"

// maxNormaliseDepth stops the walk on self-referencing values; encoding/json
// then reports the cycle.
const maxNormaliseDepth = 1000

var (
	timeType          = reflect.TypeOf((*time.Time)(nil)).Elem()
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// decodePayload parses an inbound JSON body.
//
// Numbers keep their precision: integral values become int64 (or uint64 above
// the int64 range) and everything else float64.
func decodePayload(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrDecode)
	}

	v, err := convertNumbers(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return v, nil
}

// convertNumbers replaces json.Number values in a freshly decoded tree.
func convertNumbers(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return convertNumber(t)
	case map[string]any:
		for k, e := range t {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
	case []any:
		for i, e := range t {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
	}
	return v, nil
}

func convertNumber(n json.Number) (any, error) {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("number %s out of range", s)
	}
	return f, nil
}

// clonePayload deep-copies a decoded JSON value so each handler owns its copy.
// Only maps and slices are mutable; scalars are returned as-is.
func clonePayload(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = clonePayload(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clonePayload(e)
		}
		return out
	default:
		return v
	}
}

// EncodePayload serialises an outbound payload to JSON.
//
// Beyond plain encoding/json behaviour, at any depth of structs, maps, slices,
// arrays and pointers:
//   - time.Time values become UTC RFC 3339 text
//   - channels, functions, complex numbers and unsafe pointers become
//     "Internal server data: <type>" instead of failing
//
// Types implementing json.Marshaler or encoding.TextMarshaler encode
// themselves. Struct field names and omitempty follow the json tags.
//
// Returns:
//   - []byte: the encoded payload
//   - error: ErrEncode if encoding/json still rejects the value
func EncodePayload(payload any) ([]byte, error) {
	data, err := json.Marshal(normalise(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

// normalise rewrites values encoding/json cannot handle. Values whose type
// holds nothing to rewrite are returned untouched.
func normalise(v any) any {
	if v == nil {
		return nil
	}
	return normaliseValue(reflect.ValueOf(v), 0)
}

func normaliseValue(rv reflect.Value, depth int) any {
	if !rv.IsValid() {
		return nil
	}

	t := rv.Type()
	if t == timeType {
		return rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano) //nolint:forcetypeassert // checked above
	}
	if depth > maxNormaliseDepth || !needsRewrite(t, map[reflect.Type]bool{}) {
		if rv.CanInterface() {
			return rv.Interface()
		}
		// Tagged embedded struct of an unexported type: its exported fields
		// are still readable.
		if t.Kind() == reflect.Struct {
			return normaliseStruct(rv, depth)
		}
		return nil
	}

	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Sprintf(opaqueFormat, rv.Interface())
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normaliseValue(rv.Elem(), depth+1)
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		return normaliseList(rv, depth)
	case reflect.Array:
		return normaliseList(rv, depth)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		return normaliseMap(rv, depth)
	case reflect.Struct:
		return normaliseStruct(rv, depth)
	default:
		return rv.Interface()
	}
}

func normaliseList(rv reflect.Value, depth int) any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = normaliseValue(rv.Index(i), depth+1)
	}
	return out
}

func normaliseMap(rv reflect.Value, depth int) any {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, ok := mapKey(iter.Key())
		if !ok {
			// Unsupported key type; let encoding/json report it.
			return rv.Interface()
		}
		out[key] = normaliseValue(iter.Value(), depth+1)
	}
	return out
}

// mapKey renders a map key the way encoding/json does.
func mapKey(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.String {
		return k.String(), true
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if k.Kind() == reflect.Pointer && k.IsNil() {
			return "", true
		}
		b, err := tm.MarshalText()
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	default:
		return "", false
	}
}

// structField is one encoded member of a rewritten struct.
type structField struct {
	name  string
	value any
}

// fieldList encodes as a JSON object in declaration order.
type fieldList []structField

// MarshalJSON implements json.Marshaler.
func (f fieldList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(field.name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func normaliseStruct(rv reflect.Value, depth int) any {
	fields := fieldList{}
	direct := directFieldNames(rv.Type())
	appendStructFields(&fields, rv, depth, direct, false)
	return fields
}

// appendStructFields adds the encoded fields of rv. Promoted fields lose to
// fields of the same name declared on the outer struct.
func appendStructFields(out *fieldList, rv reflect.Value, depth int, direct map[string]bool, promoted bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, opts, skip := jsonFieldName(sf)
		if skip {
			continue
		}

		fv := rv.Field(i)
		if sf.Anonymous && !hasTagName(sf) {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				appendStructFields(out, fv, depth+1, direct, true)
				continue
			}
		}

		if promoted && direct[name] {
			continue
		}
		if opts.has("omitempty") && isEmptyValue(fv) {
			continue
		}

		value := normaliseValue(fv, depth+1)
		if opts.has("string") && isScalarKind(fv.Kind()) {
			if b, err := json.Marshal(value); err == nil {
				value = string(b)
			}
		}
		*out = append(*out, structField{name: name, value: value})
	}
}

// directFieldNames returns the JSON names declared on t itself.
func directFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous && !hasTagName(sf) {
			continue
		}
		if name, _, skip := jsonFieldName(sf); !skip {
			names[name] = true
		}
	}
	return names
}

type tagOptions string

func (o tagOptions) has(opt string) bool {
	for _, s := range strings.Split(string(o), ",") {
		if s == opt {
			return true
		}
	}
	return false
}

// jsonFieldName applies the json tag to sf.
func jsonFieldName(sf reflect.StructField) (string, tagOptions, bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", "", true
	}
	if !sf.IsExported() {
		// encoding/json only keeps unexported embedded structs, for their
		// exported fields.
		if !sf.Anonymous || sf.Type.Kind() != reflect.Struct {
			return "", "", true
		}
	}

	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = sf.Name
	}
	return name, tagOptions(opts), false
}

func hasTagName(sf reflect.StructField) bool {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	return name != "" && name != "-"
}

// needsRewrite reports whether values of t can contain anything normalise
// changes. seen guards recursive types.
func needsRewrite(t reflect.Type, seen map[reflect.Type]bool) bool {
	if t == timeType || (t.Kind() == reflect.Pointer && t.Elem() == timeType) {
		return true
	}
	if seen[t] {
		return false
	}
	seen[t] = true

	if t.Kind() != reflect.Interface && (t.Implements(marshalerType) || t.Implements(textMarshalerType)) {
		return false
	}

	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer, reflect.Interface:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return needsRewrite(t.Elem(), seen)
	case reflect.Struct:
		rewrite := false
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if _, _, skip := jsonFieldName(sf); skip {
				continue
			}
			if needsRewrite(sf.Type, seen) {
				rewrite = true
			}
		}
		return rewrite
	default:
		return false
	}
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	default:
		return false
	}
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
