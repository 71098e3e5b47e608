package bencode

import (
	"bufio"
	"reflect"
	"sort"
	"strconv"
)

// Encoder is a bencode stream encoder.
type Encoder struct {
	w *bufio.Writer
}

// Encode bencodes v and writes it to the underlying writer.
func (e *Encoder) Encode(v interface{}) error {
	return e.encodeValue(reflect.ValueOf(v))
}

func (e *Encoder) writeString(s string) error {
	_, err := e.w.WriteString(s)
	return err
}

func (e *Encoder) encodeValue(v reflect.Value) error {
	if !v.IsValid() {
		return e.writeString("0:")
	}

	if m, ok := marshalerOf(v); ok {
		b, err := m.MarshalBencode()
		if err != nil {
			return &MarshalerError{Type: v.Type(), Err: err}
		}
		_, err = e.w.Write(b)
		return err
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return e.writeString("0:")
		}
		return e.encodeValue(v.Elem())
	case reflect.Interface:
		return e.encodeValue(v.Elem())
	case reflect.Bool:
		if v.Bool() {
			return e.writeString("i1e")
		}
		return e.writeString("i0e")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeString("i" + strconv.FormatInt(v.Int(), 10) + "e")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return e.writeString("i" + strconv.FormatUint(v.Uint(), 10) + "e")
	case reflect.String:
		return e.writeBytes([]byte(v.String()))
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return e.encodeByteSlice(v)
		}
		return e.encodeList(v)
	case reflect.Map:
		return e.encodeMap(v)
	case reflect.Struct:
		return e.encodeStruct(v)
	default:
		return &MarshalTypeError{Type: v.Type()}
	}
}

func marshalerOf(v reflect.Value) (Marshaler, bool) {
	if v.CanInterface() {
		if m, ok := v.Interface().(Marshaler); ok {
			return m, true
		}
	}
	if v.CanAddr() {
		if m, ok := v.Addr().Interface().(Marshaler); ok {
			return m, true
		}
	}
	return nil, false
}

func (e *Encoder) writeBytes(b []byte) error {
	if err := e.writeString(strconv.Itoa(len(b)) + ":"); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) encodeByteSlice(v reflect.Value) error {
	var b []byte
	if v.Kind() == reflect.Array {
		b = make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(b), v)
	} else {
		b = v.Bytes()
	}
	return e.writeBytes(b)
}

func (e *Encoder) encodeList(v reflect.Value) error {
	if err := e.writeString("l"); err != nil {
		return err
	}
	for i := 0; i < v.Len(); i++ {
		if err := e.encodeValue(v.Index(i)); err != nil {
			return err
		}
	}
	return e.writeString("e")
}

func (e *Encoder) encodeMap(v reflect.Value) error {
	if v.Type().Key().Kind() != reflect.String {
		return &MarshalTypeError{Type: v.Type()}
	}

	keys := v.MapKeys()
	skeys := make([]string, len(keys))
	for i, k := range keys {
		skeys[i] = k.String()
	}
	sort.Strings(skeys)

	if err := e.writeString("d"); err != nil {
		return err
	}
	for _, sk := range skeys {
		if err := e.writeBytes([]byte(sk)); err != nil {
			return err
		}
		if err := e.encodeValue(v.MapIndex(reflect.ValueOf(sk))); err != nil {
			return err
		}
	}
	return e.writeString("e")
}

type structField struct {
	name string
	val  reflect.Value
	omit bool
}

// encodeStruct emits fields in sorted-by-key order, matching the way the
// decoder resolves struct fields by bencode tag or field name regardless of
// declaration order, and matching Go's own encoding/json convention for
// deterministic struct output.
func (e *Encoder) encodeStruct(v reflect.Value) error {
	t := v.Type()

	var fields []structField
	for i, n := 0, t.NumField(); i < n; i++ {
		f := t.Field(i)
		if f.PkgPath != "" || f.Anonymous {
			continue
		}
		tag := f.Tag.Get("bencode")
		if tag == "-" {
			continue
		}

		name, opts := parseTag(tag)
		if name == "" {
			name = f.Name
		}

		fv := v.Field(i)
		if opts.contains("omitempty") && isEmptyValue(fv) {
			continue
		}

		fields = append(fields, structField{name: name, val: fv})
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	if err := e.writeString("d"); err != nil {
		return err
	}
	for _, f := range fields {
		if err := e.writeBytes([]byte(f.name)); err != nil {
			return err
		}
		if err := e.encodeValue(f.val); err != nil {
			return err
		}
	}
	return e.writeString("e")
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	default:
		return false
	}
}
