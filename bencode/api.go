// Package bencode implements the BitTorrent serialization format: signed
// integers, byte strings, ordered lists, and order-preserving dictionaries.
//
// This is a hand-rolled reflection-based codec rather than a dependency on
// an external bencode library. The encoder writes minimal-ASCII integers
// and emits dictionary keys in sorted order: map keys sorted, struct fields
// sorted by their bencode names. It does not keep the key order of decoded
// input, and a struct round trip emits only the fields the struct declares,
// so re-encoding reproduces the original bytes only for input with sorted
// keys and no undeclared fields.
package bencode

import (
	"bufio"
	"bytes"
	"io"
	"reflect"
)

// Marshaler is implemented by types that bencode-encode themselves.
type Marshaler interface {
	MarshalBencode() ([]byte, error)
}

// Unmarshaler is implemented by types that bencode-decode themselves.
type Unmarshaler interface {
	UnmarshalBencode([]byte) error
}

// MarshalTypeError is returned when a type cannot be bencoded (e.g. float).
type MarshalTypeError struct {
	Type reflect.Type
}

func (e *MarshalTypeError) Error() string {
	return "bencode: unsupported type: " + e.Type.String()
}

// UnmarshalInvalidArgError is returned when Unmarshal's argument is not a
// non-nil pointer.
type UnmarshalInvalidArgError struct {
	Type reflect.Type
}

func (e *UnmarshalInvalidArgError) Error() string {
	if e.Type == nil {
		return "bencode: Unmarshal(nil)"
	}
	if e.Type.Kind() != reflect.Ptr {
		return "bencode: Unmarshal(non-pointer " + e.Type.String() + ")"
	}
	return "bencode: Unmarshal(nil " + e.Type.String() + ")"
}

// UnmarshalTypeError is returned when a decoded value has no Go-side home.
type UnmarshalTypeError struct {
	Value string
	Type  reflect.Type
}

func (e *UnmarshalTypeError) Error() string {
	return "bencode: value (" + e.Value + ") is not appropriate for type: " + e.Type.String()
}

// UnmarshalFieldError is returned when a dict key maps to an unexported field.
type UnmarshalFieldError struct {
	Key   string
	Type  reflect.Type
	Field reflect.StructField
}

func (e *UnmarshalFieldError) Error() string {
	return "bencode: key \"" + e.Key + "\" led to an unexported field \"" +
		e.Field.Name + "\" in type: " + e.Type.String()
}

// SyntaxError denotes malformed bencode input.
type SyntaxError struct {
	Offset int64
	What   error
}

func (e *SyntaxError) Error() string {
	return "bencode: syntax error (offset: " + itoa(e.Offset) + "): " + e.What.Error()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// MarshalerError wraps an error from a type's MarshalBencode.
type MarshalerError struct {
	Type reflect.Type
	Err  error
}

func (e *MarshalerError) Error() string {
	return "bencode: error calling MarshalBencode for type " + e.Type.String() + ": " + e.Err.Error()
}

// UnmarshalerError wraps an error from a type's UnmarshalBencode.
type UnmarshalerError struct {
	Type reflect.Type
	Err  error
}

func (e *UnmarshalerError) Error() string {
	return "bencode: error calling UnmarshalBencode for type " + e.Type.String() + ": " + e.Err.Error()
}

// Marshal bencodes v and returns the result.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	e := Encoder{w: bufio.NewWriter(&buf)}
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	if err := e.w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes bencoded data into v, which must be a non-nil pointer.
func Unmarshal(data []byte, v interface{}) error {
	d := Decoder{r: bytes.NewBuffer(data)}
	return d.Decode(v)
}

// NewDecoder creates a streaming Decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// NewEncoder creates a streaming Encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}
