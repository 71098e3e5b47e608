package bencode

import (
	"errors"
	"strconv"
)

// Kind identifies which variant of the bencode tagged sum a Value holds.
type Kind int

// The four bencode variants: signed integer, raw byte string, ordered list,
// and order-preserving dictionary.
const (
	KindInt Kind = iota
	KindString
	KindList
	KindDict
)

// DictEntry is one (key, value) pair of a decoded dictionary, kept in the
// order it appeared on the wire. Bencode dictionaries are conventionally
// key-sorted by producers, but nothing requires a consumer to enforce that,
// and re-sorting here would lose information a caller re-encoding the bytes
// (e.g. for a bit-exact info-hash) would need.
type DictEntry struct {
	Key []byte
	Val *Value
}

// Value is the tagged-sum decode of one bencode term: exactly one of Int,
// Str, List, or Dict is meaningful, selected by Kind. Unlike Unmarshal,
// which decodes straight into a caller-supplied Go type via reflection,
// DecodeValue builds this tree first and leaves interpretation to the
// caller — the shape a variant-typed field (a tracker's "peers" key is
// either a packed byte string or a list of dicts) actually needs, since a
// struct field can't carry two incompatible bencode types at once.
type Value struct {
	Kind Kind
	Int  int64
	Str  []byte
	List []*Value
	Dict []DictEntry
}

var (
	errMissingTerminator = errors.New("bencode: missing 'e' terminator")
	errNonDigitInInteger = errors.New("bencode: non-digit in integer region")
	errUnparsableLength  = errors.New("bencode: unparsable string length")
	errTruncatedString   = errors.New("bencode: truncated string body")
	errNonStringDictKey  = errors.New("bencode: dict key is not a string")
)

// DecodeValue runs a recursive-descent decode of a single bencode term from
// data, starting at offset 0, and returns the term plus the number of bytes
// it consumed. The cursor is an explicit int index into data rather than a
// stream, so a caller holding a full HTTP response body can decode without
// an intermediate io.Reader.
func DecodeValue(data []byte) (*Value, int, error) {
	return decodeValueAt(data, 0)
}

func decodeValueAt(data []byte, pos int) (*Value, int, error) {
	if pos >= len(data) {
		return nil, pos, errTruncatedString
	}
	switch c := data[pos]; {
	case c == 'i':
		return decodeIntAt(data, pos)
	case c == 'l':
		return decodeListAt(data, pos)
	case c == 'd':
		return decodeDictAt(data, pos)
	case c >= '0' && c <= '9':
		return decodeStringAt(data, pos)
	default:
		return nil, pos, errNonDigitInInteger
	}
}

func decodeIntAt(data []byte, pos int) (*Value, int, error) {
	start := pos + 1
	end := start
	for end < len(data) && data[end] != 'e' {
		if data[end] != '-' && (data[end] < '0' || data[end] > '9') {
			return nil, pos, errNonDigitInInteger
		}
		end++
	}
	if end >= len(data) {
		return nil, pos, errMissingTerminator
	}
	n, err := strconv.ParseInt(string(data[start:end]), 10, 64)
	if err != nil {
		return nil, pos, errNonDigitInInteger
	}
	return &Value{Kind: KindInt, Int: n}, end + 1, nil
}

func decodeStringAt(data []byte, pos int) (*Value, int, error) {
	sep := pos
	for sep < len(data) && data[sep] != ':' {
		if data[sep] < '0' || data[sep] > '9' {
			return nil, pos, errUnparsableLength
		}
		sep++
	}
	if sep >= len(data) {
		return nil, pos, errUnparsableLength
	}
	length, err := strconv.ParseInt(string(data[pos:sep]), 10, 64)
	if err != nil || length < 0 {
		return nil, pos, errUnparsableLength
	}
	start := sep + 1
	end := start + int(length)
	if end > len(data) {
		return nil, pos, errTruncatedString
	}
	str := make([]byte, length)
	copy(str, data[start:end])
	return &Value{Kind: KindString, Str: str}, end, nil
}

func decodeListAt(data []byte, pos int) (*Value, int, error) {
	cursor := pos + 1
	var items []*Value
	for {
		if cursor >= len(data) {
			return nil, pos, errMissingTerminator
		}
		if data[cursor] == 'e' {
			cursor++
			break
		}
		v, next, err := decodeValueAt(data, cursor)
		if err != nil {
			return nil, pos, err
		}
		items = append(items, v)
		cursor = next
	}
	return &Value{Kind: KindList, List: items}, cursor, nil
}

func decodeDictAt(data []byte, pos int) (*Value, int, error) {
	cursor := pos + 1
	var entries []DictEntry
	for {
		if cursor >= len(data) {
			return nil, pos, errMissingTerminator
		}
		if data[cursor] == 'e' {
			cursor++
			break
		}
		if cursor >= len(data) || !(data[cursor] >= '0' && data[cursor] <= '9') {
			return nil, pos, errNonStringDictKey
		}
		key, next, err := decodeStringAt(data, cursor)
		if err != nil {
			return nil, pos, err
		}
		cursor = next
		val, next2, err := decodeValueAt(data, cursor)
		if err != nil {
			return nil, pos, err
		}
		cursor = next2
		entries = append(entries, DictEntry{Key: key.Str, Val: val})
	}
	return &Value{Kind: KindDict, Dict: entries}, cursor, nil
}

// Get returns the value mapped to key in a dict Value's entries. Lookup is
// linear, which is fine for the field counts a metafile or tracker response
// actually has.
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.Kind != KindDict {
		return nil, false
	}
	for _, e := range v.Dict {
		if string(e.Key) == key {
			return e.Val, true
		}
	}
	return nil, false
}

// GetInt returns the integer at key, or ok=false if key is absent or not an
// integer.
func (v *Value) GetInt(key string) (int64, bool) {
	e, ok := v.Get(key)
	if !ok || e.Kind != KindInt {
		return 0, false
	}
	return e.Int, true
}

// GetString returns the raw bytes at key, or ok=false if key is absent or
// not a string.
func (v *Value) GetString(key string) ([]byte, bool) {
	e, ok := v.Get(key)
	if !ok || e.Kind != KindString {
		return nil, false
	}
	return e.Str, true
}

// GetList returns the list at key, or ok=false if key is absent or not a
// list.
func (v *Value) GetList(key string) ([]*Value, bool) {
	e, ok := v.Get(key)
	if !ok || e.Kind != KindList {
		return nil, false
	}
	return e.List, true
}
