package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalDictionary(t *testing.T) {
	require := require.New(t)

	var v map[string]interface{}
	require.NoError(Unmarshal([]byte("d3:cow3:moo4:spam4:eggse"), &v))
	require.Equal("moo", v["cow"])
	require.Equal("eggs", v["spam"])
}

func TestUnmarshalNegativeInt(t *testing.T) {
	var n int64
	require.NoError(t, Unmarshal([]byte("i-42e"), &n))
	require.Equal(t, int64(-42), n)
}

func TestUnmarshalEmptyString(t *testing.T) {
	var s string
	require.NoError(t, Unmarshal([]byte("0:"), &s))
	require.Equal(t, "", s)
}

func TestUnmarshalEmptyList(t *testing.T) {
	var list []interface{}
	require.NoError(t, Unmarshal([]byte("le"), &list))
	require.Len(t, list, 0)
}

func TestUnmarshalEmptyDict(t *testing.T) {
	var m map[string]interface{}
	require.NoError(t, Unmarshal([]byte("de"), &m))
	require.Len(t, m, 0)
}

func TestUnmarshalNestedList(t *testing.T) {
	var list []interface{}
	require.NoError(t, Unmarshal([]byte("l4:spam4:eggse"), &list))
	require.Equal(t, []interface{}{"spam", "eggs"}, list)
}

func TestUnmarshalRejectsTruncatedInput(t *testing.T) {
	var s string
	require.Error(t, Unmarshal([]byte("5:ab"), &s))
}

func TestUnmarshalRejectsMissingTerminator(t *testing.T) {
	var n int64
	require.Error(t, Unmarshal([]byte("i42"), &n))
}

type sample struct {
	Name   string `bencode:"name"`
	Length int64  `bencode:"length"`
	Extra  string `bencode:"extra,omitempty"`
}

func TestMarshalStructSortsKeysAndHonorsTags(t *testing.T) {
	b, err := Marshal(sample{Name: "test", Length: 12345})
	require.NoError(t, err)
	// Keys sorted lexically: "length" before "name".
	require.Equal(t, "d6:lengthi12345e4:name4:teste", string(b))
}

func TestMarshalStructOmitsEmptyField(t *testing.T) {
	b, err := Marshal(sample{Name: "x", Length: 1})
	require.NoError(t, err)
	require.NotContains(t, string(b), "extra")
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	orig := sample{Name: "torrentfile", Length: 999, Extra: "e"}
	b, err := Marshal(orig)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, Unmarshal(b, &decoded))
	require.Equal(t, "torrentfile", decoded["name"])
	require.Equal(t, int64(999), decoded["length"])
	require.Equal(t, "e", decoded["extra"])
}

func TestMarshalByteSlice(t *testing.T) {
	b, err := Marshal([]byte{0xDE, 0xAD})
	require.NoError(t, err)
	require.Equal(t, "2:\xDE\xAD", string(b))
}

func TestMarshalMapSortsKeys(t *testing.T) {
	b, err := Marshal(map[string]int64{"b": 2, "a": 1})
	require.NoError(t, err)
	require.Equal(t, "d1:ai1e1:bi2ee", string(b))
}

func TestDecodeValueInt(t *testing.T) {
	v, n, err := DecodeValue([]byte("i-42e"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, KindInt, v.Kind)
	require.EqualValues(t, -42, v.Int)
}

func TestDecodeValueStringPreservesRawBytes(t *testing.T) {
	v, n, err := DecodeValue([]byte("4:spamtrailing"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, KindString, v.Kind)
	require.Equal(t, []byte("spam"), v.Str)
}

func TestDecodeValueDictPreservesKeyOrderAndSupportsLookup(t *testing.T) {
	v, _, err := DecodeValue([]byte("d5:spam14:eggs3:cow3:mooe"))
	require.NoError(t, err)
	require.Equal(t, KindDict, v.Kind)
	require.Len(t, v.Dict, 2)
	require.Equal(t, "spam1", string(v.Dict[0].Key))
	require.Equal(t, "cow", string(v.Dict[1].Key))

	cow, ok := v.GetString("cow")
	require.True(t, ok)
	require.Equal(t, "moo", string(cow))

	_, ok = v.GetString("nonexistent")
	require.False(t, ok)
}

func TestDecodeValueListOfMixedTypes(t *testing.T) {
	v, _, err := DecodeValue([]byte("li1ei2e4:spame"))
	require.NoError(t, err)
	require.Equal(t, KindList, v.Kind)
	require.Len(t, v.List, 3)
	require.EqualValues(t, 1, v.List[0].Int)
	require.EqualValues(t, 2, v.List[1].Int)
	require.Equal(t, "spam", string(v.List[2].Str))
}

func TestDecodeValueRejectsMissingTerminator(t *testing.T) {
	_, _, err := DecodeValue([]byte("i42"))
	require.Error(t, err)
}

func TestDecodeValueRejectsTruncatedString(t *testing.T) {
	_, _, err := DecodeValue([]byte("5:ab"))
	require.Error(t, err)
}

func TestDecodeValueRejectsNonStringDictKey(t *testing.T) {
	_, _, err := DecodeValue([]byte("di1e3:fooe"))
	require.Error(t, err)
}

func TestDecodeValueGetIntAndGetListTypeMismatchReturnsFalse(t *testing.T) {
	v, _, err := DecodeValue([]byte("d4:name4:spame"))
	require.NoError(t, err)

	_, ok := v.GetInt("name")
	require.False(t, ok)

	_, ok = v.GetList("name")
	require.False(t, ok)
}
