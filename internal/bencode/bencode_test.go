package bencode

import (
	"crypto/sha1"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeString(t *testing.T) {
	v, n, err := Decode([]byte("5:hello"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "hello", v.Str())
}

func TestDecodeNegativeInt(t *testing.T) {
	v, _, err := Decode([]byte("i-42e"))
	require.NoError(t, err)
	assert.EqualValues(t, -42, v.Int)
}

func TestDecodeList(t *testing.T) {
	v, _, err := Decode([]byte("l4:spami7ee"))
	require.NoError(t, err)
	require.Len(t, v.List, 2)
	assert.Equal(t, "spam", v.List[0].Str())
	assert.EqualValues(t, 7, v.List[1].Int)
}

func TestDecodeDict(t *testing.T) {
	v, _, err := Decode([]byte("d3:cow3:moo4:spaml1:a1:bee"))
	require.NoError(t, err)
	assert.Equal(t, "moo", v.Dict["cow"].Str())
	require.Len(t, v.Dict["spam"].List, 2)
	assert.Equal(t, "a", v.Dict["spam"].List[0].Str())
	assert.Equal(t, "b", v.Dict["spam"].List[1].Str())
}

func TestDecodeRejectsNegativeZero(t *testing.T) {
	_, _, err := Decode([]byte("i-0e"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInteger)
}

func TestDecodeRejectsLeadingZero(t *testing.T) {
	_, _, err := Decode([]byte("i03e"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInteger)
}

func TestDecodeAllowsLiteralZero(t *testing.T) {
	v, _, err := Decode([]byte("i0e"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, v.Int)
}

func TestDecodeUnterminatedContainer(t *testing.T) {
	_, _, err := Decode([]byte("l4:spam"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncatedInput)
}

func TestDecodeTruncatedString(t *testing.T) {
	_, _, err := Decode([]byte("5:ab"))
	require.Error(t, err)
}

func TestDecodeUnexpectedByte(t *testing.T) {
	_, _, err := Decode([]byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedByte)
}

func TestDecodeReturnsUnconsumedOffset(t *testing.T) {
	// "2:ab" followed by trailing garbage: decode only consumes the value.
	v, n, err := Decode([]byte("2:abXXXX"))
	require.NoError(t, err)
	assert.Equal(t, "ab", v.Str())
	assert.Equal(t, 4, n)
}

func TestEncodeString(t *testing.T) {
	assert.Equal(t, []byte("4:spam"), Encode(NewString("spam")))
}

func TestEncodeInt(t *testing.T) {
	assert.Equal(t, []byte("i42e"), Encode(NewInt(42)))
	assert.Equal(t, []byte("i0e"), Encode(NewInt(0)))
	assert.Equal(t, []byte("i-42e"), Encode(NewInt(-42)))
}

func TestEncodeList(t *testing.T) {
	v := Value{Kind: KindList, List: []Value{NewString("spam"), NewString("eggs")}}
	assert.Equal(t, []byte("l4:spam4:eggse"), Encode(v))
}

func TestEncodeDictSortsKeys(t *testing.T) {
	v := Value{Kind: KindDict, Dict: map[string]Value{
		"z": NewString("last"),
		"a": NewString("first"),
		"m": NewString("middle"),
	}}
	assert.Equal(t, []byte("d1:a5:first1:m6:middle1:z4:laste"), Encode(v))
}

func TestCanonicalRoundTrip(t *testing.T) {
	for _, b := range []string{
		"5:hello",
		"i-42e",
		"l4:spami7ee",
		"d3:cow3:moo4:spaml1:a1:bee",
		"i0e",
	} {
		v, n, err := Decode([]byte(b))
		require.NoError(t, err)
		assert.Equal(t, len(b), n)
		assert.Equal(t, []byte(b), Encode(v))
	}
}

func TestMarshalJSONMatchesDecodeScenarios(t *testing.T) {
	cases := []struct {
		bencoded string
		want     string
	}{
		{`5:hello`, `"hello"`},
		{`i-42e`, `-42`},
		{`l4:spami7ee`, `["spam",7]`},
		{`d3:cow3:moo4:spaml1:a1:bee`, `{"cow":"moo","spam":["a","b"]}`},
	}
	for _, c := range cases {
		v, _, err := Decode([]byte(c.bencoded))
		require.NoError(t, err)
		got, err := json.Marshal(v)
		require.NoError(t, err)
		assert.JSONEq(t, c.want, string(got))
	}
}

func TestDecodeHashingKeyMatchesExplicitHash(t *testing.T) {
	// d4:infod6:lengthi10eee — "info" maps to d6:lengthi10ee
	raw := "d4:infod6:lengthi10eee"
	_, hash, n, err := DecodeHashingKey([]byte(raw), "info")
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)

	v, _, err := Decode([]byte(raw))
	require.NoError(t, err)
	expected := sha1.Sum(Encode(v.Dict["info"]))
	assert.Equal(t, expected, hash)
}

func TestDecodeHashingKeyHandlesInfoDictLargerThanOneReadBuffer(t *testing.T) {
	// Pad "pieces" well past 4 KiB (roughly 300 pieces) so a fixed-size
	// internal read buffer, if one existed, would have to refill mid-value.
	pieces := make([]byte, 20*300)
	for i := range pieces {
		pieces[i] = byte(i)
	}

	raw := []byte("d8:announce7:foo.bar4:infod6:lengthi1e12:piece lengthi1e6:pieces" +
		strconv.Itoa(len(pieces)) + ":" + string(pieces) + "ee")

	root, hash, n, err := DecodeHashingKey(raw, "info")
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)

	infoBytes := Encode(root.Dict["info"])
	assert.Equal(t, sha1.Sum(infoBytes), hash)
}
