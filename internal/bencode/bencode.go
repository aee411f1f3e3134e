// Package bencode implements the self-describing binary encoding used by
// torrent metainfo files and tracker responses: signed integers, raw byte
// strings, ordered lists and ordered dictionaries.
package bencode

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/pkg/errors"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInteger Kind = iota
	KindString
	KindList
	KindDict
)

// Value is a decoded bencode node. Exactly one of the fields matching Kind
// is meaningful; Bytes holds byte-string payloads verbatim and is never
// assumed to be UTF-8. DictOrder records the key order as it appeared on
// the wire; Encode always re-emits keys in lexicographic order regardless.
type Value struct {
	Kind      Kind
	Int       int64
	Bytes     []byte
	List      []Value
	Dict      map[string]Value
	DictOrder []string
}

// Str returns Bytes as a string, for the common case of ASCII dictionary
// values (names, announce URLs). It performs no encoding validation.
func (v Value) Str() string { return string(v.Bytes) }

// Decode errors, per spec §4.1/§7.
var (
	ErrUnexpectedByte      = errors.New("bencode: unexpected byte")
	ErrInvalidInteger      = errors.New("bencode: invalid integer")
	ErrInvalidStringLength = errors.New("bencode: invalid string length")
	ErrTruncatedInput      = errors.New("bencode: truncated input")
	ErrMissingDictValue    = errors.New("bencode: dictionary missing value for key")
)

// Decode parses the first bencoded value from data and returns it along
// with the index of the first unconsumed byte.
func Decode(data []byte) (Value, int, error) {
	d := &decoder{data: data}
	v, err := d.decodeValue()
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.pos, nil
}

// DecodeHashingKey parses a single bencoded dictionary from data, exactly
// like Decode, but additionally returns the SHA-1 digest of the raw bytes
// of the value associated with hashKey at the top level of that
// dictionary. This is how the 20-byte info-hash (§3, §4.1) is computed:
// over the exact byte range that appeared in the source, avoiding a
// recode round-trip through a potentially non-canonical encoder.
func DecodeHashingKey(data []byte, hashKey string) (Value, [20]byte, int, error) {
	d := &decoder{data: data, hashKey: hashKey}
	v, err := d.decodeValue()
	if err != nil {
		return Value{}, [20]byte{}, 0, err
	}
	if !d.hashed {
		return Value{}, [20]byte{}, 0, errors.Wrapf(ErrMissingDictValue, "key %q not found", hashKey)
	}
	return v, d.hash, d.pos, nil
}

// decoder walks data with a plain index cursor. Since the whole input is
// already in memory, the byte range of any sub-value being hashed is just
// a slice of data between two cursor positions — no separate capture
// buffer is needed.
type decoder struct {
	data    []byte
	pos     int
	hashKey string
	hash    [20]byte
	hashed  bool
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, errors.Wrap(ErrTruncatedInput, "unexpected end of input")
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) unreadByte() {
	d.pos--
}

func (d *decoder) decodeValue() (Value, error) {
	b, err := d.readByte()
	if err != nil {
		return Value{}, err
	}
	switch {
	case b == 'i':
		return d.decodeInt()
	case b == 'l':
		return d.decodeList()
	case b == 'd':
		return d.decodeDict()
	case b >= '0' && b <= '9':
		d.unreadByte()
		return d.decodeString()
	default:
		return Value{}, errors.Wrapf(ErrUnexpectedByte, "%q", b)
	}
}

func (d *decoder) decodeInt() (Value, error) {
	var digits []byte
	for {
		b, err := d.readByte()
		if err != nil {
			return Value{}, err
		}
		if b == 'e' {
			break
		}
		digits = append(digits, b)
	}
	if len(digits) == 0 {
		return Value{}, errors.Wrap(ErrInvalidInteger, "empty integer")
	}
	s := string(digits)
	if s == "-0" {
		return Value{}, errors.Wrap(ErrInvalidInteger, "negative zero")
	}
	neg := s[0] == '-'
	digitsOnly := s
	if neg {
		digitsOnly = s[1:]
	}
	if len(digitsOnly) == 0 || (len(digitsOnly) > 1 && digitsOnly[0] == '0') {
		return Value{}, errors.Wrapf(ErrInvalidInteger, "leading zero in %q", s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, errors.Wrapf(ErrInvalidInteger, "%q", s)
	}
	return Value{Kind: KindInteger, Int: n}, nil
}

func (d *decoder) decodeString() (Value, error) {
	var digits []byte
	for {
		b, err := d.readByte()
		if err != nil {
			return Value{}, err
		}
		if b == ':' {
			break
		}
		if b < '0' || b > '9' {
			return Value{}, errors.Wrapf(ErrInvalidStringLength, "non-digit %q", b)
		}
		digits = append(digits, b)
	}
	length, err := strconv.ParseUint(string(digits), 10, 63)
	if err != nil {
		return Value{}, errors.Wrapf(ErrInvalidStringLength, "%q", digits)
	}
	buf := make([]byte, length)
	for i := range buf {
		b, err := d.readByte()
		if err != nil {
			return Value{}, err
		}
		buf[i] = b
	}
	return Value{Kind: KindString, Bytes: buf}, nil
}

func (d *decoder) decodeList() (Value, error) {
	var list []Value
	for {
		b, err := d.readByte()
		if err != nil {
			return Value{}, err
		}
		if b == 'e' {
			return Value{Kind: KindList, List: list}, nil
		}
		d.unreadByte()
		v, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		list = append(list, v)
	}
}

func (d *decoder) decodeDict() (Value, error) {
	// Only the outermost dictionary (whose 'd' is data[0]) is searched for
	// hashKey.
	topLevel := d.pos == 1
	dict := make(map[string]Value)
	var order []string
	for {
		b, err := d.readByte()
		if err != nil {
			return Value{}, err
		}
		if b == 'e' {
			return Value{Kind: KindDict, Dict: dict, DictOrder: order}, nil
		}
		d.unreadByte()
		keyVal, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		if keyVal.Kind != KindString {
			return Value{}, errors.Wrap(ErrUnexpectedByte, "dictionary key must be a byte string")
		}
		key := keyVal.Str()

		capturing := topLevel && d.hashKey != "" && key == d.hashKey && !d.hashed
		captureStart := d.pos
		val, err := d.decodeValue()
		if err != nil {
			return Value{}, err
		}
		if capturing {
			d.hash = sha1.Sum(d.data[captureStart:d.pos])
			d.hashed = true
		}

		dict[key] = val
		order = append(order, key)
	}
}

// Encode renders v in canonical form: unpadded integers, length-prefixed
// byte strings, lists between l...e, and dictionaries between d...e with
// keys emitted in ascending byte-lexicographic order.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeTo(&buf, v)
	return buf.Bytes()
}

func encodeTo(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInteger:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.Bytes)))
		buf.WriteByte(':')
		buf.Write(v.Bytes)
	case KindList:
		buf.WriteByte('l')
		for _, elem := range v.List {
			encodeTo(buf, elem)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		for _, k := range slices.Sorted(maps.Keys(v.Dict)) {
			buf.WriteString(strconv.Itoa(len(k)))
			buf.WriteByte(':')
			buf.WriteString(k)
			encodeTo(buf, v.Dict[k])
		}
		buf.WriteByte('e')
	}
}

// String renders a value as a debugging-friendly representation (used in
// error messages and test failures, not for program output).
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindString:
		return fmt.Sprintf("%q", v.Bytes)
	case KindList:
		return fmt.Sprintf("%v", v.List)
	case KindDict:
		return fmt.Sprintf("%v", v.Dict)
	default:
		return "<invalid>"
	}
}

// MarshalJSON renders v as the JSON value spec.md's "decode" command is
// expected to print (§8): integers as JSON numbers, byte strings as JSON
// strings, lists and dictionaries recursively, dictionary keys sorted by
// encoding/json's usual map-key ordering.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInteger:
		return json.Marshal(v.Int)
	case KindString:
		return json.Marshal(v.Str())
	case KindList:
		return json.Marshal(v.List)
	case KindDict:
		return json.Marshal(v.Dict)
	default:
		return json.Marshal(nil)
	}
}

// NewString builds a KindString Value from a plain Go string.
func NewString(s string) Value { return Value{Kind: KindString, Bytes: []byte(s)} }

// NewInt builds a KindInteger Value.
func NewInt(n int64) Value { return Value{Kind: KindInteger, Int: n} }
