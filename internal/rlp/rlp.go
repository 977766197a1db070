// Package rlp implements Recursive Length Prefix encoding, Ethereum's
// canonical serialization (spec.md GLOSSARY). Per spec.md §1 the RLP
// codec is a deliberately out-of-scope external collaborator,
// "specified only by interface: a pure encode/decode over byte
// slices" — this package is exactly that narrow surface (EncodeString,
// EncodeList, Decode over an Item tree), not a general reflection-based
// marshaler. It exists because the MPT state-root computation (spec.md
// §4.C.4) and the wire header format (spec.md §6) both need a real,
// Yellow-Paper-correct codec to produce verifiable hashes; nothing
// here is part of the spec's hard core.
package rlp

import (
	"encoding/binary"
	"fmt"

	"github.com/monad-crypto/monad-exec/internal/xerrors"
)

const (
	strSingleByteMax = 0x7f
	strShortMax      = 0xb7
	strLongMax       = 0xbf
	listShortMax     = 0xf7
)

// EncodeString encodes a single byte string per RLP's string rules.
func EncodeString(s []byte) []byte {
	if len(s) == 1 && s[0] <= strSingleByteMax {
		return []byte{s[0]}
	}
	return encodeHeaderPlusBody(0x80, strShortMax, s)
}

// EncodeList encodes the concatenation of already-RLP-encoded items
// as a single list.
func EncodeList(items ...[]byte) []byte {
	var body []byte
	for _, it := range items {
		body = append(body, it...)
	}
	return encodeHeaderPlusBody(0xc0, listShortMax, body)
}

// EncodeUint encodes an unsigned integer as its minimal big-endian
// byte string (leading zero bytes stripped; zero encodes as the empty
// string), matching RLP's canonical integer representation.
func EncodeUint(v uint64) []byte {
	if v == 0 {
		return EncodeString(nil)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < len(buf) && buf[i] == 0 {
		i++
	}
	return EncodeString(buf[i:])
}

func encodeHeaderPlusBody(shortBase, shortMax byte, body []byte) []byte {
	n := len(body)
	if n < int(shortMax-shortBase)+1 {
		out := make([]byte, 0, 1+n)
		out = append(out, shortBase+byte(n))
		return append(out, body...)
	}
	lenBytes := minimalBigEndian(uint64(n))
	out := make([]byte, 0, 1+len(lenBytes)+n)
	out = append(out, shortMax+1+byte(len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, body...)
}

func minimalBigEndian(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// Item is a decoded RLP value: either a byte string (List == nil) or
// a list of items.
type Item struct {
	Bytes []byte
	List  []Item
	isList bool
}

func (it Item) IsList() bool { return it.isList }

// Decode parses exactly one RLP item from the front of b and returns
// it along with any trailing bytes.
func Decode(b []byte) (Item, []byte, error) {
	if len(b) == 0 {
		return Item{}, nil, xerrors.NewDecodeError(xerrors.InputTooShort, "empty input")
	}
	first := b[0]
	switch {
	case first <= strSingleByteMax:
		return Item{Bytes: b[0:1]}, b[1:], nil
	case first <= strShortMax:
		n := int(first - 0x80)
		if len(b) < 1+n {
			return Item{}, nil, xerrors.NewDecodeError(xerrors.InputTooShort, "short string")
		}
		content := b[1 : 1+n]
		if n == 1 && content[0] <= strSingleByteMax {
			return Item{}, nil, xerrors.NewDecodeError(xerrors.UnknownType, "non-canonical single byte string")
		}
		return Item{Bytes: content}, b[1+n:], nil
	case first <= strLongMax:
		lenOfLen := int(first - strShortMax)
		if len(b) < 1+lenOfLen {
			return Item{}, nil, xerrors.NewDecodeError(xerrors.InputTooShort, "long string length")
		}
		n, err := decodeLength(b[1 : 1+lenOfLen])
		if err != nil {
			return Item{}, nil, err
		}
		start := 1 + lenOfLen
		if len(b) < start+n {
			return Item{}, nil, xerrors.NewDecodeError(xerrors.InputTooShort, "long string body")
		}
		return Item{Bytes: b[start : start+n]}, b[start+n:], nil
	case first <= listShortMax:
		n := int(first - 0xc0)
		if len(b) < 1+n {
			return Item{}, nil, xerrors.NewDecodeError(xerrors.InputTooShort, "short list")
		}
		items, err := decodeItems(b[1 : 1+n])
		if err != nil {
			return Item{}, nil, err
		}
		return Item{List: items, isList: true}, b[1+n:], nil
	default:
		lenOfLen := int(first - listShortMax)
		if len(b) < 1+lenOfLen {
			return Item{}, nil, xerrors.NewDecodeError(xerrors.InputTooShort, "long list length")
		}
		n, err := decodeLength(b[1 : 1+lenOfLen])
		if err != nil {
			return Item{}, nil, err
		}
		start := 1 + lenOfLen
		if len(b) < start+n {
			return Item{}, nil, xerrors.NewDecodeError(xerrors.InputTooShort, "long list body")
		}
		items, err := decodeItems(b[start : start+n])
		if err != nil {
			return Item{}, nil, err
		}
		return Item{List: items, isList: true}, b[start+n:], nil
	}
}

func decodeLength(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, xerrors.NewDecodeError(xerrors.InputTooShort, "zero-length length field")
	}
	if b[0] == 0 {
		return 0, xerrors.NewDecodeError(xerrors.LeadingZero, "length field has leading zero")
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	if v > 1<<31 {
		return 0, xerrors.NewDecodeError(xerrors.InputTooLong, fmt.Sprintf("length %d too large", v))
	}
	return int(v), nil
}

func decodeItems(b []byte) ([]Item, error) {
	var items []Item
	for len(b) > 0 {
		it, rest, err := Decode(b)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
		b = rest
	}
	return items, nil
}

// DecodeExact decodes b and requires the entire input to be consumed.
func DecodeExact(b []byte) (Item, error) {
	it, rest, err := Decode(b)
	if err != nil {
		return Item{}, err
	}
	if len(rest) != 0 {
		return Item{}, xerrors.NewDecodeError(xerrors.InputTooLong, "trailing bytes after RLP item")
	}
	return it, nil
}
