package rlp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeStringShort(t *testing.T) {
	require.Equal(t, []byte{0x00}, EncodeString([]byte{0x00}))
	require.Equal(t, []byte{0x83, 'd', 'o', 'g'}, EncodeString([]byte("dog")))
	require.Equal(t, []byte{0x80}, EncodeString(nil))
}

func TestEncodeListEmpty(t *testing.T) {
	require.Equal(t, []byte{0xc0}, EncodeList())
}

func TestEncodeUintZero(t *testing.T) {
	require.Equal(t, []byte{0x80}, EncodeUint(0))
}

func TestDecodeRoundTripString(t *testing.T) {
	enc := EncodeString([]byte("a long enough string to exceed the short-string cutoff boundary"))
	item, rest, err := Decode(enc)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.False(t, item.IsList())
	require.Equal(t, "a long enough string to exceed the short-string cutoff boundary", string(item.Bytes))
}

func TestDecodeRoundTripList(t *testing.T) {
	enc := EncodeList(EncodeString([]byte("cat")), EncodeString([]byte("dog")))
	item, err := DecodeExact(enc)
	require.NoError(t, err)
	require.True(t, item.IsList())
	require.Len(t, item.List, 2)
	require.Equal(t, "cat", string(item.List[0].Bytes))
	require.Equal(t, "dog", string(item.List[1].Bytes))
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	enc := append(EncodeString([]byte("x")), 0xff)
	_, err := DecodeExact(enc)
	require.Error(t, err)
}

func TestDecodeRejectsNonCanonicalSingleByte(t *testing.T) {
	// 0x81 0x00 encodes a 1-byte string {0x00}, which should be {0x00} directly.
	_, _, err := Decode([]byte{0x81, 0x00})
	require.Error(t, err)
}
