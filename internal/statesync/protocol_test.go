package statesync

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/monad-crypto/monad-exec/internal/execution"
	"github.com/monad-crypto/monad-exec/internal/state"
	"github.com/monad-crypto/monad-exec/internal/trie"
)

func TestRequestRoundTrip(t *testing.T) {
	r := Request{Prefix: 7, PrefixBytes: 2, Target: 1000, From: 5, Until: 990, OldTarget: 900}
	got, err := DecodeRequest(EncodeRequest(r))
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestNextRequestWindowsAt99Percent(t *testing.T) {
	r := NextRequest(3, 1, InvalidBlockNum, InvalidBlockNum, 1000)
	require.Equal(t, uint64(0), r.From)
	require.Equal(t, uint64(990), r.Until)

	r2 := NextRequest(3, 1, 995, InvalidBlockNum, 1000)
	require.Equal(t, uint64(996), r2.From)
	require.Equal(t, uint64(1000), r2.Until)
}

type memCodeSink struct{ stored map[state.Hash][]byte }

func (m *memCodeSink) PutCode(hash state.Hash, code []byte) error {
	m.stored[hash] = append([]byte(nil), code...)
	return nil
}

func TestApplierAppliesAccountStorageAndCodeFrames(t *testing.T) {
	var addr state.Address
	addr[0] = 0x11

	ov := execution.NewOverlay(nil, nil, nil, 1)
	codes := &memCodeSink{stored: make(map[state.Hash][]byte)}
	app := NewApplier(ov, codes, nil)

	rec := execution.AccountRecord{Nonce: 3, Balance: *uint256.NewInt(42), CodeHash: state.EmptyCodeHash}
	_, err := app.ApplyFrame(EncodeAccountUpsert(addr, rec))
	require.NoError(t, err)

	var key, value state.Hash
	key[31] = 0x01
	value[31] = 0x02
	_, err = app.ApplyFrame(EncodeStorageUpsert(addr, key, value))
	require.NoError(t, err)

	code := []byte{0x60, 0x00, 0x60, 0x00}
	_, err = app.ApplyFrame(EncodeCodeUpsert(code))
	require.NoError(t, err)
	require.Len(t, codes.stored, 1)

	root, err := app.Commit()
	require.NoError(t, err)

	enc, ok, err := trie.Get(root, execution.AccountPath(addr), nil)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := execution.DecodeAccountRecord(enc)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.Nonce)
	require.Equal(t, "42", got.Balance.String())

	require.Equal(t, value, ov.GetStorage(addr, key))
}

func TestApplierAccountDeleteRemovesAccount(t *testing.T) {
	var addr state.Address
	addr[0] = 0x22

	ov := execution.NewOverlay(nil, nil, nil, 1)
	app := NewApplier(ov, nil, nil)

	rec := execution.AccountRecord{Nonce: 1, Balance: *uint256.NewInt(5), CodeHash: state.EmptyCodeHash}
	_, err := app.ApplyFrame(EncodeAccountUpsert(addr, rec))
	require.NoError(t, err)
	root, err := app.Commit()
	require.NoError(t, err)
	_, ok, err := trie.Get(root, execution.AccountPath(addr), nil)
	require.NoError(t, err)
	require.True(t, ok)

	ov2 := execution.NewOverlay(root, nil, nil, 2)
	app2 := NewApplier(ov2, nil, nil)
	_, err = app2.ApplyFrame(EncodeAccountDelete(addr))
	require.NoError(t, err)
	root2, err := app2.Commit()
	require.NoError(t, err)

	_, ok2, err := trie.Get(root2, execution.AccountPath(addr), nil)
	require.NoError(t, err)
	require.False(t, ok2)
}
