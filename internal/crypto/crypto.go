// Package crypto wires the two pure cryptographic primitives spec.md
// §1 names as external collaborators: Keccak-256 (golang.org/x/crypto/sha3)
// and secp256k1 sender recovery (github.com/decred/dcrd/dcrec/secp256k1/v4).
// Neither is reimplemented; this package only adapts their APIs to the
// types used by the trie and execution packages.
package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"

	"github.com/monad-crypto/monad-exec/internal/state"
)

// Keccak256 hashes data with the Ethereum Keccak-256 variant.
func Keccak256(data ...[]byte) state.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out state.Hash
	h.Sum(out[:0])
	return out
}

// RecoverSender recovers the sender address from a transaction
// signature, per spec.md §4.D.3's dependency on sender recovery ahead
// of dynamic validation. sigHash is the 32-byte hash signed; r, s, v
// are the standard Ethereum signature components (v is the recovery
// id, 0 or 1, already normalized for the transaction's signing scheme).
func RecoverSender(sigHash state.Hash, r, s [32]byte, v byte) (state.Address, error) {
	if v > 1 {
		return state.Address{}, fmt.Errorf("crypto: invalid recovery id %d", v)
	}
	var sig [65]byte
	copy(sig[1:33], r[:])
	copy(sig[33:65], s[:])
	sig[0] = v + 27

	pub, _, err := secp256k1.RecoverCompact(sig[:], sigHash[:])
	if err != nil {
		return state.Address{}, fmt.Errorf("crypto: recover: %w", err)
	}
	pubBytes := pub.SerializeUncompressed()[1:] // strip 0x04 prefix
	h := Keccak256(pubBytes)
	var addr state.Address
	copy(addr[:], h[12:])
	return addr, nil
}
