// derive.go - Commitment and nullifier derivation.
//
// Both hashes are MiMC over the BW6-761 scalar field. Every input is
// encoded as a full field element (big-endian, left-padded to fr.Bytes)
// so the native digests match the in-circuit MiMC gadget block for block.

package note

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// nullifierTag domain-separates the nullifier PRF from the commitment.
// It is a protocol constant: changing it invalidates every published
// nullifier.
var nullifierTag = new(big.Int).SetBytes([]byte("hushpool.nullifier.v1"))

// NullifierTag returns the nullifier domain tag as a field element. The
// spend circuit embeds the same constant.
func NullifierTag() *big.Int {
	return new(big.Int).Set(nullifierTag)
}

// fieldBytes left-pads v to a full field element so MiMC accepts it as one
// block.
func fieldBytes(v *big.Int) []byte {
	buf := make([]byte, fr.Bytes)
	v.FillBytes(buf)
	return buf
}

// Commitment computes the public commitment binding a secret to an amount:
// cm = MiMC(secret || amount). It is pure and deterministic; the chain
// contract recomputes nothing, it only ever sees this value.
func Commitment(secret Secret, amountMinor int64) []byte {
	h := mimcNative.NewMiMC()
	h.Write(fieldBytes(new(big.Int).SetBytes(secret[:])))
	h.Write(fieldBytes(big.NewInt(amountMinor)))
	return h.Sum(nil)
}

// Nullifier computes the spend tag for a note:
// nf = MiMC(tag || secret || amount). Deriving it again for the same note
// yields the same value; the chain's nullifier set is the sole authority
// on whether it has been used.
func Nullifier(secret Secret, amountMinor int64) []byte {
	h := mimcNative.NewMiMC()
	h.Write(fieldBytes(nullifierTag))
	h.Write(fieldBytes(new(big.Int).SetBytes(secret[:])))
	h.Write(fieldBytes(big.NewInt(amountMinor)))
	return h.Sum(nil)
}
