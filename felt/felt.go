// Package felt implements the 252-bit prime-field scalar used throughout
// the StarkNet state commitment tree, along with the Pedersen hash and
// the array-hash construction built on top of it.
//
// A Felt is always canonical: its big-endian byte encoding represents a
// value strictly less than the STARK prime, and the top 5 bits of that
// encoding are therefore always zero (only 251 of the 256 bits are ever
// significant).
package felt

import (
	"errors"
	"fmt"
	"math/big"

	"filippo.io/bigmod"
)

// Bits is the number of significant bits in a canonical Felt.
const Bits = 251

// byteLen is the width of a Felt's big-endian encoding.
const byteLen = 32

// prime is the STARK field modulus: 2^251 + 17*2^192 + 1.
var prime = mustPrime()

func mustPrime() *big.Int {
	p, ok := new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)
	if !ok {
		panic("felt: failed to parse field modulus")
	}
	return p
}

var modulus = mustModulus()

func mustModulus() *bigmod.Modulus {
	m, err := bigmod.NewModulusFromBig(prime)
	if err != nil {
		panic("felt: failed to build modulus: " + err.Error())
	}
	return m
}

// ErrInvalidFelt is returned when a byte encoding cannot be parsed as a
// canonical field element: wrong length, or a value at or above the
// field modulus.
var ErrInvalidFelt = errors.New("felt: invalid field element encoding")

// Felt is a field element, always held in canonical (reduced) form.
type Felt struct {
	b [byteLen]byte
}

// Zero is the additive identity, and also the "empty tree"/"absent key"
// sentinel value throughout the patricia package.
var Zero = Felt{}

// topBitsMask covers the 5 leading bits of the encoding that must always
// be zero (32*8 - 251 = 5): a canonical Felt never exceeds 2^251 - 1,
// the subset of the field StarkNet's 251-bit tree paths draw from.
const topBitsMask = 0xF8

// FromBigEndian parses a canonical 32-byte big-endian encoding.
func FromBigEndian(b []byte) (Felt, error) {
	if len(b) != byteLen {
		return Felt{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidFelt, byteLen, len(b))
	}
	if b[0]&topBitsMask != 0 {
		return Felt{}, fmt.Errorf("%w: top 5 bits must be zero", ErrInvalidFelt)
	}
	if _, err := bigmod.NewNat().SetBytes(b, modulus); err != nil {
		return Felt{}, fmt.Errorf("%w: %v", ErrInvalidFelt, err)
	}
	var f Felt
	copy(f.b[:], b)
	return f, nil
}

// FromHex parses a "0x"-prefixed (or bare) hex string.
func FromHex(s string) (Felt, error) {
	s = trimHexPrefix(s)
	if len(s) > 2*byteLen {
		return Felt{}, fmt.Errorf("%w: hex string too long", ErrInvalidFelt)
	}
	var buf [byteLen]byte
	raw, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return Felt{}, fmt.Errorf("%w: invalid hex", ErrInvalidFelt)
	}
	raw.FillBytes(buf[:])
	return FromBigEndian(buf[:])
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// FromUint64 builds the Felt representing the given small integer.
func FromUint64(v uint64) Felt {
	var f Felt
	for i := 0; i < 8; i++ {
		f.b[byteLen-1-i] = byte(v >> (8 * i))
	}
	return f
}

// Bytes returns the canonical 32-byte big-endian encoding.
func (f Felt) Bytes() [32]byte {
	return f.b
}

// Equal reports whether f and g represent the same field element.
func (f Felt) Equal(g Felt) bool {
	return f.b == g.b
}

// IsZero reports whether f is the additive identity.
func (f Felt) IsZero() bool {
	return f.b == Felt{}.b
}

// Hex renders the canonical "0x"-prefixed, non-zero-padded hex encoding.
func (f Felt) Hex() string {
	return "0x" + new(big.Int).SetBytes(f.b[:]).Text(16)
}

func (f Felt) String() string {
	return f.Hex()
}

func (f Felt) big() *big.Int {
	return new(big.Int).SetBytes(f.b[:])
}

func fromBig(v *big.Int) Felt {
	v = new(big.Int).Mod(v, prime)
	var f Felt
	v.FillBytes(f.b[:])
	return f
}

// AddSmall returns f + n reduced modulo the field prime, using
// filippo.io/bigmod's constant-time modular addition. This is the one
// modular-arithmetic primitive the tree engine needs directly: the edge
// node's hash adds its path length to the hashed value (spec: "the
// length is added, not hashed").
func (f Felt) AddSmall(n uint64) Felt {
	x, err := bigmod.NewNat().SetBytes(f.b[:], modulus)
	if err != nil {
		panic("felt: AddSmall on non-canonical value: " + err.Error())
	}
	var nb [byteLen]byte
	for i := 0; i < 8; i++ {
		nb[byteLen-1-i] = byte(n >> (8 * i))
	}
	y, err := bigmod.NewNat().SetBytes(nb[:], modulus)
	if err != nil {
		panic("felt: AddSmall: operand out of range: " + err.Error())
	}
	x.Add(y, modulus)
	var out Felt
	copy(out.b[:], x.Bytes(modulus))
	return out
}
