package felt

// emptyArrayHash is H(0, 0), the hash of the empty array. It is
// deliberately not the field zero: pedersen_test.go and the rest of the
// package treat conflating the two as the canonical bug this constant
// exists to prevent.
var emptyArrayHash = Pedersen(Zero, Zero)

// ArrayHash implements the StarkNet "hash an ordered list" construction:
//
//	h0 = 0
//	hi = H(h{i-1}, ai)
//	result = H(hn, n)
//
// The hash of the empty array is H(0, 0), not zero.
func ArrayHash(elements []Felt) Felt {
	if len(elements) == 0 {
		return emptyArrayHash
	}
	h := Zero
	for _, e := range elements {
		h = Pedersen(h, e)
	}
	return Pedersen(h, FromUint64(uint64(len(elements))))
}
