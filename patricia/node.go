package patricia

import (
	"go.strie.dev/strie/felt"
)

// handleTag discriminates the three states a child reference can be in.
type handleTag uint8

const (
	// tagEmpty is the empty subtree: spec.md's "no node here" sentinel,
	// never persisted and never present in the arena.
	tagEmpty handleTag = iota
	// tagHash is spec.md's Unresolved(hash): a node known only by its
	// content hash, not yet (or no longer) loaded into memory.
	tagHash
	// tagPending is spec.md's Pending(index): a node created or modified
	// in this transaction, not yet hashed or persisted, referenced by
	// its slot in the tree's arena.
	tagPending
)

// Handle is a NodeHandle (spec.md §9's arena design): a reference to a
// child subtree that is either empty, resolved to a content hash, or
// pending in the owning Tree's arena. Handles from different Trees must
// never be mixed; a pending index is only meaningful within the arena
// that produced it.
type Handle struct {
	tag  handleTag
	hash felt.Felt
	idx  int
}

// EmptyHandle returns the handle for an empty subtree.
func EmptyHandle() Handle { return Handle{tag: tagEmpty} }

// HashHandle returns a handle resolved to a stored node hash. The zero
// Felt always denotes the empty subtree (spec I4), never a real node.
func HashHandle(h felt.Felt) Handle {
	if h.IsZero() {
		return Handle{tag: tagEmpty}
	}
	return Handle{tag: tagHash, hash: h}
}

// IsEmpty reports whether h references the empty subtree.
func (h Handle) IsEmpty() bool { return h.tag == tagEmpty }

// Hash returns the handle's content hash and true, if it is resolved;
// otherwise it returns the zero Felt and false (empty or pending).
func (h Handle) Hash() (felt.Felt, bool) {
	if h.tag == tagHash {
		return h.hash, true
	}
	return felt.Zero, false
}

// kind discriminates the three in-memory node shapes (spec.md §3); only
// Edge and Binary are ever persisted. Leaf is represented structurally
// by a bare value; it has no children and, per spec, no hash of its own
// distinct from that value.
type kind uint8

const (
	kindLeaf kind = iota
	kindEdge
	kindBinary
)

// node is the in-memory body of a Binary, Edge, or Leaf, held either in
// a Tree's arena (pending, dirty) or in its read cache (resolved from
// storage, clean).
type node struct {
	kind kind

	value felt.Felt // kindLeaf

	path  Path   // kindEdge
	child Handle // kindEdge

	left, right Handle // kindBinary

	hash    felt.Felt
	hashSet bool
}

// computeHash returns the node's content hash, computing and caching it
// the first time. left/right/child handles must already be resolved to
// hashes (or empty); calling this on a node whose children are still
// Pending is a programming error caught by the caller in Commit's
// bottom-up pass.
func (n *node) computeHash() felt.Felt {
	if n.hashSet {
		return n.hash
	}
	var h felt.Felt
	switch n.kind {
	case kindLeaf:
		h = n.value
	case kindBinary:
		lh, _ := n.left.Hash()
		rh, _ := n.right.Hash()
		h = felt.Pedersen(lh, rh)
	case kindEdge:
		ch, _ := n.child.Hash()
		h = felt.Pedersen(ch, n.path.Packed()).AddSmall(uint64(n.path.Len()))
	}
	n.hash = h
	n.hashSet = true
	return h
}

// encode serializes a node with fully resolved children to its
// persisted byte form, exactly as spec.md §4.3 and §6 mandate for
// store interchange: a 64-byte Binary (`hash(L)‖hash(R)`) or a
// 65-byte Edge (`hash(child)‖path_packed‖length_u8`), dispatched on
// decode purely by length — no kind tag. Leaves are never encoded:
// persist skips them before encode is ever called on one (see
// tree.go's persist).
func (n *node) encode() []byte {
	switch n.kind {
	case kindBinary:
		out := make([]byte, 32+32)
		lh, _ := n.left.Hash()
		rh, _ := n.right.Hash()
		lb, rb := lh.Bytes(), rh.Bytes()
		copy(out[0:32], lb[:])
		copy(out[32:64], rb[:])
		return out
	case kindEdge:
		out := make([]byte, 32+32+1)
		ch, _ := n.child.Hash()
		cb := ch.Bytes()
		copy(out[0:32], cb[:])
		pb := n.path.Packed().Bytes()
		copy(out[32:64], pb[:])
		out[64] = byte(n.path.Len())
		return out
	default:
		panic("patricia: encode: leaves are never persisted")
	}
}

// decodeNode is the inverse of encode, dispatching on length alone
// per spec.md §4.3's get_node: 64 bytes is a Binary, 65 is an Edge,
// any other length (or an edge length byte past MaxPathLen) is
// CorruptNode.
func decodeNode(b []byte) (*node, error) {
	switch len(b) {
	case 64:
		lh, err := felt.FromBigEndian(b[0:32])
		if err != nil {
			return nil, newError(ErrCorruptNode, "binary left: %v", err)
		}
		rh, err := felt.FromBigEndian(b[32:64])
		if err != nil {
			return nil, newError(ErrCorruptNode, "binary right: %v", err)
		}
		return &node{kind: kindBinary, left: HashHandle(lh), right: HashHandle(rh)}, nil
	case 65:
		ch, err := felt.FromBigEndian(b[0:32])
		if err != nil {
			return nil, newError(ErrCorruptNode, "edge child: %v", err)
		}
		packed, err := felt.FromBigEndian(b[32:64])
		if err != nil {
			return nil, newError(ErrCorruptNode, "edge path: %v", err)
		}
		length := int(b[64])
		if length > MaxPathLen {
			return nil, newError(ErrCorruptNode, "edge length byte %d exceeds %d", length, MaxPathLen)
		}
		path, err := PathFromPacked(length, packed)
		if err != nil {
			return nil, err
		}
		return &node{kind: kindEdge, path: path, child: HashHandle(ch)}, nil
	default:
		return nil, newError(ErrCorruptNode, "unexpected node encoding length %d", len(b))
	}
}
