package patricia

import (
	"context"
	"errors"

	"go.strie.dev/strie/felt"
	"go.strie.dev/strie/internal/metrics"
)

// Tree is the authenticated, edge-compressed Patricia-Merkle tree
// engine. A Tree is bound to a fixed key width (height): 251 for a
// global/storage/class tree keyed by a felt.Felt, 64 for a commitment
// tree keyed by a uint64 index (see the commitment package).
//
// A Tree is not safe for concurrent use. Mutations (Set) accumulate in
// an in-memory arena until Commit persists them and returns the new
// root hash; Get and VisitLeaves observe this uncommitted state too, so
// a caller can read back a value it just Set before committing.
type Tree struct {
	storage Storage
	height  int

	root Handle
	// arena holds pending (uncommitted) node bodies; a Handle's idx
	// indexes into this slice.
	arena []*node
	// cache holds node bodies decoded from storage this session, keyed
	// by hash, so a hot path isn't re-fetched and re-decoded on every
	// access within the same load.
	cache map[felt.Felt]*node
	// pendingReleases holds old node hashes dereferenced by Set calls
	// since the last Commit, along with the bit-depth at which each was
	// displaced; Commit releases each one (walking down from its depth,
	// since a child's encoding tells releaseSubtree nothing about how
	// many bits it consumed) after the new root's nodes are persisted,
	// so a hash shared by both trees is never transiently dropped to a
	// zero refcount.
	pendingReleases []pendingRelease

	metrics *metrics.Tree
}

// pendingRelease is an old, displaced node hash queued for release at
// Commit, tagged with the bit-depth it was reached at (so
// releaseSubtree knows, while walking its children, when it has
// reached a leaf and must stop without touching storage).
type pendingRelease struct {
	hash  felt.Felt
	depth int
}

// Option configures a Tree at construction time.
type Option func(*Tree)

// WithMetrics records commit counts, sizes, and errors against m.
func WithMetrics(m *metrics.Tree) Option {
	return func(t *Tree) { t.metrics = m }
}

// NewTree returns an empty tree of the given key height, backed by
// storage.
func NewTree(storage Storage, height int, opts ...Option) *Tree {
	return LoadTree(storage, height, felt.Zero, opts...)
}

// LoadTree opens a tree at an existing root hash (spec.md's load
// operation). The root's body is not fetched until first accessed.
func LoadTree(storage Storage, height int, root felt.Felt, opts ...Option) *Tree {
	t := &Tree{
		storage: storage,
		height:  height,
		root:    HashHandle(root),
		cache:   make(map[felt.Felt]*node),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Root returns the tree's current root hash, including uncommitted
// changes made in the arena (those nodes are hashed on demand, but not
// yet persisted to storage until Commit).
func (t *Tree) Root() felt.Felt {
	h, ok := t.resolveRootHash()
	if !ok {
		return felt.Zero
	}
	return h
}

func (t *Tree) resolveRootHash() (felt.Felt, bool) {
	if t.root.IsEmpty() {
		return felt.Zero, false
	}
	if h, ok := t.root.Hash(); ok {
		return h, true
	}
	n := t.arena[t.root.idx]
	return t.nodeHashDeep(n), true
}

// nodeHashDeep computes a pending node's hash without persisting
// anything, resolving any pending children first. Used by Root to
// preview the would-be root hash before Commit.
func (t *Tree) nodeHashDeep(n *node) felt.Felt {
	if n.hashSet {
		return n.hash
	}
	// Hash a copy whose pending children are replaced by their hashes;
	// n keeps its pending handles so Commit still persists the children.
	resolved := *n
	switch n.kind {
	case kindBinary:
		resolved.left, resolved.right = t.ensureHash(n.left), t.ensureHash(n.right)
	case kindEdge:
		resolved.child = t.ensureHash(n.child)
	}
	n.hash, n.hashSet = resolved.computeHash(), true
	return n.hash
}

// ensureHash returns h, with a pending node replaced by a handle to its
// computed hash.
func (t *Tree) ensureHash(h Handle) Handle {
	if h.tag != tagPending {
		return h
	}
	return HashHandle(t.nodeHashDeep(t.arena[h.idx]))
}

// leafValue reads the value of a handle known to sit at the tree's
// full height. Leaves are never persisted as storage rows (spec.md
// §4.3: "a leaf's hash equals its value"), so a tagHash handle at this
// depth carries the value directly in its hash field rather than
// referencing a row to fetch; a tagPending handle is already a kindLeaf
// arena node. Callers must check depth themselves before calling this
// — it never touches storage.
func (t *Tree) leafValue(h Handle) felt.Felt {
	if h.tag == tagPending {
		return t.arena[h.idx].value
	}
	v, _ := h.Hash()
	return v
}

// resolve decodes the Binary or Edge node h refers to, from the arena
// if pending or from storage (via the read cache) if committed. It
// must never be called with h at the tree's full height: a committed
// leaf has no storage row to fetch (see leafValue).
func (t *Tree) resolve(ctx context.Context, h Handle) (*node, error) {
	switch h.tag {
	case tagPending:
		return t.arena[h.idx], nil
	case tagHash:
		if n, ok := t.cache[h.hash]; ok {
			return n, nil
		}
		raw, err := t.storage.Get(ctx, h.hash)
		if err != nil {
			return nil, wrapStorageErr("get", err)
		}
		n, derr := decodeNode(raw)
		if derr != nil {
			return nil, wrapCorrupt(h.hash.Hex(), derr)
		}
		n.hash, n.hashSet = h.hash, true
		t.cache[h.hash] = n
		return n, nil
	default:
		return nil, nil // empty
	}
}

func (t *Tree) alloc(n *node) Handle {
	t.arena = append(t.arena, n)
	return Handle{tag: tagPending, idx: len(t.arena) - 1}
}

func handlesEqual(a, b Handle) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case tagHash:
		return a.hash.Equal(b.hash)
	case tagPending:
		return a.idx == b.idx
	default:
		return true
	}
}

func (t *Tree) checkHeight(key Path) error {
	if key.Len() != t.height {
		return newError(ErrKeyLengthMismatch, "key has %d bits, tree height is %d", key.Len(), t.height)
	}
	return nil
}

// Get returns the value stored at key, or the zero Felt if key is
// absent (spec.md's get operation).
func (t *Tree) Get(ctx context.Context, key Path) (felt.Felt, error) {
	if err := t.checkHeight(key); err != nil {
		return felt.Zero, err
	}
	h := t.root
	consumed := 0
	for {
		if h.IsEmpty() {
			return felt.Zero, nil
		}
		if consumed == t.height {
			return t.leafValue(h), nil
		}
		n, err := t.resolve(ctx, h)
		if err != nil {
			return felt.Zero, err
		}
		switch n.kind {
		case kindEdge:
			rest := key.TrimPrefix(consumed)
			if !rest.HasPrefix(n.path) {
				return felt.Zero, nil
			}
			consumed += n.path.Len()
			h = n.child
		case kindBinary:
			if key.Bit(consumed) {
				h = n.right
			} else {
				h = n.left
			}
			consumed++
		default:
			panic("patricia: resolved a leaf above the tree's height")
		}
	}
}

// Set inserts, updates, or deletes key's value (a zero value deletes
// the key, spec.md's set operation). The change is only visible to
// other trees, and only persisted, once Commit is called.
func (t *Tree) Set(ctx context.Context, key Path, value felt.Felt) error {
	if err := t.checkHeight(key); err != nil {
		return err
	}
	newRoot, err := t.setRec(ctx, t.root, key, 0, value)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

// setRec applies the Set at h (rooted consumed bits into key) and
// queues h's old hash for release if it was persisted, at a depth
// shallower than a leaf, and the subtree it roots materially changed.
// A displaced leaf hash is never queued: leaves have no storage row to
// release (spec.md §4.3).
func (t *Tree) setRec(ctx context.Context, h Handle, key Path, consumed int, value felt.Felt) (Handle, error) {
	result, err := t.setRecInner(ctx, h, key, consumed, value)
	if err != nil {
		return Handle{}, err
	}
	if consumed != t.height {
		if oldHash, ok := h.Hash(); ok && !handlesEqual(result, h) {
			t.pendingReleases = append(t.pendingReleases, pendingRelease{hash: oldHash, depth: consumed})
		}
	}
	return result, nil
}

func (t *Tree) setRecInner(ctx context.Context, h Handle, key Path, consumed int, value felt.Felt) (Handle, error) {
	if h.IsEmpty() {
		if value.IsZero() {
			return EmptyHandle(), nil
		}
		return t.insertLeaf(key, consumed, value), nil
	}

	if consumed == t.height {
		// h denotes a leaf. Leaves are never resolved through storage
		// (see leafValue): a committed leaf's "hash" is its value.
		current := t.leafValue(h)
		if value.IsZero() {
			return EmptyHandle(), nil
		}
		if current.Equal(value) {
			return h, nil
		}
		return t.alloc(&node{kind: kindLeaf, value: value}), nil
	}

	n, err := t.resolve(ctx, h)
	if err != nil {
		return Handle{}, err
	}

	switch n.kind {
	case kindEdge:
		rest := key.TrimPrefix(consumed)
		cpl := rest.CommonPrefixLen(n.path)
		if cpl == n.path.Len() {
			childDepth := consumed + n.path.Len()
			newChild, err := t.setRec(ctx, n.child, key, childDepth, value)
			if err != nil {
				return Handle{}, err
			}
			if newChild.IsEmpty() {
				return EmptyHandle(), nil
			}
			if handlesEqual(newChild, n.child) {
				return h, nil
			}
			if childDepth < t.height {
				childNode, err := t.resolve(ctx, newChild)
				if err != nil {
					return Handle{}, err
				}
				if childNode.kind == kindEdge {
					// Merge two adjacent edges: spec.md's edge-compression
					// invariant forbids an edge sitting directly atop
					// another edge.
					merged := n.path.Append(childNode.path)
					return t.alloc(&node{kind: kindEdge, path: merged, child: childNode.child}), nil
				}
			}
			// childDepth == t.height means newChild is a leaf, which is
			// never merge-compatible with an Edge; just re-wrap it.
			return t.alloc(&node{kind: kindEdge, path: n.path, child: newChild}), nil
		}
		if value.IsZero() {
			// Deleting a key that diverges from this edge: already absent.
			return h, nil
		}
		return t.splitEdge(n, rest, cpl, value), nil

	case kindBinary:
		childDepth := consumed + 1
		bit := key.Bit(consumed)
		if bit {
			newRight, err := t.setRec(ctx, n.right, key, childDepth, value)
			if err != nil {
				return Handle{}, err
			}
			if handlesEqual(newRight, n.right) {
				return h, nil
			}
			return t.rebuildBinary(ctx, n.left, newRight, childDepth)
		}
		newLeft, err := t.setRec(ctx, n.left, key, childDepth, value)
		if err != nil {
			return Handle{}, err
		}
		if handlesEqual(newLeft, n.left) {
			return h, nil
		}
		return t.rebuildBinary(ctx, newLeft, n.right, childDepth)
	}
	panic("patricia: unreachable node kind")
}

// insertLeaf builds a fresh leaf for key at depth consumed, wrapped in
// an Edge carrying the remaining bits when there are any.
func (t *Tree) insertLeaf(key Path, consumed int, value felt.Felt) Handle {
	leaf := t.alloc(&node{kind: kindLeaf, value: value})
	remaining := key.TrimPrefix(consumed)
	if remaining.Len() == 0 {
		return leaf
	}
	return t.alloc(&node{kind: kindEdge, path: remaining, child: leaf})
}

// splitEdge handles inserting a new key that diverges from an
// existing Edge's path at bit cpl, replacing the edge with (at most)
// an Edge down to a new Binary fork carrying both the old and new
// branches.
func (t *Tree) splitEdge(n *node, rest Path, cpl int, value felt.Felt) Handle {
	existingBit := n.path.Bit(cpl)
	existingSuffix := n.path.TrimPrefix(cpl + 1)
	existingChild := n.child
	if existingSuffix.Len() > 0 {
		existingChild = t.alloc(&node{kind: kindEdge, path: existingSuffix, child: n.child})
	}

	newBit := rest.Bit(cpl)
	newSuffix := rest.TrimPrefix(cpl + 1)
	newLeaf := t.alloc(&node{kind: kindLeaf, value: value})
	newChild := newLeaf
	if newSuffix.Len() > 0 {
		newChild = t.alloc(&node{kind: kindEdge, path: newSuffix, child: newLeaf})
	}

	var left, right Handle
	if existingBit {
		right = existingChild
	} else {
		left = existingChild
	}
	if newBit {
		right = newChild
	} else {
		left = newChild
	}
	binary := t.alloc(&node{kind: kindBinary, left: left, right: right})
	if cpl == 0 {
		return binary
	}
	prefix := n.path.Prefix(cpl)
	return t.alloc(&node{kind: kindEdge, path: prefix, child: binary})
}

// rebuildBinary reforms a Binary from (possibly updated) children,
// promoting the sole surviving child when one side went empty (spec
// I2: no Binary keeps an empty child). depth is the bit-depth of
// left/right themselves (one more than the Binary's own depth).
func (t *Tree) rebuildBinary(ctx context.Context, left, right Handle, depth int) (Handle, error) {
	if left.IsEmpty() && right.IsEmpty() {
		return EmptyHandle(), nil
	}
	if left.IsEmpty() {
		return t.promote(ctx, right, true, depth)
	}
	if right.IsEmpty() {
		return t.promote(ctx, left, false, depth)
	}
	return t.alloc(&node{kind: kindBinary, left: left, right: right}), nil
}

// promote prepends bit to child's path, merging with child if it is
// already an Edge (maintaining edge-compression) or wrapping it in a
// fresh one-bit Edge otherwise. A child at the tree's full height is a
// leaf and is never merge-compatible with an Edge, so it is always
// just wrapped; resolving it would otherwise mean fetching a leaf from
// storage, which has no row to fetch.
func (t *Tree) promote(ctx context.Context, child Handle, bit bool, depth int) (Handle, error) {
	if depth < t.height {
		n, err := t.resolve(ctx, child)
		if err != nil {
			return Handle{}, err
		}
		if n.kind == kindEdge {
			return t.alloc(&node{kind: kindEdge, path: n.path.PrependBit(bit), child: n.child}), nil
		}
	}
	single := EmptyPath.PrependBit(bit)
	return t.alloc(&node{kind: kindEdge, path: single, child: child}), nil
}

// Commit hashes every dirty node bottom-up, persists it to storage,
// releases the storage references the arena's changes displaced, and
// returns the new root hash (spec.md's commit operation). After
// Commit, the arena is empty and subsequent Gets resolve through
// storage (and the read cache) only.
func (t *Tree) Commit(ctx context.Context) (felt.Felt, error) {
	root, err := t.commit(ctx)
	if t.metrics != nil {
		if err != nil {
			t.metrics.CommitErrors.Inc()
		} else {
			t.metrics.Commits.Inc()
		}
	}
	return root, err
}

func (t *Tree) commit(ctx context.Context) (felt.Felt, error) {
	var blobs []NodeBlob
	newRoot, err := t.persist(ctx, t.root, &blobs)
	if err != nil {
		return felt.Zero, err
	}

	if t.metrics != nil {
		t.metrics.CommitNodes.Observe(float64(len(blobs)))
	}

	if err := t.putAll(ctx, blobs); err != nil {
		return felt.Zero, err
	}

	for _, pr := range t.pendingReleases {
		if err := t.releaseSubtree(ctx, pr.hash, pr.depth); err != nil {
			return felt.Zero, err
		}
	}
	t.pendingReleases = nil
	t.root = newRoot
	t.arena = t.arena[:0]

	if h, ok := newRoot.Hash(); ok {
		return h, nil
	}
	return felt.Zero, nil
}

// putAll writes every dirty node of this commit to storage, using the
// backend's batch path (the BatchStorage interface) when it offers one
// and one Put per node otherwise. sqlitestore applies a whole batch in
// one savepoint; dynamostore applies it in transactions of at most 100
// nodes each, so a larger commit is not atomic as a whole there.
func (t *Tree) putAll(ctx context.Context, blobs []NodeBlob) error {
	if len(blobs) == 0 {
		return nil
	}
	if batch, ok := t.storage.(BatchStorage); ok {
		if err := batch.PutBatch(ctx, blobs); err != nil {
			return wrapStorageErr("put", err)
		}
		return nil
	}
	for _, b := range blobs {
		if err := t.storage.Put(ctx, b.Hash, b.Data); err != nil {
			return wrapStorageErr("put", err)
		}
	}
	return nil
}

// persist hashes h's subtree bottom-up and appends each dirty Binary
// or Edge node's (hash, encoding) to *blobs, without touching storage
// yet; Commit writes them all in one batch once the whole new root is
// known. A dirty Leaf is never added to blobs: spec.md §4.3 is
// explicit that leaves are never stored as rows, since a leaf's hash
// equals its value. The parent's own encoding carries that value
// directly where a real node hash would otherwise go.
func (t *Tree) persist(ctx context.Context, h Handle, blobs *[]NodeBlob) (Handle, error) {
	if h.tag != tagPending {
		return h, nil
	}
	n := t.arena[h.idx]
	switch n.kind {
	case kindLeaf:
		return HashHandle(n.value), nil
	case kindBinary:
		newLeft, err := t.persist(ctx, n.left, blobs)
		if err != nil {
			return Handle{}, err
		}
		newRight, err := t.persist(ctx, n.right, blobs)
		if err != nil {
			return Handle{}, err
		}
		n.left, n.right = newLeft, newRight
	case kindEdge:
		newChild, err := t.persist(ctx, n.child, blobs)
		if err != nil {
			return Handle{}, err
		}
		n.child = newChild
	}
	hash := n.computeHash()
	*blobs = append(*blobs, NodeBlob{Hash: hash, Data: n.encode()})
	t.cache[hash] = n
	return HashHandle(hash), nil
}

// releaseSubtree decrements hash's refcount and, if that drops it to
// zero, recursively releases its children too (spec.md §6's
// decrement-or-delete-at-zero, cascaded by this package since only it
// knows how to decode a node body into its children). depth is the
// bit-depth hash was reached at; once depth reaches the tree's height,
// hash denotes a leaf, which was never stored and has nothing to
// release.
func (t *Tree) releaseSubtree(ctx context.Context, hash felt.Felt, depth int) error {
	if hash.IsZero() || depth == t.height {
		return nil
	}
	raw, err := t.storage.Get(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return nil
		}
		return wrapStorageErr("get", err)
	}
	removed, err := t.storage.Release(ctx, hash)
	if err != nil {
		return wrapStorageErr("release", err)
	}
	delete(t.cache, hash)
	if !removed {
		return nil
	}
	n, derr := decodeNode(raw)
	if derr != nil {
		return derr
	}
	switch n.kind {
	case kindBinary:
		if lh, ok := n.left.Hash(); ok {
			if err := t.releaseSubtree(ctx, lh, depth+1); err != nil {
				return err
			}
		}
		if rh, ok := n.right.Hash(); ok {
			return t.releaseSubtree(ctx, rh, depth+1)
		}
	case kindEdge:
		if ch, ok := n.child.Hash(); ok {
			return t.releaseSubtree(ctx, ch, depth+n.path.Len())
		}
	}
	return nil
}

// VisitLeaves walks every leaf in key order, calling fn with the
// leaf's full-height key path and value (spec.md's visit_leaves
// operation). Traversal stops at the first error fn returns.
func (t *Tree) VisitLeaves(ctx context.Context, fn func(key Path, value felt.Felt) error) error {
	return t.visit(ctx, t.root, EmptyPath, fn)
}

func (t *Tree) visit(ctx context.Context, h Handle, prefix Path, fn func(Path, felt.Felt) error) error {
	if h.IsEmpty() {
		return nil
	}
	if prefix.Len() == t.height {
		return fn(prefix, t.leafValue(h))
	}
	n, err := t.resolve(ctx, h)
	if err != nil {
		return err
	}
	switch n.kind {
	case kindEdge:
		return t.visit(ctx, n.child, prefix.Append(n.path), fn)
	case kindBinary:
		if err := t.visit(ctx, n.left, prefix.AppendBit(false), fn); err != nil {
			return err
		}
		return t.visit(ctx, n.right, prefix.AppendBit(true), fn)
	}
	return nil
}
