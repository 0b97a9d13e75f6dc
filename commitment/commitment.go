// Package commitment wraps the patricia tree engine at the fixed
// height and in-memory-only storage StarkNet uses for its per-block
// transaction and event commitments: a height-64 tree keyed by a
// sequential uint64 index, built fresh for each block and discarded
// once its root is read (spec.md §5).
package commitment

import (
	"context"

	"go.strie.dev/strie/felt"
	"go.strie.dev/strie/patricia"
)

// Height is the fixed depth of a commitment tree: wide enough to index
// every transaction or event in a block without ever needing edge
// splits beyond 64 levels.
const Height = 64

// Tree is a height-64, uint64-indexed Patricia tree with in-memory
// (never durable) backing: it lives for exactly one block's worth of
// commitments and is never reopened by hash.
type Tree struct {
	inner *patricia.Tree
}

// New returns an empty commitment tree.
func New() *Tree {
	return &Tree{inner: patricia.NewTree(patricia.NewMemoryStorage(), Height)}
}

// Set assigns value to index. A zero value deletes the index.
func (t *Tree) Set(ctx context.Context, index uint64, value felt.Felt) error {
	path, err := patricia.PathFromUint64(index, Height)
	if err != nil {
		return err
	}
	return t.inner.Set(ctx, path, value)
}

// Get returns the value at index, or zero if unset.
func (t *Tree) Get(ctx context.Context, index uint64) (felt.Felt, error) {
	path, err := patricia.PathFromUint64(index, Height)
	if err != nil {
		return felt.Zero, err
	}
	return t.inner.Get(ctx, path)
}

// Commit hashes and finalizes the tree, returning its root.
func (t *Tree) Commit(ctx context.Context) (felt.Felt, error) {
	return t.inner.Commit(ctx)
}

// Root returns the tree's current root, including uncommitted Sets.
func (t *Tree) Root() felt.Felt {
	return t.inner.Root()
}

// Build constructs a one-shot commitment tree over elements, assigning
// elements[i] to index i, and returns its committed root. This is the
// shape every per-block commitment (transactions, events) in the
// blockhash package reduces to.
func Build(ctx context.Context, elements []felt.Felt) (felt.Felt, error) {
	t := New()
	for i, v := range elements {
		if err := t.Set(ctx, uint64(i), v); err != nil {
			return felt.Zero, err
		}
	}
	return t.Commit(ctx)
}
