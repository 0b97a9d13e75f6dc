package patricia

import (
	"context"
	"sync"

	"go.strie.dev/strie/felt"
)

// ErrNodeNotFound is returned by a Storage's Get when no node is stored
// under the requested hash.
var ErrNodeNotFound = newError(ErrStorageUnavailable, "node not found")

// Storage is the persistence adapter a Tree is built on: a
// content-addressed, reference-counted blob store keyed by node hash
// (spec.md §6). Node encoding/decoding is the Tree's concern; Storage
// only ever sees opaque bytes.
//
// Implementations must make Put and Release safe to call concurrently
// with Get, but a single Tree drives all three sequentially from
// Commit, so they need not be reentrant with each other.
type Storage interface {
	// Get returns the bytes stored under hash, or an error wrapping
	// ErrNodeNotFound if no node is present.
	Get(ctx context.Context, hash felt.Felt) ([]byte, error)

	// Put stores data under hash if absent, or increments hash's
	// reference count if already present (the data is assumed
	// identical, since hash is content-derived).
	Put(ctx context.Context, hash felt.Felt, data []byte) error

	// Release decrements hash's reference count, deleting the entry
	// once it reaches zero; the returned bool reports whether the
	// entry was actually deleted, so a caller can cascade the release
	// into that node's own children. Releasing a hash with no entry is
	// a no-op, matching the set/delete idempotence the tree engine
	// relies on.
	Release(ctx context.Context, hash felt.Felt) (bool, error)
}

// NodeBlob pairs a node's content hash with its encoded bytes, the
// unit Commit writes to storage.
type NodeBlob struct {
	Hash felt.Felt
	Data []byte
}

// BatchStorage is implemented by a Storage that can persist an entire
// commit's worth of nodes in one call. How much of a batch is applied
// atomically depends on the implementation (see its PutBatch). A Tree
// uses it when available; otherwise it falls back to one Put per node.
type BatchStorage interface {
	Storage
	PutBatch(ctx context.Context, blobs []NodeBlob) error
}

// memoryStorage is a refcounted, in-process Storage, used as the
// default backing for height-64 commitment trees (spec.md §5) and in
// tests; it is never durable.
type memoryStorage struct {
	mu      sync.Mutex
	data    map[felt.Felt][]byte
	refcnts map[felt.Felt]int
}

// NewMemoryStorage returns a Storage that keeps every node in process
// memory, refcounted exactly like a durable adapter would.
func NewMemoryStorage() Storage {
	return &memoryStorage{
		data:    make(map[felt.Felt][]byte),
		refcnts: make(map[felt.Felt]int),
	}
}

func (s *memoryStorage) Get(_ context.Context, hash felt.Felt) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[hash]
	if !ok {
		return nil, ErrNodeNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (s *memoryStorage) Put(_ context.Context, hash felt.Felt, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[hash]; ok {
		s.refcnts[hash]++
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[hash] = cp
	s.refcnts[hash] = 1
	return nil
}

func (s *memoryStorage) Release(_ context.Context, hash felt.Felt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.refcnts[hash]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(s.refcnts, hash)
		delete(s.data, hash)
		return true, nil
	}
	s.refcnts[hash] = n - 1
	return false, nil
}
