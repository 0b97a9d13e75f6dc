// Package storagetest is a conformance suite any patricia.Storage
// implementation should pass, grounded on the teacher's
// testAllStorage/testFullTree pattern (mpt/tree_test.go): build the
// same tree through a fresh store in several insertion orders and
// check the root hash agrees, then exercise the refcount lifecycle
// directly.
package storagetest

import (
	"context"
	"math/rand"
	"testing"

	"go.strie.dev/strie/felt"
	"go.strie.dev/strie/patricia"
)

const height = 16

// Run exercises newStorage(t) (a fresh, empty Storage each call)
// against the patricia engine's structural guarantees.
func Run(t *testing.T, newStorage func(t *testing.T) patricia.Storage) {
	t.Run("order independent root", testOrderIndependentRoot(newStorage))
	t.Run("persists across reload", testPersistsAcrossReload(newStorage))
	t.Run("refcount release", testRefcountRelease(newStorage))
}

func testOrderIndependentRoot(newStorage func(t *testing.T) patricia.Storage) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		const n = 200
		keys := make([]uint64, n)
		for i := range keys {
			keys[i] = uint64(i)
		}

		build := func(order []uint64) felt.Felt {
			store := newStorage(t)
			tree := patricia.NewTree(store, height)
			for _, k := range order {
				path, err := patricia.PathFromUint64(k, height)
				if err != nil {
					t.Fatal(err)
				}
				if err := tree.Set(ctx, path, felt.FromUint64(k+1)); err != nil {
					t.Fatal(err)
				}
			}
			root, err := tree.Commit(ctx)
			if err != nil {
				t.Fatal(err)
			}
			return root
		}

		want := build(keys)

		reversed := make([]uint64, n)
		for i, k := range keys {
			reversed[n-1-i] = k
		}
		if got := build(reversed); !got.Equal(want) {
			t.Fatalf("reverse-order root = %s, want %s", got, want)
		}

		shuffled := append([]uint64(nil), keys...)
		rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		if got := build(shuffled); !got.Equal(want) {
			t.Fatalf("shuffled-order root = %s, want %s", got, want)
		}
	}
}

func testPersistsAcrossReload(newStorage func(t *testing.T) patricia.Storage) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		store := newStorage(t)
		tree := patricia.NewTree(store, height)
		values := map[uint64]uint64{1: 100, 2: 200, 500: 5000, 65535: 7}
		for k, v := range values {
			path, err := patricia.PathFromUint64(k, height)
			if err != nil {
				t.Fatal(err)
			}
			if err := tree.Set(ctx, path, felt.FromUint64(v)); err != nil {
				t.Fatal(err)
			}
		}
		root, err := tree.Commit(ctx)
		if err != nil {
			t.Fatal(err)
		}

		reloaded := patricia.LoadTree(store, height, root)
		for k, v := range values {
			path, err := patricia.PathFromUint64(k, height)
			if err != nil {
				t.Fatal(err)
			}
			got, err := reloaded.Get(ctx, path)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(felt.FromUint64(v)) {
				t.Fatalf("Get(%d) after reload = %s, want %d", k, got, v)
			}
		}
	}
}

func testRefcountRelease(newStorage func(t *testing.T) patricia.Storage) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		store := newStorage(t)
		hash := felt.FromUint64(0xC0FFEE)
		data := []byte("conformance-suite-payload")

		if err := store.Put(ctx, hash, data); err != nil {
			t.Fatal(err)
		}
		if err := store.Put(ctx, hash, data); err != nil {
			t.Fatal(err)
		}
		got, err := store.Get(ctx, hash)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(data) {
			t.Fatalf("Get returned %q, want %q", got, data)
		}

		removed, err := store.Release(ctx, hash)
		if err != nil {
			t.Fatal(err)
		}
		if removed {
			t.Fatal("Release dropped refcount to zero after only one of two Puts was released")
		}
		if _, err := store.Get(ctx, hash); err != nil {
			t.Fatalf("node disappeared after a single Release of a doubly-Put entry: %v", err)
		}

		removed, err = store.Release(ctx, hash)
		if err != nil {
			t.Fatal(err)
		}
		if !removed {
			t.Fatal("Release did not report removal once the refcount reached zero")
		}
		if _, err := store.Get(ctx, hash); err == nil {
			t.Fatal("node still present after its refcount reached zero")
		}
	}
}
