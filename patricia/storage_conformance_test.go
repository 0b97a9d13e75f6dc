package patricia_test

import (
	"testing"

	"go.strie.dev/strie/patricia"
	"go.strie.dev/strie/patricia/storagetest"
)

func TestMemoryStorageConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) patricia.Storage {
		return patricia.NewMemoryStorage()
	})
}
