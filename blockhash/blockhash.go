// Package blockhash computes the StarkNet block hash: an array_hash
// over an 11-element header tuple whose transaction- and
// event-commitment entries are themselves height-64 commitment tree
// roots (spec.md §6).
package blockhash

import (
	"context"

	"golang.org/x/sync/errgroup"

	"go.strie.dev/strie/commitment"
	"go.strie.dev/strie/felt"
)

// TransactionView is the subset of a transaction's fields the block
// hash depends on: its own hash, already computed by the caller
// according to the transaction's own type-specific hashing rules (out
// of scope here), and its signature. Signature is nil for a
// transaction with no signature array at all; that still hashes as
// the (non-zero) empty-array hash, not as if the signature were
// absent from the commitment.
type TransactionView struct {
	Hash      felt.Felt
	Signature []felt.Felt
}

// CommitmentHash returns the transaction's leaf value for the
// transaction commitment tree: H(transaction_hash, array_hash(signature)).
func (tx TransactionView) CommitmentHash() felt.Felt {
	return felt.Pedersen(tx.Hash, felt.ArrayHash(tx.Signature))
}

// EventView is an emitted event's content, hashed the same way
// StarkNet hashes an event for its commitment tree leaf:
// array_hash([from_address, array_hash(keys), array_hash(data)]).
type EventView struct {
	FromAddress felt.Felt
	Keys        []felt.Felt
	Data        []felt.Felt
}

// Hash returns the event's commitment-tree leaf value.
func (e EventView) Hash() felt.Felt {
	keysHash := felt.ArrayHash(e.Keys)
	dataHash := felt.ArrayHash(e.Data)
	return felt.ArrayHash([]felt.Felt{e.FromAddress, keysHash, dataHash})
}

// ReceiptView carries the parts of a transaction receipt this package
// has a use for. Execution-resource accounting (steps, builtin
// counters, and similar metadata) is deliberately not modeled: it is
// not part of any commitment or block hash this package computes.
type ReceiptView struct {
	TransactionHash felt.Felt
	ActualFee       felt.Felt
	Events          []EventView
}

// BlockView is the subset of a block's header and body the block hash
// is computed from. Events are not carried directly: they flow
// through Receipts, one ordered event list per transaction, and are
// flattened in receipt order when building the event commitment.
type BlockView struct {
	Number          uint64
	ParentHash      felt.Felt
	Timestamp       uint64
	GlobalStateRoot felt.Felt
	Transactions    []TransactionView
	Receipts        []ReceiptView

	// SequencerAddress is nil for blocks produced before StarkNet
	// 0.8.0, when the field did not yet exist and the header commits
	// to zero in its place. Blocks produced in the narrow window after
	// 0.8.0 and before 0.8.2 committed to a fixed placeholder value
	// instead of the real sequencer address; callers reconstructing a
	// block hash in that range must pass that constant explicitly,
	// since this package has no way to distinguish "pre-0.8.0" from
	// "in the placeholder window" on its own.
	SequencerAddress *felt.Felt
}

// Compute returns the block hash for b, building the transaction and
// event commitment trees concurrently since neither depends on the
// other (grounded on the teacher's errgroup.WithContext fan-out
// pattern for independent work).
func Compute(ctx context.Context, b BlockView) (felt.Felt, error) {
	var txRoot, eventRoot felt.Felt

	events := flattenEvents(b.Receipts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hashes := make([]felt.Felt, len(b.Transactions))
		for i, tx := range b.Transactions {
			hashes[i] = tx.CommitmentHash()
		}
		root, err := commitment.Build(gctx, hashes)
		if err != nil {
			return err
		}
		txRoot = root
		return nil
	})
	g.Go(func() error {
		hashes := make([]felt.Felt, len(events))
		for i, e := range events {
			hashes[i] = e.Hash()
		}
		root, err := commitment.Build(gctx, hashes)
		if err != nil {
			return err
		}
		eventRoot = root
		return nil
	})
	if err := g.Wait(); err != nil {
		return felt.Zero, err
	}

	sequencerAddress := felt.Zero
	if b.SequencerAddress != nil {
		sequencerAddress = *b.SequencerAddress
	}

	header := []felt.Felt{
		felt.FromUint64(b.Number),
		b.GlobalStateRoot,
		sequencerAddress,
		felt.FromUint64(b.Timestamp),
		felt.FromUint64(uint64(len(b.Transactions))),
		txRoot,
		felt.FromUint64(uint64(len(events))),
		eventRoot,
		felt.Zero, // reserved
		felt.Zero, // reserved
		b.ParentHash,
	}
	return felt.ArrayHash(header), nil
}

// flattenEvents concatenates every receipt's events in receipt order,
// giving each event the global index its commitment-tree leaf is
// keyed by.
func flattenEvents(receipts []ReceiptView) []EventView {
	var events []EventView
	for _, r := range receipts {
		events = append(events, r.Events...)
	}
	return events
}
