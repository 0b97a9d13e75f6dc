// Command strie-dump is a read-only leaf-dump CLI for the tree engine.
// Given no -root, it reads "key value" lines from stdin (as tree_tool's
// generate_tree/merkle_global_tree examples do), builds a fresh tree,
// commits it, and prints the resulting root followed by every leaf.
// Given -root, it instead loads an existing tree at that root from a
// sqlitestore database and dumps its leaves without mutating anything.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"go.strie.dev/strie/felt"
	"go.strie.dev/strie/patricia"
	"go.strie.dev/strie/patricia/sqlitestore"
)

var (
	dbFlag     = flag.String("db", "", "path to a sqlitestore database (in-memory tree if empty)")
	heightFlag = flag.Int("height", felt.Bits, "tree key height in bits")
	rootFlag   = flag.String("root", "", "hex root hash to load read-only, instead of building from stdin")
	verbose    = flag.Bool("v", false, "enable debug logging")
)

func main() {
	flag.Parse()

	level := new(slog.LevelVar)
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(); err != nil {
		slog.Error("strie-dump failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	storage, closeStorage, err := openStorage()
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeStorage()

	if *rootFlag != "" {
		root, err := felt.FromHex(*rootFlag)
		if err != nil {
			return fmt.Errorf("parsing -root: %w", err)
		}
		tree := patricia.LoadTree(storage, *heightFlag, root)
		return dumpLeaves(ctx, tree, root)
	}

	tree := patricia.NewTree(storage, *heightFlag)
	if err := loadFromStdin(ctx, tree); err != nil {
		return err
	}
	root, err := tree.Commit(ctx)
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return dumpLeaves(ctx, tree, root)
}

func openStorage() (patricia.Storage, func(), error) {
	if *dbFlag == "" {
		return patricia.NewMemoryStorage(), func() {}, nil
	}
	s, err := sqlitestore.Open(*dbFlag, 1)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

// loadFromStdin reads "key value" lines (each hex 0x-prefixed or
// decimal, per tree_tool's parse convention), skipping blank lines and
// "#"-prefixed comments, and Sets each pair into tree.
func loadFromStdin(ctx context.Context, tree *patricia.Tree) error {
	scanner := bufio.NewScanner(os.Stdin)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("line %d: expected 2 whitespace-separated values, got %d", lineNo, len(fields))
		}
		key, err := parseFelt(fields[0])
		if err != nil {
			return fmt.Errorf("line %d: invalid key: %w", lineNo, err)
		}
		value, err := parseFelt(fields[1])
		if err != nil {
			return fmt.Errorf("line %d: invalid value: %w", lineNo, err)
		}
		path, err := keyPath(key)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := tree.Set(ctx, path, value); err != nil {
			return fmt.Errorf("line %d: set: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

func keyPath(key felt.Felt) (patricia.Path, error) {
	full := patricia.PathFromKey(key)
	if *heightFlag == felt.Bits {
		return full, nil
	}
	return patricia.PathFromUint64(bitsToUint64(full), *heightFlag)
}

// bitsToUint64 reads the low 64 bits of a full-height path, for the
// common case of a smaller commitment-style tree driven by this tool.
func bitsToUint64(p patricia.Path) uint64 {
	var v uint64
	for i := p.Len() - 64; i < p.Len(); i++ {
		v <<= 1
		if i >= 0 && p.Bit(i) {
			v |= 1
		}
	}
	return v
}

func dumpLeaves(ctx context.Context, tree *patricia.Tree, root felt.Felt) error {
	fmt.Println(root.Hex())
	return tree.VisitLeaves(ctx, func(key patricia.Path, value felt.Felt) error {
		fmt.Printf("%s %s\n", pathHex(key), value.Hex())
		return nil
	})
}

func pathHex(p patricia.Path) string {
	return p.Packed().Hex()
}

// parseFelt mirrors tree_tool's parse(): "0x"-prefixed hex, or a bare
// base-10 integer.
func parseFelt(s string) (felt.Felt, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return felt.FromHex(s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return felt.Felt{}, fmt.Errorf("%q is neither 0x-hex nor a base-10 integer", s)
	}
	var buf [32]byte
	v.FillBytes(buf[:])
	return felt.FromBigEndian(buf[:])
}
