// Command strie-gen writes a seeded, pseudo-random stream of
// "key value" lines to stdout, suitable for piping into strie-dump.
// It is the Go counterpart of tree_tool's generate_tree binary: a
// ChaCha8-seeded generator so a run can be reproduced exactly by
// passing the same -seed back in.
package main

import (
	"bufio"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	mathrand "math/rand/v2"
	"os"
)

var (
	seedFlag  = flag.String("seed", "", "64 hex character ChaCha8 seed (random if omitted)")
	countFlag = flag.Int("count", 0, "number of key/value lines to emit (random 1..1024 if 0)")
	verbose   = flag.Bool("v", false, "enable debug logging")
)

// starkPrimeHex is the STARK field modulus (felt.Bits+1-ish range); kept
// as a literal here rather than importing felt, since this tool only
// needs to sample the field, not operate on it.
const starkPrimeHex = "800000000000011000000000000000000000000000000000000000000000001"

func main() {
	flag.Parse()

	level := new(slog.LevelVar)
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var seed [32]byte
	if *seedFlag != "" {
		if len(*seedFlag) != 64 {
			fmt.Fprintln(os.Stderr, "strie-gen: -seed must be exactly 64 hex characters")
			os.Exit(1)
		}
		b, ok := new(big.Int).SetString(*seedFlag, 16)
		if !ok {
			fmt.Fprintln(os.Stderr, "strie-gen: -seed is not valid hex")
			os.Exit(1)
		}
		b.FillBytes(seed[:])
	} else {
		if _, err := rand.Read(seed[:]); err != nil {
			slog.Error("generating random seed", "err", err)
			os.Exit(1)
		}
	}

	prime, ok := new(big.Int).SetString(starkPrimeHex, 16)
	if !ok {
		panic("strie-gen: bad embedded prime literal")
	}

	r := mathrand.NewChaCha8(seed)
	bigRand := mathrand.New(r)

	count := *countFlag
	if count == 0 {
		count = 1 + bigRand.IntN(1024)
	}

	slog.Debug("generating", "seed", fmt.Sprintf("%x", seed), "count", count)

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	fmt.Fprintf(w, "# chacha8 seed: %x\n", seed)
	fmt.Fprintf(w, "# count: %d\n", count)
	for i := 0; i < count; i++ {
		key := randomFelt(bigRand, prime)
		value := randomFelt(bigRand, prime)
		fmt.Fprintf(w, "0x%x 0x%x\n", key, value)
	}
}

// randomFelt draws a uniform value in [0, prime) by rejection sampling
// over prime's byte width, avoiding the modulo bias a plain Mod would
// introduce.
func randomFelt(r *mathrand.Rand, prime *big.Int) *big.Int {
	byteLen := (prime.BitLen() + 7) / 8
	buf := make([]byte, byteLen)
	for {
		for i := range buf {
			buf[i] = byte(r.IntN(256))
		}
		v := new(big.Int).SetBytes(buf)
		if v.Cmp(prime) < 0 {
			return v
		}
	}
}
