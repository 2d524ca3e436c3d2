package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	sha256 "github.com/minio/sha256-simd"
)

const outFile = "tx_data/tx_out.tx"

// Writes a leaf file for the proof pipeline: count SHA-256 hashes,
// concatenated.
func main() {
	if len(os.Args) != 2 {
		fmt.Printf("usage:\n%s LEAF-COUNT\n", os.Args[0])
		os.Exit(1)
	}
	count, err := strconv.Atoi(os.Args[1])
	if err != nil || count < 1 {
		fmt.Printf("bad leaf count %q\n", os.Args[1])
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		panic(err)
	}
	f, err := os.Create(outFile)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := 0; i < count; i++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("hello world%d", i)))
		w.Write(sum[:])
	}
	if err := w.Flush(); err != nil {
		panic(err)
	}

	fmt.Printf("wrote %d leaves to %s\n", count, outFile)
}
