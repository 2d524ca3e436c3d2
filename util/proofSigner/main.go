package main

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"time"

	"brb/merkle"
)

const (
	inputFile  = "tx_data/tx_out.tx"
	outputFile = "tx_data/signed_proof.tx"
)

// Runs the proof pipeline: read 32-byte leaves from the input file,
// append each to the tree, and let the signer pool drain the emitted
// work into the signed proof stream.
func main() {
	in, err := os.Open(inputFile)
	if err != nil {
		fmt.Printf("open %s: %v\n", inputFile, err)
		os.Exit(1)
	}
	defer in.Close()

	out, err := os.Create(outputFile)
	if err != nil {
		fmt.Printf("create %s: %v\n", outputFile, err)
		os.Exit(1)
	}
	defer out.Close()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}

	work := make(chan *merkle.Work, merkle.DefaultQueueDepth)
	pool, err := merkle.NewSignerPool(merkle.DefaultSignerCount, priv, out, work)
	if err != nil {
		fmt.Printf("start signers: %v\n", err)
		os.Exit(1)
	}
	tree := merkle.NewTree(work)

	start := time.Now()

	reader := bufio.NewReader(in)
	var leaf merkle.Hash
	for {
		if _, err := io.ReadFull(reader, leaf[:]); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				fmt.Printf("read %s: %v\n", inputFile, err)
				os.Exit(1)
			}
			break
		}
		tree.Append(leaf)
	}
	insertDone := time.Now()

	close(work)
	if err := pool.Wait(); err != nil {
		fmt.Printf("write proofs: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("root %x\n", tree.Root())
	fmt.Printf("tree insertion took %d ms\n", insertDone.Sub(start).Milliseconds())
	fmt.Printf("%d proofs in %d ms\n", pool.Signed(), time.Since(start).Milliseconds())
}
