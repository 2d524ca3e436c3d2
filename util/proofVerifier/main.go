package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"brb/merkle"
)

const inputFile = "tx_data/signed_proof.tx"

// Replays a signed proof stream and checks every record: root
// reconstruction up the authentication path, then the root signature.
// Records may appear in any order.
func main() {
	in, err := os.Open(inputFile)
	if err != nil {
		fmt.Printf("open %s: %v\n", inputFile, err)
		os.Exit(1)
	}
	defer in.Close()

	reader := bufio.NewReader(in)
	pub, err := merkle.ReadHeader(reader)
	if err != nil {
		fmt.Printf("read header: %v\n", err)
		os.Exit(1)
	}

	count := 0
	for {
		rec, err := merkle.ReadRecord(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Printf("record %d: %v\n", count, err)
			os.Exit(1)
		}
		if err := rec.Verify(pub); err != nil {
			fmt.Printf("record %d: %v\n", count, err)
			os.Exit(1)
		}
		count++
	}

	fmt.Printf("all %d records correct\n", count)
}
