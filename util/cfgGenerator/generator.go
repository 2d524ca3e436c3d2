package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"brb/node"
	"brb/util/cfgGenerator/internal/config"
)

// Renders ip.config and a pem/ key directory from a YAML cluster
// settings file, so a test cluster can be stood up in one step.
func main() {
	cfgName := "cluster.yml"
	if len(os.Args) != 1 {
		cfgName = os.Args[1]
	} else {
		fmt.Println("WARNING; settings file omited; using cluster.yml")
	}

	cfg, err := config.NewFromFilename(cfgName)
	if err != nil {
		panic(err)
	}

	f, err := os.Create("ip.config")
	if err != nil {
		panic(err)
	}
	defer f.Close()

	dynamic := 0
	if cfg.DynamicMsgSize {
		dynamic = 1
	}
	fmt.Fprintf(f, "%d %d %d %d\n", len(cfg.Hosts), cfg.RoundIntervalSeconds, cfg.PayloadSizeBytes, dynamic)
	for _, host := range cfg.Hosts {
		fmt.Fprintln(f, host)
	}

	pemDir := filepath.Join(".", "pem")
	if err := os.MkdirAll(pemDir, 0o755); err != nil {
		panic(err)
	}
	for i := range cfg.Hosts {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			panic(err)
		}
		if err := node.WriteKeyPair(pemDir, i, priv); err != nil {
			panic(err)
		}
	}

	fmt.Printf("wrote ip.config and %d keypairs under %s\n", len(cfg.Hosts), pemDir)
}
