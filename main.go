/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"brb/node"
)

const (
	ExitSetupSuccess = 0
	ExitSetupFailed  = 1
)

const (
	ConfigFile = "ip.config"
	KeyDir     = "./pem"
	EvalDir    = "eval"

	EnvVerbose = "BRB_VERBOSE"
)

func printUsage() {
	fmt.Printf("usage:\n")
	fmt.Printf("%s NODE-INDEX\n", os.Args[0])
}

func main() {
	if len(os.Args) != 2 {
		printUsage()
		os.Exit(ExitSetupFailed)
	}
	index, err := strconv.Atoi(os.Args[1])
	if err != nil || index < 0 {
		printUsage()
		os.Exit(ExitSetupFailed)
	}

	logLevel := node.LogLevelInfo
	if os.Getenv(EnvVerbose) == "1" {
		logLevel = node.LogLevelDebug
	}
	logger := node.NewLogger(logLevel, index)

	cfg, err := node.ParseConfigFile(ConfigFile)
	if err != nil {
		logger.Errorf("failed to read %s: %v", ConfigFile, err)
		os.Exit(ExitSetupFailed)
	}
	if index >= cfg.NodeCount {
		logger.Errorf("node index %d outside cluster of %d", index, cfg.NodeCount)
		os.Exit(ExitSetupFailed)
	}

	priv, err := node.LoadPrivateKey(KeyDir, index)
	if err != nil {
		logger.Errorf("failed to load private key: %v", err)
		os.Exit(ExitSetupFailed)
	}
	pubs, err := node.LoadPublicKeys(KeyDir, cfg.NodeCount)
	if err != nil {
		logger.Errorf("failed to load public keys: %v", err)
		os.Exit(ExitSetupFailed)
	}

	n := node.NewNode(cfg, index, priv, pubs, logger)
	if err := n.Start(); err != nil {
		logger.Errorf("failed to start: %v", err)
		os.Exit(ExitSetupFailed)
	}

	// wait for program to terminate

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM)
	signal.Notify(term, os.Interrupt)

	<-term

	n.Close()
	if err := n.WriteEvalFiles(EvalDir); err != nil {
		logger.Errorf("failed to write eval files: %v", err)
	}

	logger.Infof("shutting down")
	os.Exit(ExitSetupSuccess)
}
