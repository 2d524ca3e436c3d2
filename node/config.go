/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package node

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Config is the cluster description read from ip.config. The first line
// holds four integers (node count, round interval in seconds, payload
// size in bytes, dynamic size flag), followed by one host:port line per
// node, ordered by node index.
type Config struct {
	NodeCount      int
	RoundInterval  time.Duration
	PayloadSize    int
	DynamicMsgSize bool
	Addrs          []string
}

// ParseConfigFile reads and validates ip.config.
func ParseConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, errors.New("config missing header line")
	}

	var nodeCount, interval, payloadSize, dynamic int
	n, err := fmt.Sscanf(scanner.Text(), "%d %d %d %d", &nodeCount, &interval, &payloadSize, &dynamic)
	if err != nil || n != 4 {
		return nil, errors.Errorf("config header %q: want four integers", scanner.Text())
	}
	if nodeCount < 1 {
		return nil, errors.Errorf("config node count %d: must be positive", nodeCount)
	}
	if interval < 1 {
		return nil, errors.Errorf("config round interval %d: must be positive", interval)
	}
	if payloadSize < 1 {
		return nil, errors.Errorf("config payload size %d: must be positive", payloadSize)
	}

	cfg := &Config{
		NodeCount:      nodeCount,
		RoundInterval:  time.Duration(interval) * time.Second,
		PayloadSize:    payloadSize,
		DynamicMsgSize: dynamic == 1,
	}

	for i := 0; i < nodeCount; i++ {
		if !scanner.Scan() {
			return nil, errors.Errorf("config missing address for node %d", i)
		}
		addr := scanner.Text()
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, errors.Wrapf(err, "config address %q for node %d", addr, i)
		}
		cfg.Addrs = append(cfg.Addrs, addr)
	}

	return cfg, scanner.Err()
}

// Fault reports the tolerated faulty-node bound f for this cluster size.
func (cfg *Config) Fault() int {
	return (cfg.NodeCount - 1) / 3
}
