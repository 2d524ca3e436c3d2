/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

//go:build !linux

package conn

import "syscall"

func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}
