// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
)

// Dynamic port range (RFC 6335).
const (
	DynamicPortStart = 49152
	DynamicPortEnd   = 65535
)

// ListenLoopback binds a TCP listener on 127.0.0.1:port. Port zero lets
// the kernel choose.
func ListenLoopback(port int) (net.Listener, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listening on loopback port %d: %w", port, err)
	}
	return listener, nil
}

// ListenerPort returns the TCP port a listener is bound to.
func ListenerPort(listener net.Listener) int {
	if address, ok := listener.Addr().(*net.TCPAddr); ok {
		return address.Port
	}
	return 0
}

// RandomPort picks a port in [start, end] that is not in exclude. The
// port is not checked for availability: remote ports live on another
// host, and the tunnel reports a taken port as a failed run.
func RandomPort(start, end int, exclude ...int) (int, error) {
	if start <= 0 || end > 65535 || start > end {
		return 0, fmt.Errorf("invalid port range %d-%d", start, end)
	}
	span := end - start + 1
	if span <= len(exclude) {
		// Small ranges: scan deterministically.
		for port := start; port <= end; port++ {
			if !contains(exclude, port) {
				return port, nil
			}
		}
		return 0, errors.New("every port in range is excluded")
	}
	for {
		port := start + rand.IntN(span)
		if !contains(exclude, port) {
			return port, nil
		}
	}
}

func contains(ports []int, port int) bool {
	for _, candidate := range ports {
		if candidate == port {
			return true
		}
	}
	return false
}
