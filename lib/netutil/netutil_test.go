// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{fmt.Errorf("reading frame: %w", io.ErrUnexpectedEOF), true},
		{net.ErrClosed, true},
		{&net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}, true},
		{&net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, true},
		{&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, false},
		{fmt.Errorf("decode failed"), false},
	}
	for _, test := range tests {
		if got := IsExpectedCloseError(test.err); got != test.want {
			t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}

func TestIsTimeout(t *testing.T) {
	listener, err := ListenLoopback(0)
	if err != nil {
		t.Fatalf("ListenLoopback: %v", err)
	}
	defer listener.Close()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = conn.Read(make([]byte, 1))
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false", err)
	}
	if IsTimeout(io.EOF) {
		t.Error("IsTimeout(io.EOF) = true")
	}
}

func TestListenLoopback(t *testing.T) {
	listener, err := ListenLoopback(0)
	if err != nil {
		t.Fatalf("ListenLoopback: %v", err)
	}
	defer listener.Close()

	port := ListenerPort(listener)
	if port <= 0 {
		t.Fatalf("ListenerPort = %d", port)
	}
	if _, err := ListenLoopback(port); err == nil {
		t.Error("binding a taken port succeeded")
	}
}

func TestRandomPort(t *testing.T) {
	for range 200 {
		port, err := RandomPort(DynamicPortStart, DynamicPortEnd, 50000)
		if err != nil {
			t.Fatalf("RandomPort: %v", err)
		}
		if port < DynamicPortStart || port > DynamicPortEnd || port == 50000 {
			t.Fatalf("RandomPort returned %d", port)
		}
	}

	port, err := RandomPort(60000, 60001, 60000)
	if err != nil || port != 60001 {
		t.Errorf("RandomPort(60000, 60001, excl 60000) = %d, %v", port, err)
	}
	if _, err := RandomPort(60000, 60000, 60000); err == nil {
		t.Error("fully excluded range succeeded")
	}
	if _, err := RandomPort(10, 5); err == nil {
		t.Error("inverted range succeeded")
	}
}
