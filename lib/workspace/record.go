// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"

	"github.com/bureau-foundation/tether/lib/atomicfile"
	"github.com/bureau-foundation/tether/lib/codec"
)

// ErrDaemonExists is returned by ClaimDaemon when another daemon's
// record is already present.
var ErrDaemonExists = errors.New("daemon record already exists")

// DaemonRecord is the persisted state of a running daemon.
type DaemonRecord struct {
	Host      string `cbor:"host"`
	Workspace string `cbor:"workspace"`

	// DaemonPort is the loopback port the daemon accepts requests on.
	DaemonPort int `cbor:"daemon_port"`

	// LocalPort and RemotePort are the tunnel's forwarding endpoints.
	// Zero for server daemons.
	LocalPort  int `cbor:"local_port,omitempty"`
	RemotePort int `cbor:"remote_port,omitempty"`

	IndexHash uint64 `cbor:"index_hash,omitempty"`
	PID       int    `cbor:"pid"`

	// Version and BinaryHash identify the daemon build, so the CLI can
	// tell when an installed binary no longer matches a running daemon.
	Version    string `cbor:"version,omitempty"`
	BinaryHash uint64 `cbor:"binary_hash,omitempty"`

	// StartedAt is in Unix seconds.
	StartedAt int64 `cbor:"started_at"`
}

// Address is the dialable loopback address of the daemon.
func (r DaemonRecord) Address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(r.DaemonPort))
}

func (r DaemonRecord) validate() error {
	if r.Host == "" {
		return errors.New("record has no host")
	}
	if r.DaemonPort <= 0 || r.DaemonPort > 65535 {
		return fmt.Errorf("record daemon port %d out of range", r.DaemonPort)
	}
	return nil
}

// FindDaemon reads the record for id. An absent, unreadable, or
// malformed record reports false.
func FindDaemon(id Identity) (DaemonRecord, bool) {
	data, err := os.ReadFile(id.RecordPath())
	if err != nil {
		return DaemonRecord{}, false
	}
	var record DaemonRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return DaemonRecord{}, false
	}
	if record.validate() != nil {
		return DaemonRecord{}, false
	}
	return record, true
}

// PublishDaemon writes record for id, replacing any existing record.
// Readers see either the previous record or this one in full.
func PublishDaemon(id Identity, record DaemonRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := atomicfile.Write(id.RecordPath(), data, 0o600); err != nil {
		return fmt.Errorf("%w: publishing %s: %v", ErrIdentityIO, id.RecordPath(), err)
	}
	return nil
}

// ClaimDaemon writes record for id only if no record exists. Returns
// ErrDaemonExists (wrapped) otherwise.
func ClaimDaemon(id Identity, record DaemonRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	err = atomicfile.CreateExclusive(id.RecordPath(), data, 0o600)
	if errors.Is(err, atomicfile.ErrExists) {
		return fmt.Errorf("%s: %w", id.RecordPath(), ErrDaemonExists)
	}
	if err != nil {
		return fmt.Errorf("%w: claiming %s: %v", ErrIdentityIO, id.RecordPath(), err)
	}
	return nil
}

// RetractDaemon removes the record for id. Removing an absent record
// succeeds.
func RetractDaemon(id Identity) error {
	if err := os.Remove(id.RecordPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: retracting %s: %v", ErrIdentityIO, id.RecordPath(), err)
	}
	return nil
}

// WaitDaemon blocks until a valid record for id exists, or ctx is done.
func WaitDaemon(ctx context.Context, id Identity) (DaemonRecord, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return DaemonRecord{}, fmt.Errorf("creating registry watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(id.RegistryDir); err != nil {
		return DaemonRecord{}, fmt.Errorf("%w: watching %s: %v", ErrIdentityIO, id.RegistryDir, err)
	}

	// The record may have landed before the watch was armed.
	if record, ok := FindDaemon(id); ok {
		return record, nil
	}

	recordName := filepath.Base(id.RecordPath())
	for {
		select {
		case <-ctx.Done():
			return DaemonRecord{}, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return DaemonRecord{}, errors.New("registry watcher closed")
			}
			if filepath.Base(event.Name) != recordName {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if record, ok := FindDaemon(id); ok {
				return record, nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return DaemonRecord{}, errors.New("registry watcher closed")
			}
			return DaemonRecord{}, fmt.Errorf("watching %s: %w", id.RegistryDir, err)
		}
	}
}

func encodeRecord(record DaemonRecord) ([]byte, error) {
	if err := record.validate(); err != nil {
		return nil, err
	}
	data, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding daemon record: %w", err)
	}
	return data, nil
}
