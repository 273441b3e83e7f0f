// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/tether/lib/binhash"
)

// Registry roles. Client daemons and server daemons for the same
// project on the same machine keep separate registries.
const (
	RoleClient = "client"
	RoleServer = "server"
)

// ErrIdentityIO reports that the registry directory or a record file
// could not be created, read, or written. Fatal at daemon startup;
// callers that only check for an existing daemon may ignore it.
var ErrIdentityIO = errors.New("workspace registry I/O failure")

// Identity names one project for one host within one role's registry.
type Identity struct {
	// ProjectPath is the cleaned absolute project path. For client
	// daemons it is a path on the remote host.
	ProjectPath string

	// Host is the remote host the project lives on.
	Host string

	// Hash is the 64-bit digest of ProjectPath.
	Hash uint64

	// RegistryDir holds the records for every workspace of this role.
	RegistryDir string
}

// Name is the base name shared by the identity's record, log, and
// index directory: <host>-<hash>.
func (id Identity) Name() string {
	return id.Host + "-" + binhash.Format(id.Hash)
}

// RecordPath is the daemon record file.
func (id Identity) RecordPath() string {
	return filepath.Join(id.RegistryDir, id.Name()+".workspace")
}

// LogPath is where a detached daemon for this identity writes its log.
func (id Identity) LogPath() string {
	return filepath.Join(id.RegistryDir, id.Name()+".log")
}

// IndexDir is where the daemon for this identity writes index files.
func (id Identity) IndexDir() string {
	return filepath.Join(id.RegistryDir, id.Name()+".index")
}

// Resolver computes identities under one registry root for one role
// and host.
type Resolver struct {
	root string
	role string
	host string
}

// NewResolver returns a Resolver. host must not contain a path
// separator; it becomes part of record file names.
func NewResolver(root, role, host string) (*Resolver, error) {
	if root == "" {
		return nil, errors.New("registry root is empty")
	}
	if role != RoleClient && role != RoleServer {
		return nil, fmt.Errorf("unknown registry role %q", role)
	}
	if host == "" || strings.ContainsAny(host, `/\`) || host == "." || host == ".." {
		return nil, fmt.Errorf("invalid host name %q", host)
	}
	return &Resolver{root: root, role: role, host: host}, nil
}

// RegistryDir is the directory holding this resolver's records.
func (r *Resolver) RegistryDir() string {
	return filepath.Join(r.root, r.role, "workspaces")
}

// Resolve computes the identity of projectPath and creates the
// registry directory if it does not exist. projectPath need not exist
// locally.
func (r *Resolver) Resolve(projectPath string) (Identity, error) {
	if projectPath == "" {
		return Identity{}, errors.New("project path is empty")
	}
	absolute, err := filepath.Abs(projectPath)
	if err != nil {
		return Identity{}, fmt.Errorf("resolving %s: %w", projectPath, err)
	}

	id := Identity{
		ProjectPath: absolute,
		Host:        r.host,
		Hash:        binhash.Sum64([]byte(absolute)),
		RegistryDir: r.RegistryDir(),
	}
	if err := os.MkdirAll(id.RegistryDir, 0o700); err != nil {
		return Identity{}, fmt.Errorf("%w: creating %s: %v", ErrIdentityIO, id.RegistryDir, err)
	}
	return id, nil
}

// DiscoverHosts returns the hosts that have a daemon record for
// projectPath in role's registry under root, sorted. It does not create
// the registry.
func DiscoverHosts(root, role, projectPath string) ([]string, error) {
	absolute, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", projectPath, err)
	}
	suffix := "-" + binhash.Format(binhash.Sum64([]byte(absolute))) + ".workspace"
	pattern := filepath.Join(root, role, "workspaces", "*"+suffix)

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(matches))
	for _, match := range matches {
		hosts = append(hosts, strings.TrimSuffix(filepath.Base(match), suffix))
	}
	slices.Sort(hosts)
	return hosts, nil
}
