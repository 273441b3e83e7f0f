// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/tether/lib/index"
	"github.com/bureau-foundation/tether/lib/ipc"
)

func newServerRegistry() *ipc.Registry[*serverDaemon] {
	registry := ipc.NewRegistry[*serverDaemon](ipc.RoleServerDaemon)
	ipc.Route(registry, handleInit)
	ipc.Route(registry, handleIndex)
	ipc.Route(registry, handleLs)
	ipc.Route(registry, handleShell)
	ipc.Route(registry, handleGetFile)
	ipc.Route(registry, handleExit)
	return registry
}

func handleInit(_ context.Context, request *ipc.InitRequest, d *serverDaemon) (ipc.Message, error) {
	if request.Version != ipc.ProtocolVersion {
		return nil, fmt.Errorf("protocol version %d not supported (server speaks %d)", request.Version, ipc.ProtocolVersion)
	}
	if request.Workspace != "" && request.Workspace != d.identity.ProjectPath {
		return nil, fmt.Errorf("server serves %s, not %s", d.identity.ProjectPath, request.Workspace)
	}
	return &ipc.InitResponse{
		Version:   ipc.ProtocolVersion,
		Role:      ipc.RoleServerDaemon,
		Workspace: d.identity.ProjectPath,
		IndexHash: d.indexHash(),
	}, nil
}

func handleIndex(ctx context.Context, request *ipc.IndexRequest, d *serverDaemon) (ipc.Message, error) {
	result, err := d.builder.Build(ctx, request.IndexPath, request.PrevHash)
	if err != nil {
		return nil, err
	}
	if request.IndexPath == "" {
		d.setIndexHash(result.Hash)
	}
	d.logger.Info("built index",
		"path", request.IndexPath,
		"files", result.FileCount,
		"changed", result.Changed,
	)
	return &ipc.IndexResponse{
		Hash:      result.Hash,
		IndexFile: result.File,
		Changed:   result.Changed,
		FileCount: uint64(result.FileCount),
	}, nil
}

func handleLs(_ context.Context, request *ipc.LsRequest, d *serverDaemon) (ipc.Message, error) {
	listing, err := index.List(d.identity.ProjectPath, request.LsPath, request.PrevHash)
	if err != nil {
		return nil, err
	}
	return &ipc.LsResponse{
		Hash:    listing.Hash,
		Entries: listing.Entries,
		Changed: listing.Changed,
	}, nil
}

// handleGetFile returns a workspace file whose response fits in one
// frame, leaving room for the envelope and the path.
func handleGetFile(_ context.Context, request *ipc.GetFileRequest, d *serverDaemon) (ipc.Message, error) {
	limit := int64(d.config.Daemon.MaxMessageSize - 1024 - len(request.FilePath))
	file, err := index.ReadFile(d.identity.ProjectPath, request.FilePath, request.PrevHash, limit)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("sent file", "path", file.Path, "bytes", len(file.Contents), "changed", file.Changed)
	return &ipc.GetFileResponse{
		FilePath: file.Path,
		Hash:     file.Hash,
		Contents: file.Contents,
		Changed:  file.Changed,
		Mode:     uint32(file.Mode),
	}, nil
}

func handleShell(ctx context.Context, request *ipc.ShellRequest, d *serverDaemon) (ipc.Message, error) {
	directory, err := index.Within(d.identity.ProjectPath, request.Directory)
	if err != nil {
		return nil, err
	}
	result, err := d.runner.Run(ctx, directory, request.Args)
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		d.logger.Warn("shell output truncated", "args", request.Args)
	}
	return &ipc.ShellResponse{
		Status: int64(result.Status),
		Stdout: result.Stdout,
		Stderr: result.Stderr,
	}, nil
}

func handleExit(_ context.Context, _ *ipc.ExitRequest, d *serverDaemon) (ipc.Message, error) {
	d.logger.Info("exit requested")
	return &ipc.ExitResponse{Status: 0}, nil
}
