// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/tether/lib/index"
	"github.com/bureau-foundation/tether/lib/ipc"
)

func newClientRegistry() *ipc.Registry[*clientDaemon] {
	registry := ipc.NewRegistry[*clientDaemon](ipc.RoleClientDaemon)
	ipc.Route(registry, handleInit)
	ipc.Route(registry, handleIndex)
	ipc.Route(registry, handleLs)
	ipc.Route(registry, handleShell)
	ipc.Route(registry, handleGetFile)
	ipc.Route(registry, handleExit)
	ipc.Route(registry, handlePayload)
	return registry
}

func handleInit(_ context.Context, request *ipc.InitRequest, d *clientDaemon) (ipc.Message, error) {
	if request.Version != ipc.ProtocolVersion {
		return nil, fmt.Errorf("protocol version %d not supported (daemon speaks %d)", request.Version, ipc.ProtocolVersion)
	}
	return &ipc.InitResponse{
		Version:   ipc.ProtocolVersion,
		Role:      ipc.RoleClientDaemon,
		Workspace: d.identity.ProjectPath,
		IndexHash: d.indexHash(),
	}, nil
}

// handleIndex builds the index on the remote host. A whole-workspace
// request without a previous hash is compared against the daemon's
// current one, and the result becomes the new current hash.
func handleIndex(ctx context.Context, request *ipc.IndexRequest, d *clientDaemon) (ipc.Message, error) {
	whole := request.IndexPath == ""
	forwarded := *request
	if whole && forwarded.PrevHash == 0 {
		forwarded.PrevHash = d.indexHash()
	}

	var response ipc.IndexResponse
	if err := d.forward(ctx, &forwarded, &response); err != nil {
		return nil, err
	}
	if whole {
		d.setIndexHash(response.Hash)
	}
	return &response, nil
}

func handleLs(ctx context.Context, request *ipc.LsRequest, d *clientDaemon) (ipc.Message, error) {
	var response ipc.LsResponse
	if err := d.forward(ctx, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func handleGetFile(ctx context.Context, request *ipc.GetFileRequest, d *clientDaemon) (ipc.Message, error) {
	var response ipc.GetFileResponse
	if err := d.forward(ctx, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// handleShell runs the command through the tunnel when Remote is set,
// and in the local directory otherwise.
func handleShell(ctx context.Context, request *ipc.ShellRequest, d *clientDaemon) (ipc.Message, error) {
	if request.Remote {
		var response ipc.ShellResponse
		if err := d.forward(ctx, request, &response); err != nil {
			return nil, err
		}
		return &response, nil
	}

	directory, err := index.Within(d.options.LocalDir, request.Directory)
	if err != nil {
		return nil, err
	}
	result, err := d.runner.Run(ctx, directory, request.Args)
	if err != nil {
		return nil, err
	}
	return &ipc.ShellResponse{
		Status: int64(result.Status),
		Stdout: result.Stdout,
		Stderr: result.Stderr,
	}, nil
}

func handleExit(_ context.Context, _ *ipc.ExitRequest, d *clientDaemon) (ipc.Message, error) {
	d.logger.Info("exit requested")
	return &ipc.ExitResponse{Status: 0}, nil
}

// handlePayload dispatches the wrapped request through the same
// registry and wraps the reply. Protocol errors in the body are protocol
// errors of the whole request.
func handlePayload(ctx context.Context, request *ipc.PayloadRequest, d *clientDaemon) (ipc.Message, error) {
	if request.Command == ipc.TypePayloadRequest {
		return nil, fmt.Errorf("%w: nested payload", ipc.ErrMalformedEnvelope)
	}
	inner, err := ipc.Unwrap(request.Command, request.Body)
	if err != nil {
		return nil, err
	}
	response, err := d.registry.Dispatch(ctx, inner, d)
	if err != nil || response == nil {
		return response, err
	}
	return ipc.WrapResponse(response)
}
