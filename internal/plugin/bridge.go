// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
)

// HostBridge relays plugin commands to host-side functionality. The plugin
// host never interprets responses.
//
// Invoke runs on the Lua executor and blocks plugin code while it runs. It
// must not call back into the Host synchronously.
type HostBridge interface {
	Invoke(ctx context.Context, command string, args map[string]any) (any, error)
}

// LogSink receives plugin log lines mirrored to the host. Delivery is best
// effort; errors are dropped.
type LogSink interface {
	Log(ctx context.Context, level, message string) error
}

// ErrNoBridge is returned to plugins calling invoke when no bridge is set.
var ErrNoBridge = errors.New("host bridge unavailable")

// ManifestSourceFunc adapts a function to ManifestSource.
type ManifestSourceFunc func(ctx context.Context) ([]*Manifest, error)

// GetManifests implements ManifestSource.
func (f ManifestSourceFunc) GetManifests(ctx context.Context) ([]*Manifest, error) {
	return f(ctx)
}

// CodeSourceFunc adapts a function to CodeSource.
type CodeSourceFunc func(ctx context.Context, pluginName, entryPath string) ([]byte, error)

// GetSource implements CodeSource.
func (f CodeSourceFunc) GetSource(ctx context.Context, pluginName, entryPath string) ([]byte, error) {
	return f(ctx, pluginName, entryPath)
}

// BridgeFunc adapts a function to HostBridge.
type BridgeFunc func(ctx context.Context, command string, args map[string]any) (any, error)

// Invoke implements HostBridge.
func (f BridgeFunc) Invoke(ctx context.Context, command string, args map[string]any) (any, error) {
	return f(ctx, command, args)
}

// nopBridge rejects every command.
type nopBridge struct{}

func (nopBridge) Invoke(context.Context, string, map[string]any) (any, error) {
	return nil, ErrNoBridge
}

// nopSink drops every line.
type nopSink struct{}

func (nopSink) Log(context.Context, string, string) error { return nil }
