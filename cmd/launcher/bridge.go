// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/holomush/launcher/internal/plugin"
)

// builtinBridge answers the host commands available without a UI shell.
type builtinBridge struct {
	version string
	now     func() time.Time
	account func() (string, error)
}

func newBuiltinBridge(version string) *builtinBridge {
	return &builtinBridge{
		version: version,
		now:     time.Now,
		account: currentAccount,
	}
}

// Invoke implements plugin.HostBridge.
func (b *builtinBridge) Invoke(_ context.Context, command string, args map[string]any) (any, error) {
	switch command {
	case "launcher.version":
		return b.version, nil
	case "clock.now":
		layout := "15:04"
		if v, ok := args["layout"].(string); ok && v != "" {
			layout = v
		}
		return b.now().Format(layout), nil
	case "account.current":
		name, err := b.account()
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": name}, nil
	default:
		return nil, fmt.Errorf("unknown command %q: %w", command, plugin.ErrNoBridge)
	}
}

func currentAccount() (string, error) {
	if name := os.Getenv("LAUNCHER_ACCOUNT"); name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("no signed-in account: %w", err)
	}
	return u.Username, nil
}
