// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/launcher/internal/plugin"
)

func TestBuiltinBridge(t *testing.T) {
	b := newBuiltinBridge("1.4.0")
	b.now = func() time.Time { return time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC) }
	b.account = func() (string, error) { return "ada", nil }
	ctx := context.Background()

	v, err := b.Invoke(ctx, "launcher.version", nil)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", v)

	v, err = b.Invoke(ctx, "clock.now", nil)
	require.NoError(t, err)
	assert.Equal(t, "09:05", v)

	v, err = b.Invoke(ctx, "clock.now", map[string]any{"layout": "2006-01-02"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", v)

	v, err = b.Invoke(ctx, "account.current", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada"}, v)
}

func TestBuiltinBridge_Errors(t *testing.T) {
	b := newBuiltinBridge("dev")
	b.account = func() (string, error) { return "", errors.New("signed out") }

	_, err := b.Invoke(context.Background(), "account.current", nil)
	assert.EqualError(t, err, "signed out")

	_, err = b.Invoke(context.Background(), "files.delete", nil)
	assert.ErrorIs(t, err, plugin.ErrNoBridge)
}

func TestCurrentAccount_FromEnv(t *testing.T) {
	t.Setenv("LAUNCHER_ACCOUNT", "grace")

	name, err := currentAccount()
	require.NoError(t, err)
	assert.Equal(t, "grace", name)
}
