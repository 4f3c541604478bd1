// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	snap := FromEnv()

	assert.Equal(t, ":8080", snap.ListenAddr)
	assert.Equal(t, 20*time.Second, snap.Gateway.Timeout)
	assert.Equal(t, 3, snap.Gateway.RetryMax)
	assert.Equal(t, 30*time.Second, snap.Presence.HeartbeatInterval)
	assert.Equal(t, 3, snap.Presence.MissedBeats)
	assert.Equal(t, 500, snap.Hub.BacklogSize)
	assert.Equal(t, time.Hour, snap.Hub.BacklogTTL)
	assert.Equal(t, 5*time.Minute, snap.Voting.QuorumWindow)
	require.NoError(t, snap.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BSX_LISTEN", ":9090")
	t.Setenv("BSX_AI_TIMEOUT", "5s")
	t.Setenv("BSX_HEARTBEAT_MISSED", "5")

	snap := FromEnv()
	assert.Equal(t, ":9090", snap.ListenAddr)
	assert.Equal(t, 5*time.Second, snap.Gateway.Timeout)
	assert.Equal(t, 5, snap.Presence.MissedBeats)
}

func TestParseIntInvalidFallsBack(t *testing.T) {
	t.Setenv("BSX_BACKLOG_SIZE", "not-a-number")
	snap := FromEnv()
	assert.Equal(t, 500, snap.Hub.BacklogSize)
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("listen_addr: \":7000\"\nvoting:\n  quorum_window: 2m\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	snap, err := LoadFile(path, FromEnv())
	require.NoError(t, err)
	assert.Equal(t, ":7000", snap.ListenAddr)
	assert.Equal(t, 2*time.Minute, snap.Voting.QuorumWindow)
	// Untouched fields keep env defaults.
	assert.Equal(t, 500, snap.Hub.BacklogSize)
}

func TestLoadFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [oops"), 0o600))

	_, err := LoadFile(path, FromEnv())
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	snap := FromEnv()
	snap.Gateway.RetryMax = 0
	assert.Error(t, snap.Validate())

	snap = FromEnv()
	snap.Hub.BacklogSize = 0
	assert.Error(t, snap.Validate())
}

func TestHolderReloadSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":7001\"\n"), 0o600))

	holder := NewHolder(path, FromEnv())
	assert.Equal(t, ":8080", holder.Current().ListenAddr)

	require.NoError(t, holder.Reload())
	assert.Equal(t, ":7001", holder.Current().ListenAddr)
}

func TestHolderReloadKeepsSnapshotOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":7001\"\n"), 0o600))

	holder := NewHolder(path, FromEnv())
	require.NoError(t, holder.Reload())

	require.NoError(t, os.WriteFile(path, []byte("hub:\n  backlog_size: 0\n"), 0o600))
	assert.Error(t, holder.Reload())
	assert.Equal(t, ":7001", holder.Current().ListenAddr)
}
