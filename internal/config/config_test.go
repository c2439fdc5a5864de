package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("MISSKEY_HOST", "misskey.example")
	t.Setenv("MISSKEY_TOKEN", "tok")
	t.Setenv("ANTENNA_ID", "ant1")
	t.Setenv("THREADLENS_LOG_LEVEL", "DEBUG")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "misskey.example", cfg.Instance.Host)
	require.Equal(t, "tok", cfg.Instance.Token)
	require.Equal(t, "ant1", cfg.Feed.AntennaID)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 10, cfg.Timeline.Window)
	require.Equal(t, 5, cfg.Thread.FeedConcurrency)
	require.True(t, cfg.Thread.IncludeChildren)
	require.NoError(t, cfg.Validate())
}

func TestSaveLoadRoundTrip_FileWinsOverEnv(t *testing.T) {
	t.Setenv("MISSKEY_HOST", "env.example")
	path := filepath.Join(t.TempDir(), "sub", "threadlens.yaml")

	cfg := Default()
	cfg.Instance.Host = "file.example"
	cfg.Timeline.Window = 25
	cfg.Thread.IncludeChildren = false
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "file.example", got.Instance.Host)
	require.Equal(t, 25, got.Timeline.Window)
	require.False(t, got.Thread.IncludeChildren)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instance:\n  host: mk.example\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "mk.example", cfg.Instance.Host)
	require.Equal(t, 2000, cfg.Emoji.Capacity)
	require.Equal(t, 16, cfg.Emoji.MaxHosts)
	require.Equal(t, ":8080", cfg.Server.Addr)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Config.Instance.Host:required")

	cfg.Instance.Host = "mk.example"
	cfg.Timeline.Window = 0
	cfg.Logging.Level = "loud"
	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Config.Timeline.Window:gte")
	require.Contains(t, err.Error(), "Config.Logging.Level:oneof")
}

func TestSave_EmptyPath(t *testing.T) {
	require.Error(t, Save("", Default()))
}
