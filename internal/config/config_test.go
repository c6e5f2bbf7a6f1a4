package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("45s")))
	assert.Equal(t, 45*time.Second, d.Duration)

	err := (&Duration{}).UnmarshalText([]byte("not-a-duration"))
	assert.Error(t, err)
}

func TestDurationMarshalText(t *testing.T) {
	d := Duration{30 * time.Second}
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "30s", string(text))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaultsAndIgnoresUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[rpc]
socket_path = "/tmp/anna.sock"
max_concurrent = 8

[totally_unknown_section]
whatever = "value"

[persona]
enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/anna.sock", cfg.RPC.SocketPath)
	assert.Equal(t, 8, cfg.RPC.MaxConcurrent)
	assert.False(t, cfg.Persona.Enabled)
	// Untouched defaults survive partial overrides.
	assert.Equal(t, "/var/lib/anna/cases.jsonl", cfg.Paths.CasesJSONL)
}
