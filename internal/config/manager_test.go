package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[rpc]\nmax_concurrent = 4\n"), 0o644))

	mgr, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 4, mgr.Get().RPC.MaxConcurrent)

	require.NoError(t, os.WriteFile(path, []byte("[rpc]\nmax_concurrent = 16\n"), 0o644))
	require.NoError(t, mgr.Reload())
	assert.Equal(t, 16, mgr.Get().RPC.MaxConcurrent)
}
