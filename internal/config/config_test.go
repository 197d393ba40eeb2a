package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 1<<16, cfg.Slab.Capacity)
	assert.Equal(t, 20, cfg.Projection.TopN)
	assert.Equal(t, 4096, cfg.Ring.Capacity)
	require.NoError(t, cfg.Validate())
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slab:\n  capacity: 1024\nwal:\n  path: custom.wal\n"), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Slab.Capacity)
	assert.Equal(t, "custom.wal", cfg.WAL.Path)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Set("wal.path", "flagged.wal"))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "flagged.wal", cfg.WAL.Path)
}

func TestValidateRejectsBadRingCapacity(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	cfg.Ring.Capacity = 3
	assert.Error(t, cfg.Validate())
}
