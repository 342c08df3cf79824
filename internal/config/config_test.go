package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.MaxAdditionalSwaps)
	assert.Equal(t, 4096, cfg.SwapFileSizeMB)
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	cfg := Default()
	cfg.OptimizeThreshold = 97 // above expand

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "warning < optimize < expand")
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative max swaps", func(c *Config) { c.MaxAdditionalSwaps = -1 }},
		{"zero swap size", func(c *Config) { c.SwapFileSizeMB = 0 }},
		{"zero interval", func(c *Config) { c.PollIntervalSeconds = 0 }},
		{"threshold over 100", func(c *Config) { c.ExpandThreshold = 101 }},
		{"bad verbosity", func(c *Config) { c.LogVerbosity = 3 }},
		{"empty base path", func(c *Config) { c.SwapFileBasePath = "" }},
		{"relative base path", func(c *Config) { c.SwapFileBasePath = "swapfile.additional" }},
		{"dot relative base path", func(c *Config) { c.SwapFileBasePath = "./swap/extra" }},
		{"negative timeout", func(c *Config) { c.OperationTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidate_ZeroMaxSwapsAllowed(t *testing.T) {
	cfg := Default()
	cfg.MaxAdditionalSwaps = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ErrorOrderIsStable(t *testing.T) {
	cfg := Default()
	cfg.WarningThreshold = -1
	cfg.ExpandThreshold = 101
	cfg.EmergencyRAMThreshold = 200

	first := cfg.Validate().Error()
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, cfg.Validate().Error())
	}

	warning := strings.Index(first, "warning threshold")
	expand := strings.Index(first, "expand threshold")
	emergency := strings.Index(first, "emergency RAM threshold")
	assert.True(t, warning < expand && expand < emergency, first)
}

func TestResolveSwapBasePath(t *testing.T) {
	dir := t.TempDir()
	realDir := filepath.Join(dir, "realDir")
	require.NoError(t, os.Mkdir(realDir, 0755))
	require.NoError(t, os.Symlink(realDir, filepath.Join(dir, "link")))

	canonical, err := filepath.EvalSymlinks(realDir)
	require.NoError(t, err)

	cfg := Default()
	cfg.SwapFileBasePath = filepath.Join(dir, "link", "swap.extra")
	require.NoError(t, cfg.ResolveSwapBasePath())
	assert.Equal(t, filepath.Join(canonical, "swap.extra"), cfg.SwapFileBasePath)

	missing := filepath.Join(dir, "missing", "swap.extra")
	cfg.SwapFileBasePath = missing
	require.NoError(t, cfg.ResolveSwapBasePath())
	assert.Equal(t, missing, cfg.SwapFileBasePath)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapguard.yaml")
	content := []byte("max_additional_swaps: 5\nexpand_threshold: 98\nswap_file_base_path: /data/swap.extra\noperation_timeout: 2m\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg := Default()
	require.NoError(t, LoadFile(cfg, path))

	assert.Equal(t, 5, cfg.MaxAdditionalSwaps)
	assert.Equal(t, 98, cfg.ExpandThreshold)
	assert.Equal(t, "/data/swap.extra", cfg.SwapFileBasePath)
	assert.Equal(t, 2*time.Minute, cfg.OperationTimeout)
	// untouched keys keep defaults
	assert.Equal(t, DefaultWarningThreshold, cfg.WarningThreshold)
}

func TestLoadFile_Missing(t *testing.T) {
	err := LoadFile(Default(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SWAPGUARD_MAX_SWAPS", "7")
	t.Setenv("SWAPGUARD_SWAP_BASE_PATH", "/mnt/swap")
	t.Setenv("SWAPGUARD_SUDO", "true")

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, 7, cfg.MaxAdditionalSwaps)
	assert.Equal(t, "/mnt/swap", cfg.SwapFileBasePath)
	assert.True(t, cfg.UseSudo)
}

func TestApplyEnv_BadInt(t *testing.T) {
	t.Setenv("SWAPGUARD_CHECK_INTERVAL", "ten")
	assert.Error(t, ApplyEnv(Default()))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nSWAPGUARD_TEST_KEY=from-file\n\n"), 0600))
	t.Setenv("SWAPGUARD_TEST_KEY", "")

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("SWAPGUARD_TEST_KEY"))

	// missing file is fine
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing")))
}
