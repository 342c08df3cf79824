package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Defaults
	DefaultMaxAdditionalSwaps    = 3
	DefaultSwapFileSizeMB        = 4096
	DefaultWarningThreshold      = 70
	DefaultOptimizeThreshold     = 85
	DefaultExpandThreshold       = 95
	DefaultEmergencyRAMThreshold = 90
	DefaultLogFilePath           = "swap_monitor.log"
	DefaultSwapFileBasePath      = "/swapfile.additional"
	DefaultPollIntervalSeconds   = 10
	DefaultLogVerbosity          = 1
	DefaultDiskSafetyMarginMB    = 500
	DefaultOperationTimeout      = 15 * time.Minute

	// Environment file path
	EnvFilePath = "/etc/swapguard/env"

	envPrefix = "SWAPGUARD_"
)

// Build info (injected at build time via ldflags)
var (
	Version   = "1.0.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Log verbosity levels
const (
	VerbosityFull      = 0 // console and file, everything
	VerbosityKeyEvents = 1 // file everything, console info and above
	VerbosityFileOnly  = 2 // file only
)

// ErrInvalidConfig is returned by Validate for out-of-range or misordered settings
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the controller. It is not modified after startup.
type Config struct {
	MaxAdditionalSwaps    int    `yaml:"max_additional_swaps"`
	SwapFileSizeMB        int    `yaml:"swap_file_size_mb"`
	WarningThreshold      int    `yaml:"warning_threshold"`
	OptimizeThreshold     int    `yaml:"optimize_threshold"`
	ExpandThreshold       int    `yaml:"expand_threshold"`
	EmergencyRAMThreshold int    `yaml:"emergency_ram_threshold"`
	SwapFileBasePath      string `yaml:"swap_file_base_path"`
	PollIntervalSeconds   int    `yaml:"poll_interval_seconds"`
	LogFilePath           string `yaml:"log_file"`
	LogVerbosity          int    `yaml:"log_verbosity"`
	DiskSafetyMarginMB    int    `yaml:"disk_safety_margin_mb"`
	UseSudo               bool   `yaml:"use_sudo"`

	// OperationTimeout bounds a single privileged command. Zero disables the limit.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// Default returns the configuration used when nothing else is specified
func Default() *Config {
	return &Config{
		MaxAdditionalSwaps:    DefaultMaxAdditionalSwaps,
		SwapFileSizeMB:        DefaultSwapFileSizeMB,
		WarningThreshold:      DefaultWarningThreshold,
		OptimizeThreshold:     DefaultOptimizeThreshold,
		ExpandThreshold:       DefaultExpandThreshold,
		EmergencyRAMThreshold: DefaultEmergencyRAMThreshold,
		SwapFileBasePath:      DefaultSwapFileBasePath,
		PollIntervalSeconds:   DefaultPollIntervalSeconds,
		LogFilePath:           DefaultLogFilePath,
		LogVerbosity:          DefaultLogVerbosity,
		DiskSafetyMarginMB:    DefaultDiskSafetyMarginMB,
		OperationTimeout:      DefaultOperationTimeout,
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file keep their value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// LoadEnvFile loads environment variables from /etc/swapguard/env
func LoadEnvFile() error {
	return loadEnvFile(EnvFilePath)
}

func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist is not an error
		}
		return err
	}

	// Parse each line as KEY=VALUE
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			// Only set if not already set in environment
			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	}

	return nil
}

// ApplyEnv overrides cfg from SWAPGUARD_* environment variables
func ApplyEnv(cfg *Config) error {
	ints := map[string]*int{
		"MAX_SWAPS":          &cfg.MaxAdditionalSwaps,
		"SWAP_SIZE":          &cfg.SwapFileSizeMB,
		"WARNING_THRESHOLD":  &cfg.WarningThreshold,
		"OPTIMIZE_THRESHOLD": &cfg.OptimizeThreshold,
		"EXPAND_THRESHOLD":   &cfg.ExpandThreshold,
		"EMERGENCY_RAM":      &cfg.EmergencyRAMThreshold,
		"CHECK_INTERVAL":     &cfg.PollIntervalSeconds,
		"LOG_LEVEL":          &cfg.LogVerbosity,
	}

	for name, dst := range ints {
		raw := os.Getenv(envPrefix + name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = v
	}

	if v := os.Getenv(envPrefix + "SWAP_BASE_PATH"); v != "" {
		cfg.SwapFileBasePath = v
	}
	if v := os.Getenv(envPrefix + "LOG_FILE"); v != "" {
		cfg.LogFilePath = v
	}
	if v := os.Getenv(envPrefix + "SUDO"); v != "" {
		cfg.UseSudo = v == "true" || v == "1"
	}

	return nil
}

// ConfigPath returns the YAML config path from the environment, if any
func ConfigPath() string {
	return os.Getenv(envPrefix + "CONFIG")
}

// PollInterval returns the polling cadence as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ResolveSwapBasePath rewrites the swap base path through a symlinked parent
// directory, so slot paths match the kernel's active swap listing.
// A directory that does not exist yet is left as is.
func (c *Config) ResolveSwapBasePath() error {
	dir, name := filepath.Split(filepath.Clean(c.SwapFileBasePath))
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("resolve swap base path: %w", err)
	}
	c.SwapFileBasePath = filepath.Join(resolved, name)
	return nil
}

// Validate checks ranges and threshold ordering
func (c *Config) Validate() error {
	var errs []error

	percents := []struct {
		name  string
		value int
	}{
		{"warning threshold", c.WarningThreshold},
		{"optimize threshold", c.OptimizeThreshold},
		{"expand threshold", c.ExpandThreshold},
		{"emergency RAM threshold", c.EmergencyRAMThreshold},
	}
	for _, p := range percents {
		if p.value < 0 || p.value > 100 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 100, got %d", p.name, p.value))
		}
	}

	if !(c.WarningThreshold < c.OptimizeThreshold && c.OptimizeThreshold < c.ExpandThreshold) {
		errs = append(errs, fmt.Errorf("thresholds must satisfy warning < optimize < expand, got %d/%d/%d",
			c.WarningThreshold, c.OptimizeThreshold, c.ExpandThreshold))
	}
	if c.MaxAdditionalSwaps < 0 {
		errs = append(errs, fmt.Errorf("max additional swaps must be >= 0, got %d", c.MaxAdditionalSwaps))
	}
	if c.SwapFileSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("swap file size must be > 0, got %d", c.SwapFileSizeMB))
	}
	if c.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("check interval must be > 0, got %d", c.PollIntervalSeconds))
	}
	if c.SwapFileBasePath == "" {
		errs = append(errs, errors.New("swap base path must not be empty"))
	} else if !filepath.IsAbs(c.SwapFileBasePath) {
		errs = append(errs, fmt.Errorf("swap base path must be absolute, got %q", c.SwapFileBasePath))
	}
	if c.LogVerbosity < VerbosityFull || c.LogVerbosity > VerbosityFileOnly {
		errs = append(errs, fmt.Errorf("log level must be 0, 1 or 2, got %d", c.LogVerbosity))
	}
	if c.DiskSafetyMarginMB < 0 {
		errs = append(errs, fmt.Errorf("disk safety margin must be >= 0, got %d", c.DiskSafetyMarginMB))
	}
	if c.OperationTimeout < 0 {
		errs = append(errs, fmt.Errorf("operation timeout must be >= 0, got %s", c.OperationTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
