package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/monify-labs/swapguard/internal/agent"
	"github.com/monify-labs/swapguard/internal/config"
	"github.com/monify-labs/swapguard/internal/controller"
	"github.com/monify-labs/swapguard/internal/logging"
	"github.com/monify-labs/swapguard/internal/metrics/dynamic"
	"github.com/monify-labs/swapguard/internal/privileged"
	"github.com/monify-labs/swapguard/internal/swapfile"
)

var (
	cfgFile    string
	jsonOutput bool
	flagValues = config.Default()
)

func main() {
	// Load environment file
	if err := config.LoadEnvFile(); err != nil {
		printWarning("Failed to load env file: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		printError("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "swapguard",
		Short: "Adaptive swap capacity controller",
		Long: `swapguard watches RAM and swap usage and reacts before swap runs out:
  - warns when swap usage climbs
  - drops caches and lowers swappiness under sustained high usage
  - adds swap files under sustained critical usage
  - removes the added swap files once usage stays low`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start swap monitoring",
		RunE:  runMonitor,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show memory usage and additional swap files",
		RunE:  showStatus,
	}
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("swapguard v%s\n", config.Version)
			fmt.Printf("Commit: %s\n", config.Commit)
			fmt.Printf("Build Date: %s\n", config.BuildDate)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file (default $SWAPGUARD_CONFIG)")
	flags.IntVar(&flagValues.MaxAdditionalSwaps, "max-swaps", config.DefaultMaxAdditionalSwaps, "Maximum number of additional swap files")
	flags.IntVar(&flagValues.SwapFileSizeMB, "swap-size", config.DefaultSwapFileSizeMB, "Size of each additional swap file in MB")
	flags.IntVar(&flagValues.WarningThreshold, "warning-threshold", config.DefaultWarningThreshold, "Swap usage warning threshold (%)")
	flags.IntVar(&flagValues.OptimizeThreshold, "optimize-threshold", config.DefaultOptimizeThreshold, "Swap usage optimization threshold (%)")
	flags.IntVar(&flagValues.ExpandThreshold, "expand-threshold", config.DefaultExpandThreshold, "Swap usage expansion threshold (%)")
	flags.IntVar(&flagValues.EmergencyRAMThreshold, "emergency-ram", config.DefaultEmergencyRAMThreshold, "RAM usage that forces an offload to swap (%)")
	flags.StringVar(&flagValues.LogFilePath, "log-file", config.DefaultLogFilePath, "Log file path")
	flags.StringVar(&flagValues.SwapFileBasePath, "swap-base-path", config.DefaultSwapFileBasePath, "Path prefix of the additional swap files")
	flags.IntVar(&flagValues.PollIntervalSeconds, "check-interval", config.DefaultPollIntervalSeconds, "Check interval in seconds")
	flags.IntVar(&flagValues.LogVerbosity, "log-level", config.DefaultLogVerbosity, "0: console and file, 1: file full and key events on console, 2: file only")
	flags.BoolVar(&flagValues.UseSudo, "sudo", false, "Run privileged commands through sudo")
	flags.DurationVar(&flagValues.OperationTimeout, "op-timeout", config.DefaultOperationTimeout, "Timeout for a single privileged command (0 disables)")

	rootCmd.AddCommand(runCmd, statusCmd, versionCmd)
	return rootCmd
}

// loadConfig layers defaults, the YAML file, the environment and explicitly set flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	path := cfgFile
	if path == "" {
		path = config.ConfigPath()
	}
	if path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	overrides := map[string]func(){
		"max-swaps":          func() { cfg.MaxAdditionalSwaps = flagValues.MaxAdditionalSwaps },
		"swap-size":          func() { cfg.SwapFileSizeMB = flagValues.SwapFileSizeMB },
		"warning-threshold":  func() { cfg.WarningThreshold = flagValues.WarningThreshold },
		"optimize-threshold": func() { cfg.OptimizeThreshold = flagValues.OptimizeThreshold },
		"expand-threshold":   func() { cfg.ExpandThreshold = flagValues.ExpandThreshold },
		"emergency-ram":      func() { cfg.EmergencyRAMThreshold = flagValues.EmergencyRAMThreshold },
		"log-file":           func() { cfg.LogFilePath = flagValues.LogFilePath },
		"swap-base-path":     func() { cfg.SwapFileBasePath = flagValues.SwapFileBasePath },
		"check-interval":     func() { cfg.PollIntervalSeconds = flagValues.PollIntervalSeconds },
		"log-level":          func() { cfg.LogVerbosity = flagValues.LogVerbosity },
		"sudo":               func() { cfg.UseSudo = flagValues.UseSudo },
		"op-timeout":         func() { cfg.OperationTimeout = flagValues.OperationTimeout },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ResolveSwapBasePath(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newManager(cfg *config.Config, exec privileged.Executor, log logrus.FieldLogger) *swapfile.Manager {
	registry := swapfile.NewRegistry(afero.NewOsFs(), cfg.SwapFileBasePath, cfg.MaxAdditionalSwaps)
	return swapfile.NewManager(registry, exec, dynamic.FreeSpaceMB, cfg.SwapFileSizeMB, cfg.DiskSafetyMarginMB, log)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Privileged commands need root or sudo
	if os.Geteuid() != 0 && !cfg.UseSudo {
		printWarning("Running without root privileges. Use --sudo or run as root, otherwise actions will fail.")
	}

	log := logging.New(cfg, nil, nil)
	snapshots := dynamic.NewSystemSnapshot()
	exec := privileged.NewShellExecutor(cfg.UseSudo, cfg.OperationTimeout)
	manager := newManager(cfg, exec, log)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := agent.CheckSwapConfigured(ctx, snapshots); err != nil {
		log.Errorf("Startup check failed: %v", err)
		return err
	}

	if report, err := agent.CollectReport(ctx, snapshots, manager); err == nil {
		printReport(report)
	} else {
		printWarning("Could not build memory report: %v", err)
	}

	log.Info("Starting swap monitor")
	log.Infof("Parameters: MAX=%d, SIZE=%d MB, INTERVAL=%d s, thresholds %d/%d/%d%%",
		cfg.MaxAdditionalSwaps, cfg.SwapFileSizeMB, cfg.PollIntervalSeconds,
		cfg.WarningThreshold, cfg.OptimizeThreshold, cfg.ExpandThreshold)

	if cfg.LogVerbosity < config.VerbosityFileOnly {
		fmt.Printf("\nSwap monitoring started with log level %d\n", cfg.LogVerbosity)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived shutdown signal...")
		cancel()
	}()

	a := agent.NewAgent(cfg, snapshots, manager, controller.NewRemediator(exec, log), log)
	runErr := a.Start(ctx)

	status := a.GetStatus()
	log.WithFields(logrus.Fields{
		"ticks":       status.Ticks,
		"optimizes":   status.Optimizes,
		"expansions":  status.Expansions,
		"shrinks":     status.Shrinks,
		"emergencies": status.Emergencies,
		"errors":      status.ErrorCount,
	}).Info("Monitor summary")

	return runErr
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)

	exec := privileged.NewShellExecutor(cfg.UseSudo, cfg.OperationTimeout)
	report, err := agent.CollectReport(cmd.Context(), dynamic.NewSystemSnapshot(), newManager(cfg, exec, log))
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printReport(report)
	return nil
}
