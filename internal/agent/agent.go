package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/monify-labs/swapguard/internal/config"
	"github.com/monify-labs/swapguard/internal/controller"
	"github.com/monify-labs/swapguard/internal/logging"
	"github.com/monify-labs/swapguard/internal/swapfile"
	"github.com/monify-labs/swapguard/pkg/models"
)

var (
	// ErrSnapshot is returned by Start when memory statistics cannot be read
	ErrSnapshot = errors.New("failed to read memory snapshot")
	// ErrSwapNotConfigured means the host has no swap at all
	ErrSwapNotConfigured = errors.New("swap is not configured on this system")
)

// SnapshotProvider reads current RAM and swap usage
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*models.UtilizationSample, error)
}

// SlotManager grows and shrinks the additional swap files
type SlotManager interface {
	CreateSlot(ctx context.Context) (swapfile.CreateResult, error)
	RemoveAllSlots(ctx context.Context) models.RemovalReport
}

// Remediator runs the non-provisioning actions
type Remediator interface {
	Optimize(ctx context.Context) error
	RelievePressure(ctx context.Context, ramPercent float64) error
}

// Agent is the swap monitoring loop
type Agent struct {
	snapshots  SnapshotProvider
	slots      SlotManager
	remediator Remediator
	log        logrus.FieldLogger

	thresholds   controller.Thresholds
	emergencyRAM float64
	interval     time.Duration

	// Hysteresis is only touched by the loop goroutine
	state controller.Hysteresis

	// Stats, readable from other goroutines through Status
	mu        sync.RWMutex
	running   bool
	startTime time.Time
	stats     models.AgentStatus
}

// NewAgent creates a monitoring loop for cfg
func NewAgent(cfg *config.Config, snapshots SnapshotProvider, slots SlotManager, remediator Remediator, log logrus.FieldLogger) *Agent {
	return &Agent{
		snapshots:  snapshots,
		slots:      slots,
		remediator: remediator,
		log:        log,
		thresholds: controller.Thresholds{
			Warning:  float64(cfg.WarningThreshold),
			Optimize: float64(cfg.OptimizeThreshold),
			Expand:   float64(cfg.ExpandThreshold),
		},
		emergencyRAM: float64(cfg.EmergencyRAMThreshold),
		interval:     cfg.PollInterval(),
	}
}

// Start runs read, act, sleep until ctx is cancelled (returns nil) or a snapshot
// cannot be read (returns an error wrapping ErrSnapshot). Failed actions are logged
// and retried on the next qualifying streak.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.log.Info("Starting swap monitoring")

	// the wait starts after each tick has finished
	timer := time.NewTimer(a.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			a.log.Info("Monitoring stopped by user")
			return nil
		}
		if err := a.tick(ctx); err != nil {
			return err
		}

		timer.Reset(a.interval)
		select {
		case <-ctx.Done():
			a.log.Info("Monitoring stopped by user")
			return nil
		case <-timer.C:
		}
	}
}

// tick reads one sample and acts on it
func (a *Agent) tick(ctx context.Context) error {
	sample, err := a.snapshots.Snapshot(ctx)
	if err != nil {
		a.log.Errorf("Monitoring error: %v", err)
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	a.process(ctx, sample)
	return nil
}

// process runs the emergency check, then the threshold state machine and its action
func (a *Agent) process(ctx context.Context, sample *models.UtilizationSample) {
	a.mu.Lock()
	a.stats.Ticks++
	a.stats.LastTick = time.Now()
	a.stats.LastSample = sample
	a.mu.Unlock()

	if sample.RAMUsedPercent >= a.emergencyRAM {
		a.count(&a.stats.Emergencies)
		if err := a.remediator.RelievePressure(ctx, sample.RAMUsedPercent); err != nil {
			a.log.Errorf("Forced offload failed: %v", err)
			a.count(&a.stats.ErrorCount)
		}
	}

	var decision controller.Decision
	decision, a.state = controller.Evaluate(a.thresholds, a.state, sample.SwapUsedPercent)

	a.logLevel(decision.Level, sample)
	a.log.WithFields(logrus.Fields{
		"high_streak": a.state.HighUsageStreak,
		"low_streak":  a.state.LowUsageStreak,
		"action":      decision.Action,
	}).Debug("Evaluated sample")

	switch decision.Action {
	case controller.Expand:
		a.expand(ctx)
	case controller.Optimize:
		a.optimize(ctx)
	case controller.Shrink:
		a.shrink(ctx)
	}
}

func (a *Agent) logLevel(level controller.Level, s *models.UtilizationSample) {
	msg := fmt.Sprintf("Memory: %.1f%% (%.0f/%.0f MB), Swap: %.1f%% (%.0f/%.0f MB)",
		s.RAMUsedPercent, s.RAMUsedMB, s.RAMTotalMB,
		s.SwapUsedPercent, s.SwapUsedMB, s.SwapTotalMB)

	switch level {
	case controller.Critical:
		logging.Critical(a.log, "CRITICAL swap usage: %.1f%%", s.SwapUsedPercent)
	case controller.High:
		a.log.Warnf("HIGH swap usage: %.1f%%", s.SwapUsedPercent)
	case controller.Elevated:
		a.log.Warnf("WARNING - %s", msg)
	default:
		a.log.Info(msg)
	}
}

func (a *Agent) expand(ctx context.Context) {
	res, err := a.slots.CreateSlot(ctx)
	if err != nil {
		a.log.Errorf("Swap expansion failed: %v", err)
		a.count(&a.stats.ErrorCount)
		return
	}
	if res.Outcome == swapfile.Created {
		a.count(&a.stats.Expansions)
	}
}

func (a *Agent) optimize(ctx context.Context) {
	if err := a.remediator.Optimize(ctx); err != nil {
		a.log.Errorf("Memory optimization failed: %v", err)
		a.count(&a.stats.ErrorCount)
		return
	}
	a.count(&a.stats.Optimizes)
}

func (a *Agent) shrink(ctx context.Context) {
	report := a.slots.RemoveAllSlots(ctx)
	if report.Found() == 0 {
		return
	}

	if len(report.Removed) > 0 {
		a.log.Infof("Removed %d additional swap file(s) due to low usage", len(report.Removed))
		a.count(&a.stats.Shrinks)
	}
	if len(report.Retained) > 0 {
		a.log.Warnf("Kept %d additional swap file(s) that could not be removed: %v", len(report.Retained), report.Retained)
		a.count(&a.stats.ErrorCount)
	}
}

func (a *Agent) count(counter *uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	*counter++
}

// Hysteresis returns the current streak counters. Only safe from the loop goroutine or
// after Start has returned.
func (a *Agent) Hysteresis() controller.Hysteresis {
	return a.state
}

// GetStatus returns the current status of the agent
func (a *Agent) GetStatus() *models.AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := a.stats
	status.Version = config.Version
	status.Status = "stopped"
	if a.running {
		status.Status = "running"
	}
	if !a.startTime.IsZero() {
		status.Uptime = uint64(time.Since(a.startTime).Seconds())
	}
	return &status
}
