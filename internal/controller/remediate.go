package controller

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/monify-labs/swapguard/internal/privileged"
)

// Kernel tunables
const (
	optimizeSwappiness  = "10"
	emergencySwappiness = "100"
)

// Remediator runs the cache and swappiness actions
type Remediator struct {
	exec privileged.Executor
	log  logrus.FieldLogger
}

// NewRemediator creates a remediator
func NewRemediator(exec privileged.Executor, log logrus.FieldLogger) *Remediator {
	return &Remediator{exec: exec, log: log}
}

// Optimize frees page cache and lowers swappiness. The final full cache drop is
// best effort and does not fail the action.
func (r *Remediator) Optimize(ctx context.Context) error {
	r.log.Warn("Starting memory usage optimization")

	steps := []privileged.Operation{
		privileged.KernelParam("vm.drop_caches", "1"),
		privileged.KernelParam("vm.swappiness", optimizeSwappiness),
		privileged.Sync(),
	}
	if err := r.run(ctx, steps); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}

	if _, err := r.exec.Execute(ctx, privileged.DropCachesMode(3)); err != nil {
		r.log.Debugf("Full cache drop skipped: %v", err)
	}

	r.log.Info("Memory optimization done")
	return nil
}

// RelievePressure pushes memory out of RAM: swappiness to the maximum, sync, drop caches
func (r *Remediator) RelievePressure(ctx context.Context, ramPercent float64) error {
	r.log.Warnf("RAM at %.1f%%. Forcing cache drop and raising swappiness", ramPercent)

	steps := []privileged.Operation{
		privileged.KernelParam("vm.swappiness", emergencySwappiness),
		privileged.Sync(),
		privileged.DropCachesMode(3),
	}
	if err := r.run(ctx, steps); err != nil {
		return fmt.Errorf("pressure relief: %w", err)
	}

	r.log.Info("Forced RAM to swap offload done")
	return nil
}

func (r *Remediator) run(ctx context.Context, steps []privileged.Operation) error {
	for _, op := range steps {
		if _, err := r.exec.Execute(ctx, op); err != nil {
			return err
		}
	}
	return nil
}
