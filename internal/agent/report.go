package agent

import (
	"context"
	"fmt"

	"github.com/monify-labs/swapguard/pkg/models"
)

// SlotLister reports the state of every additional swap slot
type SlotLister interface {
	Slots(ctx context.Context) ([]models.SlotInfo, error)
}

// CheckSwapConfigured takes a snapshot and fails with ErrSwapNotConfigured when the
// host has no swap capacity at all
func CheckSwapConfigured(ctx context.Context, snapshots SnapshotProvider) (*models.UtilizationSample, error) {
	sample, err := snapshots.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if sample.SwapTotalMB <= 0 {
		return sample, ErrSwapNotConfigured
	}
	return sample, nil
}

// CollectReport builds the one-shot memory and slot report
func CollectReport(ctx context.Context, snapshots SnapshotProvider, slots SlotLister) (*models.Report, error) {
	sample, err := snapshots.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	infos, err := slots.Slots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list swap slots: %w", err)
	}

	report := &models.Report{
		Sample:   sample,
		Slots:    infos,
		MaxSlots: len(infos),
	}
	for _, s := range infos {
		if s.Exists {
			report.InUse++
		}
	}
	return report, nil
}
