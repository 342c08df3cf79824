package dynamic

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/monify-labs/swapguard/pkg/models"
)

const bytesPerMB = 1024 * 1024

// SystemSnapshot reads RAM and swap usage from the host
type SystemSnapshot struct{}

// NewSystemSnapshot creates a snapshot provider backed by gopsutil
func NewSystemSnapshot() *SystemSnapshot {
	return &SystemSnapshot{}
}

// Snapshot takes a fresh reading (no sampling, no averaging)
func (s *SystemSnapshot) Snapshot(ctx context.Context) (*models.UtilizationSample, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read virtual memory: %w", err)
	}

	swap, err := CollectSwap(ctx)
	if err != nil {
		return nil, err
	}

	return newSample(vmem, swap, time.Now()), nil
}

func newSample(vmem *mem.VirtualMemoryStat, swap *mem.SwapMemoryStat, ts time.Time) *models.UtilizationSample {
	return &models.UtilizationSample{
		Timestamp:       ts,
		RAMUsedPercent:  vmem.UsedPercent,
		RAMUsedMB:       toMB(vmem.Used),
		RAMTotalMB:      toMB(vmem.Total),
		SwapUsedPercent: swapPercent(swap),
		SwapUsedMB:      toMB(swap.Used),
		SwapTotalMB:     toMB(swap.Total),
	}
}

func toMB(b uint64) float64 {
	return float64(b) / bytesPerMB
}
