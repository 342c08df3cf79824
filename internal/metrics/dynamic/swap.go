package dynamic

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// CollectSwap gathers swap memory usage
func CollectSwap(ctx context.Context) (*mem.SwapMemoryStat, error) {
	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read swap memory: %w", err)
	}
	return swap, nil
}

// swapPercent recomputes utilization from used/total so an unconfigured swap reads as 0%
func swapPercent(swap *mem.SwapMemoryStat) float64 {
	if swap.Total == 0 {
		return 0
	}
	return float64(swap.Used) / float64(swap.Total) * 100
}
