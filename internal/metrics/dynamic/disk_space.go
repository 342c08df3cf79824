package dynamic

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// FreeSpaceMB returns the free space, in MB, of the filesystem that will hold path
func FreeSpaceMB(ctx context.Context, path string) (uint64, error) {
	dir := filepath.Dir(path)

	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", dir, err)
	}

	return usage.Free / bytesPerMB, nil
}
