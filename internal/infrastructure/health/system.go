package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const mb = 1024 * 1024

// DiskCheck проверяет запас места на разделе с артефактами
func DiskCheck(path string, minFreeBytes uint64, maxUsedPercent float64) CheckFunc {
	return func(ctx context.Context) (map[string]interface{}, error) {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read disk usage of %s: %w", path, err)
		}

		details := map[string]interface{}{
			"path":         usage.Path,
			"free_mb":      usage.Free / mb,
			"total_mb":     usage.Total / mb,
			"used_percent": usage.UsedPercent,
		}

		if minFreeBytes > 0 && usage.Free < minFreeBytes {
			return details, fmt.Errorf("free space %d MB is below %d MB", usage.Free/mb, minFreeBytes/mb)
		}
		if maxUsedPercent > 0 && usage.UsedPercent > maxUsedPercent {
			return details, fmt.Errorf("disk usage %.1f%% exceeds %.1f%%", usage.UsedPercent, maxUsedPercent)
		}
		return details, nil
	}
}

// MemoryCheck проверяет, что у процесса захвата есть запас памяти
func MemoryCheck(maxUsedPercent float64) CheckFunc {
	return func(ctx context.Context) (map[string]interface{}, error) {
		vmStat, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read memory usage: %w", err)
		}

		details := map[string]interface{}{
			"total_mb":     vmStat.Total / mb,
			"available_mb": vmStat.Available / mb,
			"used_percent": vmStat.UsedPercent,
		}

		if maxUsedPercent > 0 && vmStat.UsedPercent > maxUsedPercent {
			return details, fmt.Errorf("memory usage %.1f%% exceeds %.1f%%", vmStat.UsedPercent, maxUsedPercent)
		}
		return details, nil
	}
}
