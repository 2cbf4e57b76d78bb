package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bowerhall/pawd/internal/llm"
)

func RegisterHostTools(registry *Registry) {
	tool := llm.Tool{
		Name:        "host_status",
		Description: "Check the machine this assistant runs on: CPU load, memory, disk space, and uptime. Use when asked how the host is doing or before heavy work.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}

	registry.Register(tool, true, func(ctx context.Context, args string) (string, error) {
		var sb strings.Builder

		if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
			fmt.Fprintf(&sb, "CPU: %.1f%%\n", percents[0])
		}

		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			fmt.Fprintf(&sb, "Memory: %.1f%% of %s\n", vm.UsedPercent, formatBytes(vm.Total))
		}

		if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
			fmt.Fprintf(&sb, "Disk: %.1f%% used, %s free\n", du.UsedPercent, formatBytes(du.Free))
		}

		if up, err := host.UptimeWithContext(ctx); err == nil {
			days := up / 86400
			hours := (up % 86400) / 3600
			fmt.Fprintf(&sb, "Uptime: %dd %dh\n", days, hours)
		}

		if sb.Len() == 0 {
			return "", fmt.Errorf("no host stats available")
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	})
}

func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
