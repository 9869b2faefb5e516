// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package anycubic

import (
	"fmt"
	"strings"
)

// FormatStatus formats a status into a human-readable string
func FormatStatus(s *Status) string {
	result := fmt.Sprintf("State: %s (%s)\n", s.Code.Label(), s.Code)
	if s.Job == nil {
		return result
	}
	j := s.Job
	result += fmt.Sprintf("  File:      %s (#%s)\n", j.FileName, j.FileNumber)
	result += fmt.Sprintf("  Progress:  %d%%\n", j.Progress)
	result += fmt.Sprintf("  Layer:     %d / %d\n", j.CurrentLayer, j.TotalLayers)
	result += fmt.Sprintf("  Remaining: %s (total %s)\n", FormatDuration(j.TimeRemaining), FormatDuration(j.TimeTotal))
	result += fmt.Sprintf("  Resin:     %s %s\n", j.Resin, j.Material)
	result += fmt.Sprintf("  Layer height: %.3f mm\n", j.LayerHeight)
	return result
}

// FormatSystemInfo formats system info into a human-readable string
func FormatSystemInfo(info *SystemInfo) string {
	result := fmt.Sprintf("Model:      %s\n", info.Model)
	result += fmt.Sprintf("Firmware:   %s\n", info.FirmwareVersion)
	result += fmt.Sprintf("Identifier: %s\n", info.Identifier)
	result += fmt.Sprintf("Wi-Fi:      %s\n", info.WifiSSID)
	return result
}

// FormatFiles formats a file listing, one file per line
func FormatFiles(files []File) string {
	if len(files) == 0 {
		return "  (no files)\n"
	}
	width := 0
	for _, f := range files {
		if len(f.Number) > width {
			width = len(f.Number)
		}
	}
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "  %*s  %s\n", width, f.Number, f.Name)
	}
	return sb.String()
}

// FormatDuration formats seconds as a human-friendly string
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
