package monitor

import (
	"fmt"
	"math"
	"time"
)

const bytesPerMB = 1024 * 1024

// startedLayout renders a creation time as local time of day.
const startedLayout = "15:04:05"

// roundTenth rounds a percentage to one decimal place.
func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatCPU renders a utilization percentage with one decimal, e.g. "5.5%".
func FormatCPU(percent float64) string {
	return fmt.Sprintf("%.1f%%", roundTenth(percent))
}

// FormatWorkingSet renders a working-set byte count in binary megabytes
// rounded to the nearest whole unit, e.g. "50 MB".
func FormatWorkingSet(b uint64) string {
	return fmt.Sprintf("%d MB", uint64(math.Round(float64(b)/bytesPerMB)))
}

// FormatPrivate renders a private-memory byte count in binary megabytes
// with one decimal, e.g. "12.5 MB".
func FormatPrivate(b uint64) string {
	return fmt.Sprintf("%.1f MB", float64(b)/bytesPerMB)
}

// FormatStarted renders a process creation time for display.
func FormatStarted(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(startedLayout)
}
