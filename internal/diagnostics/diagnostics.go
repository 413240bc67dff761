// Package diagnostics assembles support dumps: a zip archive with the
// redacted configuration, recent logs, hardware and runtime details and a
// snapshot of the pipeline counters. Operators attach the archive to bug
// reports, so everything in it passes through redaction first.
package diagnostics

import (
	"time"
)

// Dump is the support archive's metadata header.
type Dump struct {
	ID          string     `json:"id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Node        string     `json:"node,omitempty"`
	Version     string     `json:"version"`
	System      SystemInfo `json:"system"`
	Logs        []LogEntry `json:"-"`
	Status      any        `json:"-"`
}

// SystemInfo describes the host without naming it.
type SystemInfo struct {
	OS            string      `json:"os"`
	Architecture  string      `json:"architecture"`
	KernelVersion string      `json:"kernel_version,omitempty"`
	GoVersion     string      `json:"go_version"`
	UptimeSec     uint64      `json:"uptime_seconds,omitempty"`
	Container     bool        `json:"container"`
	CPU           CPUInfo     `json:"cpu"`
	MemoryTotalMB uint64      `json:"memory_total_mb,omitempty"`
	MemoryUsedPct float64     `json:"memory_used_percent,omitempty"`
	Disks         []DiskUsage `json:"disks,omitempty"`
}

// CPUInfo reports what the processor can do, which matters when chasing
// audio underruns on small boards.
type CPUInfo struct {
	Brand         string   `json:"brand,omitempty"`
	Vendor        string   `json:"vendor,omitempty"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	Features      []string `json:"features,omitempty"`
}

// DiskUsage is the fill state of one relevant mount.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// LogEntry is one parsed line from the service logs.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Service   string    `json:"service,omitempty"`
}

// Options select what goes into a dump.
type Options struct {
	IncludeConfig     bool
	IncludeLogs       bool
	IncludeSystemInfo bool
	IncludeStatus     bool
	LogWindow         time.Duration
	MaxLogBytes       int64
}

// DefaultOptions includes everything, with a week of logs capped at 20MB.
func DefaultOptions() Options {
	return Options{
		IncludeConfig:     true,
		IncludeLogs:       true,
		IncludeSystemInfo: true,
		IncludeStatus:     true,
		LogWindow:         7 * 24 * time.Hour,
		MaxLogBytes:       20 * 1024 * 1024,
	}
}
