package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/carebell/carebell-go/internal/announcer"
	"github.com/carebell/carebell-go/internal/history"
	"github.com/carebell/carebell-go/internal/tracker"
)

// systemInfo is the host portion of the health payload.
type systemInfo struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform,omitempty"`
	KernelVersion string  `json:"kernel_version,omitempty"`
	UptimeSec     uint64  `json:"uptime_seconds,omitempty"`
	NumCPU        int     `json:"num_cpu"`
	GoVersion     string  `json:"go_version"`
	MemoryUsedPct float64 `json:"memory_used_percent,omitempty"`
	ProcessMemMB  float64 `json:"process_memory_mb,omitempty"`
}

// historyHealth summarizes the durable store.
type historyHealth struct {
	Records int                `json:"records"`
	Flush   history.FlushStats `json:"flush"`
}

// healthResponse is the GET /api/v1/health payload. Component sections
// are omitted when the collaborator is not wired.
type healthResponse struct {
	Status       string           `json:"status"`
	Version      string           `json:"version,omitempty"`
	BuildDate    string           `json:"build_date,omitempty"`
	Node         string           `json:"node,omitempty"`
	UptimeSec    float64          `json:"uptime_seconds"`
	Timestamp    string           `json:"timestamp"`
	System       systemInfo       `json:"system"`
	Tracker      *tracker.Stats   `json:"tracker,omitempty"`
	Announcer    *announcer.Stats `json:"announcer,omitempty"`
	History      *historyHealth   `json:"history,omitempty"`
	UnreadAlerts int              `json:"unread_alerts"`
}

// getHealth handles GET /api/v1/health: liveness plus a component and
// host snapshot. The status degrades when the hardware feed is down,
// the board may be stale then and ward staff should check the wiring.
func (s *Server) getHealth(ctx echo.Context) error {
	resp := healthResponse{
		Status:    "healthy",
		Version:   s.settings.Version,
		BuildDate: s.settings.BuildDate,
		Node:      s.settings.Main.Name,
		UptimeSec: time.Since(s.startTime).Seconds(),
		Timestamp: time.Now().Format(time.RFC3339),
		System:    collectSystemInfo(),
	}

	if s.board != nil {
		stats := s.board.Stats()
		resp.Tracker = &stats
		if !stats.Connected {
			resp.Status = "degraded"
		}
	}
	if s.announcer != nil {
		stats := s.announcer.Stats()
		resp.Announcer = &stats
	}
	if s.history != nil {
		resp.History = &historyHealth{
			Records: s.history.Len(),
			Flush:   s.history.FlushStats(),
		}
	}
	if s.notifications != nil {
		if unread, err := s.notifications.UnreadCount(); err == nil {
			resp.UnreadAlerts = unread
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}

// collectSystemInfo gathers the host snapshot. Probe failures leave
// fields zero rather than failing the health check.
func collectSystemInfo() systemInfo {
	info := systemInfo{
		OS:        runtime.GOOS,
		NumCPU:    runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.Platform = hostInfo.Platform
		info.KernelVersion = hostInfo.KernelVersion
		info.UptimeSec = hostInfo.Uptime
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.MemoryUsedPct = memInfo.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if procMem, err := proc.MemoryInfo(); err == nil && procMem != nil {
			info.ProcessMemMB = float64(procMem.RSS) / 1024 / 1024
		}
	}
	return info
}
