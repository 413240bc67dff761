// Package monitor watches CPU, memory and disk usage and raises notification
// center alerts when configured thresholds are crossed. Alerts clear with
// hysteresis so a resource hovering near its threshold does not flap, and
// critical disk alerts repeat on an interval while the condition lasts.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/logging"
	"github.com/carebell/carebell-go/internal/notification"
)

const (
	defaultInterval       = 60 * time.Second
	defaultCriticalResend = 30 * time.Minute
	defaultHysteresis     = 5.0
	stateKeySeparator     = "|"
)

// Resource display names used in notification titles and Status output.
const (
	resourceCPU    = "CPU"
	resourceMemory = "Memory"
	resourceDisk   = "Disk"
)

// Alert levels reported by Status.
const (
	levelOK       = "ok"
	levelWarning  = "warning"
	levelCritical = "critical"
)

// alertState tracks where one resource sits relative to its thresholds.
type alertState struct {
	inWarning    bool
	inCritical   bool
	lastValue    float64
	lastChecked  time.Time
	lastNotified time.Time
}

// ResourceStatus is a point-in-time view of one monitored resource.
type ResourceStatus struct {
	Resource    string    `json:"resource"`
	Mount       string    `json:"mount,omitempty"`
	UsedPercent float64   `json:"used_percent"`
	Level       string    `json:"level"`
	LastChecked time.Time `json:"last_checked"`
}

// Monitor periodically samples system resources and keeps per-resource alert
// state. Disk paths are grouped by mount point so several directories on the
// same filesystem raise a single alert.
type Monitor struct {
	settings *conf.Settings
	logger   *slog.Logger

	interval   time.Duration
	hysteresis float64
	resend     time.Duration
	diskPaths  []string

	mu     sync.Mutex
	states map[string]*alertState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a monitor from the monitor section of settings. The watched disk
// paths are derived from the data directories the rest of the configuration
// names, plus any configured extras.
func New(settings *conf.Settings) *Monitor {
	logger := logging.ForService("monitor")
	if logger == nil {
		logger = slog.Default().With("service", "monitor")
	}

	interval := defaultInterval
	if settings.Monitor.Interval > 0 {
		interval = time.Duration(settings.Monitor.Interval) * time.Second
	}
	hysteresis := settings.Monitor.HysteresisPercent
	if hysteresis <= 0 {
		hysteresis = defaultHysteresis
	}
	resend := defaultCriticalResend
	if settings.Monitor.CriticalResend > 0 {
		resend = time.Duration(settings.Monitor.CriticalResend) * time.Minute
	}

	return &Monitor{
		settings:   settings,
		logger:     logger,
		interval:   interval,
		hysteresis: hysteresis,
		resend:     resend,
		diskPaths:  watchPaths(settings),
		states:     make(map[string]*alertState),
	}
}

// Start launches the sampling loop. The first check runs immediately so
// a console booting on a full disk alerts right away.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info("resource monitor started",
		"interval", m.interval,
		"cpu", m.settings.Monitor.CPU.Enabled,
		"memory", m.settings.Monitor.Memory.Enabled,
		"disk", m.settings.Monitor.Disk.Enabled,
		"disk_paths", m.diskPaths)
}

// Stop terminates the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info("resource monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.checkAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	if m.settings.Monitor.CPU.Enabled {
		m.checkCPU(ctx)
	}
	if m.settings.Monitor.Memory.Enabled {
		m.checkMemory(ctx)
	}
	if m.settings.Monitor.Disk.Enabled {
		m.checkDisk(ctx)
	}
}

func (m *Monitor) checkCPU(ctx context.Context) {
	// Zero interval takes an instant reading instead of blocking for a sample
	usage, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		m.logger.Error("CPU usage read failed", "error", err)
		return
	}
	if len(usage) == 0 {
		return
	}
	m.evaluate(resourceCPU, "", usage[0], m.settings.Monitor.CPU)
}

func (m *Monitor) checkMemory(ctx context.Context) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		m.logger.Error("memory usage read failed", "error", err)
		return
	}
	m.evaluate(resourceMemory, "", vm.UsedPercent, m.settings.Monitor.Memory)
}

func (m *Monitor) checkDisk(ctx context.Context) {
	for _, group := range groupByMount(ctx, m.diskPaths, m.logger) {
		usage, err := disk.UsageWithContext(ctx, group.mount)
		if err != nil {
			m.logger.Error("disk usage read failed", "mount", group.mount, "error", err)
			continue
		}
		m.evaluate(resourceDisk, group.mount, usage.UsedPercent, m.settings.Monitor.Disk)
	}
}

// evaluate runs the threshold state machine for one resource sample and sends
// the notifications that fall out of it. A resource leaves an alert state only
// once usage drops a full hysteresis below the threshold that raised it.
func (m *Monitor) evaluate(resource, mount string, current float64, thresholds conf.ResourceThresholds) {
	key := resource
	if mount != "" {
		key = resource + stateKeySeparator + mount
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[key]
	if !ok {
		state = &alertState{}
		m.states[key] = state
	}
	state.lastValue = current
	state.lastChecked = now

	switch {
	case current >= thresholds.Critical:
		if !state.inCritical {
			m.logger.Warn("critical threshold exceeded",
				"resource", resource, "mount", mount,
				"current", current, "threshold", thresholds.Critical)
			notification.NotifyResourceAlert(resource, mount, notification.PriorityCritical, current, thresholds.Critical)
			state.inCritical = true
			state.inWarning = true
			state.lastNotified = now
		} else if resource == resourceDisk && now.Sub(state.lastNotified) > m.resend {
			// A full disk stays full, repeat the alert so it is not lost
			// in an old notification list
			m.logger.Warn("disk still critical, repeating alert",
				"mount", mount, "current", current)
			notification.NotifyResourceAlert(resource, mount, notification.PriorityCritical, current, thresholds.Critical)
			state.lastNotified = now
		}

	case current >= thresholds.Warning:
		if !state.inWarning {
			m.logger.Warn("warning threshold exceeded",
				"resource", resource, "mount", mount,
				"current", current, "threshold", thresholds.Warning)
			notification.NotifyResourceAlert(resource, mount, notification.PriorityHigh, current, thresholds.Warning)
			state.inWarning = true
			state.lastNotified = now
		}
		if state.inCritical && current < thresholds.Critical-m.hysteresis {
			m.logger.Info("resource left critical state",
				"resource", resource, "mount", mount, "current", current)
			notification.NotifyResourceRecovery(resource, mount, current)
			state.inCritical = false
		}

	default:
		if state.inWarning && current < thresholds.Warning-m.hysteresis {
			m.logger.Info("resource usage back to normal",
				"resource", resource, "mount", mount, "current", current)
			notification.NotifyResourceRecovery(resource, mount, current)
			state.inWarning = false
			state.inCritical = false
		}
	}
}

// Status reports the last observed value and alert level for every resource
// the monitor has checked, ordered by resource and mount for stable output.
func (m *Monitor) Status() []ResourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]ResourceStatus, 0, len(m.states))
	for key, state := range m.states {
		resource, mount := splitStateKey(key)
		level := levelOK
		switch {
		case state.inCritical:
			level = levelCritical
		case state.inWarning:
			level = levelWarning
		}
		statuses = append(statuses, ResourceStatus{
			Resource:    resource,
			Mount:       mount,
			UsedPercent: state.lastValue,
			Level:       level,
			LastChecked: state.lastChecked,
		})
	}

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Resource != statuses[j].Resource {
			return statuses[i].Resource < statuses[j].Resource
		}
		return statuses[i].Mount < statuses[j].Mount
	})
	return statuses
}

func splitStateKey(key string) (resource, mount string) {
	resource, mount, _ = strings.Cut(key, stateKeySeparator)
	return resource, mount
}
