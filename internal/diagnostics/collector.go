package diagnostics

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

func getLoggerSafe(module string) *slog.Logger {
	logger := logging.ForService(module)
	if logger == nil {
		logger = slog.Default().With("service", module)
	}
	return logger
}

// Collector gathers the pieces of a support dump.
type Collector struct {
	configPath string
	version    string
	node       string
	logDirs    []string
	status     func() any
	logger     *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithNodeName stamps the dump metadata with the station name.
func WithNodeName(name string) CollectorOption {
	return func(c *Collector) { c.node = name }
}

// WithLogDirs overrides the directories searched for *.log files.
func WithLogDirs(dirs ...string) CollectorOption {
	return func(c *Collector) { c.logDirs = dirs }
}

// WithStatus wires a snapshot of the live pipeline counters into the dump.
func WithStatus(fn func() any) CollectorOption {
	return func(c *Collector) { c.status = fn }
}

// NewCollector builds a collector around the given config file path.
func NewCollector(configPath, version string, opts ...CollectorOption) *Collector {
	c := &Collector{
		configPath: configPath,
		version:    version,
		logger:     getLoggerSafe("diagnostics"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.logDirs) == 0 {
		c.logDirs = []string{"logs", filepath.Join(filepath.Dir(configPath), "logs")}
	}
	return c
}

// Collect gathers everything the options ask for.
func (c *Collector) Collect(ctx context.Context, opts Options) (*Dump, error) {
	if !opts.IncludeConfig && !opts.IncludeLogs && !opts.IncludeSystemInfo && !opts.IncludeStatus {
		return nil, errors.Newf("support dump needs at least one section").
			Component("diagnostics").
			Category(errors.CategoryValidation).
			Build()
	}

	dump := &Dump{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		Node:        c.node,
		Version:     c.version,
	}

	if opts.IncludeSystemInfo {
		dump.System = collectSystemInfo(ctx, c.configPath)
	}
	if opts.IncludeLogs {
		dump.Logs = c.collectLogs(opts.LogWindow, opts.MaxLogBytes)
	}
	if opts.IncludeStatus && c.status != nil {
		dump.Status = c.status()
	}

	return dump, nil
}

// WriteArchive writes the dump as a zip to w.
func (c *Collector) WriteArchive(w io.Writer, dump *Dump, opts Options) error {
	zw := zip.NewWriter(w)

	if err := writeJSONEntry(zw, "metadata.json", dump); err != nil {
		return err
	}

	if opts.IncludeConfig {
		redacted, err := c.redactedConfig()
		if err != nil {
			return err
		}
		entry, err := zw.Create("config.yaml")
		if err != nil {
			return archiveError(err, "config.yaml")
		}
		if _, err := entry.Write(redacted); err != nil {
			return archiveError(err, "config.yaml")
		}
	}

	if opts.IncludeLogs && len(dump.Logs) > 0 {
		if err := writeJSONEntry(zw, "logs.json", dump.Logs); err != nil {
			return err
		}
	}

	if opts.IncludeStatus && dump.Status != nil {
		if err := writeJSONEntry(zw, "status.json", dump.Status); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return archiveError(err, "close")
	}
	return nil
}

// CreateArchiveFile collects a dump and writes
// carebell-go-support-<timestamp>.zip into outDir, returning the path.
func (c *Collector) CreateArchiveFile(ctx context.Context, outDir string, opts Options) (string, error) {
	dump, err := c.Collect(ctx, opts)
	if err != nil {
		return "", err
	}

	name := "carebell-go-support-" + dump.GeneratedAt.Format("20060102-150405") + ".zip"
	path := filepath.Join(outDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.New(err).
			Component("diagnostics").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	if err := c.WriteArchive(f, dump, opts); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.New(err).
			Component("diagnostics").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	c.logger.Info("support dump written", "path", path, "log_entries", len(dump.Logs))
	return path, nil
}

func writeJSONEntry(zw *zip.Writer, name string, v any) error {
	entry, err := zw.Create(name)
	if err != nil {
		return archiveError(err, name)
	}
	enc := json.NewEncoder(entry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return archiveError(err, name)
	}
	return nil
}

func archiveError(err error, entry string) error {
	return errors.New(err).
		Component("diagnostics").
		Category(errors.CategoryFileIO).
		Context("entry", entry).
		Build()
}

func (c *Collector) redactedConfig() ([]byte, error) {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return nil, errors.New(err).
			Component("diagnostics").
			Category(errors.CategoryFileIO).
			Context("config_path", c.configPath).
			Build()
	}
	return []byte(redactConfigYAML(string(data))), nil
}

// collectSystemInfo never fails: probes that error leave their fields zero.
func collectSystemInfo(ctx context.Context, configPath string) SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		Container:    conf.RunningInContainer(),
		CPU: CPUInfo{
			Brand:         cpuid.CPU.BrandName,
			Vendor:        cpuid.CPU.VendorString,
			PhysicalCores: cpuid.CPU.PhysicalCores,
			LogicalCores:  cpuid.CPU.LogicalCores,
			Features:      cpuid.CPU.FeatureSet(),
		},
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.KernelVersion = hi.KernelVersion
		info.UptimeSec = hi.Uptime
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotalMB = vm.Total / 1024 / 1024
		info.MemoryUsedPct = vm.UsedPercent
	}

	for _, path := range diskPaths(configPath) {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			continue
		}
		info.Disks = append(info.Disks, DiskUsage{
			Path:        path,
			TotalBytes:  usage.Total,
			FreeBytes:   usage.Free,
			UsedPercent: usage.UsedPercent,
		})
	}

	return info
}

// diskPaths returns the mounts worth reporting: where the data lives and
// the working directory, deduplicated.
func diskPaths(configPath string) []string {
	paths := []string{filepath.Dir(configPath)}
	if wd, err := os.Getwd(); err == nil && wd != paths[0] {
		paths = append(paths, wd)
	}
	return paths
}

// collectLogs parses JSON log lines newer than the window from every log
// directory, stopping once the byte budget is spent.
func (c *Collector) collectLogs(window time.Duration, maxBytes int64) []LogEntry {
	cutoff := time.Now().Add(-window)
	budget := maxBytes
	var entries []LogEntry

	for _, dir := range c.logDirs {
		stat, err := os.Stat(dir)
		if err != nil || !stat.IsDir() {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".log") {
				continue
			}
			fileEntries, used := parseLogFile(filepath.Join(dir, file.Name()), cutoff, budget)
			entries = append(entries, fileEntries...)
			budget -= used
			if budget <= 0 {
				break
			}
		}
		if budget <= 0 {
			break
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}

func parseLogFile(path string, cutoff time.Time, maxBytes int64) (entries []LogEntry, used int64) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		used += int64(len(line))
		if used > maxBytes {
			break
		}
		if entry, ok := parseLogLine(line); ok && entry.Timestamp.After(cutoff) {
			entries = append(entries, entry)
		}
	}
	return entries, used
}

// parseLogLine reads one slog JSON record. Lines in any other shape are
// skipped, the service only ever writes JSON logs.
func parseLogLine(line []byte) (LogEntry, bool) {
	var record struct {
		Time    time.Time `json:"time"`
		Level   string    `json:"level"`
		Msg     string    `json:"msg"`
		Service string    `json:"service"`
	}
	if err := json.Unmarshal(line, &record); err != nil {
		return LogEntry{}, false
	}
	if record.Msg == "" || record.Time.IsZero() {
		return LogEntry{}, false
	}
	return LogEntry{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level),
		Message:   record.Msg,
		Service:   record.Service,
	}, true
}
