package monitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/carebell/carebell-go/internal/conf"
)

// watchPaths derives the disk paths worth monitoring from the configuration:
// the filesystems holding the call history, the announcement sounds, the log
// files and the local backup target, plus any configured extras. The root
// filesystem is always included.
func watchPaths(settings *conf.Settings) []string {
	paths := []string{"/"}

	if settings.History.Path != "" {
		paths = append(paths, filepath.Dir(settings.History.Path))
	}
	if settings.Audio.SoundsPath != "" {
		paths = append(paths, settings.Audio.SoundsPath)
	}
	if settings.Main.Log.Enabled && settings.Main.Log.Path != "" {
		paths = append(paths, filepath.Dir(settings.Main.Log.Path))
	}

	for i := range settings.Backup.Targets {
		target := &settings.Backup.Targets[i]
		if target.Type != "local" || !target.Enabled {
			continue
		}
		if path, ok := target.Settings["path"].(string); ok && path != "" {
			paths = append(paths, path)
		}
	}

	if configPath, err := conf.FindConfigFile(); err == nil {
		paths = append(paths, filepath.Dir(configPath))
	}

	// Standard volume mount points when running in a container
	if conf.RunningInContainer() {
		paths = append(paths, "/data", "/config")
	}

	paths = append(paths, settings.Monitor.DiskPaths...)

	return dedupePaths(paths)
}

// dedupePaths cleans every path, makes it absolute and removes duplicates
// while preserving first-seen order.
func dedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	unique := make([]string, 0, len(paths))

	for _, path := range paths {
		cleaned := filepath.Clean(path)
		if cleaned == "" || cleaned == "." {
			continue
		}
		if !filepath.IsAbs(cleaned) {
			if abs, err := filepath.Abs(cleaned); err == nil {
				cleaned = abs
			}
		}
		if !seen[cleaned] {
			seen[cleaned] = true
			unique = append(unique, cleaned)
		}
	}
	return unique
}

// mountGroup collects the watched paths that share one mount point.
type mountGroup struct {
	mount string
	paths []string
}

// groupByMount maps each existing path to its mount point so one full
// filesystem raises a single alert no matter how many watched directories
// live on it. When the partition table cannot be read, each existing path
// becomes its own group and disk.Usage resolves the filesystem itself.
func groupByMount(ctx context.Context, paths []string, logger *slog.Logger) []mountGroup {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		logger.Warn("partition table unavailable, checking paths individually", "error", err)
		groups := make([]mountGroup, 0, len(paths))
		for _, path := range paths {
			if _, statErr := os.Stat(path); statErr != nil {
				continue
			}
			groups = append(groups, mountGroup{mount: path, paths: []string{path}})
		}
		return groups
	}

	byMount := make(map[string]*mountGroup)
	for _, path := range paths {
		mount, ok := mountPointFor(path, partitions)
		if !ok {
			logger.Debug("skipping unresolvable path", "path", path)
			continue
		}
		if group, exists := byMount[mount]; exists {
			group.paths = append(group.paths, path)
		} else {
			byMount[mount] = &mountGroup{mount: mount, paths: []string{path}}
		}
	}

	groups := make([]mountGroup, 0, len(byMount))
	for _, group := range byMount {
		sort.Strings(group.paths)
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].mount < groups[j].mount })
	return groups
}

// mountPointFor finds the longest mount point prefixing path. Symlinks are
// resolved first so a linked data directory maps to its real filesystem.
func mountPointFor(path string, partitions []disk.PartitionStat) (string, bool) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return "", false
		}
		resolved = path
	}

	var best string
	for _, p := range partitions {
		mount := p.Mountpoint
		if resolved != mount && mount != "/" && !strings.HasPrefix(resolved, mount+"/") {
			continue
		}
		if len(mount) > len(best) {
			best = mount
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
