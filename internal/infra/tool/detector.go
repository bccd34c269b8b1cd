// Package tool checks that the programs and files an experiment needs
// are present before any process is started.
package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/whhaicheng/SchedBench/internal/domain/config"
	"github.com/whhaicheng/SchedBench/internal/infra/adapter"
)

// DefaultSchedExtStatePath is where the kernel reports sched_ext status.
const DefaultSchedExtStatePath = "/sys/kernel/sched_ext/state"

// Kind identifies a prerequisite.
type Kind string

const (
	KindJava     Kind = "java"
	KindJar      Kind = "jar"
	KindLauncher Kind = "launcher"
	KindCommand  Kind = "command"
	KindSchedExt Kind = "sched_ext"
)

// ToolInfo contains information about a detected prerequisite.
type ToolInfo struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Found   bool   `json:"found"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Detector provides prerequisite detection.
type Detector struct {
	schedExtStatePath string
}

// NewDetector creates a new detector.
func NewDetector() *Detector {
	return &Detector{schedExtStatePath: DefaultSchedExtStatePath}
}

// DetectExecutable resolves name through PATH, or checks it directly when
// it contains a path separator.
func (d *Detector) DetectExecutable(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty executable name", config.ErrToolNotFound)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", config.ErrToolNotFound, name, err)
	}
	return path, nil
}

// CheckFile checks that path is an existing regular file.
func (d *Detector) CheckFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", config.ErrToolNotFound, path)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

// JavaVersion runs "<java> -version" and returns the quoted version.
func (d *Detector) JavaVersion(ctx context.Context, java string) (string, error) {
	// The JVM prints its version to stderr.
	output, err := exec.CommandContext(ctx, java, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("execute version command: %w", err)
	}
	version := parseJavaVersion(string(output))
	if version == "" {
		return "", fmt.Errorf("failed to parse version from output: %s", strings.TrimSpace(string(output)))
	}
	return version, nil
}

// SchedExtState returns the kernel sched_ext state, such as "enabled" or
// "disabled".
func (d *Detector) SchedExtState() (string, error) {
	data, err := os.ReadFile(d.schedExtStatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: kernel without sched_ext support", config.ErrToolNotFound)
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// DetectAll checks every prerequisite of cfg concurrently. Results come
// back in a fixed order: scheduler checks first, then benchmark checks.
func (d *Detector) DetectAll(ctx context.Context, cfg *config.Config) []*ToolInfo {
	var checks []func() *ToolInfo

	switch cfg.Scheduler.Adapter {
	case config.AdapterSchedExt:
		checks = append(checks,
			func() *ToolInfo { return d.executableInfo(KindLauncher, cfg.Scheduler.Launcher) },
			d.schedExtInfo,
		)
	case config.AdapterCommand:
		checks = append(checks, func() *ToolInfo { return d.commandInfo(cfg.Scheduler.Command) })
	}

	switch cfg.Benchmark.Adapter {
	case config.AdapterRenaissance:
		java := cfg.Benchmark.Java
		if java == "" {
			java = "java"
		}
		checks = append(checks,
			func() *ToolInfo { return d.javaInfo(ctx, java) },
			func() *ToolInfo { return d.fileInfo(KindJar, cfg.Benchmark.Jar) },
		)
	case config.AdapterCommand:
		checks = append(checks, func() *ToolInfo { return d.commandInfo(cfg.Benchmark.Command) })
	}

	results := make([]*ToolInfo, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Missing returns the prerequisites that were not found.
func Missing(infos []*ToolInfo) []*ToolInfo {
	var out []*ToolInfo
	for _, info := range infos {
		if !info.Found {
			out = append(out, info)
		}
	}
	return out
}

func (d *Detector) executableInfo(kind Kind, name string) *ToolInfo {
	info := &ToolInfo{Kind: kind, Name: name}
	path, err := d.DetectExecutable(name)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Found, info.Path = true, path
	return info
}

func (d *Detector) commandInfo(command string) *ToolInfo {
	argv, err := adapter.ParseCommandLine(command)
	if err != nil {
		return &ToolInfo{Kind: KindCommand, Name: command, Error: err.Error()}
	}
	return d.executableInfo(KindCommand, argv[0])
}

func (d *Detector) javaInfo(ctx context.Context, java string) *ToolInfo {
	info := d.executableInfo(KindJava, java)
	if !info.Found {
		return info
	}
	if version, err := d.JavaVersion(ctx, info.Path); err == nil {
		info.Version = version
	}
	return info
}

func (d *Detector) fileInfo(kind Kind, path string) *ToolInfo {
	info := &ToolInfo{Kind: kind, Name: path}
	if err := d.CheckFile(path); err != nil {
		info.Error = err.Error()
		return info
	}
	info.Found, info.Path = true, path
	return info
}

func (d *Detector) schedExtInfo() *ToolInfo {
	info := &ToolInfo{Kind: KindSchedExt, Name: d.schedExtStatePath}
	state, err := d.SchedExtState()
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Found, info.Path, info.Version = true, d.schedExtStatePath, state
	return info
}

// parseJavaVersion extracts the version from output such as
// `openjdk version "17.0.9" 2023-10-17`.
func parseJavaVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, `version "`)
		if idx == -1 {
			continue
		}
		rest := line[idx+len(`version "`):]
		if end := strings.IndexByte(rest, '"'); end > 0 {
			return rest[:end]
		}
	}
	return ""
}
