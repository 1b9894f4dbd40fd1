package constraint

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/agentgate/agentgate/pkg/errdefs"
	"github.com/agentgate/agentgate/pkg/types"
)

// violationLimit bounds the retained violation history.
const violationLimit = 256

// Violation records one resource limit breach for diagnostics.
type Violation struct {
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Limit     float64   `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}

// ResourceConfig configures a ResourceConstraint.
type ResourceConfig struct {
	MaxMemoryMB   float64       `yaml:"max_memory_mb"`
	MaxCPUPercent float64       `yaml:"max_cpu_percent"`
	MaxDiskMB     float64       `yaml:"max_disk_mb"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ResourceConstraint rejects operations while the process itself is
// over its memory or CPU budget, or when the operation's modified
// files exceed the disk budget. Re-checks are throttled to
// CheckInterval; Enforce always forces a fresh check.
type ResourceConstraint struct {
	cfg ResourceConfig

	// memMB and cpuPercent sample the current process; replaced in
	// tests.
	memMB      func() (float64, error)
	cpuPercent func() (float64, error)

	mu         sync.Mutex
	lastCheck  time.Time
	violations []Violation
}

// NewResourceConstraint samples the running process via gopsutil.
func NewResourceConstraint(cfg ResourceConfig) (*ResourceConstraint, error) {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 100 * time.Millisecond
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process handle: %w", err)
	}
	c := &ResourceConstraint{cfg: cfg}
	c.memMB = func() (float64, error) {
		mi, err := proc.MemoryInfo()
		if err != nil {
			return 0, err
		}
		return float64(mi.RSS) / (1024 * 1024), nil
	}
	c.cpuPercent = func() (float64, error) {
		return proc.CPUPercent()
	}
	return c, nil
}

func (c *ResourceConstraint) Name() string { return "resource" }

func (c *ResourceConstraint) Check(op types.OperationContext) Result {
	return c.check(op, false)
}

// Enforce forces a fresh check regardless of the throttle interval.
func (c *ResourceConstraint) Enforce(op types.OperationContext) error {
	r := c.check(op, true)
	if r.OK() {
		return nil
	}
	return errdefs.Resource(r.Errors[0], map[string]any{"constraint": c.Name()}).
		WithHint("reduce concurrent work or raise the resource budget")
}

func (c *ResourceConstraint) check(op types.OperationContext, force bool) Result {
	now := time.Now()

	c.mu.Lock()
	if !force && now.Sub(c.lastCheck) < c.cfg.CheckInterval {
		c.mu.Unlock()
		return Result{}
	}
	c.lastCheck = now
	c.mu.Unlock()

	var r Result

	if c.cfg.MaxMemoryMB > 0 {
		mem, err := c.memMB()
		switch {
		case err != nil:
			r.Warnings = append(r.Warnings, fmt.Sprintf("memory sample failed: %v", err))
		case mem > c.cfg.MaxMemoryMB:
			r.Errors = append(r.Errors, fmt.Sprintf("memory usage %.2f MB exceeds limit %.0f MB", mem, c.cfg.MaxMemoryMB))
			c.recordViolation("memory", mem, c.cfg.MaxMemoryMB, now)
		}
	}

	if c.cfg.MaxCPUPercent > 0 {
		cpu, err := c.cpuPercent()
		switch {
		case err != nil:
			r.Warnings = append(r.Warnings, fmt.Sprintf("cpu sample failed: %v", err))
		case cpu > c.cfg.MaxCPUPercent:
			r.Errors = append(r.Errors, fmt.Sprintf("cpu usage %.2f%% exceeds limit %.0f%%", cpu, c.cfg.MaxCPUPercent))
			c.recordViolation("cpu", cpu, c.cfg.MaxCPUPercent, now)
		}
	}

	if c.cfg.MaxDiskMB > 0 {
		var total int64
		for _, f := range op.ModifiedFiles {
			total += f.Size
		}
		diskMB := float64(total) / (1024 * 1024)
		if diskMB > c.cfg.MaxDiskMB {
			r.Errors = append(r.Errors, fmt.Sprintf("modified files total %.2f MB exceeds limit %.0f MB", diskMB, c.cfg.MaxDiskMB))
			c.recordViolation("disk", diskMB, c.cfg.MaxDiskMB, now)
		}
	}

	return r
}

func (c *ResourceConstraint) recordViolation(kind string, value, limit float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = append(c.violations, Violation{Type: kind, Value: value, Limit: limit, Timestamp: at})
	if len(c.violations) > violationLimit {
		c.violations = c.violations[len(c.violations)-violationLimit:]
	}
}

// Violations returns the recorded breaches, oldest first.
func (c *ResourceConstraint) Violations() []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Violation, len(c.violations))
	copy(out, c.violations)
	return out
}
