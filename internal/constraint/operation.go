package constraint

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agentgate/agentgate/pkg/errdefs"
	"github.com/agentgate/agentgate/pkg/types"
)

// rateWindow is the rolling window for the per-constraint operation
// rate check.
const rateWindow = time.Minute

// Operation impact weights per operation type.
var impactWeights = map[types.OperationType]float64{
	types.OpRead:   0.1,
	types.OpWrite:  0.6,
	types.OpDelete: 0.9,
	types.OpModify: 0.7,
}

// OperationConfig configures an OperationConstraint.
type OperationConfig struct {
	MaxOperationsPerMinute int      `yaml:"max_operations_per_minute"`
	MaxFileSizeMB          int64    `yaml:"max_file_size_mb"`
	RestrictedPatterns     []string `yaml:"restricted_patterns"`
	AllowedOperations      []string `yaml:"allowed_operations"`
	MaxImpactScore         float64  `yaml:"max_impact_score"`
}

type opRecord struct {
	at     time.Time
	impact float64
}

// OperationConstraint gates operations on rate, type, file size,
// restricted content patterns, and a computed impact score.
type OperationConstraint struct {
	cfg      OperationConfig
	patterns []*regexp.Regexp
	allowed  map[types.OperationType]struct{}

	// now is replaced in tests.
	now func() time.Time

	mu      sync.Mutex
	history []opRecord
}

// NewOperationConstraint compiles the restricted patterns and builds
// the allow-list. An invalid pattern is a configuration error.
func NewOperationConstraint(cfg OperationConfig) (*OperationConstraint, error) {
	if cfg.MaxImpactScore <= 0 {
		cfg.MaxImpactScore = 0.8
	}
	c := &OperationConstraint{
		cfg:     cfg,
		allowed: make(map[types.OperationType]struct{}, len(cfg.AllowedOperations)),
		now:     time.Now,
	}
	for _, p := range cfg.RestrictedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errdefs.Config(fmt.Sprintf("restricted pattern %q: %v", p, err), nil)
		}
		c.patterns = append(c.patterns, re)
	}
	for _, op := range cfg.AllowedOperations {
		c.allowed[types.OperationType(op)] = struct{}{}
	}
	return c, nil
}

func (c *OperationConstraint) Name() string { return "operation" }

func (c *OperationConstraint) Check(op types.OperationContext) Result {
	now := c.now()

	var r Result

	c.mu.Lock()
	c.evictLocked(now)
	windowFull := c.cfg.MaxOperationsPerMinute > 0 && len(c.history) >= c.cfg.MaxOperationsPerMinute
	c.mu.Unlock()

	if windowFull {
		r.Errors = append(r.Errors, fmt.Sprintf("operation rate exceeds %d per minute", c.cfg.MaxOperationsPerMinute))
	}
	if len(c.allowed) > 0 {
		if _, ok := c.allowed[op.Operation]; !ok {
			r.Errors = append(r.Errors, fmt.Sprintf("operation type %q is not allowed", op.Operation))
		}
	}
	if c.cfg.MaxFileSizeMB > 0 && op.FileSize > c.cfg.MaxFileSizeMB*1024*1024 {
		r.Errors = append(r.Errors, fmt.Sprintf("file size %d bytes exceeds limit %d MB", op.FileSize, c.cfg.MaxFileSizeMB))
	}
	for _, re := range c.patterns {
		if re.MatchString(op.Content) {
			r.Errors = append(r.Errors, fmt.Sprintf("content matches restricted pattern %q", re.String()))
		}
	}

	impact := c.ImpactScore(op)
	if impact > c.cfg.MaxImpactScore {
		r.Errors = append(r.Errors, fmt.Sprintf("impact score %.2f exceeds ceiling %.2f", impact, c.cfg.MaxImpactScore))
	}

	if r.OK() {
		c.mu.Lock()
		c.history = append(c.history, opRecord{at: now, impact: impact})
		c.mu.Unlock()
	}
	return r
}

func (c *OperationConstraint) Enforce(op types.OperationContext) error {
	r := c.Check(op)
	if r.OK() {
		return nil
	}
	return errdefs.Operation(r.Errors[0], map[string]any{"constraint": c.Name()})
}

// ImpactScore computes the operation's impact in [0,1]: the type
// weight scaled by 0.8, raised to 0.4 for paths containing "core",
// raised to 0.3 for content over 1000 characters, and capped at 0.6
// for paths containing "test". Contradictory bounds (a heavy
// operation on a test path) resolve to maximum impact.
func (c *OperationConstraint) ImpactScore(op types.OperationContext) float64 {
	weight, ok := impactWeights[op.Operation]
	if !ok {
		weight = 0.5
	}
	lower := weight * 0.8

	if strings.Contains(op.TargetPath, "core") && lower < 0.4 {
		lower = 0.4
	}
	if len(op.Content) > 1000 && lower < 0.3 {
		lower = 0.3
	}

	upper := 1.0
	if strings.Contains(op.TargetPath, "test") {
		upper = 0.6
	}

	if lower > upper {
		return 1.0
	}
	return lower
}

// WindowSize reports how many operations sit in the current rate
// window.
func (c *OperationConstraint) WindowSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(c.now())
	return len(c.history)
}

// AvgImpact reports the mean impact score across the current window,
// or 0 when the window is empty.
func (c *OperationConstraint) AvgImpact() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(c.now())
	if len(c.history) == 0 {
		return 0
	}
	sum := 0.0
	for _, rec := range c.history {
		sum += rec.impact
	}
	return sum / float64(len(c.history))
}

func (c *OperationConstraint) evictLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(c.history) && c.history[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.history = append(c.history[:0], c.history[i:]...)
	}
}
