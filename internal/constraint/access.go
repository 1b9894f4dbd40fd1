package constraint

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/agentgate/agentgate/pkg/errdefs"
	"github.com/agentgate/agentgate/pkg/types"
)

// Scope values for AccessConfig.MaxScope.
const (
	ScopeFile      = "file"
	ScopeDirectory = "directory"
)

// AccessConfig configures an AccessConstraint. Path entries match as
// plain prefixes or as glob patterns (e.g. "src/**/*.go").
type AccessConfig struct {
	AllowedPaths        []string                         `yaml:"allowed_paths"`
	RestrictedPaths     []string                         `yaml:"restricted_paths"`
	RequiredPermissions map[types.OperationType][]string `yaml:"required_permissions"`
	MaxScope            string                           `yaml:"max_scope"`
}

// pathRule matches a target path by prefix or by compiled glob.
type pathRule struct {
	raw string
	g   glob.Glob // nil when raw is not a valid glob
}

func (r pathRule) matches(path string) bool {
	if strings.HasPrefix(path, r.raw) {
		return true
	}
	return r.g != nil && r.g.Match(path)
}

func compileRules(patterns []string) []pathRule {
	rules := make([]pathRule, 0, len(patterns))
	for _, p := range patterns {
		rule := pathRule{raw: p}
		if g, err := glob.Compile(p, '/'); err == nil {
			rule.g = g
		}
		rules = append(rules, rule)
	}
	return rules
}

// AccessConstraint enforces path allow/deny lists, per-operation
// permission requirements, and scope rules. Stateless after
// construction, safe for concurrent use.
type AccessConstraint struct {
	cfg        AccessConfig
	allowed    []pathRule
	restricted []pathRule
}

func NewAccessConstraint(cfg AccessConfig) (*AccessConstraint, error) {
	switch cfg.MaxScope {
	case "", ScopeFile, ScopeDirectory:
	default:
		return nil, errdefs.Config(fmt.Sprintf("unknown max_scope %q", cfg.MaxScope), nil)
	}
	if cfg.MaxScope == "" {
		cfg.MaxScope = ScopeDirectory
	}
	return &AccessConstraint{
		cfg:        cfg,
		allowed:    compileRules(cfg.AllowedPaths),
		restricted: compileRules(cfg.RestrictedPaths),
	}, nil
}

func (c *AccessConstraint) Name() string { return "access" }

func (c *AccessConstraint) Check(op types.OperationContext) Result {
	var r Result
	path := op.TargetPath

	for _, rule := range c.restricted {
		if rule.matches(path) {
			r.Errors = append(r.Errors, fmt.Sprintf("path %q is restricted by %q", path, rule.raw))
			break
		}
	}

	if len(c.allowed) > 0 {
		matched := false
		for _, rule := range c.allowed {
			if rule.matches(path) {
				matched = true
				break
			}
		}
		if !matched {
			r.Errors = append(r.Errors, fmt.Sprintf("path %q is outside the allowed paths", path))
		}
	}

	if required, ok := c.cfg.RequiredPermissions[op.Operation]; ok {
		if !op.HasPermissions(required) {
			r.Errors = append(r.Errors, fmt.Sprintf("operation %q requires permissions %v", op.Operation, required))
		}
	}

	switch c.cfg.MaxScope {
	case ScopeFile:
		if strings.ContainsAny(path, "/\\") {
			r.Errors = append(r.Errors, "file scope forbids path separators")
		}
	case ScopeDirectory:
		if strings.Contains(path, "../") || strings.Contains(path, "..\\") {
			r.Errors = append(r.Errors, "directory scope forbids parent-directory traversal")
		}
	}

	return r
}

func (c *AccessConstraint) Enforce(op types.OperationContext) error {
	r := c.Check(op)
	if r.OK() {
		return nil
	}
	return errdefs.Access(r.Errors[0], map[string]any{
		"constraint": c.Name(),
		"path":       op.TargetPath,
	})
}
