// Package constraint implements the pluggable safety constraints and
// the engine that runs them against proposed operations.
package constraint

import "github.com/agentgate/agentgate/pkg/types"

// Result is the outcome of checking one constraint against one
// operation context.
type Result struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the check passed.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Constraint is a pluggable rule that validates or rejects an
// operation context. Check collects every violation; Enforce returns
// the first violation as a typed error. Stateless constraints are
// safely shared across concurrent validations; stateful ones own an
// internal lock.
type Constraint interface {
	Name() string
	Check(op types.OperationContext) Result
	Enforce(op types.OperationContext) error
}

// Func adapts a plain check function as a Constraint. This is the
// extension point for rules outside the built-in resource, operation,
// and access variants.
type Func struct {
	name    string
	check   func(op types.OperationContext) Result
	enforce func(op types.OperationContext) error
}

// NewFunc wraps check as a named Constraint. enforce may be nil, in
// which case Enforce synthesizes an operation error from the first
// check failure.
func NewFunc(name string, check func(op types.OperationContext) Result, enforce func(op types.OperationContext) error) *Func {
	return &Func{name: name, check: check, enforce: enforce}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Check(op types.OperationContext) Result { return f.check(op) }

func (f *Func) Enforce(op types.OperationContext) error {
	if f.enforce != nil {
		return f.enforce(op)
	}
	return firstError(f.name, f.check(op))
}
