package constraint

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentgate/agentgate/pkg/errdefs"
	"github.com/agentgate/agentgate/pkg/types"
)

// historyLimit bounds the retained validation history.
const historyLimit = 1000

// Stats summarizes past validations. CommonErrors counts each
// distinct violation message over the retained history.
type Stats struct {
	Total        int            `json:"total"`
	Failed       int            `json:"failed"`
	FailureRate  float64        `json:"failure_rate"`
	CommonErrors map[string]int `json:"common_errors,omitempty"`
}

// Engine runs every registered constraint against an operation context
// and aggregates the results. Validation never short-circuits: all
// violations are reported in one pass.
type Engine struct {
	log *slog.Logger

	mu          sync.Mutex
	constraints []Constraint
	history     []types.ValidationResult
	failed      int
	total       int
}

// NewEngine creates an empty engine. A nil logger means slog.Default().
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log}
}

// AddConstraint registers a constraint. Constraints run in
// registration order.
func (e *Engine) AddConstraint(c Constraint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.constraints = append(e.constraints, c)
}

// RegisterFunc registers a plain check function as a named constraint.
func (e *Engine) RegisterFunc(name string, check func(op types.OperationContext) Result) {
	e.AddConstraint(NewFunc(name, check, nil))
}

// Validate runs every constraint and aggregates failures. A panicking
// constraint counts as a failure of that constraint, never of the
// engine: Validate itself never panics and never returns an error.
func (e *Engine) Validate(op types.OperationContext) types.ValidationResult {
	e.mu.Lock()
	constraints := make([]Constraint, len(e.constraints))
	copy(constraints, e.constraints)
	e.mu.Unlock()

	result := types.ValidationResult{Valid: true, Timestamp: time.Now().UTC()}
	for _, c := range constraints {
		r := e.checkOne(c, op)
		if !r.OK() {
			result.Valid = false
			result.Errors = append(result.Errors, r.Errors...)
		}
		result.Warnings = append(result.Warnings, r.Warnings...)
	}

	e.record(result)
	return result
}

func (e *Engine) checkOne(c Constraint, op types.OperationContext) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("constraint check panicked", "constraint", c.Name(), "panic", p)
			r = Result{Errors: []string{fmt.Sprintf("constraint %s: internal error", c.Name())}}
		}
	}()
	return c.Check(op)
}

// Enforce re-validates and returns the first violation as a typed
// error (resource, operation, or access).
func (e *Engine) Enforce(op types.OperationContext) error {
	e.mu.Lock()
	constraints := make([]Constraint, len(e.constraints))
	copy(constraints, e.constraints)
	e.mu.Unlock()

	for _, c := range constraints {
		if err := c.Enforce(op); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) record(result types.ValidationResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total++
	if !result.Valid {
		e.failed++
	}
	e.history = append(e.history, result)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}
}

// Stats reports validation counts since engine creation.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{Total: e.total, Failed: e.failed}
	if e.total > 0 {
		s.FailureRate = float64(e.failed) / float64(e.total)
	}
	for _, r := range e.history {
		for _, msg := range r.Errors {
			if s.CommonErrors == nil {
				s.CommonErrors = make(map[string]int)
			}
			s.CommonErrors[msg]++
		}
	}
	return s
}

// History returns up to limit most recent validation results, newest
// last. limit <= 0 returns all retained results.
func (e *Engine) History(limit int) []types.ValidationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.ValidationResult, n)
	copy(out, e.history[len(e.history)-n:])
	return out
}

// firstError converts a failed check into the generic operation error.
func firstError(name string, r Result) error {
	if r.OK() {
		return nil
	}
	return errdefs.Operation(r.Errors[0], map[string]any{"constraint": name})
}
