package transformheaders

import (
	"context"
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// FailurePolicy decides what an evaluation failure does to the rest of a run
type FailurePolicy int

const (
	// AbortOnFailure stops at the first failing expression and fails the run
	AbortOnFailure FailurePolicy = iota
	// IsolateFailures skips the failing header and keeps going
	IsolateFailures
)

func (p FailurePolicy) String() string {
	switch p {
	case AbortOnFailure:
		return "abort"
	case IsolateFailures:
		return "isolate"
	}
	return "unknown"
}

// Result summarizes one transformation run
type Result struct {
	Set      int
	Appended int
	Removed  int
	// FieldErrors holds the failures skipped under IsolateFailures
	FieldErrors *multierror.Error
}

// Engine applies a Config to header containers: set, then append, then remove.
// An Engine holds no per-exchange state and may be shared.
type Engine struct {
	config    *Config
	policy    FailurePolicy
	whitelist map[string]struct{}
}

// NewEngine creates an engine over config. The config must not be mutated afterwards.
func NewEngine(config *Config, policy FailurePolicy) *Engine {
	if config == nil {
		config = &Config{}
	}
	whitelist := make(map[string]struct{}, len(config.WhitelistHeaders))
	for _, name := range config.WhitelistHeaders {
		whitelist[strings.ToLower(name)] = struct{}{}
	}
	return &Engine{config: config, policy: policy, whitelist: whitelist}
}

// FailurePolicy returns the policy the engine was built with
func (e *Engine) FailurePolicy() FailurePolicy {
	return e.policy
}

// Apply runs the three phases against headers. Under AbortOnFailure the first
// failing expression is returned as a *FieldError and no later edit runs. A
// rejected write is a *MutationError and always aborts.
func (e *Engine) Apply(ctx context.Context, headers Headers, eval EvaluationContext) (*Result, error) {
	res := &Result{}
	if headers == nil {
		return res, nil
	}

	set := func(name, value string) error { return headers.Set(name, value) }
	n, err := e.update(ctx, PhaseSet, e.config.AddHeaders, eval, set, res)
	res.Set = n
	if err != nil {
		return res, err
	}

	add := func(name, value string) error { return headers.Add(name, value) }
	n, err = e.update(ctx, PhaseAppend, e.config.AppendHeaders, eval, add, res)
	res.Appended = n
	if err != nil {
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Removed = e.remove(headers)
	return res, nil
}

func (e *Engine) update(ctx context.Context, phase Phase, edits []HeaderEdit, eval EvaluationContext,
	write func(name, value string) error, res *Result) (int, error) {
	applied := 0
	for _, edit := range edits {
		if edit.Skip() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		value, ok, err := evaluate(ctx, eval, *edit.Value)
		if err != nil {
			fieldErr := &FieldError{Phase: phase, Header: edit.Name, Expression: *edit.Value, Err: err}
			if e.policy == AbortOnFailure || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return applied, fieldErr
			}
			res.FieldErrors = multierror.Append(res.FieldErrors, fieldErr)
			continue
		}
		if !ok {
			continue
		}

		if err := write(edit.Name, value); err != nil {
			var mutErr *MutationError
			if errors.As(err, &mutErr) {
				mutErr.Phase = phase
				return applied, mutErr
			}
			return applied, &MutationError{Phase: phase, Header: edit.Name, Reason: "write rejected", Err: err}
		}
		applied++
	}
	return applied, nil
}

func evaluate(ctx context.Context, eval EvaluationContext, expression string) (string, bool, error) {
	if eval == nil {
		// without an evaluator every expression is a literal
		return expression, true, nil
	}
	return eval.Evaluate(ctx, expression)
}

// remove deletes the remove list plus, when a whitelist is configured, every
// header it does not name. Names are snapshotted once, after the append phase.
func (e *Engine) remove(headers Headers) int {
	seen := make(map[string]struct{})
	var toRemove []string
	schedule := func(name string) {
		if isBlank(name) {
			return
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		toRemove = append(toRemove, name)
	}

	for _, name := range e.config.RemoveHeaders {
		schedule(name)
	}
	if len(e.whitelist) > 0 {
		for _, name := range headers.Names() {
			if _, allowed := e.whitelist[strings.ToLower(name)]; !allowed {
				schedule(name)
			}
		}
	}

	removed := 0
	for _, name := range toRemove {
		if headers.Contains(name) {
			removed++
		}
		headers.Remove(name)
	}
	return removed
}
