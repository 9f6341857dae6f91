package patterns

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/runtime"
)

// Invoker is the slice of the capability runtime the executor needs.
type Invoker interface {
	Has(name string) bool
	Invoke(ctx context.Context, capability string, rc *runtime.RequestContext, state runtime.State, args runtime.Args) (*runtime.Result, error)
}

// Library holds the executable patterns. Registration happens once at
// startup; Execute only reads, so concurrent pattern executions need no
// locking.
type Library struct {
	runtime  Invoker
	patterns map[string]*Pattern
	log      zerolog.Logger
}

// NewLibrary creates an empty pattern library over a capability runtime.
func NewLibrary(rt Invoker, log zerolog.Logger) *Library {
	return &Library{
		runtime:  rt,
		patterns: make(map[string]*Pattern),
		log:      log.With().Str("component", "patterns").Logger(),
	}
}

// Add registers a loaded pattern, verifying every step's capability exists.
func (l *Library) Add(p *Pattern) error {
	if _, dup := l.patterns[p.ID]; dup {
		return fmt.Errorf("pattern %q already registered", p.ID)
	}
	for _, step := range p.Steps {
		if !l.runtime.Has(step.Capability) {
			return fmt.Errorf("pattern %s: step %s wants unknown capability %q", p.ID, step.ID, step.Capability)
		}
	}
	l.patterns[p.ID] = p
	l.log.Debug().Str("pattern", p.ID).Int("steps", len(p.Steps)).Msg("Pattern registered")
	return nil
}

// Get returns a registered pattern.
func (l *Library) Get(id string) (*Pattern, bool) {
	p, ok := l.patterns[id]
	return p, ok
}

// List returns the registered pattern ids, sorted.
func (l *Library) List() []string {
	ids := make([]string, 0, len(l.patterns))
	for id := range l.patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StepTrace records what one step did: the capability dispatched, the
// provenance observed, and the wall-clock cost.
type StepTrace struct {
	StepID     string  `json:"step_id"`
	Capability string  `json:"capability"`
	Skipped    bool    `json:"skipped,omitempty"`
	Source     string  `json:"source,omitempty"`
	Origin     string  `json:"origin,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// Execution is one pattern run: the declared outputs that resolved, plus
// the full step trace.
type Execution struct {
	PatternID string                 `json:"pattern_id"`
	Outputs   map[string]interface{} `json:"outputs"`
	Trace     []StepTrace            `json:"trace"`
}

// Execute runs a pattern against a pinned request context. Steps run
// serially in dependency order; a step error aborts the run and keeps its
// typed kind, so the adapter can route validation separately from internal
// failures.
func (l *Library) Execute(ctx context.Context, id string, rc *runtime.RequestContext, inputs map[string]interface{}) (*Execution, error) {
	p, ok := l.patterns[id]
	if !ok {
		return nil, domain.Validation("pattern", "unknown pattern %q", id)
	}

	state := runtime.State{}
	trace := make([]StepTrace, 0, len(p.Steps))

	for _, i := range p.order {
		step := p.Steps[i]

		if step.Condition != "" && !l.enabled(step, rc, state, inputs) {
			trace = append(trace, StepTrace{StepID: step.ID, Capability: step.Capability, Skipped: true})
			continue
		}

		args, err := resolveArgs(step.Args, rc, state, inputs)
		if err != nil {
			return nil, fmt.Errorf("pattern %s step %s: %w", p.ID, step.ID, err)
		}

		start := time.Now()
		result, err := l.runtime.Invoke(ctx, step.Capability, rc, state, args)
		if err != nil {
			return nil, fmt.Errorf("pattern %s step %s: %w", p.ID, step.ID, err)
		}
		if step.Output != "" {
			state[step.Output] = result.Data
		}
		trace = append(trace, StepTrace{
			StepID:     step.ID,
			Capability: step.Capability,
			Source:     result.Provenance.Source,
			Origin:     result.Provenance.Origin,
			DurationMS: float64(time.Since(start).Microseconds()) / 1000.0,
		})
	}

	// Output templates over skipped branches resolve to nothing; the key
	// is omitted rather than served as null.
	outputs := make(map[string]interface{}, len(p.Outputs))
	for name, tmpl := range p.Outputs {
		v, err := resolveValue(tmpl, rc, state, inputs)
		if err != nil {
			l.log.Debug().Str("pattern", p.ID).Str("output", name).Msg("Output omitted, template unresolved")
			continue
		}
		outputs[name] = v
	}

	l.log.Debug().
		Str("pattern", p.ID).
		Str("correlation_id", rc.CorrelationID).
		Int("steps", len(trace)).
		Msg("Pattern executed")

	return &Execution{PatternID: p.ID, Outputs: outputs, Trace: trace}, nil
}

// enabled resolves the step condition. Anything unresolvable reads as
// false: a condition over a skipped step's output disables this step too.
func (l *Library) enabled(step Step, rc *runtime.RequestContext, state runtime.State, inputs map[string]interface{}) bool {
	v, err := resolveValue(step.Condition, rc, state, inputs)
	if err != nil {
		return false
	}
	return truthy(v)
}

func resolveArgs(in map[string]interface{}, rc *runtime.RequestContext, state runtime.State, inputs map[string]interface{}) (runtime.Args, error) {
	if len(in) == 0 {
		return nil, nil
	}
	args := make(runtime.Args, len(in))
	for k, v := range in {
		resolved, err := resolveValue(v, rc, state, inputs)
		if err != nil {
			return nil, err
		}
		args[k] = resolved
	}
	return args, nil
}
