// Package patterns executes declarative capability patterns: JSON documents
// describing a DAG of capability invocations with templated arguments.
// Patterns are how the online executor composes agent reads, so loading is
// strict: unknown capabilities, unknown dependencies, duplicate ids, and
// cycles are all rejected before a pattern becomes executable.
package patterns

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/meridian/internal/domain"
)

// Step is one capability invocation inside a pattern. String arguments may
// carry {{state.X}}, {{ctx.Y}} and {{inputs.Z}} templates, resolved just
// before dispatch. A step with a condition is skipped, not failed, when the
// condition resolves empty or false.
type Step struct {
	ID         string                 `json:"id"`
	Capability string                 `json:"capability"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Output     string                 `json:"output,omitempty"`
	DependsOn  []string               `json:"depends_on,omitempty"`
	Condition  string                 `json:"condition,omitempty"`
}

// Pattern is a named DAG of steps plus the outputs it promises. Outputs map
// a response key to a template over the final execution state; keys whose
// producing step was skipped are omitted from the response.
type Pattern struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Steps       []Step            `json:"steps"`
	Outputs     map[string]string `json:"outputs,omitempty"`

	// Execution order resolved at load time: indexes into Steps,
	// topologically sorted, declared order where the edges allow.
	order []int
}

// Load parses and statically validates one pattern document. Capability
// existence is checked later, at registration, when a runtime is at hand.
func Load(data []byte) (*Pattern, error) {
	var p Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pattern) validate() error {
	if p.ID == "" {
		return domain.Validation("id", "pattern id is required")
	}
	if len(p.Steps) == 0 {
		return domain.Validation("steps", "pattern %s has no steps", p.ID)
	}

	index := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if step.ID == "" {
			return domain.Validation("steps", "pattern %s: step %d has no id", p.ID, i)
		}
		if _, dup := index[step.ID]; dup {
			return domain.Validation("steps", "pattern %s: duplicate step id %q", p.ID, step.ID)
		}
		if step.Capability == "" {
			return domain.Validation("steps", "pattern %s: step %s names no capability", p.ID, step.ID)
		}
		index[step.ID] = i
	}

	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := index[dep]; !ok {
				return domain.Validation("depends_on", "pattern %s: step %s depends on unknown step %q", p.ID, step.ID, dep)
			}
		}
	}

	order, err := p.topoOrder(index)
	if err != nil {
		return err
	}
	p.order = order
	return nil
}

// topoOrder sorts steps so every dependency runs first, keeping the
// declared order among steps whose edges leave it free. A pass that places
// nothing means the remaining steps form a cycle.
func (p *Pattern) topoOrder(index map[string]int) ([]int, error) {
	placed := make([]bool, len(p.Steps))
	order := make([]int, 0, len(p.Steps))

	for len(order) < len(p.Steps) {
		progressed := false
		for i, step := range p.Steps {
			if placed[i] {
				continue
			}
			ready := true
			for _, dep := range step.DependsOn {
				if !placed[index[dep]] {
					ready = false
					break
				}
			}
			if ready {
				placed[i] = true
				order = append(order, i)
				progressed = true
			}
		}
		if !progressed {
			stuck := make([]string, 0, len(p.Steps)-len(order))
			for i, step := range p.Steps {
				if !placed[i] {
					stuck = append(stuck, step.ID)
				}
			}
			return nil, domain.Validation("depends_on", "pattern %s: dependency cycle through %s", p.ID, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}
