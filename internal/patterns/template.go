package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/runtime"
)

// The template grammar is deliberately small: {{state.X}} reads a step
// output, {{ctx.Y}} a request-context field, {{inputs.Z}} a request input.
// state and inputs paths may descend further into nested objects.
var templateRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// resolveValue resolves one argument or output value. A string that is
// exactly one template yields the raw looked-up value, whatever its type;
// templates embedded in longer strings substitute textually. Non-strings
// pass through untouched.
func resolveValue(v interface{}, rc *runtime.RequestContext, state runtime.State, inputs map[string]interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}

	if expr, whole := wholeTemplate(s); whole {
		return lookupPath(expr, rc, state, inputs)
	}

	var lookupErr error
	resolved := templateRe.ReplaceAllStringFunc(s, func(match string) string {
		expr := templateRe.FindStringSubmatch(match)[1]
		val, err := lookupPath(expr, rc, state, inputs)
		if err != nil {
			if lookupErr == nil {
				lookupErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	return resolved, nil
}

// wholeTemplate reports whether s, ignoring surrounding space, is a single
// template and nothing else.
func wholeTemplate(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	loc := templateRe.FindStringIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}
	return templateRe.FindStringSubmatch(trimmed)[1], true
}

func lookupPath(expr string, rc *runtime.RequestContext, state runtime.State, inputs map[string]interface{}) (interface{}, error) {
	parts := strings.Split(expr, ".")
	if len(parts) < 2 {
		return nil, domain.Validation("template", "template %q wants root.key", expr)
	}

	switch parts[0] {
	case "state":
		v, ok := state[parts[1]]
		if !ok {
			return nil, domain.Validation("template", "template %q: state has no %q", expr, parts[1])
		}
		return descend(expr, v, parts[2:])
	case "inputs":
		v, ok := inputs[parts[1]]
		if !ok {
			return nil, domain.Validation("template", "template %q: inputs have no %q", expr, parts[1])
		}
		return descend(expr, v, parts[2:])
	case "ctx":
		if len(parts) != 2 {
			return nil, domain.Validation("template", "template %q: ctx keys do not nest", expr)
		}
		return ctxValue(expr, rc, parts[1])
	}
	return nil, domain.Validation("template", "template %q: unknown root %q (want state, ctx or inputs)", expr, parts[0])
}

func descend(expr string, v interface{}, path []string) (interface{}, error) {
	for _, key := range path {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, domain.Validation("template", "template %q: cannot descend into %q", expr, key)
		}
		if v, ok = m[key]; !ok {
			return nil, domain.Validation("template", "template %q: no value at %q", expr, key)
		}
	}
	return v, nil
}

func ctxValue(expr string, rc *runtime.RequestContext, key string) (interface{}, error) {
	switch key {
	case "pricing_pack_id":
		return rc.PricingPackID, nil
	case "ledger_commit_hash":
		return rc.LedgerCommitHash, nil
	case "asof_date":
		return rc.AsOfDate, nil
	case "policy":
		return rc.Policy, nil
	case "correlation_id":
		return rc.CorrelationID, nil
	}
	return nil, domain.Validation("template", "template %q: unknown ctx key %q", expr, key)
}

// truthy reports whether a resolved condition enables its step.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return true
}
