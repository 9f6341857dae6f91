package patterns

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/runtime"
)

type invocation struct {
	capability string
	args       runtime.Args
}

// fakeInvoker serves canned results per capability and records every call.
type fakeInvoker struct {
	results map[string]*runtime.Result
	errs    map[string]error
	calls   []invocation
}

func (f *fakeInvoker) Has(name string) bool {
	if _, ok := f.results[name]; ok {
		return true
	}
	_, ok := f.errs[name]
	return ok
}

func (f *fakeInvoker) Invoke(_ context.Context, capability string, _ *runtime.RequestContext, _ runtime.State, args runtime.Args) (*runtime.Result, error) {
	f.calls = append(f.calls, invocation{capability: capability, args: args})
	if err, ok := f.errs[capability]; ok {
		return nil, err
	}
	result, ok := f.results[capability]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q", capability)
	}
	return result, nil
}

func executorRequest() *runtime.RequestContext {
	return &runtime.RequestContext{
		CorrelationID:    "req_test",
		PricingPackID:    "pk-1",
		LedgerCommitHash: "ledger-abc",
		AsOfDate:         "2026-03-02",
		Policy:           "eod",
	}
}

func newTestLibrary(t *testing.T, inv *fakeInvoker, docs ...string) *Library {
	t.Helper()
	lib := NewLibrary(inv, zerolog.Nop())
	for _, doc := range docs {
		p, err := Load([]byte(doc))
		require.NoError(t, err)
		require.NoError(t, lib.Add(p))
	}
	return lib
}

func TestExecuteChainsStateThroughTemplates(t *testing.T) {
	inv := &fakeInvoker{results: map[string]*runtime.Result{
		"packs.current": {
			Data:       map[string]interface{}{"id": "pk-1", "asof_date": "2026-03-02"},
			Provenance: runtime.Provenance{Source: "pricing_pack:pk-1", Origin: runtime.OriginReal},
		},
		"metrics.summary": {
			Data:       map[string]interface{}{"metrics": map[string]interface{}{"twr_1d": 0.0125}},
			Provenance: runtime.Provenance{Source: "pricing_pack:pk-1", Origin: runtime.OriginReal},
		},
	}}
	lib := newTestLibrary(t, inv, `{
		"id": "demo",
		"steps": [
			{"id": "pack", "capability": "packs.current", "output": "pack"},
			{"id": "summary", "capability": "metrics.summary",
			 "args": {"portfolio_id": "{{inputs.portfolio_id}}", "label": "pack {{state.pack.id}}"},
			 "output": "summary", "depends_on": ["pack"]}
		],
		"outputs": {
			"pack_id": "{{state.pack.id}}",
			"metrics": "{{state.summary.metrics}}"
		}
	}`)

	exec, err := lib.Execute(context.Background(), "demo", executorRequest(), map[string]interface{}{"portfolio_id": "pf-9"})
	require.NoError(t, err)

	require.Len(t, inv.calls, 2)
	assert.Equal(t, "packs.current", inv.calls[0].capability)
	assert.Equal(t, runtime.Args{"portfolio_id": "pf-9", "label": "pack pk-1"}, inv.calls[1].args)

	assert.Equal(t, "pk-1", exec.Outputs["pack_id"])
	assert.Equal(t, map[string]interface{}{"twr_1d": 0.0125}, exec.Outputs["metrics"])

	require.Len(t, exec.Trace, 2)
	assert.Equal(t, "pack", exec.Trace[0].StepID)
	assert.Equal(t, "pricing_pack:pk-1", exec.Trace[0].Source)
	assert.Equal(t, runtime.OriginReal, exec.Trace[0].Origin)
	assert.False(t, exec.Trace[0].Skipped)
}

func TestExecuteSkipsConditionalStep(t *testing.T) {
	inv := &fakeInvoker{results: map[string]*runtime.Result{
		"portfolio.valuation": {Data: map[string]interface{}{"value_base": 4000.0}},
		"metrics.attribution": {Data: map[string]interface{}{"r_base": 0.0115}},
	}}
	doc := `{
		"id": "demo",
		"steps": [
			{"id": "valuation", "capability": "portfolio.valuation", "output": "valuation"},
			{"id": "attribution", "capability": "metrics.attribution", "output": "attribution",
			 "condition": "{{inputs.include_attribution}}"}
		],
		"outputs": {
			"valuation": "{{state.valuation}}",
			"attribution": "{{state.attribution}}"
		}
	}`
	lib := newTestLibrary(t, inv, doc)

	// Absent flag: the step is skipped, not failed, and its output vanishes.
	exec, err := lib.Execute(context.Background(), "demo", executorRequest(), nil)
	require.NoError(t, err)
	require.Len(t, inv.calls, 1)
	require.Len(t, exec.Trace, 2)
	assert.True(t, exec.Trace[1].Skipped)
	assert.Contains(t, exec.Outputs, "valuation")
	assert.NotContains(t, exec.Outputs, "attribution")

	inv.calls = nil
	exec, err = lib.Execute(context.Background(), "demo", executorRequest(),
		map[string]interface{}{"include_attribution": true})
	require.NoError(t, err)
	assert.Len(t, inv.calls, 2)
	assert.Contains(t, exec.Outputs, "attribution")

	inv.calls = nil
	_, err = lib.Execute(context.Background(), "demo", executorRequest(),
		map[string]interface{}{"include_attribution": false})
	require.NoError(t, err)
	assert.Len(t, inv.calls, 1)
}

func TestExecuteConditionOverSkippedOutputSkipsToo(t *testing.T) {
	inv := &fakeInvoker{results: map[string]*runtime.Result{
		"a.read": {Data: map[string]interface{}{"flag": true}},
		"b.read": {Data: map[string]interface{}{}},
	}}
	lib := newTestLibrary(t, inv, `{
		"id": "demo",
		"steps": [
			{"id": "first", "capability": "a.read", "output": "first", "condition": "{{inputs.enable}}"},
			{"id": "second", "capability": "b.read", "depends_on": ["first"], "condition": "{{state.first.flag}}"}
		]
	}`)

	exec, err := lib.Execute(context.Background(), "demo", executorRequest(), nil)
	require.NoError(t, err)
	assert.Empty(t, inv.calls)
	assert.True(t, exec.Trace[0].Skipped)
	assert.True(t, exec.Trace[1].Skipped)
}

func TestExecuteKeepsErrorKind(t *testing.T) {
	inv := &fakeInvoker{
		results: map[string]*runtime.Result{},
		errs: map[string]error{
			"ratings.score":      domain.Validation("security_id", "unknown security %q", "GHOST"),
			"macro.series_level": domain.Transient("macro.series_level", errors.New("timeout")),
		},
	}
	lib := newTestLibrary(t, inv,
		`{"id": "p1", "steps": [{"id": "score", "capability": "ratings.score"}]}`,
		`{"id": "p2", "steps": [{"id": "level", "capability": "macro.series_level"}]}`,
	)

	_, err := lib.Execute(context.Background(), "p1", executorRequest(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "step score")

	_, err = lib.Execute(context.Background(), "p2", executorRequest(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestExecuteRejectsUnresolvableArgument(t *testing.T) {
	inv := &fakeInvoker{results: map[string]*runtime.Result{
		"metrics.summary": {Data: map[string]interface{}{}},
	}}
	lib := newTestLibrary(t, inv, `{
		"id": "demo",
		"steps": [{"id": "s", "capability": "metrics.summary", "args": {"portfolio_id": "{{inputs.portfolio_id}}"}}]
	}`)

	_, err := lib.Execute(context.Background(), "demo", executorRequest(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, inv.calls)
}

func TestExecuteUnknownPattern(t *testing.T) {
	lib := NewLibrary(&fakeInvoker{}, zerolog.Nop())
	_, err := lib.Execute(context.Background(), "ghost", executorRequest(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestAddRejectsUnknownCapability(t *testing.T) {
	lib := NewLibrary(&fakeInvoker{results: map[string]*runtime.Result{}}, zerolog.Nop())
	p, err := Load([]byte(`{"id": "demo", "steps": [{"id": "s", "capability": "nobody.home"}]}`))
	require.NoError(t, err)

	err = lib.Add(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown capability "nobody.home"`)
}

func TestAddRejectsDuplicatePattern(t *testing.T) {
	inv := &fakeInvoker{results: map[string]*runtime.Result{"a.read": {}}}
	doc := `{"id": "demo", "steps": [{"id": "s", "capability": "a.read"}]}`
	lib := newTestLibrary(t, inv, doc)

	p, err := Load([]byte(doc))
	require.NoError(t, err)
	require.Error(t, lib.Add(p))
}

func TestLoadShippedPatterns(t *testing.T) {
	inv := &fakeInvoker{results: map[string]*runtime.Result{
		"packs.current":       {},
		"packs.prices":        {},
		"portfolio.valuation": {},
		"portfolio.positions": {},
		"metrics.summary":     {},
		"metrics.attribution": {},
		"ratings.score":       {},
		"macro.series_level":  {},
		"macro.risk_free":     {},
	}}
	lib := NewLibrary(inv, zerolog.Nop())
	require.NoError(t, lib.LoadShipped())

	assert.Equal(t, []string{"portfolio_overview", "rate_snapshot", "security_check"}, lib.List())

	p, ok := lib.Get("portfolio_overview")
	require.True(t, ok)
	assert.NotEmpty(t, p.Description)
	assert.Len(t, p.Steps, 5)
}
