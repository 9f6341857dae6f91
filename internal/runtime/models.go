// Package runtime mediates every agent invocation. It owns capability
// registration, routing, transient-error retries, the request-scoped result
// cache, and provenance stamping. Agents never call each other directly: a
// capability that needs another capability calls the runtime by name and
// hits the same registry and the same request cache.
package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Provenance origins.
const (
	OriginReal  = "real"  // authoritative database or provider read
	OriginError = "error" // upstream rejected the request
	OriginStub  = "stub"  // development-mode placeholder
)

// Provenance names where a result came from and how long consumers should
// trust it.
type Provenance struct {
	Source     string `json:"source"`                // e.g. "pricing_pack:pk_1f3a"
	AsOf       string `json:"as_of,omitempty"`       // YYYY-MM-DD
	TTLSeconds int64  `json:"ttl_seconds,omitempty"` // staleness hint
	Origin     string `json:"origin"`
}

// Result is one capability's structured output plus its provenance.
type Result struct {
	Data       map[string]interface{} `json:"data"`
	Provenance Provenance             `json:"_provenance"`
}

// State is the execution-state mapping a pattern accumulates: each step's
// output lands here under the step's declared output name.
type State map[string]interface{}

// Args carries a capability's named arguments after template resolution.
// Values arriving from pattern JSON are strings, float64 numbers and bools.
type Args map[string]interface{}

// String returns a string argument.
func (a Args) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}

// StringOr returns a string argument, or fallback when absent or empty.
func (a Args) StringOr(key, fallback string) string {
	if v, ok := a.String(key); ok && v != "" {
		return v
	}
	return fallback
}

// Float returns a numeric argument. JSON numbers decode as float64; Go
// callers may pass ints.
func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Bool returns a boolean argument.
func (a Args) Bool(key string) (bool, bool) {
	v, ok := a[key].(bool)
	return v, ok
}

// Kind is a declared argument type.
type Kind string

// Argument kinds a capability may declare.
const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Param declares one argument of a capability's input shape. The runtime
// checks presence and kind before dispatch, so handlers read their
// arguments without re-validating.
type Param struct {
	Name     string
	Kind     Kind
	Required bool
}

// HandlerFunc executes one capability.
type HandlerFunc func(ctx context.Context, rc *RequestContext, state State, args Args) (*Result, error)

// Capability is one named operation an agent exposes.
type Capability struct {
	Name        string
	Description string
	Params      []Param
	Handler     HandlerFunc
}

// Agent bundles named capabilities behind a stable name.
type Agent interface {
	Name() string
	Capabilities() []Capability
}

// RequestContext pins one executor request to a pricing pack and a ledger
// commit, and owns the request-scoped result cache. The freshness gate
// fills the pack fields; nothing downstream may choose its own pack.
type RequestContext struct {
	CorrelationID    string
	PricingPackID    string
	LedgerCommitHash string
	AsOfDate         string // YYYY-MM-DD
	Policy           string
	AllowStub        bool // set only by the dev-mode override

	cache *requestCache
}

// NewRequestContext creates the context for one pattern execution.
func NewRequestContext(packID, ledgerHash, asOfDate, policy string) *RequestContext {
	return &RequestContext{
		CorrelationID:    "req_" + uuid.New().String(),
		PricingPackID:    packID,
		LedgerCommitHash: ledgerHash,
		AsOfDate:         asOfDate,
		Policy:           policy,
		cache:            &requestCache{entries: make(map[string]*Result)},
	}
}

// requestCache memoizes results for the lifetime of one request. A nil
// cache (a RequestContext built as a struct literal) disables memoization
// rather than panicking.
type requestCache struct {
	mu      sync.Mutex
	entries map[string]*Result
}

func (c *requestCache) get(key string) (*Result, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

func (c *requestCache) put(key string, r *Result) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = r
}
