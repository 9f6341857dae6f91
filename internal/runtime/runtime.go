package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/telemetry"
)

// registration binds a capability to the agent that owns it.
type registration struct {
	agent string
	cap   Capability
}

// Runtime routes capability calls through a flat registry. One instance
// serves the whole process; per-request state lives on the RequestContext.
type Runtime struct {
	capabilities map[string]registration
	metrics      *telemetry.MetricsRegistry
	log          zerolog.Logger
	backoff      []time.Duration
}

// New creates an empty runtime.
func New(metrics *telemetry.MetricsRegistry, log zerolog.Logger) *Runtime {
	return &Runtime{
		capabilities: make(map[string]registration),
		metrics:      metrics,
		log:          log.With().Str("component", "runtime").Logger(),
		backoff:      []time.Duration{time.Second, 2 * time.Second},
	}
}

// Register adds every capability of the given agents. A capability name
// claimed twice is a configuration error and aborts startup.
func (r *Runtime) Register(agents ...Agent) error {
	for _, agent := range agents {
		caps := agent.Capabilities()
		for _, c := range caps {
			if c.Name == "" || c.Handler == nil {
				return fmt.Errorf("agent %s exposes a capability without a name or handler", agent.Name())
			}
			if existing, ok := r.capabilities[c.Name]; ok {
				return fmt.Errorf("capability %q registered by both %s and %s", c.Name, existing.agent, agent.Name())
			}
			r.capabilities[c.Name] = registration{agent: agent.Name(), cap: c}
		}
		r.log.Debug().
			Str("agent", agent.Name()).
			Int("capabilities", len(caps)).
			Msg("Agent registered")
	}
	return nil
}

// Has reports whether a capability name is registered. The pattern loader
// validates step targets against it.
func (r *Runtime) Has(name string) bool {
	_, ok := r.capabilities[name]
	return ok
}

// Capabilities returns every registered capability name, sorted.
func (r *Runtime) Capabilities() []string {
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke routes one capability call: request-cache lookup, declared-shape
// validation, handler dispatch with transient-error retries, provenance
// stamping, and cache fill. Equal (capability, args) pairs within the same
// request run the handler once.
func (r *Runtime) Invoke(ctx context.Context, name string, rc *RequestContext, state State, args Args) (*Result, error) {
	reg, ok := r.capabilities[name]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q", name)
	}

	key, err := cacheKey(name, args)
	if err != nil {
		return nil, fmt.Errorf("failed to build cache key for %s: %w", name, err)
	}
	if cached, hit := rc.cache.get(key); hit {
		if r.metrics != nil {
			r.metrics.RecordCacheHit("request")
		}
		return cached, nil
	}
	if r.metrics != nil {
		r.metrics.RecordCacheMiss("request")
	}

	if err := checkArgs(reg.cap, args); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := r.attempt(ctx, reg, rc, state, args)
	duration := time.Since(start)

	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordCapability(reg.agent, name, OriginError, duration)
		}
		return nil, err
	}

	stamp(rc, result)
	if result.Provenance.Origin == OriginStub && !rc.AllowStub {
		return nil, fmt.Errorf("capability %s returned a stub result outside development mode", name)
	}

	if r.metrics != nil {
		r.metrics.RecordCapability(reg.agent, name, result.Provenance.Origin, duration)
	}
	rc.cache.put(key, result)
	return result, nil
}

// attempt dispatches the handler, at most three calls in total with doubling
// 1s/2s waits between them. Transient failures retry; anything else returns
// on the first failure.
func (r *Runtime) attempt(ctx context.Context, reg registration, rc *RequestContext, state State, args Args) (*Result, error) {
	var lastErr error
	for i := 0; i <= len(r.backoff); i++ {
		if i > 0 {
			if r.metrics != nil {
				r.metrics.RecordCapabilityRetry(reg.agent, reg.cap.Name)
			}
			select {
			case <-time.After(r.backoff[i-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := reg.cap.Handler(ctx, rc, state, args)
		if err == nil {
			if result == nil {
				return nil, fmt.Errorf("capability %s returned no result", reg.cap.Name)
			}
			return result, nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			return nil, err
		}
		r.log.Warn().
			Err(err).
			Str("capability", reg.cap.Name).
			Int("attempt", i+1).
			Msg("Capability attempt failed")
	}
	return nil, lastErr
}

// stamp fills provenance blanks: the pinned pack as source, the request's
// as-of date, and a real origin. Handlers override any field they know
// better (a macro read sources its series, not the pack).
func stamp(rc *RequestContext, result *Result) {
	if result.Provenance.Source == "" {
		result.Provenance.Source = "pricing_pack:" + rc.PricingPackID
	}
	if result.Provenance.AsOf == "" {
		result.Provenance.AsOf = rc.AsOfDate
	}
	if result.Provenance.Origin == "" {
		result.Provenance.Origin = OriginReal
	}
}

// checkArgs validates args against the capability's declared input shape.
func checkArgs(c Capability, args Args) error {
	declared := make(map[string]Param, len(c.Params))
	for _, p := range c.Params {
		declared[p.Name] = p
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return domain.Validation("args", "capability %s requires argument %q", c.Name, p.Name)
		}
	}
	for name, value := range args {
		p, ok := declared[name]
		if !ok {
			return domain.Validation("args", "capability %s does not accept argument %q", c.Name, name)
		}
		if !kindMatches(p.Kind, value) {
			return domain.Validation("args", "argument %q of capability %s must be a %s", name, c.Name, p.Kind)
		}
	}
	return nil
}

func kindMatches(kind Kind, value interface{}) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindNumber:
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := value.(bool)
		return ok
	}
	return false
}

// cacheKey is the capability name plus the canonical JSON of its args.
// encoding/json writes map keys sorted, so equal argument sets always
// produce equal keys.
func cacheKey(name string, args Args) (string, error) {
	if len(args) == 0 {
		return name, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return name + ":" + string(raw), nil
}
