// Package agents implements the capability agents registered with the
// runtime. Each agent is a thin read adapter over the module repositories:
// it resolves the request's pinned pricing pack, reads the derived tables
// written by the nightly pipeline, and returns plain data with provenance.
// Agents never write, and they never call each other directly; cross-agent
// reads go back through the runtime by capability name.
package agents

import (
	"fmt"

	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/runtime"
)

// TTL hints stamped on results. Pack-derived data is immutable for the
// pack's lifetime; macro series refresh on the sync cadence.
const (
	ttlPackDerived int64 = 86400
	ttlMacro       int64 = 3600
)

// pinnedPack loads the pack the request is pinned to. The freshness gate
// verified the pack before the request reached any agent, so absence here
// is an internal inconsistency, not a client error.
func pinnedPack(repo *packs.Repository, rc *runtime.RequestContext) (*packs.Pack, error) {
	pack, err := repo.GetByID(rc.PricingPackID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, fmt.Errorf("pricing pack %s not found", rc.PricingPackID)
	}
	return pack, nil
}
