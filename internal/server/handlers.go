package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/runtime"
	"github.com/aristath/meridian/internal/utils"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "meridian",
	})
}

// freshnessResponse is the read-only pack visibility surface.
type freshnessResponse struct {
	Policy        string `json:"policy"`
	PricingPackID string `json:"pricing_pack_id,omitempty"`
	Status        string `json:"status"`
	IsFresh       bool   `json:"is_fresh"`
	PrewarmDone   bool   `json:"prewarm_done"`
	AsOfDate      string `json:"asof_date,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// handleFreshness reports the latest non-superseded pack's lifecycle state.
// A missing pack is a state, not an error.
func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	policy := s.policyParam(r)

	pack, err := s.container.PackRepo.GetLatestCurrent(policy)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read pack status")
		return
	}

	resp := freshnessResponse{Policy: policy, Status: "missing"}
	if pack != nil {
		resp.PricingPackID = pack.ID
		resp.Status = string(pack.Status)
		resp.IsFresh = pack.Status == packs.StatusFresh
		resp.PrewarmDone = pack.PrewarmDone
		resp.AsOfDate = utils.UnixToDate(pack.AsOfDate)
		resp.UpdatedAt = time.Unix(pack.UpdatedAt, 0).UTC().Format(time.RFC3339)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleCurrentPack returns the latest non-superseded pack row for a policy.
func (s *Server) handleCurrentPack(w http.ResponseWriter, r *http.Request) {
	policy := s.policyParam(r)

	pack, err := s.container.PackRepo.GetLatestCurrent(policy)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read pack")
		return
	}
	if pack == nil {
		s.writeError(w, r, http.StatusNotFound, "no pack for policy "+policy)
		return
	}

	s.writeJSON(w, http.StatusOK, pack)
}

// handleLatestRun returns the most recent nightly run report.
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.container.ReportRepo.GetLatest()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read run report")
		return
	}
	if report == nil {
		s.writeError(w, r, http.StatusNotFound, "no runs recorded")
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handleListPatterns returns the registered pattern ids.
func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": s.container.PatternLibrary.List(),
	})
}

// executeRequest is the pattern execution request body. Policy defaults to
// the configured pricing policy; allow_warming is honored only in
// development mode.
type executeRequest struct {
	Inputs       map[string]interface{} `json:"inputs"`
	Policy       string                 `json:"policy,omitempty"`
	AllowWarming bool                   `json:"allow_warming,omitempty"`
}

// executeResponse carries the pattern outputs plus the provenance block that
// pins every number in them to one pack and one ledger commit.
type executeResponse struct {
	PatternID  string                 `json:"pattern_id"`
	Outputs    map[string]interface{} `json:"outputs"`
	Trace      interface{}            `json:"trace"`
	Provenance executeProvenance      `json:"provenance"`
}

type executeProvenance struct {
	PricingPackID    string `json:"pricing_pack_id"`
	LedgerCommitHash string `json:"ledger_commit_hash,omitempty"`
	AsOfDate         string `json:"asof_date,omitempty"`
	CorrelationID    string `json:"correlation_id"`
}

// handleExecutePattern runs one pattern behind the freshness gate. The gate
// rejection maps to 503 with the estimated ready time, validation to 400,
// anything else to 500 with the request's correlation id.
func (s *Server) handleExecutePattern(w http.ResponseWriter, r *http.Request) {
	patternID := chi.URLParam(r, "id")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	policy := req.Policy
	if policy == "" {
		policy = s.cfg.PricingPolicy
	}

	ref, err := s.container.Gate.Check(r.Context(), policy, req.AllowWarming)
	if err != nil {
		if ge, ok := domain.IsGateClosed(err); ok {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":           ge.Error(),
				"policy":          ge.Policy,
				"pack_status":     ge.PackStatus,
				"estimated_ready": ge.EstimatedReady.UTC().Format(time.RFC3339),
			})
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "freshness check failed")
		return
	}

	asOfDate := ""
	if pack, err := s.container.PackRepo.GetByID(ref.ID); err == nil && pack != nil {
		asOfDate = utils.UnixToDate(pack.AsOfDate)
	}

	rc := runtime.NewRequestContext(ref.ID, ref.LedgerCommitHash, asOfDate, policy)
	rc.AllowStub = req.AllowWarming && s.devMode

	exec, err := s.container.PatternLibrary.Execute(r.Context(), patternID, rc, req.Inputs)
	if err != nil {
		if domain.IsValidation(err) {
			s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		s.log.Error().
			Err(err).
			Str("pattern", patternID).
			Str("correlation_id", rc.CorrelationID).
			Msg("Pattern execution failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":          "internal error",
			"correlation_id": rc.CorrelationID,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, executeResponse{
		PatternID: exec.PatternID,
		Outputs:   exec.Outputs,
		Trace:     exec.Trace,
		Provenance: executeProvenance{
			PricingPackID:    ref.ID,
			LedgerCommitHash: ref.LedgerCommitHash,
			AsOfDate:         asOfDate,
			CorrelationID:    rc.CorrelationID,
		},
	})
}

// policyParam reads the policy query parameter, defaulting to the
// configured pricing policy.
func (s *Server) policyParam(r *http.Request) string {
	if p := r.URL.Query().Get("policy"); p != "" {
		return p
	}
	return s.cfg.PricingPolicy
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error carrying the request id so operators can
// find the failing request in the logs.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":      message,
		"request_id": middleware.GetReqID(r.Context()),
	})
}
