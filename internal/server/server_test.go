package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/config"
	"github.com/aristath/meridian/internal/di"
	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/server"
	"github.com/aristath/meridian/internal/utils"
)

// newTestServer wires a dev-mode container over a temp data directory and
// returns the server plus the container for direct seeding.
func newTestServer(t *testing.T) (*server.Server, *di.Container) {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := &config.Config{
		DataDir:        tmpDir,
		DevMode:        true,
		PricingPolicy:  "eod-usd-1600",
		BaseCurrency:   "USD",
		FXPairs:        []string{"EUR/USD"},
		MacroSeries:    []string{"DGS3MO", "DGS10"},
		RiskFreeSeries: "DGS3MO",
		LedgerPath:     filepath.Join(tmpDir, "book.ledger"),

		NightlySchedule:           "0 30 2 * * *",
		MacroSyncSchedule:         "0 0 2 * * *",
		SentimentSyncSchedule:     "0 15 2 * * *",
		ReplaySchedule:            "0 0 * * * *",
		MaintenanceSchedule:       "0 0 4 * * *",
		WeeklyMaintenanceSchedule: "0 0 5 * * SUN",
		BackupSchedule:            "0 30 4 * * *",
	}

	container, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	srv := server.New(server.Config{
		Log:       zerolog.Nop(),
		Config:    cfg,
		Port:      0,
		DevMode:   cfg.DevMode,
		Container: container,
	})
	return srv, container
}

// doJSON performs one request against the handler tree and decodes the JSON
// response body when present.
func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func seedFreshPack(t *testing.T, container *di.Container, id, date, policy string) {
	t.Helper()

	asOf, err := utils.DateToUnix(date)
	require.NoError(t, err)
	now := time.Now().Unix()
	require.NoError(t, container.PackRepo.CreateWithRows(&packs.Pack{
		ID:          id,
		AsOfDate:    asOf,
		Policy:      policy,
		Hash:        "deadbeef",
		Status:      packs.StatusWarming,
		SourcesJSON: "{}",
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil, nil, ""))
	require.NoError(t, container.PackRepo.MarkFresh(id))
	require.NoError(t, container.PackRepo.SetPrewarmDone(id))
	require.NoError(t, container.PackRepo.SetLedgerCommitHash(id, "cafe01"))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "meridian", body["service"])
}

func TestFreshness_MissingPack(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/freshness", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "missing", body["status"])
	assert.Equal(t, false, body["is_fresh"])
	assert.Equal(t, "eod-usd-1600", body["policy"])
}

func TestFreshness_FreshPack(t *testing.T) {
	srv, container := newTestServer(t)
	seedFreshPack(t, container, "pk_1", "2026-03-02", "eod-usd-1600")

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/freshness", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fresh", body["status"])
	assert.Equal(t, true, body["is_fresh"])
	assert.Equal(t, true, body["prewarm_done"])
	assert.Equal(t, "pk_1", body["pricing_pack_id"])
	assert.Equal(t, "2026-03-02", body["asof_date"])
}

func TestCurrentPack(t *testing.T) {
	srv, container := newTestServer(t)

	rec, _ := doJSON(t, srv.Router(), http.MethodGet, "/api/packs/current", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	seedFreshPack(t, container, "pk_1", "2026-03-02", "eod-usd-1600")

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/packs/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pk_1", body["id"])
	assert.Equal(t, "fresh", body["status"])
}

func TestLatestRun_NoneRecorded(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, _ := doJSON(t, srv.Router(), http.MethodGet, "/api/runs/latest", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPatterns(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/patterns", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ids, ok := body["patterns"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, ids, "rate_snapshot")
}

func TestExecutePattern_GateClosedWhenMissing(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/patterns/rate_snapshot/execute", map[string]interface{}{})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "missing", body["pack_status"])
	assert.NotEmpty(t, body["estimated_ready"])
}

func TestExecutePattern_UnknownPattern(t *testing.T) {
	srv, container := newTestServer(t)
	seedFreshPack(t, container, "pk_1", "2026-03-02", "eod-usd-1600")

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/patterns/no_such_pattern/execute", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown pattern")
}

func TestExecutePattern_RateSnapshot(t *testing.T) {
	srv, container := newTestServer(t)
	seedFreshPack(t, container, "pk_1", "2026-03-02", "eod-usd-1600")

	require.NoError(t, container.MacroStore.UpsertSeries("DGS3MO", []domain.MacroObservation{
		{Series: "DGS3MO", Date: "2026-03-02", Value: 5.25},
	}))
	require.NoError(t, container.MacroStore.UpsertSeries("DGS10", []domain.MacroObservation{
		{Series: "DGS10", Date: "2026-03-02", Value: 4.10},
	}))

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/patterns/rate_snapshot/execute", map[string]interface{}{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rate_snapshot", body["pattern_id"])

	outputs, ok := body["outputs"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2026-03-02", outputs["asof_date"])
	assert.Contains(t, outputs, "short_rate")
	assert.Contains(t, outputs, "long_rate")
	assert.Contains(t, outputs, "risk_free")

	prov, ok := body["provenance"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pk_1", prov["pricing_pack_id"])
	assert.Equal(t, "cafe01", prov["ledger_commit_hash"])
	assert.Equal(t, "2026-03-02", prov["asof_date"])
	assert.NotEmpty(t, prov["correlation_id"])
}

func TestExecutePattern_AllowWarmingInDevMode(t *testing.T) {
	srv, container := newTestServer(t)

	// Warming pack only: no MarkFresh.
	asOf, err := utils.DateToUnix("2026-03-02")
	require.NoError(t, err)
	now := time.Now().Unix()
	require.NoError(t, container.PackRepo.CreateWithRows(&packs.Pack{
		ID:          "pk_warm",
		AsOfDate:    asOf,
		Policy:      "eod-usd-1600",
		Hash:        "deadbeef",
		Status:      packs.StatusWarming,
		SourcesJSON: "{}",
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil, nil, ""))

	require.NoError(t, container.MacroStore.UpsertSeries("DGS3MO", []domain.MacroObservation{
		{Series: "DGS3MO", Date: "2026-03-02", Value: 5.25},
	}))
	require.NoError(t, container.MacroStore.UpsertSeries("DGS10", []domain.MacroObservation{
		{Series: "DGS10", Date: "2026-03-02", Value: 4.10},
	}))

	// Without the override the gate stays closed.
	rec, _ := doJSON(t, srv.Router(), http.MethodPost, "/api/patterns/rate_snapshot/execute", map[string]interface{}{})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/patterns/rate_snapshot/execute", map[string]interface{}{
		"allow_warming": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	prov, ok := body["provenance"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pk_warm", prov["pricing_pack_id"])
}

func TestAlertCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	alert := map[string]interface{}{
		"user_id": "default",
		"condition": map[string]interface{}{
			"type":      "macro",
			"series":    "DGS10",
			"operator":  ">",
			"threshold": 5.0,
		},
		"channels":       []string{"in_app"},
		"cooldown_hours": 24,
		"active":         true,
	}

	rec, created := doJSON(t, router, http.MethodPost, "/api/alerts", alert)
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	rec, listed := doJSON(t, router, http.MethodGet, "/api/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listed["alerts"], 1)

	rec, got := doJSON(t, router, http.MethodGet, "/api/alerts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, got["id"])

	rec, _ = doJSON(t, router, http.MethodDelete, "/api/alerts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/api/alerts/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAlert_UnknownSeries(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/alerts", map[string]interface{}{
		"user_id": "default",
		"condition": map[string]interface{}{
			"type":      "macro",
			"series":    "NOT_A_SERIES",
			"operator":  ">",
			"threshold": 1.0,
		},
		"channels": []string{"in_app"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown macro series")
}

func TestListNotifications_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["notifications"])
}

func TestSystemStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "breakers")
	assert.EqualValues(t, 0, body["dead_letters"])
}

func TestDatabaseStats(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/system/database/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dbs, ok := body["databases"].([]interface{})
	require.True(t, ok)

	// The four managed stores report; history.db sits outside the set.
	assert.Len(t, dbs, 4)
}

func TestListJobs(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/system/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	jobs, ok := body["jobs"].([]interface{})
	require.True(t, ok)

	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		entry, ok := j.(map[string]interface{})
		require.True(t, ok)
		name, _ := entry["name"].(string)
		names = append(names, name)
		assert.NotEmpty(t, entry["schedule"])
	}
	assert.Contains(t, names, "nightly_run")
	assert.Contains(t, names, "dlq_replay")
	assert.Contains(t, names, "daily_maintenance")
}

func TestTriggerJob(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/system/jobs/dlq_replay/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, "dlq_replay", body["job"])
}

func TestTriggerJob_Unknown(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/system/jobs/not_a_job/run", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "unknown job")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}
