package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zzpscan/presence-verifier/internal/config"
	"github.com/zzpscan/presence-verifier/internal/metrics"
	"github.com/zzpscan/presence-verifier/internal/service"
	"github.com/zzpscan/presence-verifier/internal/storage/memory"
	"github.com/zzpscan/presence-verifier/internal/verify"
)

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestServer(t *testing.T, cfg config.Config) (*Server, *memory.Store) {
	t.Helper()
	metrics.Init()
	store := memory.New()
	clock := fixedClock{now: time.Unix(1700000000, 0).UTC()}
	svc := service.New(store, clock, &seqIDs{}, nil)
	return NewServer(svc, cfg, nil), store
}

func seedBusiness(t *testing.T, store *memory.Store, id, name string) {
	t.Helper()
	_, err := store.CreateBusiness(context.Background(), verify.Business{
		ID:       id,
		Name:     name,
		City:     "Utrecht",
		Presence: verify.PresenceUnknown,
	})
	require.NoError(t, err)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitVerifyJob(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, config.Config{})
	seedBusiness(t, store, "b1", "Bakkerij Jansen")
	seedBusiness(t, store, "b2", "Fietsenmaker De Vries")

	rec := doJSON(t, srv, http.MethodPost, "/v1/jobs", map[string]any{
		"job_type": "verify",
		"location": "Utrecht",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Job verify.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, verify.JobPending, resp.Job.Status)
	require.Equal(t, 2, resp.Job.TotalItems)

	rec = doJSON(t, srv, http.MethodGet, "/v1/jobs/"+resp.Job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitJobRejectsMalformedScope(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/jobs", map[string]any{"job_type": "verify"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/jobs", map[string]any{"job_type": "prune"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobStatusUnknownJob(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodGet, "/v1/jobs/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobConflictsWhenNotRunning(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, config.Config{})
	seedBusiness(t, store, "b1", "Bakkerij Jansen")

	rec := doJSON(t, srv, http.MethodPost, "/v1/jobs", map[string]any{
		"job_type":     "verify",
		"business_ids": []string{"b1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Job verify.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// Pending jobs are not cancellable.
	rec = doJSON(t, srv, http.MethodPost, "/v1/jobs/"+resp.Job.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, config.Config{})
	seedBusiness(t, store, "b1", "Bakkerij Jansen")

	rec := doJSON(t, srv, http.MethodPost, "/v1/jobs", map[string]any{
		"job_type":     "verify",
		"business_ids": []string{"b1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Job verify.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	_, found, err := store.ClaimNextPending(context.Background())
	require.NoError(t, err)
	require.True(t, found)

	rec = doJSON(t, srv, http.MethodPost, "/v1/jobs/"+resp.Job.ID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRetryJobConflictsWhenNotRetryable(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, config.Config{})
	seedBusiness(t, store, "b1", "Bakkerij Jansen")

	rec := doJSON(t, srv, http.MethodPost, "/v1/jobs", map[string]any{
		"job_type":     "verify",
		"business_ids": []string{"b1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Job verify.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = doJSON(t, srv, http.MethodPost, "/v1/jobs/"+resp.Job.ID+"/retry", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetBusinessAndChecks(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, config.Config{})
	seedBusiness(t, store, "b1", "Bakkerij Jansen")
	require.NoError(t, store.AppendWebsiteCheck(context.Background(), verify.WebsiteCheck{
		ID:         "chk-1",
		BusinessID: "b1",
		Check:      verify.CheckHTTP,
		Outcome:    verify.OutcomePositive,
		URLChecked: "https://bakkerijjansen.nl",
		CheckedAt:  time.Unix(1700000100, 0).UTC(),
	}))

	rec := doJSON(t, srv, http.MethodGet, "/v1/businesses/b1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/businesses/b1/checks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var checksResp struct {
		Checks []verify.WebsiteCheck `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checksResp))
	require.Len(t, checksResp.Checks, 1)
	require.Equal(t, verify.CheckHTTP, checksResp.Checks[0].Check)

	rec = doJSON(t, srv, http.MethodGet, "/v1/businesses/missing/checks", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sesame"
	srv, _ := newTestServer(t, cfg)

	rec := doJSON(t, srv, http.MethodGet, "/v1/jobs/some-id", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/some-id", nil)
	req.Header.Set("X-API-Key", "sesame")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Health endpoints stay open.
	rec = doJSON(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
