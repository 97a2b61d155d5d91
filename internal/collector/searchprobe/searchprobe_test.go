package searchprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

func searchAPI(t *testing.T, body string, status int) *Probe {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.URL.Query().Get("q"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return New(Config{Endpoint: ts.URL, Timeout: 2 * time.Second})
}

func TestProbe_CandidateDomainHitIsPositive(t *testing.T) {
	t.Parallel()

	p := searchAPI(t, `{"results":[
		{"url":"https://www.acme.nl/contact","title":"Acme | Contact"},
		{"url":"https://directory.example.com/acme","title":"Acme listing"}
	]}`, http.StatusOK)

	got := p.Probe(context.Background(), verify.Business{Name: "Acme", City: "Utrecht"})
	require.Equal(t, verify.CheckSearch, got.Check)
	require.Equal(t, verify.OutcomePositive, got.Outcome)
	require.Equal(t, "https://www.acme.nl/contact", got.URL)
}

func TestProbe_NoMatchingResultsIsInconclusive(t *testing.T) {
	t.Parallel()

	p := searchAPI(t, `{"results":[
		{"url":"https://yellowpages.example.com/acme","title":"Acme"}
	]}`, http.StatusOK)

	got := p.Probe(context.Background(), verify.Business{Name: "Acme"})
	require.Equal(t, verify.OutcomeInconclusive, got.Outcome)
}

func TestProbe_EmptyResultsIsNegative(t *testing.T) {
	t.Parallel()

	p := searchAPI(t, `{"results":[]}`, http.StatusOK)
	got := p.Probe(context.Background(), verify.Business{Name: "Acme"})
	require.Equal(t, verify.OutcomeNegative, got.Outcome)
}

func TestProbe_ServerErrorIsError(t *testing.T) {
	t.Parallel()

	p := searchAPI(t, `upstream quota exceeded`, http.StatusBadGateway)
	got := p.Probe(context.Background(), verify.Business{Name: "Acme"})
	require.Equal(t, verify.OutcomeError, got.Outcome)
	require.Equal(t, http.StatusBadGateway, got.StatusCode)
}

func TestProbe_UnreachableEndpointIsError(t *testing.T) {
	t.Parallel()

	p := New(Config{Endpoint: "http://127.0.0.1:1", Timeout: time.Second})
	got := p.Probe(context.Background(), verify.Business{Name: "Acme"})
	require.Equal(t, verify.OutcomeError, got.Outcome)
}

func TestProbe_MissingEndpointIsInconclusive(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	got := p.Probe(context.Background(), verify.Business{Name: "Acme"})
	require.Equal(t, verify.OutcomeInconclusive, got.Outcome)
}
