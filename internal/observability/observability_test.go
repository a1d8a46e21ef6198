package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potwatch/potwatch/internal/pot"
	"github.com/potwatch/potwatch/internal/token"
)

func TestRegistryExposesProbes(t *testing.T) {
	reg := NewRegistry(Probes{
		Pot: func() pot.Stats {
			return pot.Stats{Size: 42, Admitted: 7, RejectedDuplicate: 3}
		},
		Providers: map[string]func() ProviderStats{
			"dexscreener": func() ProviderStats { return ProviderStats{RequestCount: 11, ErrorCount: 2} },
		},
	})

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 42.0, values["potwatch_pot_size"])
	assert.Equal(t, 7.0, values["potwatch_pot_admitted_total"])
	assert.Equal(t, 3.0, values["potwatch_pot_rejected_duplicate_total"])
	assert.Equal(t, 11.0, values["potwatch_provider_requests_total"])
	assert.Equal(t, 2.0, values["potwatch_provider_errors_total"])
}

func TestMetricsHandlerServesText(t *testing.T) {
	reg := NewRegistry(Probes{
		Pot: func() pot.Stats { return pot.Stats{Size: 5} },
	})
	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthEndpointAggregatesWorstStatus(t *testing.T) {
	monitor := NewHealthMonitor()
	monitor.Register("store", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})
	monitor.Register("discovery", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUnhealthy, Message: "stream disconnected"}
	})

	s := &Server{monitor: monitor}
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var health SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "stream disconnected", health.Components["discovery"].Message)
}

func TestHealthEndpointHealthy(t *testing.T) {
	monitor := NewHealthMonitor()
	monitor.Register("store", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})

	s := &Server{monitor: monitor}
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeQuery struct {
	tokens map[token.Mint]token.Token
}

func (f *fakeQuery) ListFor(bucket token.Bucket) []token.Token {
	var out []token.Token
	for _, tok := range f.tokens {
		if tok.Bucket == bucket {
			out = append(out, tok)
		}
	}
	return out
}

func (f *fakeQuery) Get(mint token.Mint) (token.Token, bool) {
	tok, ok := f.tokens[mint]
	return tok, ok
}

func TestTokensEndpointListsBucket(t *testing.T) {
	s := &Server{query: &fakeQuery{tokens: map[token.Mint]token.Token{
		"aaa": {Mint: "aaa", Bucket: token.BucketFresh},
		"bbb": {Mint: "bbb", Bucket: token.BucketCooking},
	}}}

	rec := httptest.NewRecorder()
	s.handleTokens(rec, httptest.NewRequest(http.MethodGet, "/tokens?bucket=fresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count  int           `json:"count"`
		Tokens []token.Token `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, token.Mint("aaa"), body.Tokens[0].Mint)

	rec = httptest.NewRecorder()
	s.handleTokens(rec, httptest.NewRequest(http.MethodGet, "/tokens?bucket=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenEndpointDetailAndStaleness(t *testing.T) {
	s := &Server{
		staleThreshold: 20 * time.Minute,
		query: &fakeQuery{tokens: map[token.Mint]token.Token{
			"aaa": {
				Mint:   "aaa",
				Bucket: token.BucketFresh,
				Snapshot: &token.Snapshot{
					Mint:       "aaa",
					CapturedAt: time.Now().UTC().Add(-time.Hour),
				},
			},
		}},
	}

	rec := httptest.NewRecorder()
	s.handleToken(rec, httptest.NewRequest(http.MethodGet, "/token?mint=aaa", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		Mint  token.Mint `json:"mint"`
		Stale bool       `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, token.Mint("aaa"), detail.Mint)
	assert.True(t, detail.Stale, "hour-old snapshot exceeds the 20m threshold")

	rec = httptest.NewRecorder()
	s.handleToken(rec, httptest.NewRequest(http.MethodGet, "/token?mint=ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeRefresher struct {
	query *fakeQuery
	err   error
	calls int
}

func (f *fakeRefresher) Analyze(ctx context.Context, mint token.Mint) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	tok := f.query.tokens[mint]
	tok.Snapshot = &token.Snapshot{Mint: mint, CapturedAt: time.Now().UTC()}
	f.query.tokens[mint] = tok
	return nil
}

func staleQuery() *fakeQuery {
	return &fakeQuery{tokens: map[token.Mint]token.Token{
		"aaa": {
			Mint:   "aaa",
			Bucket: token.BucketFresh,
			Snapshot: &token.Snapshot{
				Mint:       "aaa",
				CapturedAt: time.Now().UTC().Add(-time.Hour),
			},
		},
	}}
}

func TestTokenEndpointRefreshesStaleSnapshot(t *testing.T) {
	q := staleQuery()
	ref := &fakeRefresher{query: q}
	s := &Server{staleThreshold: 20 * time.Minute, query: q, refresher: ref}

	rec := httptest.NewRecorder()
	s.handleToken(rec, httptest.NewRequest(http.MethodGet, "/token?mint=aaa", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		Stale bool `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, 1, ref.calls)
	assert.False(t, detail.Stale, "refreshed snapshot must be served fresh")

	// A fresh snapshot does not trigger another pass.
	rec = httptest.NewRecorder()
	s.handleToken(rec, httptest.NewRequest(http.MethodGet, "/token?mint=aaa", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ref.calls)
}

func TestTokenEndpointServesStaleWhenRefreshFails(t *testing.T) {
	q := staleQuery()
	ref := &fakeRefresher{query: q, err: errors.New("providers down")}
	s := &Server{staleThreshold: 20 * time.Minute, query: q, refresher: ref}

	rec := httptest.NewRecorder()
	s.handleToken(rec, httptest.NewRequest(http.MethodGet, "/token?mint=aaa", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		Mint  token.Mint `json:"mint"`
		Stale bool       `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, 1, ref.calls)
	assert.Equal(t, token.Mint("aaa"), detail.Mint)
	assert.True(t, detail.Stale, "failed refresh falls back to the stale snapshot")
}

func TestDiagEndpoint(t *testing.T) {
	s := &Server{diag: func() any {
		return map[string]any{"pot": map[string]int{"size": 9}}
	}}
	rec := httptest.NewRecorder()
	s.handleDiag(rec, httptest.NewRequest(http.MethodGet, "/diag", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, 9, doc["pot"]["size"])
}
