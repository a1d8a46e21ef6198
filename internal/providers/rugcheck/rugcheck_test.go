package rugcheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potwatch/potwatch/internal/enrich"
)

func TestFetchRiskDangerLevel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokens/mintA/report/summary", r.URL.Path)
		w.Write([]byte(`{"score": 1200, "risks": [
			{"name": "Freeze Authority still enabled", "level": "danger"},
			{"name": "Low amount of LP providers", "level": "warn"}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	data, err := c.FetchRisk(context.Background(), "mintA")
	require.NoError(t, err)
	assert.True(t, data.HighRisk)
	assert.Len(t, data.Labels, 2)
}

func TestFetchRiskScoreThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 9000, "risks": []}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	data, err := c.FetchRisk(context.Background(), "mintA")
	require.NoError(t, err)
	assert.True(t, data.HighRisk)
}

func TestFetchRiskUnknownMintIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.FetchRisk(context.Background(), "unknown")
	assert.True(t, errors.Is(err, enrich.ErrNoData))
}
