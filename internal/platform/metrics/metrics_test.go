package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.Promotions.WithLabelValues(Result(true)).Inc()
	r.Promotions.WithLabelValues(Result(true)).Inc()
	r.Promotions.WithLabelValues(Result(false)).Inc()
	r.StagingQueue.Set(7)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.Promotions.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.Promotions.WithLabelValues("failure")))
	assert.Equal(t, float64(7), testutil.ToFloat64(r.StagingQueue))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Forgotten.Add(3)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ai_memory_forgotten_total 3")
}
