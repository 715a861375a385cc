package util

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustCounterVecReusesCollector(t *testing.T) {
	a := MustCounterVec("util_test_events_total", "events", "kind")
	b := MustCounterVec("util_test_events_total", "events", "kind")
	assert.Same(t, a, b)

	assert.Panics(t, func() {
		MustHistogramVec("util_test_events_total", "events", "kind")
	})
}

func TestRegisterNewCollector(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "util_test_gauge", Help: "gauge"})
	got, err := register(g)
	require.NoError(t, err)
	assert.Same(t, g, got)
	t.Cleanup(func() { prometheus.Unregister(g) })
}

func TestRestyRetriesOnlyGet(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewRestyClient(RestyOptions{BaseURL: srv.URL, Retries: 2})

	_, err := c.R().SetContext(t.Context()).Get("/")
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Swap(0))

	_, err = c.R().SetContext(t.Context()).Post("/")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestRound(t *testing.T) {
	assert.InDelta(t, 0.67, Round(2.0/3.0, 2), 1e-9)
	assert.InDelta(t, 1.0, Round(0.999, 2), 1e-9)
	assert.Equal(t, []string{"1", "2"}, ConvertList([]int{1, 2}, strconv.Itoa))
}
