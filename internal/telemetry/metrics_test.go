package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveFlow("chat", "ok", time.Second)
	m.ObserveAction("translate", "ok")
	m.ObserveBridgeWrite("translation", "ok")
	m.SetBridgeQueueDepth(3)
	m.ObserveHTTP("/healthz", 200)
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.ObserveFlow("translateText", "ok", 20*time.Millisecond)
	m.ObserveFlow("translateText", "ok", 30*time.Millisecond)
	m.ObserveFlow("translateText", "contract_error", time.Millisecond)
	m.ObserveBridgeWrite("translation", "duplicate")
	m.SetBridgeQueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.flowInvocations.WithLabelValues("translateText", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flowInvocations.WithLabelValues("translateText", "contract_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeWrites.WithLabelValues("translation", "duplicate")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.bridgeQueue))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveHTTP("/v1/flows/{name}", 404)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `lingua_http_requests_total{code="4xx",route="/v1/flows/{name}"} 1`), body)
}
