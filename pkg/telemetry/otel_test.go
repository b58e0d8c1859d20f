package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_ServesEngineMetrics(t *testing.T) {
	tel, err := Setup("dlob-engine-test")
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, tel.Shutdown(ctx))
	}()

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, GetTracer("dlob-engine-test"))
	assert.NotNil(t, GetMeter("dlob-engine-test"))

	metrics := GetGlobalMetrics()
	metrics.RecordRefresh(context.Background(), 5*time.Millisecond, nil)
	metrics.SetQueueDepth(3)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Regexp(t, `(?m)^`+MetricRefreshTotal+`\{[^}]*result="success"[^}]*\} [1-9]`, body)
	assert.Regexp(t, `(?m)^`+MetricQueueDepth+`(\{[^}]*\})? 3$`, body)
}
