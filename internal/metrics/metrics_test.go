package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlayOpsCounter(t *testing.T) {
	before := testutil.ToFloat64(OverlayOps.WithLabelValues("add", "layer"))
	OverlayOps.WithLabelValues("add", "layer").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OverlayOps.WithLabelValues("add", "layer")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	ReconcilePasses.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "forestsync_overlay_reconcile_passes_total")
}
