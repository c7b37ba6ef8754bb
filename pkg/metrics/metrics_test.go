package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nammalakes/nodeup/pkg/metrics"
	"github.com/nammalakes/nodeup/pkg/model"
)

func scrape(t *testing.T, r *metrics.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRegistry_RecordUpdate(t *testing.T) {
	r := metrics.NewRegistry()
	r.RecordUpdate(model.OutcomeUpdated, time.Second)
	r.RecordUpdate(model.OutcomeUpdated, 2*time.Second)
	r.RecordUpdate(model.OutcomeFailed, time.Second)

	body := scrape(t, r)
	assert.Contains(t, body, `nodeup_updates_total{outcome="updated"} 2`)
	assert.Contains(t, body, `nodeup_updates_total{outcome="failed"} 1`)
}

func TestRegistry_RecordRollback(t *testing.T) {
	r := metrics.NewRegistry()
	r.RecordRollback(true)
	r.RecordRollback(false)
	r.RecordRollback(false)

	body := scrape(t, r)
	assert.Contains(t, body, `nodeup_rollbacks_total{result="ok"} 1`)
	assert.Contains(t, body, `nodeup_rollbacks_total{result="failed"} 2`)
}

func TestRegistry_NilIsSafe(t *testing.T) {
	var r *metrics.Registry
	r.RecordUpdate(model.OutcomeUpdated, time.Second)
	r.RecordRollback(true)
	r.RecordBackup(10)
	r.RecordRemoteFailure()
	r.TrackInFlight()()
}

func TestRegistry_Handler(t *testing.T) {
	r := metrics.NewRegistry()
	done := r.TrackInFlight()
	r.RecordBackup(4 << 20)
	r.RecordRemoteFailure()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	done()

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "nodeup_updates_in_flight 1")
	assert.Contains(t, string(body), "nodeup_backup_bytes_count 1")
	assert.Contains(t, string(body), "nodeup_remote_lookup_failures_total 1")
}
