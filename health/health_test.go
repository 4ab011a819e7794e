package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/omerta-project/omerta/vm/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerAggregatesOverallStatus(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("ok", func(ctx context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, h.GetOverallStatus(context.Background()))

	h.RegisterCheck("bad", func(ctx context.Context) error { return assert.AnError })
	assert.Equal(t, StatusUnhealthy, h.GetOverallStatus(context.Background()))
}

func TestMeshTransportAliveRequiresWiredGetter(t *testing.T) {
	check := MeshTransportAlive(nil)
	assert.Error(t, check(context.Background()))

	check = MeshTransportAlive(func() string { return "" })
	assert.Error(t, check(context.Background()))

	check = MeshTransportAlive(func() string { return "127.0.0.1:7946" })
	assert.NoError(t, check(context.Background()))
}

func TestVMTrackerReadableOpensFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vms.json")

	tr, err := tracker.OpenAt(path)
	require.NoError(t, err)
	_ = tr

	check := VMTrackerReadable(path)
	assert.NoError(t, check(context.Background()))
}

func TestEventLogWritableDetectsMissingDir(t *testing.T) {
	check := EventLogWritable("")
	assert.Error(t, check(context.Background()))

	dir := filepath.Join(t.TempDir(), "events")
	check = EventLogWritable(dir)
	assert.NoError(t, check(context.Background()))
}

func TestServerHealthzReportsUnhealthyAsServiceUnavailable(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("mesh", func(ctx context.Context) error { return assert.AnError })
	srv := NewServer(h, 0, "mesh")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
}

func TestServerReadyzGatesOnNamedCheck(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("mesh", func(ctx context.Context) error { return nil })
	srv := NewServer(h, 0, "mesh")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.handleReadyz(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
}
