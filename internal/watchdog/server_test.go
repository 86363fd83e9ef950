package watchdog

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHealthzReportsEngineUIDAndResources(t *testing.T) {
	sampler := NewSampler(".", zerolog.New(io.Discard))
	sampler.last = Snapshot{
		Timestamp:     time.Now(),
		CPUPercent:    12.5,
		MemoryPercent: 40,
		DiskPercent:   55,
	}

	srv := NewServer(":0", "engine-1", sampler, zerolog.New(io.Discard))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "engine-1", status.EngineUID)
	require.Equal(t, 12.5, status.Resources.CPUPercent)
}
