package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gpuauction/auctiond/internal/applog"
	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/engine"
)

func (s *Server) handleGPULiveStatus(w http.ResponseWriter, r *http.Request) {
	usage, ts := s.engine.LiveStatus()
	stringUsage := make(map[string][]string, len(usage))
	for gpu, users := range usage {
		stringUsage[strconv.Itoa(gpu)] = users
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usage":     stringUsage,
		"timestamp": ts,
		"gpu_count": domain.NumGPUs,
	})
}

type telemetryPayload struct {
	Timestamp *time.Time                 `json:"timestamp"`
	Usage     map[string]json.RawMessage `json:"usage"`
}

// handleGPUStatus authenticates the monitoring daemon's bearer token with a
// constant-time compare before touching the engine.
func (s *Server) handleGPUStatus(w http.ResponseWriter, r *http.Request) {
	if s.telemetryToken == "" {
		writeDomainError(w, domain.ErrTelemetryTokenUnset)
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.telemetryToken)) != 1 {
		writeDomainError(w, domain.ErrTelemetryUnauthorized)
		return
	}

	var req telemetryPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}

	usage := make(map[int][]string, len(req.Usage))
	count := 0
	for gpuStr, raw := range req.Usage {
		gpu, err := strconv.Atoi(gpuStr)
		if err != nil || gpu < 0 || gpu >= domain.NumGPUs {
			continue // malformed GPU index: silently skipped
		}
		var users []string
		if err := json.Unmarshal(raw, &users); err != nil {
			continue // non-list users value: silently skipped
		}
		usage[gpu] = users
		count += len(users)
	}

	warning, err := s.engine.IngestTelemetry(engine.TelemetryPayload{Timestamp: req.Timestamp, Usage: usage})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.TelemetryPolls.Inc()
	}
	resp := map[string]any{"ok": true, "sample_count": count}
	if warning != nil {
		applog.Warnf("telemetry clock skew: server=%s payload=%s delta=%s",
			warning.ServerNow.Format(time.RFC3339), warning.PayloadTime.Format(time.RFC3339), warning.Delta)
		resp["clock_skew_warning"] = map[string]any{
			"server_now":   warning.ServerNow,
			"payload_time": warning.PayloadTime,
			"delta_ms":     warning.Delta.Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
