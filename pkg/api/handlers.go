package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"guest-dns/pkg/storage"
)

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Uptime:  s.getUptime(),
		Version: s.version,
	})
}

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// handleReadyz handles GET /readyz
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if s.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.storage.Ping(ctx); err != nil {
			checks["journal"] = "unhealthy: " + err.Error()
			ready = false
		} else {
			checks["journal"] = "ok"
		}
	}

	if s.dns != nil {
		checks["dns"] = "ok"
	} else {
		checks["dns"] = "not configured"
		ready = false
	}

	if !ready {
		s.writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Checks: checks})
		return
	}
	s.writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: checks})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Uptime:    s.getUptime(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if s.dns != nil {
		resp.Outstanding = s.dns.Outstanding()
		resp.PendingResponses = s.dns.Pending()
	}
	if s.hosts != nil {
		resp.HostsEntries = s.hosts.Len()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleQueries handles GET /api/queries
func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Journal not available")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", storage.StatusQueued, storage.StatusOversize:
	default:
		s.writeError(w, http.StatusBadRequest, "Unknown status: "+status)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var (
		queries []*storage.QueryLog
		err     error
	)
	if status != "" {
		queries, err = s.storage.GetQueriesByStatus(ctx, status, limit)
		offset = 0
	} else {
		queries, err = s.storage.GetRecentQueries(ctx, limit, offset)
	}
	if err != nil {
		s.logger.Error("Failed to get queries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve queries")
		return
	}

	out := make([]QueryResponse, 0, len(queries))
	for _, q := range queries {
		out = append(out, convertQueryLog(q))
	}

	s.writeJSON(w, http.StatusOK, QueriesResponse{
		Queries: out,
		Total:   len(out),
		Limit:   limit,
		Offset:  offset,
	})
}

// handleHosts handles GET /api/hosts
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if s.hosts == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Hosts table not available")
		return
	}
	names := s.hosts.Names()
	s.writeJSON(w, http.StatusOK, HostsResponse{Names: names, Total: len(names)})
}
