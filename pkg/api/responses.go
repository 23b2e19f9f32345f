package api

import (
	"time"

	"guest-dns/pkg/storage"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status string `json:"status"` // "alive"
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status string            `json:"status"` // "ready" or "not_ready"
	Checks map[string]string `json:"checks"`
}

// StatsResponse represents live server counters
type StatsResponse struct {
	Outstanding      int64  `json:"outstanding"`
	PendingResponses int    `json:"pending_responses"`
	HostsEntries     int    `json:"hosts_entries"`
	Uptime           string `json:"uptime"`
	Timestamp        string `json:"timestamp"` // ISO 8601 format
}

// QueryResponse represents a single journal entry
type QueryResponse struct {
	ID             int64    `json:"id"`
	Timestamp      string   `json:"timestamp"` // ISO 8601 format
	Status         string   `json:"status"`
	ClientPort     int      `json:"client_port"`
	TransactionID  int      `json:"transaction_id"`
	Questions      []string `json:"questions"`
	Answers        []string `json:"answers"`
	ResponseCode   int      `json:"response_code"`
	HostsHits      int      `json:"hosts_hits"`
	ResponseTimeMs float64  `json:"response_time_ms"`
}

// QueriesResponse represents paginated query results
type QueriesResponse struct {
	Queries []QueryResponse `json:"queries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// HostsResponse lists the names in the override table
type HostsResponse struct {
	Names []string `json:"names"`
	Total int      `json:"total"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

func convertQueryLog(q *storage.QueryLog) QueryResponse {
	return QueryResponse{
		ID:             q.ID,
		Timestamp:      q.Timestamp.Format(time.RFC3339),
		Status:         q.Status,
		ClientPort:     q.ClientPort,
		TransactionID:  q.TransactionID,
		Questions:      q.Questions,
		Answers:        q.Answers,
		ResponseCode:   q.ResponseCode,
		HostsHits:      q.HostsHits,
		ResponseTimeMs: q.ResponseTimeMs,
	}
}
