package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guest-dns/pkg/logging"
	"guest-dns/pkg/storage"
)

// mockStorage implements storage.Storage for testing
type mockStorage struct {
	storage.NoOpStorage
	queries    []*storage.QueryLog
	pingErr    error
	lastStatus string
	lastOffset int
}

func (m *mockStorage) GetRecentQueries(ctx context.Context, limit, offset int) ([]*storage.QueryLog, error) {
	m.lastOffset = offset
	if offset >= len(m.queries) {
		return nil, nil
	}
	out := m.queries[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStorage) GetQueriesByStatus(ctx context.Context, status string, limit int) ([]*storage.QueryLog, error) {
	m.lastStatus = status
	var out []*storage.QueryLog
	for _, q := range m.queries {
		if q.Status == status && len(out) < limit {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *mockStorage) Ping(ctx context.Context) error {
	return m.pingErr
}

type fakeHosts []string

func (h fakeHosts) Names() []string { return h }
func (h fakeHosts) Len() int        { return len(h) }

type fakeDNS struct {
	outstanding int64
	pending     int
}

func (d fakeDNS) Outstanding() int64 { return d.outstanding }
func (d fakeDNS) Pending() int       { return d.pending }

func newTestServer(st storage.Storage) *Server {
	return New(&Config{
		Storage: st,
		Hosts:   fakeHosts{"gamespy.example.test", "localhost"},
		DNS:     fakeDNS{outstanding: 3, pending: 1},
		Logger:  logging.NewDiscard().Logger,
		Version: "test",
	})
}

func doGet(t *testing.T, s *Server, target string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if out != nil {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s response: %v", target, err)
		}
	}
	return w.Code
}

func sampleQueries() []*storage.QueryLog {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return []*storage.QueryLog{
		{ID: 3, Timestamp: ts, Status: storage.StatusQueued, ClientPort: 40000, TransactionID: 0x1234,
			Questions: []string{"example.test."}, Answers: []string{"10.0.2.15"}},
		{ID: 2, Timestamp: ts, Status: storage.StatusOversize, ClientPort: 40001, TransactionID: 7,
			Questions: []string{"big.test."}, Answers: []string{""}, ResponseCode: 2},
		{ID: 1, Timestamp: ts, Status: storage.StatusQueued, ClientPort: 40002, TransactionID: 8},
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(nil)

	var resp HealthResponse
	if code := doGet(t, s, "/api/health", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("unexpected health response: %+v", resp)
	}

	var live LivenessResponse
	if code := doGet(t, s, "/healthz", &live); code != http.StatusOK || live.Status != "alive" {
		t.Errorf("unexpected liveness response: %d %+v", code, live)
	}
}

func TestHandleReadyz(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		wantCode int
		want     string
	}{
		{"journal ok", nil, http.StatusOK, "ready"},
		{"journal down", errors.New("disk gone"), http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockStorage{pingErr: tt.pingErr})
			var resp ReadinessResponse
			if code := doGet(t, s, "/readyz", &resp); code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, code)
			}
			if resp.Status != tt.want {
				t.Errorf("expected status %s, got %s (%v)", tt.want, resp.Status, resp.Checks)
			}
		})
	}
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(nil)

	var resp StatsResponse
	if code := doGet(t, s, "/api/stats", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Outstanding != 3 || resp.PendingResponses != 1 || resp.HostsEntries != 2 {
		t.Errorf("unexpected stats: %+v", resp)
	}
}

func TestHandleQueries(t *testing.T) {
	st := &mockStorage{queries: sampleQueries()}
	s := newTestServer(st)

	var resp QueriesResponse
	if code := doGet(t, s, "/api/queries?limit=2&offset=1", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Total != 2 || resp.Limit != 2 || resp.Offset != 1 || st.lastOffset != 1 {
		t.Fatalf("unexpected paging: %+v", resp)
	}
	if resp.Queries[0].ID != 2 || resp.Queries[0].Status != storage.StatusOversize {
		t.Errorf("unexpected first entry: %+v", resp.Queries[0])
	}
	if resp.Queries[0].Timestamp != "2025-01-02T03:04:05Z" {
		t.Errorf("unexpected timestamp format: %s", resp.Queries[0].Timestamp)
	}
}

func TestHandleQueriesByStatus(t *testing.T) {
	st := &mockStorage{queries: sampleQueries()}
	s := newTestServer(st)

	var resp QueriesResponse
	if code := doGet(t, s, "/api/queries?status=oversize", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if st.lastStatus != storage.StatusOversize || resp.Total != 1 {
		t.Fatalf("expected one oversize entry, got %+v", resp)
	}
	if resp.Queries[0].TransactionID != 7 {
		t.Errorf("unexpected entry: %+v", resp.Queries[0])
	}

	var errResp ErrorResponse
	if code := doGet(t, s, "/api/queries?status=bogus", &errResp); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", code)
	}
}

func TestHandleQueriesWithoutJournal(t *testing.T) {
	s := newTestServer(nil)
	var errResp ErrorResponse
	if code := doGet(t, s, "/api/queries", &errResp); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestHandleHosts(t *testing.T) {
	s := newTestServer(nil)
	var resp HostsResponse
	if code := doGet(t, s, "/api/hosts", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Total != 2 || resp.Names[1] != "localhost" {
		t.Errorf("unexpected hosts: %+v", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := New(&Config{ListenAddress: "127.0.0.1:0", Logger: logging.NewDiscard().Logger})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
