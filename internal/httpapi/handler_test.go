// Package httpapi provides unit tests for the local HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lotusit/supportq/internal/client"
	"github.com/lotusit/supportq/internal/config"
	"github.com/lotusit/supportq/internal/store"
	syncctl "github.com/lotusit/supportq/internal/sync"
)

const validTicket = `{
	"summary": "laptop will not boot",
	"userName": "Dana Smith",
	"userEmail": "dana@example.com",
	"criticality": "High",
	"status": "Open",
	"transcript": []
}`

// newTestServer wires a Server against the given portal backend URL with a
// fresh on-disk queue.
func newTestServer(t *testing.T, backendURL string) (*Server, *store.Store, *syncctl.Controller) {
	t.Helper()

	cfg := &config.Config{
		HTTP: config.HTTPConfig{Addr: ":0", AllowedOrigins: []string{"*"}},
	}
	portal := client.New(backendURL, time.Second)
	ticketStore := store.New(t.TempDir())
	t.Cleanup(func() { ticketStore.Close() })

	controller := syncctl.NewController(ticketStore, func(ctx context.Context, payload json.RawMessage) (bool, error) {
		result, err := portal.Submit(ctx, payload)
		if err != nil {
			return false, err
		}
		return result.Delivered, nil
	}, &syncctl.Config{Interval: time.Hour, MaxAttempts: 10})
	t.Cleanup(controller.Stop)

	return NewServer(cfg, portal, controller, ticketStore), ticketStore, controller
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return body
}

// TestSubmitTicketDelivered tests the direct path when the backend is up.
func TestSubmitTicketDelivered(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sharepoint_id": "SP-7"})
	}))
	defer backend.Close()

	s, ticketStore, _ := newTestServer(t, backend.URL)

	rec := doRequest(s, http.MethodPost, "/api/tickets", validTicket)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["sharepoint_id"] != "SP-7" {
		t.Errorf("Expected sharepoint_id SP-7, got %v", body["sharepoint_id"])
	}
	if body["queued"] != false {
		t.Errorf("Expected queued false, got %v", body["queued"])
	}

	count, _ := ticketStore.Count(context.Background())
	if count != 0 {
		t.Errorf("Expected nothing queued, got %d", count)
	}
}

// TestSubmitTicketQueuedWhenBackendDown tests the offline fallback.
func TestSubmitTicketQueuedWhenBackendDown(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	s, ticketStore, _ := newTestServer(t, backend.URL)

	rec := doRequest(s, http.MethodPost, "/api/tickets", validTicket)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["queued"] != true {
		t.Errorf("Expected queued true, got %v", body["queued"])
	}
	if body["pending"] != float64(1) {
		t.Errorf("Expected pending 1, got %v", body["pending"])
	}

	records, _ := ticketStore.List(context.Background())
	if len(records) != 1 {
		t.Fatalf("Expected 1 queued record, got %d", len(records))
	}
}

// TestSubmitTicketQueuedOnServerError tests that 5xx responses queue.
func TestSubmitTicketQueuedOnServerError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	s, ticketStore, _ := newTestServer(t, backend.URL)

	rec := doRequest(s, http.MethodPost, "/api/tickets", validTicket)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}

	count, _ := ticketStore.Count(context.Background())
	if count != 1 {
		t.Errorf("Expected 1 queued record, got %d", count)
	}
}

// TestSubmitTicketRejectedNotQueued tests that backend rejections are not
// queued for retry.
func TestSubmitTicketRejectedNotQueued(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer backend.Close()

	s, ticketStore, _ := newTestServer(t, backend.URL)

	rec := doRequest(s, http.MethodPost, "/api/tickets", validTicket)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", rec.Code)
	}

	count, _ := ticketStore.Count(context.Background())
	if count != 0 {
		t.Errorf("Expected nothing queued for a rejection, got %d", count)
	}
}

// TestSubmitTicketStoreUnavailable tests that the fallback path reports
// failure instead of claiming a dropped ticket was queued.
func TestSubmitTicketStoreUnavailable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	// Block the data directory path so the store cannot open
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	cfg := &config.Config{
		HTTP: config.HTTPConfig{Addr: ":0", AllowedOrigins: []string{"*"}},
	}
	portal := client.New(backend.URL, time.Second)
	ticketStore := store.New(filepath.Join(blocker, "queue"))
	controller := syncctl.NewController(ticketStore, func(ctx context.Context, payload json.RawMessage) (bool, error) {
		result, err := portal.Submit(ctx, payload)
		if err != nil {
			return false, err
		}
		return result.Delivered, nil
	}, &syncctl.Config{Interval: time.Hour, MaxAttempts: 10})
	t.Cleanup(controller.Stop)
	s := NewServer(cfg, portal, controller, ticketStore)

	rec := doRequest(s, http.MethodPost, "/api/tickets", validTicket)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["error"] != "STORAGE_UNAVAILABLE" {
		t.Errorf("Expected STORAGE_UNAVAILABLE error, got %v", body["error"])
	}
	if body["queued"] == true {
		t.Error("Expected response not to claim the ticket was queued")
	}
}

// TestSubmitTicketInvalidBody tests malformed and incomplete payloads.
func TestSubmitTicketInvalidBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Backend must not be called for invalid payloads")
	}))
	defer backend.Close()

	s, ticketStore, _ := newTestServer(t, backend.URL)

	rec := doRequest(s, http.MethodPost, "/api/tickets", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodPost, "/api/tickets", `{"summary":"only a summary"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for missing fields, got %d", rec.Code)
	}

	count, _ := ticketStore.Count(context.Background())
	if count != 0 {
		t.Errorf("Expected nothing queued, got %d", count)
	}
}

// TestQueueEndpoints tests listing, flushing and clearing the queue.
func TestQueueEndpoints(t *testing.T) {
	delivered := false
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !delivered {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sharepoint_id": "SP-9"})
	}))
	defer backend.Close()

	s, _, _ := newTestServer(t, backend.URL)

	// Queue one ticket while the backend is failing
	rec := doRequest(s, http.MethodPost, "/api/tickets", validTicket)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/queue/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("Expected count 1, got %v", body["count"])
	}

	// Backend recovers, flush drains the queue
	delivered = true
	rec = doRequest(s, http.MethodPost, "/api/queue/flush", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["synced"] != float64(1) || body["failed"] != float64(0) {
		t.Errorf("Expected synced 1 failed 0, got %v/%v", body["synced"], body["failed"])
	}

	rec = doRequest(s, http.MethodGet, "/api/queue/", "")
	body = decodeBody(t, rec)
	if body["count"] != float64(0) {
		t.Errorf("Expected empty queue after flush, got %v", body["count"])
	}

	// Clear on an already empty queue is fine
	rec = doRequest(s, http.MethodDelete, "/api/queue/", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

// TestDeadLetterEndpoints tests listing and purging dead letters.
func TestDeadLetterEndpoints(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	s, ticketStore, _ := newTestServer(t, backend.URL)
	ctx := context.Background()

	rec := doRequest(s, http.MethodPost, "/api/tickets", validTicket)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}

	records, _ := ticketStore.List(ctx)
	if err := ticketStore.UpdateAttempt(ctx, records[0].ID, 10, time.Now().UnixMilli()); err != nil {
		t.Fatalf("UpdateAttempt failed: %v", err)
	}

	rec = doRequest(s, http.MethodGet, "/api/queue/dead-letters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("Expected 1 dead letter, got %v", body["count"])
	}

	// Malformed id is rejected before touching the store
	rec = doRequest(s, http.MethodDelete, "/api/queue/dead-letters/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid id, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodDelete, "/api/queue/dead-letters/"+records[0].ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	count, _ := ticketStore.Count(ctx)
	if count != 0 {
		t.Errorf("Expected empty store after purge, got %d", count)
	}
}

// TestHealthEndpoint tests the local health report.
func TestHealthEndpoint(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	s, ticketStore, _ := newTestServer(t, backend.URL)
	ticketStore.Init()

	rec := doRequest(s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
	if body["backend_online"] != true {
		t.Errorf("Expected backend_online true, got %v", body["backend_online"])
	}
	if body["store_available"] != true {
		t.Errorf("Expected store_available true, got %v", body["store_available"])
	}
	if body["pending"] != float64(0) {
		t.Errorf("Expected pending 0, got %v", body["pending"])
	}
}
