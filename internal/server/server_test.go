package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/config"
	"github.com/raaihank/seqvec/internal/logger"
	"github.com/raaihank/seqvec/internal/model"
	"github.com/raaihank/seqvec/internal/store"
	"github.com/raaihank/seqvec/internal/vocab"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	cache := vocab.NewCache([]*vocab.Element{
		{Label: "day", Count: 10},
		{Label: "night", Count: 8},
		{Label: "coffee", Count: 5},
	})
	table, err := model.New(cache, 16, 42)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	table.ResetWeights()

	cfg := config.GetDefaults()
	cfg.Server.RateLimit.Enabled = false

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	srv, err := New(cfg, log, table, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("Response for %s is not JSON: %v", path, err)
		}
	}
	return rec, body
}

// TestHealthEndpoint tests the health check
func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	rec, body := doRequest(t, srv, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

// TestInfoEndpoint tests the info endpoint
func TestInfoEndpoint(t *testing.T) {
	srv := testServer(t)

	rec, body := doRequest(t, srv, "/info")
	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}
	if body["vocab_size"].(float64) != 3 {
		t.Errorf("vocab_size = %v, want 3", body["vocab_size"])
	}
	if body["vector_size"].(float64) != 16 {
		t.Errorf("vector_size = %v, want 16", body["vector_size"])
	}
}

// TestSimilarityEndpoint tests the similarity query API
func TestSimilarityEndpoint(t *testing.T) {
	srv := testServer(t)

	t.Run("Known", func(t *testing.T) {
		rec, body := doRequest(t, srv, "/v1/similarity?a=day&b=night")
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, want 200", rec.Code)
		}
		score, ok := body["similarity"].(float64)
		if !ok {
			t.Fatalf("similarity missing from response: %v", body)
		}
		if score < -1.0001 || score > 1.0001 {
			t.Errorf("similarity %g out of [-1, 1]", score)
		}
	})

	t.Run("UnknownLabel", func(t *testing.T) {
		rec, _ := doRequest(t, srv, "/v1/similarity?a=day&b=zzz")
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want 404", rec.Code)
		}
	})

	t.Run("MissingParams", func(t *testing.T) {
		rec, _ := doRequest(t, srv, "/v1/similarity?a=day")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", rec.Code)
		}
	})
}

// TestNeighborsEndpoint tests the nearest-neighbor API
func TestNeighborsEndpoint(t *testing.T) {
	srv := testServer(t)

	t.Run("Known", func(t *testing.T) {
		rec, body := doRequest(t, srv, "/v1/neighbors?label=day&k=2")
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, want 200", rec.Code)
		}
		neighbors, ok := body["neighbors"].([]interface{})
		if !ok {
			t.Fatalf("neighbors missing from response: %v", body)
		}
		if len(neighbors) != 2 {
			t.Errorf("Expected 2 neighbors, got %d", len(neighbors))
		}
	})

	t.Run("UnknownLabel", func(t *testing.T) {
		rec, _ := doRequest(t, srv, "/v1/neighbors?label=zzz")
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want 404", rec.Code)
		}
	})

	t.Run("BadK", func(t *testing.T) {
		rec, _ := doRequest(t, srv, "/v1/neighbors?label=day&k=abc")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", rec.Code)
		}
		rec, _ = doRequest(t, srv, "/v1/neighbors?label=day&k=0")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", rec.Code)
		}
	})
}

// TestVocabEndpoint tests vector lookup by label
func TestVocabEndpoint(t *testing.T) {
	srv := testServer(t)

	t.Run("Known", func(t *testing.T) {
		rec, body := doRequest(t, srv, "/v1/vocab/coffee")
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, want 200", rec.Code)
		}
		if body["source"] != "table" {
			t.Errorf("source = %v, want table", body["source"])
		}
		vec, ok := body["vector"].([]interface{})
		if !ok || len(vec) != 16 {
			t.Errorf("Unexpected vector payload: %v", body["vector"])
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		rec, _ := doRequest(t, srv, "/v1/vocab/zzz")
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want 404", rec.Code)
		}
	})
}

// TestRateLimitMiddleware tests the per-client limiter
func TestRateLimitMiddleware(t *testing.T) {
	srv := testServer(t)
	srv.config.Server.RateLimit.Enabled = true
	srv.limiters = newLimiterPool(1, 2)

	allowed, limited := 0, 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/similarity?a=day&b=night", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		switch rec.Code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("Unexpected status %d", rec.Code)
		}
	}

	if allowed == 0 {
		t.Error("Burst should allow at least one request")
	}
	if limited == 0 {
		t.Error("Limiter never rejected despite exceeding the burst")
	}

	// A different client gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/v1/similarity?a=day&b=night", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Fresh client was rate limited: %d", rec.Code)
	}
}

// TestHubSubscriptionFilter tests event filtering by subscription
func TestHubSubscriptionFilter(t *testing.T) {
	hub := NewHub(zap.NewNop())

	all := &Client{}
	if !hub.shouldSendToClient(all, Event{Type: EventTypeTrainingProgress}) {
		t.Error("Client without subscription should receive everything")
	}

	filtered := &Client{Subscription: &SubscriptionRequest{Events: []EventType{EventTypeRequestLog}}}
	if hub.shouldSendToClient(filtered, Event{Type: EventTypeTrainingProgress}) {
		t.Error("Filtered client received an unsubscribed event type")
	}
	if !hub.shouldSendToClient(filtered, Event{Type: EventTypeRequestLog}) {
		t.Error("Filtered client missed a subscribed event type")
	}
}

// TestModelNotReady tests serving before a trained table is installed
func TestModelNotReady(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Server.RateLimit.Enabled = false

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	srv, err := New(cfg, log, nil, nil, nil)
	if err != nil {
		t.Fatalf("Server without a table should start: %v", err)
	}
	if srv.Hub() == nil {
		t.Fatal("Hub should exist before the model is installed")
	}

	t.Run("QueriesUnavailable", func(t *testing.T) {
		for _, path := range []string{
			"/v1/similarity?a=day&b=night",
			"/v1/neighbors?label=day",
		} {
			rec, body := doRequest(t, srv, path)
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("%s: expected 503 before model install, got %d", path, rec.Code)
			}
			if body["error"] != "model not ready" {
				t.Errorf("%s: unexpected error body %v", path, body)
			}
		}
	})

	t.Run("InfoReportsTraining", func(t *testing.T) {
		rec, body := doRequest(t, srv, "/info")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if body["status"] != "training" {
			t.Errorf("Expected training status, got %v", body["status"])
		}
	})

	t.Run("ProgressBroadcastBeforeInstall", func(t *testing.T) {
		// Must not panic or block with no clients connected.
		srv.Hub().BroadcastEvent(Event{Type: EventTypeTrainingProgress})
	})

	t.Run("QueriesAfterInstall", func(t *testing.T) {
		cache := vocab.NewCache([]*vocab.Element{
			{Label: "day", Count: 10},
			{Label: "night", Count: 8},
		})
		table, err := model.New(cache, 16, 42)
		if err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
		table.ResetWeights()
		srv.SetTable(table)

		rec, body := doRequest(t, srv, "/v1/similarity?a=day&b=night")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 after model install, got %d: %v", rec.Code, body)
		}
		if _, ok := body["similarity"]; !ok {
			t.Error("Response missing similarity field")
		}
	})
}

// TestStoreNeighbors tests conversion of similarity rows into neighbors
func TestStoreNeighbors(t *testing.T) {
	results := []*store.SimilarityResult{
		{Vector: &store.WordVector{Label: "day"}, Similarity: 1.0},
		{Vector: &store.WordVector{Label: "morning"}, Similarity: 0.9},
		{Vector: nil, Similarity: 0.85},
		{Vector: &store.WordVector{Label: "night"}, Similarity: 0.8},
		{Vector: &store.WordVector{Label: "coffee"}, Similarity: 0.4},
	}

	t.Run("ExcludesQueryLabel", func(t *testing.T) {
		neighbors := storeNeighbors(results, "day", 10)
		for _, n := range neighbors {
			if n.Label == "day" {
				t.Error("Query label should not appear among its own neighbors")
			}
		}
		if len(neighbors) != 3 {
			t.Errorf("Expected 3 neighbors, got %d", len(neighbors))
		}
	})

	t.Run("TruncatesToK", func(t *testing.T) {
		neighbors := storeNeighbors(results, "day", 2)
		if len(neighbors) != 2 {
			t.Fatalf("Expected 2 neighbors, got %d", len(neighbors))
		}
		if neighbors[0].Label != "morning" || neighbors[1].Label != "night" {
			t.Errorf("Unexpected neighbor order: %v", neighbors)
		}
	})

	t.Run("PreservesSimilarity", func(t *testing.T) {
		neighbors := storeNeighbors(results, "day", 10)
		if neighbors[0].Similarity != 0.9 {
			t.Errorf("Expected similarity 0.9, got %v", neighbors[0].Similarity)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if got := storeNeighbors(nil, "day", 5); len(got) != 0 {
			t.Errorf("Expected no neighbors, got %v", got)
		}
	})
}
