package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/cache"
	"github.com/raaihank/seqvec/internal/model"
	"github.com/raaihank/seqvec/internal/store"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":      "seqvec",
		"version":   "0.1.0",
		"algorithm": s.config.Training.Algorithm,
		"objective": s.config.Training.Objective,
	}
	if table := s.getTable(); table != nil {
		info["vocab_size"] = table.Vocab().Size()
		info["vector_size"] = table.Dim()
		info["sequence_count"] = table.SequenceCount()
	} else {
		info["status"] = "training"
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleSimilarity computes cosine similarity between two labels
func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	a := r.URL.Query().Get("a")
	b := r.URL.Query().Get("b")
	if a == "" || b == "" {
		s.writeError(w, http.StatusBadRequest, "query parameters a and b are required")
		return
	}

	table := s.getTable()
	if table == nil {
		s.writeError(w, http.StatusServiceUnavailable, "model not ready")
		return
	}

	score, err := table.Similarity(a, b)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("Similarity query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "similarity query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"a":          a,
		"b":          b,
		"similarity": score,
	})
}

// handleNeighbors returns the k nearest labels by cosine similarity
func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter label is required")
		return
	}

	k := 10
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		parsed, err := strconv.Atoi(kStr)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "query parameter k must be an integer")
			return
		}
		k = parsed
	}

	table := s.getTable()
	if table == nil {
		s.writeError(w, http.StatusServiceUnavailable, "model not ready")
		return
	}

	neighbors, err := table.Neighbors(label, k)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			if s.vectorStore != nil && k > 0 && s.serveNeighborsFromStore(w, r, label, k) {
				return
			}
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, model.ErrInvalidNeighbourK):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("Neighbor query failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "neighbor query failed")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"label":     label,
		"k":         k,
		"neighbors": neighbors,
	})
}

// serveNeighborsFromStore answers a neighbor query for a label the in-memory
// table no longer holds by running a pgvector similarity search. Returns
// false when the store cannot answer either.
func (s *Server) serveNeighborsFromStore(w http.ResponseWriter, r *http.Request, label string, k int) bool {
	vector, err := s.vectorStore.GetVector(r.Context(), label)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("Store lookup failed", zap.Error(err))
		}
		return false
	}

	// Fetch one extra row since the query vector matches itself.
	results, err := s.vectorStore.FindSimilar(r.Context(), vector.Embedding, &store.SearchOptions{Limit: k + 1})
	if err != nil {
		s.logger.Error("Store similarity search failed", zap.Error(err))
		return false
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"label":     label,
		"k":         k,
		"neighbors": storeNeighbors(results, label, k),
		"source":    "store",
	})
	return true
}

// storeNeighbors converts similarity rows into the neighbor response shape,
// dropping the query label itself and truncating to k entries.
func storeNeighbors(results []*store.SimilarityResult, label string, k int) []model.Neighbor {
	neighbors := make([]model.Neighbor, 0, k)
	for _, res := range results {
		if res.Vector == nil || res.Vector.Label == label {
			continue
		}
		neighbors = append(neighbors, model.Neighbor{
			Label:      res.Vector.Label,
			Similarity: res.Similarity,
		})
		if len(neighbors) == k {
			break
		}
	}
	return neighbors
}

// handleVocab returns the stored vector for a label. The in-memory table is
// authoritative; the cache and database are consulted for labels the table
// no longer holds.
func (s *Server) handleVocab(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["label"]

	if table := s.getTable(); table != nil {
		if el, ok := table.Vocab().Get(label); ok {
			vec, err := table.Vector(label)
			if err == nil {
				s.writeJSON(w, http.StatusOK, map[string]interface{}{
					"label":  label,
					"count":  el.Count,
					"vector": vec,
					"source": "table",
				})
				return
			}
		}
	}

	if s.vectorCache != nil {
		result, err := s.vectorCache.Get(r.Context(), label)
		if err == nil && result.CacheHit {
			s.writeJSON(w, http.StatusOK, map[string]interface{}{
				"label":  label,
				"count":  result.Vector.Count,
				"vector": result.Vector.Embedding,
				"source": "cache",
			})
			return
		}
	}

	if s.vectorStore != nil {
		vector, err := s.vectorStore.GetVector(r.Context(), label)
		if err == nil {
			if s.vectorCache != nil {
				s.vectorCache.Set(r.Context(), &cache.CachedVector{
					Label:     vector.Label,
					Count:     vector.Count,
					Embedding: vector.Embedding,
				})
			}
			s.writeJSON(w, http.StatusOK, map[string]interface{}{
				"label":  label,
				"count":  vector.Count,
				"vector": vector.Embedding,
				"source": "store",
			})
			return
		}
		if err != sql.ErrNoRows {
			s.logger.Error("Store lookup failed", zap.Error(err))
		}
	}

	s.writeError(w, http.StatusNotFound, "label not found in vocabulary")
}

// handleStats reports model, cache, store and hub statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"websocket":      s.hub.GetStats(),
	}
	if table := s.getTable(); table != nil {
		stats["vocab_size"] = table.Vocab().Size()
		stats["vector_size"] = table.Dim()
		stats["total_count"] = table.Vocab().TotalCount()
		stats["sequence_count"] = table.SequenceCount()
	} else {
		stats["status"] = "training"
	}

	if s.vectorCache != nil {
		if cacheStats, err := s.vectorCache.GetStats(r.Context()); err == nil {
			stats["cache"] = cacheStats
		}
	}

	if s.vectorStore != nil {
		if storeStats, err := s.vectorStore.GetStats(r.Context()); err == nil {
			stats["store"] = storeStats
		}
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
