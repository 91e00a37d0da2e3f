package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/postmint/postmint/internal/abtest"
	"github.com/postmint/postmint/internal/messagebus"
	"github.com/postmint/postmint/pkg/models"
)

// pathSegment extracts the path element after prefix, dropping any
// trailing sub-path.
func pathSegment(path, prefix string) (segment, rest string) {
	trimmed := strings.TrimPrefix(path, prefix)
	trimmed = strings.Trim(trimmed, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return trimmed, ""
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	resp, err := s.auth.Login(req.Password)
	if err != nil {
		s.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleGenerate runs one generation loop for an account and returns the
// candidate without stocking it.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account, _ := pathSegment(r.URL.Path, "/api/v1/generate/")
	if account == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "account is required"})
		return
	}

	candidate, err := s.generator.GenerateForAccount(r.Context(), account)
	if err != nil {
		s.respondError(w, err)
		return
	}

	eventType := models.EventPostGenerated
	if !candidate.Score.Passed {
		eventType = models.EventPostDegraded
	}
	s.publishEvent(r.Context(), eventType, account, map[string]interface{}{
		"score":     candidate.Score.Total,
		"revisions": candidate.RevisionCount,
	})
	s.respondJSON(w, http.StatusOK, candidate)
}

// handleScore grades a draft without generating or stocking anything.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	s.respondJSON(w, http.StatusOK, s.scorer.Score(req.Text))
}

func (s *Server) handleStockStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	statuses, err := s.inventory.Status(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, statuses)
}

// handleStockAccount dispatches /api/v1/stock/{account}[/consume|/refill].
func (s *Server) handleStockAccount(w http.ResponseWriter, r *http.Request) {
	account, action := pathSegment(r.URL.Path, "/api/v1/stock/")
	if account == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "account is required"})
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		posts, err := s.store.ListUnusedPosts(r.Context(), account)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, posts)

	case action == "consume" && r.Method == http.MethodPost:
		post, err := s.inventory.Consume(r.Context(), account)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.publishEvent(r.Context(), models.EventStockConsumed, account, map[string]interface{}{
			"post_id": post.ID,
			"score":   post.Score,
		})
		s.respondJSON(w, http.StatusOK, post)

	case action == "refill" && r.Method == http.MethodPost:
		result, err := s.inventory.Refill(r.Context(), account)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if result.Added > 0 {
			s.publishEvent(r.Context(), models.EventStockRefilled, account, map[string]interface{}{
				"added":  result.Added,
				"failed": result.Failed,
			})
		}
		s.respondJSON(w, http.StatusOK, result)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRefillAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	results, err := s.inventory.RefillAll(r.Context())
	if err != nil {
		// Partial results still matter to the caller.
		s.respondJSON(w, http.StatusMultiStatus, map[string]interface{}{
			"results": results,
			"error":   err.Error(),
		})
		return
	}
	for _, res := range results {
		if res != nil && res.Added > 0 {
			s.publishEvent(r.Context(), models.EventStockRefilled, res.Account, map[string]interface{}{
				"added":  res.Added,
				"failed": res.Failed,
			})
		}
	}
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account, _ := pathSegment(r.URL.Path, "/api/v1/patterns/")
	if account == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "account is required"})
		return
	}
	recs, err := s.patterns.RecentExamples(r.Context(), account, s.cfg.Patterns.MaxPerCategory)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Account  string         `json:"account"`
		VariantA models.Variant `json:"variant_a"`
		VariantB models.Variant `json:"variant_b"`
		MinPosts int            `json:"min_posts_per_variant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	test, err := s.abtests.Start(r.Context(), req.Account, req.VariantA, req.VariantB, req.MinPosts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.publishEvent(r.Context(), models.EventTestStarted, req.Account, map[string]interface{}{
		"test_id": test.ID,
	})
	s.respondJSON(w, http.StatusCreated, test)
}

// handleTestAccount dispatches /api/v1/abtests/{account}[/results|/suggest|/variant|/best].
func (s *Server) handleTestAccount(w http.ResponseWriter, r *http.Request) {
	account, action := pathSegment(r.URL.Path, "/api/v1/abtests/")
	if account == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "account is required"})
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		tests, err := s.abtests.ListTests(r.Context(), account)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, tests)

	case action == "results" && r.Method == http.MethodPost:
		s.handleTestResult(w, r, account)

	case action == "suggest" && r.Method == http.MethodGet:
		suggestion, err := s.abtests.SuggestNext(r.Context(), account)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, suggestion)

	case action == "variant" && r.Method == http.MethodGet:
		assignment, err := s.abtests.CurrentVariant(r.Context(), account)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, assignment)

	case action == "best" && r.Method == http.MethodGet:
		combos, err := s.abtests.BestCombos(r.Context(), account)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, combos)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTestResult(w http.ResponseWriter, r *http.Request, account string) {
	var req struct {
		Variant    string   `json:"variant"`
		DM         bool     `json:"dm"`
		Conversion bool     `json:"conversion"`
		Score      *float64 `json:"score,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	test, err := s.abtests.RecordResult(r.Context(), account, req.Variant, abtest.Result{
		DM:         req.DM,
		Conversion: req.Conversion,
		Score:      req.Score,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	if test.Status == models.ABTestCompleted {
		s.publishEvent(r.Context(), models.EventTestCompleted, account, map[string]interface{}{
			"test_id":    test.ID,
			"winner":     test.Winner,
			"confidence": test.Confidence,
		})
	}
	s.respondJSON(w, http.StatusOK, test)
}

// handleOutcome ingests a good or bad outcome report. With a broker the
// report goes onto the durable outcome stream and the bridge's consumer
// applies it exactly once; without one it is applied synchronously.
func (s *Server) handleOutcome(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var outcome models.OutcomeEvent
		if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if outcome.Account == "" || outcome.Text == "" {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "account and text are required"})
			return
		}

		if _, standalone := s.bus.(messagebus.Noop); standalone {
			switch kind {
			case "good":
				s.bridge.HandleGood(r.Context(), &outcome)
			case "bad":
				s.bridge.HandleBad(r.Context(), &outcome)
			}
			s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
			return
		}

		if err := s.bus.PublishOutcome(r.Context(), kind, &outcome); err != nil {
			s.respondError(w, fmt.Errorf("failed to enqueue outcome: %w", err))
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}
