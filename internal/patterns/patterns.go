// Package patterns persists short textual fragments learned from past
// outcomes. Success patterns feed future prompts; bad patterns feed an
// avoidance check in the generator.
package patterns

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/models"
)

// Config bounds the pattern store.
type Config struct {
	SuccessThreshold int // minimum score for a success pattern
	MaxPerCategory   int // success patterns kept per account/category
	MaxBad           int // global bound on bad patterns
	BaselineOffset   int // draw weight = max(1, score - offset)
}

// Store is the pattern learning store.
type Store struct {
	backend store.PatternStore
	cfg     Config

	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a pattern store over the given backend. The random source is
// injected so weighted-draw behavior is testable with a fixed seed.
func New(backend store.PatternStore, cfg Config, rnd *rand.Rand) *Store {
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 7
	}
	if cfg.MaxPerCategory == 0 {
		cfg.MaxPerCategory = 20
	}
	if cfg.MaxBad == 0 {
		cfg.MaxBad = 100
	}
	if cfg.BaselineOffset == 0 {
		cfg.BaselineOffset = 6
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Store{backend: backend, cfg: cfg, rnd: rnd}
}

// RecordSuccess stores a successful text under a category. Scores below the
// success threshold are ignored; exact-text duplicates merge into the
// existing record (running-average score, usage count incremented) and the
// collection is trimmed to the most recent MaxPerCategory afterwards.
func (s *Store) RecordSuccess(ctx context.Context, account, text string, score float64, target, benefit, category string) error {
	if score < float64(s.cfg.SuccessThreshold) {
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if category == "" {
		category = models.PatternCategoryPost
	}

	rec := &models.PatternRecord{
		ID:           uuid.New().String(),
		Account:      account,
		Text:         text,
		Category:     category,
		TargetLabel:  target,
		BenefitLabel: benefit,
		Score:        score,
		UsageCount:   1,
		CreatedAt:    time.Now(),
	}
	merged, err := s.backend.UpsertPattern(ctx, store.PatternSuccess, rec)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	if merged {
		return nil
	}
	if _, err := s.backend.TrimPatterns(ctx, store.PatternSuccess, account, category, s.cfg.MaxPerCategory); err != nil {
		return fmt.Errorf("trim success patterns: %w", err)
	}
	return nil
}

// RecordBad stores a failed text for future avoidance. Append-only with
// exact-text dedup, bounded globally at MaxBad.
func (s *Store) RecordBad(ctx context.Context, account, text string, score float64, target, benefit, reason string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	rec := &models.PatternRecord{
		ID:           uuid.New().String(),
		Account:      account,
		Text:         text,
		Category:     models.PatternCategoryPost,
		TargetLabel:  target,
		BenefitLabel: benefit,
		Reason:       reason,
		Score:        score,
		UsageCount:   1,
		CreatedAt:    time.Now(),
	}
	merged, err := s.backend.UpsertPattern(ctx, store.PatternBad, rec)
	if err != nil {
		return fmt.Errorf("record bad: %w", err)
	}
	if merged {
		return nil
	}
	if _, err := s.backend.TrimPatterns(ctx, store.PatternBad, "", "", s.cfg.MaxBad); err != nil {
		return fmt.Errorf("trim bad patterns: %w", err)
	}
	return nil
}

// GetWeighted draws one success pattern for the account/category with
// probability proportional to max(1, score - baselineOffset). Lower-scoring
// patterns stay explorable; this is a true cumulative-weight sample, not a
// top-1 pick. Returns store.ErrNotFound when the category is empty.
func (s *Store) GetWeighted(ctx context.Context, account, category string) (*models.PatternRecord, error) {
	recs, err := s.backend.ListPatterns(ctx, store.PatternSuccess, account, category, s.cfg.MaxPerCategory)
	if err != nil {
		return nil, fmt.Errorf("get weighted: %w", err)
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}

	weights := make([]int, len(recs))
	total := 0
	for i, r := range recs {
		w := int(r.Score) - s.cfg.BaselineOffset
		if w < 1 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	s.mu.Lock()
	draw := s.rnd.Intn(total)
	s.mu.Unlock()

	for i, w := range weights {
		draw -= w
		if draw < 0 {
			return recs[i], nil
		}
	}
	return recs[len(recs)-1], nil
}

// RecentExamples returns up to k recent success patterns for prompt
// enrichment, highest category priority first (whole posts before fragments).
func (s *Store) RecentExamples(ctx context.Context, account string, k int) ([]*models.PatternRecord, error) {
	recs, err := s.backend.ListPatterns(ctx, store.PatternSuccess, account, models.PatternCategoryPost, k)
	if err != nil {
		return nil, fmt.Errorf("recent examples: %w", err)
	}
	if len(recs) >= k {
		return recs, nil
	}
	frags, err := s.backend.ListPatterns(ctx, store.PatternSuccess, account, "", k-len(recs))
	if err != nil {
		return nil, fmt.Errorf("recent examples: %w", err)
	}
	for _, f := range frags {
		if f.Category != models.PatternCategoryPost {
			recs = append(recs, f)
		}
	}
	if len(recs) > k {
		recs = recs[:k]
	}
	return recs, nil
}

// LearnFromOutcome extracts reusable fragments (opening hook, call to
// action, benefit phrase) from a high-scoring or conversion-linked text and
// records each under its category.
func (s *Store) LearnFromOutcome(ctx context.Context, account, text string, score float64, gotConversion bool) error {
	if score < float64(s.cfg.SuccessThreshold) && !gotConversion {
		return nil
	}
	// A conversion is a stronger signal than the heuristic score; give
	// converting fragments at least the success bar so they are retained.
	if gotConversion && score < float64(s.cfg.SuccessThreshold) {
		score = float64(s.cfg.SuccessThreshold)
	}

	for category, fragment := range extractFragments(text) {
		if err := s.RecordSuccess(ctx, account, fragment, score, "", "", category); err != nil {
			return err
		}
	}
	return nil
}

// BadFeatures are the derived avoidance signals from the bad pattern store.
type BadFeatures struct {
	Openings      []string            // frequent opening fragments
	FailedCombos  map[string]int      // "target|benefit" -> occurrences
	FrequentWords map[string]struct{} // words seen in >= 3 bad records
}

// Features derives the avoidance signals for an account.
func (s *Store) Features(ctx context.Context, account string) (*BadFeatures, error) {
	recs, err := s.backend.ListPatterns(ctx, store.PatternBad, account, "", s.cfg.MaxBad)
	if err != nil {
		return nil, fmt.Errorf("bad features: %w", err)
	}

	openings := make(map[string]int)
	combos := make(map[string]int)
	wordDocs := make(map[string]int)

	for _, r := range recs {
		openings[opening(r.Text)]++
		if r.TargetLabel != "" && r.BenefitLabel != "" {
			combos[r.TargetLabel+"|"+r.BenefitLabel]++
		}
		seen := make(map[string]bool)
		for _, w := range tokenize(r.Text) {
			if !seen[w] {
				seen[w] = true
				wordDocs[w]++
			}
		}
	}

	features := &BadFeatures{FailedCombos: combos, FrequentWords: make(map[string]struct{})}
	for o, n := range openings {
		if n >= 2 && o != "" {
			features.Openings = append(features.Openings, o)
		}
	}
	for w, n := range wordDocs {
		if n >= 3 {
			features.FrequentWords[w] = struct{}{}
		}
	}
	return features, nil
}

// CheckDraft reports avoidance warnings for a draft: an opening fragment or
// a (target, benefit) combination that matches recorded failures. Warnings
// are advisory; callers apply a penalty, never a hard reject.
func (s *Store) CheckDraft(ctx context.Context, account, text, target, benefit string) []string {
	features, err := s.Features(ctx, account)
	if err != nil {
		log.Printf("[Patterns] feature derivation failed for %s: %v", account, err)
		return nil
	}

	var warnings []string
	draftOpening := opening(text)
	for _, o := range features.Openings {
		if o == draftOpening {
			warnings = append(warnings, fmt.Sprintf("opening %q matches past failures", o))
			break
		}
	}
	if n := features.FailedCombos[target+"|"+benefit]; n >= 2 {
		warnings = append(warnings, fmt.Sprintf("combination (%s, %s) failed %d times before", target, benefit, n))
	}
	return warnings
}
