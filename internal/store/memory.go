package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/postmint/postmint/pkg/models"
)

// MemoryStore is an in-memory Store with the same semantics as the Postgres
// backend. Used for tests and single-binary development runs.
type MemoryStore struct {
	mu       sync.Mutex
	posts    map[string]*models.StockedPost
	patterns map[PatternKind][]*models.PatternRecord
	tests    map[string]*models.ABTest
	combos   map[string]*models.ComboStat // account|target|benefit
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts: make(map[string]*models.StockedPost),
		patterns: map[PatternKind][]*models.PatternRecord{
			PatternSuccess: nil,
			PatternBad:     nil,
		},
		tests:  make(map[string]*models.ABTest),
		combos: make(map[string]*models.ComboStat),
	}
}

func (s *MemoryStore) Close() error { return nil }

func copyPost(p *models.StockedPost) *models.StockedPost {
	cp := *p
	if p.UsedAt != nil {
		t := *p.UsedAt
		cp.UsedAt = &t
	}
	return &cp
}

func copyPattern(r *models.PatternRecord) *models.PatternRecord {
	cp := *r
	return &cp
}

func copyTest(t *models.ABTest) *models.ABTest {
	cp := *t
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		cp.CompletedAt = &done
	}
	return &cp
}

// InsertPost stores a copy of the post.
func (s *MemoryStore) InsertPost(_ context.Context, post *models.StockedPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = copyPost(post)
	return nil
}

// ConsumePost claims the best unused post under the store lock, which gives
// the same at-most-once guarantee as the SQL conditional update.
func (s *MemoryStore) ConsumePost(_ context.Context, account string) (*models.StockedPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.StockedPost
	for _, p := range s.posts {
		if p.Account != account || p.UsedAt != nil {
			continue
		}
		if best == nil || p.Score > best.Score ||
			(p.Score == best.Score && p.CreatedAt.Before(best.CreatedAt)) {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNoStock
	}
	now := time.Now()
	best.UsedAt = &now
	return copyPost(best), nil
}

func (s *MemoryStore) UnusedCount(_ context.Context, account string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.posts {
		if p.Account == account && p.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnusedCounts(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, p := range s.posts {
		if p.UsedAt == nil {
			counts[p.Account]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) EvictOldestUnused(_ context.Context, account string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unused []*models.StockedPost
	for _, p := range s.posts {
		if p.Account == account && p.UsedAt == nil {
			unused = append(unused, p)
		}
	}
	if len(unused) <= keep {
		return 0, nil
	}
	sort.Slice(unused, func(i, j int) bool {
		return unused[i].CreatedAt.Before(unused[j].CreatedAt)
	})
	evicted := 0
	for _, p := range unused[:len(unused)-keep] {
		delete(s.posts, p.ID)
		evicted++
	}
	return evicted, nil
}

func (s *MemoryStore) ListUnusedPosts(_ context.Context, account string) ([]*models.StockedPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StockedPost
	for _, p := range s.posts {
		if p.Account == account && p.UsedAt == nil {
			out = append(out, copyPost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeletePost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return ErrNotFound
	}
	delete(s.posts, id)
	return nil
}

// UpsertPattern merges by exact (account, category, text). The whole
// check-then-insert runs under the store lock.
func (s *MemoryStore) UpsertPattern(_ context.Context, kind PatternKind, rec *models.PatternRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.patterns[kind] {
		if existing.Account == rec.Account && existing.Category == rec.Category && existing.Text == rec.Text {
			// Running average over all merged observations.
			n := float64(existing.UsageCount)
			existing.Score = (existing.Score*n + rec.Score) / (n + 1)
			existing.UsageCount++
			return true, nil
		}
	}
	cp := copyPattern(rec)
	if cp.UsageCount == 0 {
		cp.UsageCount = 1
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.patterns[kind] = append(s.patterns[kind], cp)
	return false, nil
}

func (s *MemoryStore) ListPatterns(_ context.Context, kind PatternKind, account, category string, limit int) ([]*models.PatternRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.PatternRecord
	for _, r := range s.patterns[kind] {
		if account != "" && r.Account != account {
			continue
		}
		if category != "" && r.Category != category {
			continue
		}
		out = append(out, copyPattern(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TrimPatterns(_ context.Context, kind PatternKind, account, category string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var scoped []*models.PatternRecord
	for _, r := range s.patterns[kind] {
		if account != "" && r.Account != account {
			continue
		}
		if category != "" && r.Category != category {
			continue
		}
		scoped = append(scoped, r)
	}
	if len(scoped) <= keep {
		return 0, nil
	}
	sort.Slice(scoped, func(i, j int) bool {
		return scoped[i].CreatedAt.Before(scoped[j].CreatedAt)
	})
	doomed := make(map[string]bool)
	for _, r := range scoped[:len(scoped)-keep] {
		doomed[r.ID] = true
	}
	kept := s.patterns[kind][:0]
	for _, r := range s.patterns[kind] {
		if !doomed[r.ID] {
			kept = append(kept, r)
		}
	}
	s.patterns[kind] = kept
	return len(doomed), nil
}

func (s *MemoryStore) CountPatterns(_ context.Context, kind PatternKind, account string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.patterns[kind] {
		if account == "" || r.Account == account {
			n++
		}
	}
	return n, nil
}

// InsertTest rejects a second running test for the same account under the
// store lock, matching the partial unique index in the Postgres backend.
func (s *MemoryStore) InsertTest(_ context.Context, test *models.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if test.Status == models.ABTestRunning {
		for _, t := range s.tests {
			if t.Account == test.Account && t.Status == models.ABTestRunning {
				return ErrTestRunning
			}
		}
	}
	s.tests[test.ID] = copyTest(test)
	return nil
}

func (s *MemoryStore) UpdateTest(_ context.Context, test *models.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tests[test.ID]; !ok {
		return ErrNotFound
	}
	s.tests[test.ID] = copyTest(test)
	return nil
}

func (s *MemoryStore) GetTest(_ context.Context, id string) (*models.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTest(t), nil
}

func (s *MemoryStore) GetRunningTest(_ context.Context, account string) (*models.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tests {
		if t.Account == account && t.Status == models.ABTestRunning {
			return copyTest(t), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListTests(_ context.Context, account string) ([]*models.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ABTest
	for _, t := range s.tests {
		if account == "" || t.Account == account {
			out = append(out, copyTest(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func comboKey(account, target, benefit string) string {
	return account + "|" + target + "|" + benefit
}

func (s *MemoryStore) UpsertComboStat(_ context.Context, stat *models.ComboStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := comboKey(stat.Account, stat.TargetLabel, stat.BenefitLabel)
	if existing, ok := s.combos[key]; ok {
		n := float64(existing.Samples)
		existing.SuccessRate = (existing.SuccessRate*n + stat.SuccessRate) / (n + 1)
		existing.Samples++
		existing.UpdatedAt = time.Now()
		return nil
	}
	cp := *stat
	if cp.Samples == 0 {
		cp.Samples = 1
	}
	cp.UpdatedAt = time.Now()
	s.combos[key] = &cp
	return nil
}

func (s *MemoryStore) TopCombos(_ context.Context, account string, n int) ([]*models.ComboStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ComboStat
	for _, c := range s.combos {
		if c.Account == account {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SuccessRate > out[j].SuccessRate
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
