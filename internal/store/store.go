package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/postmint/postmint/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoStock is returned by ConsumePost when an account has no unused posts.
	ErrNoStock = errors.New("no stock available")

	// ErrTestRunning is returned when an account already has a running A/B test.
	ErrTestRunning = errors.New("account already has a running test")
)

// PersistenceError wraps a backend failure. It is propagated to callers
// unmodified; the pipeline never swallows storage errors.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StockStore persists stocked posts. ConsumePost must be race-free: two
// concurrent calls for the same account must never claim the same post.
type StockStore interface {
	InsertPost(ctx context.Context, post *models.StockedPost) error

	// ConsumePost atomically claims the highest-scoring unused post for the
	// account (ties broken by oldest) and returns it with UsedAt set.
	// Returns ErrNoStock when nothing is available.
	ConsumePost(ctx context.Context, account string) (*models.StockedPost, error)

	// UnusedCount returns the number of unused posts for one account.
	UnusedCount(ctx context.Context, account string) (int, error)

	// UnusedCounts returns unused post counts for all accounts present.
	UnusedCounts(ctx context.Context) (map[string]int, error)

	// EvictOldestUnused deletes the oldest unused posts beyond keep and
	// returns how many were evicted.
	EvictOldestUnused(ctx context.Context, account string, keep int) (int, error)

	ListUnusedPosts(ctx context.Context, account string) ([]*models.StockedPost, error)
	DeletePost(ctx context.Context, id string) error
}

// PatternKind distinguishes the success and bad pattern collections.
type PatternKind string

const (
	PatternSuccess PatternKind = "success"
	PatternBad     PatternKind = "bad"
)

// PatternStore persists learned pattern records. UpsertPattern is the one
// check-then-insert that must be atomic per (account, category, text) key:
// concurrent writers of the same text must end up with a single merged row.
type PatternStore interface {
	// UpsertPattern inserts rec, or merges it into an existing record with
	// the same (account, category, text): score becomes a running average
	// and usage count increments. Reports whether a merge happened.
	UpsertPattern(ctx context.Context, kind PatternKind, rec *models.PatternRecord) (merged bool, err error)

	// ListPatterns returns records newest-first. Empty category matches all.
	ListPatterns(ctx context.Context, kind PatternKind, account, category string, limit int) ([]*models.PatternRecord, error)

	// TrimPatterns deletes the oldest records beyond keep for the scope.
	// For PatternBad an empty account trims the global collection.
	TrimPatterns(ctx context.Context, kind PatternKind, account, category string, keep int) (int, error)

	CountPatterns(ctx context.Context, kind PatternKind, account string) (int, error)
}

// ABTestStore persists A/B tests and the ranked combination stats.
// InsertTest enforces the at-most-one-running-test-per-account invariant.
type ABTestStore interface {
	InsertTest(ctx context.Context, test *models.ABTest) error
	UpdateTest(ctx context.Context, test *models.ABTest) error
	GetTest(ctx context.Context, id string) (*models.ABTest, error)
	GetRunningTest(ctx context.Context, account string) (*models.ABTest, error)
	ListTests(ctx context.Context, account string) ([]*models.ABTest, error)

	// UpsertComboStat merges a combination result by running average.
	UpsertComboStat(ctx context.Context, stat *models.ComboStat) error

	// TopCombos returns the best combinations by success rate, capped at n.
	TopCombos(ctx context.Context, account string, n int) ([]*models.ComboStat, error)
}

// Store is the full persistence surface consumed by the pipeline.
type Store interface {
	StockStore
	PatternStore
	ABTestStore
	Close() error
}
