// Package abtest manages experiments over (target, benefit) combinations
// per account and feeds winning combinations back into generation.
package abtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postmint/postmint/internal/metrics"
	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

const (
	// winnerMinDiff is the minimum absolute DM-rate difference for a win.
	winnerMinDiff = 0.05
	// winnerMinConfidence is the minimum confidence for a win.
	winnerMinConfidence = 70.0
	// bestComboLimit caps the ranked best-combinations list.
	bestComboLimit = 10
)

// Engine runs A/B tests. At most one test per account is running at a time.
type Engine struct {
	store    store.ABTestStore
	accounts map[string]config.AccountConfig
	metrics  *metrics.Metrics

	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates an engine over the given store and account catalogs. m may
// be nil.
func New(backend store.ABTestStore, accounts []config.AccountConfig, rnd *rand.Rand, m *metrics.Metrics) *Engine {
	byID := make(map[string]config.AccountConfig, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{store: backend, accounts: byID, metrics: m, rnd: rnd}
}

// Result is one outcome reported for a variant.
type Result struct {
	DM         bool
	Conversion bool
	Score      *float64
}

// Assignment tells the generator which combination to produce next.
type Assignment struct {
	Variant      string `json:"variant"` // "A" or "B"
	TargetLabel  string `json:"target_label"`
	BenefitLabel string `json:"benefit_label"`
}

// Suggestion proposes the next test for an account.
type Suggestion struct {
	VariantA models.Variant `json:"variant_a"`
	VariantB models.Variant `json:"variant_b"`
	Reason   string         `json:"reason"`
}

// Start begins a new test. Fails with store.ErrTestRunning when the account
// already has one running.
func (e *Engine) Start(ctx context.Context, account string, variantA, variantB models.Variant, minPosts int) (*models.ABTest, error) {
	if _, ok := e.accounts[account]; !ok {
		return nil, fmt.Errorf("unknown account %q", account)
	}
	if minPosts < 1 {
		minPosts = 10
	}

	test := &models.ABTest{
		ID:                 uuid.New().String(),
		Account:            account,
		Status:             models.ABTestRunning,
		VariantA:           models.Variant{TargetLabel: variantA.TargetLabel, BenefitLabel: variantA.BenefitLabel},
		VariantB:           models.Variant{TargetLabel: variantB.TargetLabel, BenefitLabel: variantB.BenefitLabel},
		MinPostsPerVariant: minPosts,
		CreatedAt:          time.Now(),
	}
	if err := e.store.InsertTest(ctx, test); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.TestsStarted.Inc()
	}
	return test, nil
}

// RecordResult adds one post outcome to a variant. When both variants reach
// the minimum sample size the test is evaluated and completed; the
// transition is one-way.
func (e *Engine) RecordResult(ctx context.Context, account, variant string, res Result) (*models.ABTest, error) {
	test, err := e.store.GetRunningTest(ctx, account)
	if err != nil {
		return nil, err
	}

	var v *models.Variant
	switch variant {
	case "A", "a":
		v = &test.VariantA
	case "B", "b":
		v = &test.VariantB
	default:
		return nil, fmt.Errorf("unknown variant %q", variant)
	}

	v.Posts++
	if res.DM {
		v.DMs++
	}
	if res.Conversion {
		v.Conversions++
	}
	if res.Score != nil {
		v.AvgScore += (*res.Score - v.AvgScore) / float64(v.Posts)
	}

	completed := test.VariantA.Posts >= test.MinPostsPerVariant && test.VariantB.Posts >= test.MinPostsPerVariant
	if completed {
		e.complete(test)
	}

	if err := e.store.UpdateTest(ctx, test); err != nil {
		return nil, err
	}
	// Combo bookkeeping waits until the completion is persisted, so a
	// failed UpdateTest never leaves a winner on the best list for a test
	// that is still running.
	if completed {
		e.recordCompletion(ctx, test)
	}
	return test, nil
}

// complete evaluates the finished test and marks it completed.
func (e *Engine) complete(test *models.ABTest) {
	winner, confidence := Evaluate(test.VariantA, test.VariantB)
	now := time.Now()
	test.Status = models.ABTestCompleted
	test.Winner = winner
	test.Confidence = confidence
	test.CompletedAt = &now
}

// recordCompletion folds the winner of a persisted completion into the
// ranked best-combinations list. The upsert is advisory; a failure must
// not undo the completion.
func (e *Engine) recordCompletion(ctx context.Context, test *models.ABTest) {
	if e.metrics != nil {
		e.metrics.TestsCompleted.WithLabelValues(test.Winner).Inc()
	}

	var won *models.Variant
	switch test.Winner {
	case "A":
		won = &test.VariantA
	case "B":
		won = &test.VariantB
	default:
		return
	}
	_ = e.store.UpsertComboStat(ctx, &models.ComboStat{
		Account:      test.Account,
		TargetLabel:  won.TargetLabel,
		BenefitLabel: won.BenefitLabel,
		SuccessRate:  won.Rate(),
		Samples:      1,
	})
}

// Evaluate compares two variants by DM rate. A winner needs a rate gap of
// more than 0.05 and confidence above 70; anything else is a tie.
func Evaluate(a, b models.Variant) (winner string, confidence float64) {
	rateA, rateB := a.Rate(), b.Rate()
	diff := math.Abs(rateA - rateB)
	confidence = Confidence(minInt(a.Posts, b.Posts), diff, (rateA+rateB)/2)

	if diff > winnerMinDiff && confidence > winnerMinConfidence {
		if rateA > rateB {
			return "A", confidence
		}
		return "B", confidence
	}
	return "tie", confidence
}

// Confidence grows with the smaller sample size and with the rate gap
// relative to the average rate, capped at 100.
func Confidence(minPosts int, diff, avgRate float64) float64 {
	if avgRate == 0 {
		return 0
	}
	sample := math.Min(50, float64(minPosts)*2.5)
	relative := diff / avgRate
	return math.Min(100, sample*(0.5+relative))
}

// CurrentVariant returns the side of the running test that has fewer
// recorded posts, so the generator fills the under-represented arm first.
// Ties break toward variant A. Returns store.ErrNotFound without a running
// test.
func (e *Engine) CurrentVariant(ctx context.Context, account string) (*Assignment, error) {
	test, err := e.store.GetRunningTest(ctx, account)
	if err != nil {
		return nil, err
	}
	if test.VariantB.Posts < test.VariantA.Posts {
		return &Assignment{Variant: "B", TargetLabel: test.VariantB.TargetLabel, BenefitLabel: test.VariantB.BenefitLabel}, nil
	}
	return &Assignment{Variant: "A", TargetLabel: test.VariantA.TargetLabel, BenefitLabel: test.VariantA.BenefitLabel}, nil
}

// GetRunningTest exposes the account's running test, if any.
func (e *Engine) GetRunningTest(ctx context.Context, account string) (*models.ABTest, error) {
	return e.store.GetRunningTest(ctx, account)
}

// ListTests returns the account's test history, newest first.
func (e *Engine) ListTests(ctx context.Context, account string) ([]*models.ABTest, error) {
	return e.store.ListTests(ctx, account)
}

// BestCombos returns the ranked best combinations for an account.
func (e *Engine) BestCombos(ctx context.Context, account string) ([]*models.ComboStat, error) {
	return e.store.TopCombos(ctx, account, bestComboLimit)
}

type combo struct {
	target  string
	benefit string
}

// SuggestNext proposes the next test: untested combinations first, then the
// best known combination against a random challenger, and with no history
// at all, two random combinations.
func (e *Engine) SuggestNext(ctx context.Context, account string) (*Suggestion, error) {
	acct, ok := e.accounts[account]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", account)
	}

	all := make([]combo, 0, len(acct.Targets)*len(acct.Benefits))
	for _, t := range acct.Targets {
		for _, b := range acct.Benefits {
			all = append(all, combo{target: t, benefit: b})
		}
	}

	tests, err := e.store.ListTests(ctx, account)
	if err != nil {
		return nil, err
	}
	tested := make(map[combo]bool)
	for _, t := range tests {
		tested[combo{t.VariantA.TargetLabel, t.VariantA.BenefitLabel}] = true
		tested[combo{t.VariantB.TargetLabel, t.VariantB.BenefitLabel}] = true
	}

	var untested []combo
	for _, c := range all {
		if !tested[c] {
			untested = append(untested, c)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(tests) == 0 {
		a, b := e.pickTwo(all)
		return &Suggestion{VariantA: asVariant(a), VariantB: asVariant(b), Reason: "no history, exploring two random combinations"}, nil
	}
	if len(untested) >= 2 {
		a, b := e.pickTwo(untested)
		return &Suggestion{VariantA: asVariant(a), VariantB: asVariant(b), Reason: "untested combinations remain"}, nil
	}

	best, err := e.store.TopCombos(ctx, account, 1)
	if err != nil {
		return nil, err
	}

	if len(untested) == 1 {
		challenger := untested[0]
		if len(best) > 0 {
			return &Suggestion{
				VariantA: models.Variant{TargetLabel: best[0].TargetLabel, BenefitLabel: best[0].BenefitLabel},
				VariantB: asVariant(challenger),
				Reason:   "last untested combination against the best known",
			}, nil
		}
		other := all[e.rnd.Intn(len(all))]
		return &Suggestion{VariantA: asVariant(challenger), VariantB: asVariant(other), Reason: "last untested combination"}, nil
	}

	if len(best) > 0 {
		challenger := all[e.rnd.Intn(len(all))]
		return &Suggestion{
			VariantA: models.Variant{TargetLabel: best[0].TargetLabel, BenefitLabel: best[0].BenefitLabel},
			VariantB: asVariant(challenger),
			Reason:   "best known combination against a random challenger",
		}, nil
	}

	a, b := e.pickTwo(all)
	return &Suggestion{VariantA: asVariant(a), VariantB: asVariant(b), Reason: "no winners yet, exploring two random combinations"}, nil
}

// pickTwo draws two distinct combos when possible. Callers hold e.mu.
func (e *Engine) pickTwo(pool []combo) (combo, combo) {
	if len(pool) == 1 {
		return pool[0], pool[0]
	}
	i := e.rnd.Intn(len(pool))
	j := e.rnd.Intn(len(pool) - 1)
	if j >= i {
		j++
	}
	return pool[i], pool[j]
}

func asVariant(c combo) models.Variant {
	return models.Variant{TargetLabel: c.target, BenefitLabel: c.benefit}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// IsNoRunningTest reports whether err means the account has no running test.
func IsNoRunningTest(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
