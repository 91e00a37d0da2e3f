package abtest

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postmint/postmint/internal/metrics"
	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

func testAccounts() []config.AccountConfig {
	return []config.AccountConfig{
		{
			ID:       "acct",
			Name:     "テスト事業",
			Targets:  []string{"学生", "主婦", "副業希望"},
			Benefits: []string{"日払い", "在宅", "高収入"},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	backend := store.NewMemoryStore()
	return New(backend, testAccounts(), rand.New(rand.NewSource(7)), nil), backend
}

func startTest(t *testing.T, e *Engine, minPosts int) *models.ABTest {
	t.Helper()
	test, err := e.Start(context.Background(), "acct",
		models.Variant{TargetLabel: "学生", BenefitLabel: "日払い"},
		models.Variant{TargetLabel: "主婦", BenefitLabel: "在宅"},
		minPosts)
	require.NoError(t, err)
	return test
}

func TestStartRejectsSecondRunningTest(t *testing.T) {
	e, _ := newTestEngine(t)

	startTest(t, e, 10)
	_, err := e.Start(context.Background(), "acct",
		models.Variant{TargetLabel: "学生", BenefitLabel: "在宅"},
		models.Variant{TargetLabel: "主婦", BenefitLabel: "高収入"}, 10)
	assert.ErrorIs(t, err, store.ErrTestRunning)
}

func TestStartUnknownAccount(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Start(context.Background(), "nobody", models.Variant{}, models.Variant{}, 10)
	assert.Error(t, err)
}

// record pushes n outcomes for a variant, dms of them with a DM.
func record(t *testing.T, e *Engine, variant string, n, dms int) *models.ABTest {
	t.Helper()
	var last *models.ABTest
	for i := 0; i < n; i++ {
		res := Result{DM: i < dms}
		test, err := e.RecordResult(context.Background(), "acct", variant, res)
		require.NoError(t, err)
		last = test
	}
	return last
}

func TestNoCompletionBelowMinPosts(t *testing.T) {
	e, _ := newTestEngine(t)
	startTest(t, e, 20)

	record(t, e, "A", 20, 1)
	last := record(t, e, "B", 19, 6)

	assert.Equal(t, models.ABTestRunning, last.Status, "both variants must reach the minimum")
}

func TestWinnerDeclaredOnClearGap(t *testing.T) {
	e, _ := newTestEngine(t)
	startTest(t, e, 20)

	// A: 20 posts, 1 DM (rate 0.05). B: 20 posts, 6 DMs (rate 0.3).
	record(t, e, "A", 20, 1)
	last := record(t, e, "B", 20, 6)

	assert.Equal(t, models.ABTestCompleted, last.Status)
	assert.Equal(t, "B", last.Winner)
	assert.Greater(t, last.Confidence, 70.0)
	require.NotNil(t, last.CompletedAt)
}

func TestTieOnSmallGap(t *testing.T) {
	e, _ := newTestEngine(t)
	startTest(t, e, 20)

	// A: 3 DMs, B: 4 DMs over 20 posts each. Not enough separation.
	record(t, e, "A", 20, 3)
	last := record(t, e, "B", 20, 4)

	assert.Equal(t, models.ABTestCompleted, last.Status)
	assert.Equal(t, "tie", last.Winner)
}

func TestEvaluateCases(t *testing.T) {
	cases := []struct {
		name       string
		a, b       models.Variant
		wantWinner string
	}{
		{
			name:       "clear winner B",
			a:          models.Variant{Posts: 20, DMs: 1},
			b:          models.Variant{Posts: 20, DMs: 6},
			wantWinner: "B",
		},
		{
			name:       "close rates tie",
			a:          models.Variant{Posts: 20, DMs: 3},
			b:          models.Variant{Posts: 20, DMs: 4},
			wantWinner: "tie",
		},
		{
			name:       "zero activity ties",
			a:          models.Variant{Posts: 10},
			b:          models.Variant{Posts: 10},
			wantWinner: "tie",
		},
		{
			name:       "tiny sample cannot win",
			a:          models.Variant{Posts: 2, DMs: 0},
			b:          models.Variant{Posts: 2, DMs: 2},
			wantWinner: "tie",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			winner, confidence := Evaluate(tc.a, tc.b)
			assert.Equal(t, tc.wantWinner, winner)
			assert.LessOrEqual(t, confidence, 100.0)
			assert.GreaterOrEqual(t, confidence, 0.0)
		})
	}
}

func TestCompletionIsOneWay(t *testing.T) {
	e, _ := newTestEngine(t)
	startTest(t, e, 20)

	record(t, e, "A", 20, 0)
	last := record(t, e, "B", 20, 16)
	require.Equal(t, models.ABTestCompleted, last.Status)

	// Further results have no running test to land on.
	_, err := e.RecordResult(context.Background(), "acct", "A", Result{DM: true})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWinnerFeedsBestCombos(t *testing.T) {
	e, _ := newTestEngine(t)
	startTest(t, e, 20)

	record(t, e, "A", 20, 0)
	last := record(t, e, "B", 20, 16)
	require.Equal(t, "B", last.Winner)

	combos, err := e.BestCombos(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, combos, 1)
	assert.Equal(t, "主婦", combos[0].TargetLabel)
	assert.Equal(t, "在宅", combos[0].BenefitLabel)
	assert.InDelta(t, 0.8, combos[0].SuccessRate, 0.001)
}

// failingUpdateStore makes the next UpdateTest fail, then recovers.
type failingUpdateStore struct {
	store.ABTestStore
	failNext bool
}

func (s *failingUpdateStore) UpdateTest(ctx context.Context, test *models.ABTest) error {
	if s.failNext {
		s.failNext = false
		return errors.New("connection reset")
	}
	return s.ABTestStore.UpdateTest(ctx, test)
}

func TestFailedPersistRecordsNoWinner(t *testing.T) {
	flaky := &failingUpdateStore{ABTestStore: store.NewMemoryStore()}
	e := New(flaky, testAccounts(), rand.New(rand.NewSource(7)), nil)
	ctx := context.Background()

	startTest(t, e, 20)
	record(t, e, "A", 20, 0)
	record(t, e, "B", 19, 16)

	// The completing result fails to persist: the test must stay running
	// and the winner must not reach the best-combinations list.
	flaky.failNext = true
	_, err := e.RecordResult(ctx, "acct", "B", Result{DM: true})
	require.Error(t, err)

	combos, err := e.BestCombos(ctx, "acct")
	require.NoError(t, err)
	assert.Empty(t, combos)

	running, err := e.GetRunningTest(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 19, running.VariantB.Posts)

	// The retry completes and records the winner once.
	last, err := e.RecordResult(ctx, "acct", "B", Result{DM: true})
	require.NoError(t, err)
	require.Equal(t, models.ABTestCompleted, last.Status)
	require.Equal(t, "B", last.Winner)

	combos, err = e.BestCombos(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, combos, 1)
	assert.Equal(t, 1, combos[0].Samples)
}

func TestLifecycleCounters(t *testing.T) {
	m := metrics.New()
	e := New(store.NewMemoryStore(), testAccounts(), rand.New(rand.NewSource(7)), m)

	started := testutil.ToFloat64(m.TestsStarted)
	completedB := testutil.ToFloat64(m.TestsCompleted.WithLabelValues("B"))

	startTest(t, e, 20)
	record(t, e, "A", 20, 0)
	record(t, e, "B", 20, 16)

	assert.Equal(t, started+1, testutil.ToFloat64(m.TestsStarted))
	assert.Equal(t, completedB+1, testutil.ToFloat64(m.TestsCompleted.WithLabelValues("B")))
}

func TestCurrentVariantBalancesArms(t *testing.T) {
	e, _ := newTestEngine(t)
	startTest(t, e, 10)

	ctx := context.Background()
	a, err := e.CurrentVariant(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, "A", a.Variant, "ties break toward A")

	record(t, e, "A", 2, 0)
	a, err = e.CurrentVariant(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, "B", a.Variant, "the under-filled arm is preferred")
	assert.Equal(t, "主婦", a.TargetLabel)
}

func TestCurrentVariantWithoutRunningTest(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CurrentVariant(context.Background(), "acct")
	assert.True(t, IsNoRunningTest(err))
}

func TestAvgScoreRunningMean(t *testing.T) {
	e, _ := newTestEngine(t)
	startTest(t, e, 10)

	for _, v := range []float64{8, 10} {
		score := v
		_, err := e.RecordResult(context.Background(), "acct", "A", Result{Score: &score})
		require.NoError(t, err)
	}

	test, err := e.GetRunningTest(context.Background(), "acct")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, test.VariantA.AvgScore, 0.001)
}

func TestSuggestNextNoHistory(t *testing.T) {
	e, _ := newTestEngine(t)

	suggestion, err := e.SuggestNext(context.Background(), "acct")
	require.NoError(t, err)
	assert.NotEqual(t, suggestion.VariantA, suggestion.VariantB)
	assert.NotEmpty(t, suggestion.Reason)
}

func TestSuggestNextPrefersUntested(t *testing.T) {
	e, _ := newTestEngine(t)
	startTest(t, e, 20)
	record(t, e, "A", 20, 0)
	record(t, e, "B", 20, 16)

	tested := map[string]bool{
		"学生|日払い": true,
		"主婦|在宅":  true,
	}
	suggestion, err := e.SuggestNext(context.Background(), "acct")
	require.NoError(t, err)
	assert.False(t, tested[suggestion.VariantA.TargetLabel+"|"+suggestion.VariantA.BenefitLabel])
	assert.False(t, tested[suggestion.VariantB.TargetLabel+"|"+suggestion.VariantB.BenefitLabel])
}
