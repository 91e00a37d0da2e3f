package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

// scriptedProducer returns candidates with the given scores in order.
type scriptedProducer struct {
	mu     sync.Mutex
	scores []int
	err    error
	calls  int
}

func (p *scriptedProducer) GenerateForAccount(_ context.Context, account string) (*models.CandidatePost, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	score := 9
	if len(p.scores) > 0 {
		score = p.scores[0]
		p.scores = p.scores[1:]
	}
	return &models.CandidatePost{
		Text:         fmt.Sprintf("生成された投稿 %d", p.calls),
		Account:      account,
		TargetLabel:  "学生",
		BenefitLabel: "日払い",
		Score:        models.QualityScore{Total: score, Scale: 10, Passed: score >= 8},
	}, nil
}

func (p *scriptedProducer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testConfig() config.StockConfig {
	return config.StockConfig{
		MinPerAccount:     3,
		MaxPerAccount:     5,
		MinQualityScore:   6,
		RefillConcurrency: 2,
	}
}

func stockPost(t *testing.T, backend *store.MemoryStore, account string, score int, age time.Duration) *models.StockedPost {
	t.Helper()
	post := &models.StockedPost{
		ID:        uuid.New().String(),
		Account:   account,
		Text:      fmt.Sprintf("在庫投稿 score=%d", score),
		Score:     score,
		CreatedAt: time.Now().Add(-age),
	}
	require.NoError(t, backend.InsertPost(context.Background(), post))
	return post
}

func TestConsumeBestFirst(t *testing.T) {
	backend := store.NewMemoryStore()
	m := New(testConfig(), backend, &scriptedProducer{}, []string{"acct"}, nil)
	ctx := context.Background()

	stockPost(t, backend, "acct", 7, time.Hour)
	best := stockPost(t, backend, "acct", 9, time.Minute)
	stockPost(t, backend, "acct", 8, time.Minute)

	post, err := m.Consume(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, best.ID, post.ID)
	require.NotNil(t, post.UsedAt)
}

func TestConsumeTieBreaksOldest(t *testing.T) {
	backend := store.NewMemoryStore()
	m := New(testConfig(), backend, &scriptedProducer{}, []string{"acct"}, nil)

	older := stockPost(t, backend, "acct", 8, 2*time.Hour)
	stockPost(t, backend, "acct", 8, time.Minute)

	post, err := m.Consume(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, older.ID, post.ID)
}

func TestConsumeEmpty(t *testing.T) {
	m := New(testConfig(), store.NewMemoryStore(), &scriptedProducer{}, []string{"acct"}, nil)
	_, err := m.Consume(context.Background(), "acct")
	assert.ErrorIs(t, err, store.ErrNoStock)
}

func TestConsumeConcurrentAtMostOnce(t *testing.T) {
	backend := store.NewMemoryStore()
	m := New(testConfig(), backend, &scriptedProducer{}, []string{"acct"}, nil)
	ctx := context.Background()

	const posts = 5
	for i := 0; i < posts; i++ {
		stockPost(t, backend, "acct", 6+i%4, time.Duration(i)*time.Minute)
	}

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			post, err := m.Consume(ctx, "acct")
			if err == nil {
				results <- post.ID
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		assert.False(t, seen[id], "post %s consumed twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, posts, "every post is consumed exactly once")
}

func TestRefillTopsUpToMin(t *testing.T) {
	backend := store.NewMemoryStore()
	producer := &scriptedProducer{}
	m := New(testConfig(), backend, producer, []string{"acct"}, nil)
	ctx := context.Background()

	stockPost(t, backend, "acct", 8, time.Hour)

	result, err := m.Refill(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)

	n, err := backend.UnusedCount(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRefillNoopWhenFull(t *testing.T) {
	backend := store.NewMemoryStore()
	producer := &scriptedProducer{}
	m := New(testConfig(), backend, producer, []string{"acct"}, nil)

	for i := 0; i < 3; i++ {
		stockPost(t, backend, "acct", 8, time.Hour)
	}

	result, err := m.Refill(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 0, producer.callCount(), "a full account generates nothing")
}

func TestRefillSpareBudgetAbsorbsOneFailure(t *testing.T) {
	backend := store.NewMemoryStore()
	// First candidate falls under the quality floor; the spare covers it.
	producer := &scriptedProducer{scores: []int{4, 9, 9, 9}}
	m := New(testConfig(), backend, producer, []string{"acct"}, nil)
	ctx := context.Background()

	result, err := m.Refill(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 4, producer.callCount(), "needed plus one spare")
}

func TestRefillTwoFailuresFallShort(t *testing.T) {
	backend := store.NewMemoryStore()
	producer := &scriptedProducer{scores: []int{4, 5, 9, 9}}
	m := New(testConfig(), backend, producer, []string{"acct"}, nil)

	result, err := m.Refill(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added, "the budget is needed+1, not unlimited")
	assert.Equal(t, 2, result.Failed)
}

func TestRefillStocksDegradedAboveFloor(t *testing.T) {
	backend := store.NewMemoryStore()
	// Score 6 fails the pass gate but meets the stocking floor.
	producer := &scriptedProducer{scores: []int{6, 7, 9}}
	m := New(testConfig(), backend, producer, []string{"acct"}, nil)

	result, err := m.Refill(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 0, result.Failed)
}

func TestRefillGenerationErrorsCounted(t *testing.T) {
	backend := store.NewMemoryStore()
	producer := &scriptedProducer{err: errors.New("provider down")}
	m := New(testConfig(), backend, producer, []string{"acct"}, nil)

	result, err := m.Refill(context.Background(), "acct")
	require.NoError(t, err, "generation failures degrade the result, not the call")
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 4, result.Failed)
}

func TestRefillEvictsOverflow(t *testing.T) {
	backend := store.NewMemoryStore()
	m := New(testConfig(), backend, &scriptedProducer{}, []string{"acct"}, nil)
	ctx := context.Background()

	oldest := stockPost(t, backend, "acct", 8, 10*time.Hour)
	for i := 0; i < 6; i++ {
		stockPost(t, backend, "acct", 8, time.Duration(i)*time.Minute)
	}

	result, err := m.Refill(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Evicted, "unused posts beyond the max are evicted")

	posts, err := backend.ListUnusedPosts(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, posts, 5)
	for _, p := range posts {
		assert.NotEqual(t, oldest.ID, p.ID, "the oldest post goes first")
	}
}

func TestRefillAllCoversEveryAccount(t *testing.T) {
	backend := store.NewMemoryStore()
	producer := &scriptedProducer{}
	accounts := []string{"acct1", "acct2", "acct3"}
	m := New(testConfig(), backend, producer, accounts, nil)
	ctx := context.Background()

	results, err := m.RefillAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, accounts[i], res.Account)
		assert.Equal(t, 3, res.Added)
	}
	for _, account := range accounts {
		n, err := backend.UnusedCount(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}
}

func TestStatusFlagsLowAccounts(t *testing.T) {
	backend := store.NewMemoryStore()
	m := New(testConfig(), backend, &scriptedProducer{}, []string{"low", "full"}, nil)
	ctx := context.Background()

	stockPost(t, backend, "low", 8, time.Hour)
	for i := 0; i < 3; i++ {
		stockPost(t, backend, "full", 8, time.Hour)
	}

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byAccount := map[string]models.StockStatus{}
	for _, s := range statuses {
		byAccount[s.Account] = s
	}
	assert.True(t, byAccount["low"].NeedsRefill)
	assert.Equal(t, 1, byAccount["low"].UnusedCount)
	assert.False(t, byAccount["full"].NeedsRefill)
}
