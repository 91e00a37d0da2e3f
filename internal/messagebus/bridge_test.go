package messagebus

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postmint/postmint/internal/abtest"
	"github.com/postmint/postmint/internal/patterns"
	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

// recordingBus captures subscriptions so tests can push outcomes through
// the bridge's handlers.
type recordingBus struct {
	Noop
	handlers map[string]func(*models.OutcomeEvent)
}

func (b *recordingBus) SubscribeOutcomes(kind string, handler func(*models.OutcomeEvent)) error {
	if b.handlers == nil {
		b.handlers = make(map[string]func(*models.OutcomeEvent))
	}
	b.handlers[kind] = handler
	return nil
}

func (b *recordingBus) deliver(kind string, outcome *models.OutcomeEvent) {
	b.handlers[kind](outcome)
}

func newBridgeFixture(t *testing.T) (*Bridge, *recordingBus, *store.MemoryStore, *abtest.Engine) {
	t.Helper()
	st := store.NewMemoryStore()
	p := patterns.New(st, patterns.Config{
		SuccessThreshold: 7, MaxPerCategory: 20, MaxBad: 100, BaselineOffset: 6,
	}, rand.New(rand.NewSource(1)))
	engine := abtest.New(st, []config.AccountConfig{{
		ID: "acct", Name: "テスト", Category: "sidejob",
		Targets: []string{"主婦", "学生"}, Benefits: []string{"在宅", "日払い"},
	}}, rand.New(rand.NewSource(1)), nil)
	bus := &recordingBus{}
	b := NewBridge(bus, p, engine)
	require.NoError(t, b.Start())
	return b, bus, st, engine
}

func TestStartSubscribesBothKinds(t *testing.T) {
	_, bus, _, _ := newBridgeFixture(t)
	assert.Contains(t, bus.handlers, "good")
	assert.Contains(t, bus.handlers, "bad")
}

func TestGoodOutcomeFeedsSuccessPatterns(t *testing.T) {
	_, bus, st, _ := newBridgeFixture(t)

	bus.deliver("good", &models.OutcomeEvent{
		Account: "acct",
		Text:    "初月から手取りが増えた体験談です。DMで詳細をお送りします。",
		Score:   9, Target: "主婦", Benefit: "在宅", DM: true,
	})

	n, err := st.CountPatterns(context.Background(), store.PatternSuccess, "acct")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestBadOutcomeFeedsAvoidanceStore(t *testing.T) {
	_, bus, st, _ := newBridgeFixture(t)

	bus.deliver("bad", &models.OutcomeEvent{
		Account: "acct",
		Text:    "副業で誰でもすぐ稼げるという誇大な文面でした。",
		Score:   2, Reason: "通報された",
	})

	n, err := st.CountPatterns(context.Background(), store.PatternBad, "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutcomeWithVariantFeedsRunningTest(t *testing.T) {
	_, bus, st, engine := newBridgeFixture(t)
	ctx := context.Background()

	test, err := engine.Start(ctx, "acct",
		models.Variant{TargetLabel: "主婦", BenefitLabel: "在宅"},
		models.Variant{TargetLabel: "学生", BenefitLabel: "日払い"},
		20)
	require.NoError(t, err)

	bus.deliver("good", &models.OutcomeEvent{
		Account: "acct",
		Text:    "初月から手取りが増えた体験談です。DMで詳細をお送りします。",
		Score:   9, Variant: "A", DM: true,
	})

	got, err := st.GetTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VariantA.Posts)
	assert.Equal(t, 1, got.VariantA.DMs)
	assert.Equal(t, 0, got.VariantB.Posts)
}

func TestOutcomeWithoutRunningTestIsNotAnError(t *testing.T) {
	_, bus, st, _ := newBridgeFixture(t)

	// Variant named, but no test running: the pattern side still learns.
	bus.deliver("good", &models.OutcomeEvent{
		Account: "acct",
		Text:    "初月から手取りが増えた体験談です。DMで詳細をお送りします。",
		Score:   9, Variant: "B", DM: true,
	})

	n, err := st.CountPatterns(context.Background(), store.PatternSuccess, "acct")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestOutcomeWithoutVariantSkipsEngine(t *testing.T) {
	_, bus, st, engine := newBridgeFixture(t)
	ctx := context.Background()

	test, err := engine.Start(ctx, "acct",
		models.Variant{TargetLabel: "主婦", BenefitLabel: "在宅"},
		models.Variant{TargetLabel: "学生", BenefitLabel: "日払い"},
		20)
	require.NoError(t, err)

	bus.deliver("good", &models.OutcomeEvent{
		Account: "acct",
		Text:    "初月から手取りが増えた体験談です。DMで詳細をお送りします。",
		Score:   9, DM: true,
	})

	got, err := st.GetTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.VariantA.Posts)
	assert.Equal(t, 0, got.VariantB.Posts)
}

func TestNoopBusSatisfiesInterface(t *testing.T) {
	var bus Bus = Noop{}
	assert.NoError(t, bus.PublishEvent(context.Background(), &models.PipelineEvent{}))
	assert.NoError(t, bus.Health())
	assert.NoError(t, bus.Close())
}
