package messagebus

import (
	"context"
	"log"

	"github.com/postmint/postmint/internal/abtest"
	"github.com/postmint/postmint/internal/patterns"
	"github.com/postmint/postmint/pkg/models"
)

// Bridge routes outcome reports from the bus into the learning stores:
// good outcomes become success patterns and A/B samples, bad outcomes feed
// the avoidance store.
type Bridge struct {
	bus      Bus
	patterns *patterns.Store
	abtests  *abtest.Engine
}

// NewBridge wires the bus to the pattern store and A/B engine.
func NewBridge(bus Bus, p *patterns.Store, e *abtest.Engine) *Bridge {
	return &Bridge{bus: bus, patterns: p, abtests: e}
}

// Start subscribes the learning handlers. Handlers run on the bus's
// delivery goroutine; they must not block on each other.
func (b *Bridge) Start() error {
	if err := b.bus.SubscribeOutcomes("good", b.handleGood); err != nil {
		return err
	}
	return b.bus.SubscribeOutcomes("bad", b.handleBad)
}

// HandleGood processes one good outcome. Exported so the HTTP outcome
// endpoint can apply reports synchronously without a broker round-trip.
func (b *Bridge) HandleGood(ctx context.Context, outcome *models.OutcomeEvent) {
	if err := b.patterns.LearnFromOutcome(ctx, outcome.Account, outcome.Text, outcome.Score, outcome.Conversion); err != nil {
		log.Printf("[Bridge] learning from good outcome for %s failed: %v", outcome.Account, err)
	}
	if err := b.patterns.RecordSuccess(ctx, outcome.Account, outcome.Text, outcome.Score,
		outcome.Target, outcome.Benefit, models.PatternCategoryPost); err != nil {
		log.Printf("[Bridge] recording success for %s failed: %v", outcome.Account, err)
	}
	b.recordVariant(ctx, outcome)
}

// HandleBad processes one bad outcome.
func (b *Bridge) HandleBad(ctx context.Context, outcome *models.OutcomeEvent) {
	if err := b.patterns.RecordBad(ctx, outcome.Account, outcome.Text, outcome.Score,
		outcome.Target, outcome.Benefit, outcome.Reason); err != nil {
		log.Printf("[Bridge] recording bad outcome for %s failed: %v", outcome.Account, err)
	}
	b.recordVariant(ctx, outcome)
}

// recordVariant feeds the outcome into the running A/B test when the
// report names a variant.
func (b *Bridge) recordVariant(ctx context.Context, outcome *models.OutcomeEvent) {
	if b.abtests == nil || outcome.Variant == "" {
		return
	}
	score := outcome.Score
	_, err := b.abtests.RecordResult(ctx, outcome.Account, outcome.Variant, abtest.Result{
		DM:         outcome.DM,
		Conversion: outcome.Conversion,
		Score:      &score,
	})
	if err != nil && !abtest.IsNoRunningTest(err) {
		log.Printf("[Bridge] recording A/B result for %s failed: %v", outcome.Account, err)
	}
}

func (b *Bridge) handleGood(outcome *models.OutcomeEvent) {
	b.HandleGood(context.Background(), outcome)
}

func (b *Bridge) handleBad(outcome *models.OutcomeEvent) {
	b.HandleBad(context.Background(), outcome)
}
