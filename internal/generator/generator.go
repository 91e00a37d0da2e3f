// Package generator produces post drafts through a quality-gated revise
// loop: generate, score, fold issues back into the prompt, retry. A run
// that never clears the pass bar degrades to its best attempt instead of
// failing.
package generator

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/postmint/postmint/internal/abtest"
	"github.com/postmint/postmint/internal/cache"
	"github.com/postmint/postmint/internal/knowledge"
	"github.com/postmint/postmint/internal/metrics"
	"github.com/postmint/postmint/internal/patterns"
	"github.com/postmint/postmint/internal/provider"
	"github.com/postmint/postmint/internal/scoring"
	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

// VariantSource supplies the combination a running A/B test wants next.
// Implementations return store.ErrNotFound when no test is running.
type VariantSource interface {
	CurrentVariant(ctx context.Context, account string) (*abtest.Assignment, error)
}

// Options wires the generator's collaborators. Variants, Cache and Metrics
// are optional.
type Options struct {
	Config    config.GenerationConfig
	Patterns  config.PatternsConfig
	Accounts  []config.AccountConfig
	Providers *provider.Registry
	Store     *patterns.Store
	Knowledge *knowledge.Corpus
	Scorer    scoring.Strategy
	Variants  VariantSource
	Cache     *cache.Cache
	Metrics   *metrics.Metrics
	Rand      *rand.Rand
}

// Generator runs the revise loop for configured accounts.
type Generator struct {
	cfg       config.GenerationConfig
	pcfg      config.PatternsConfig
	accounts  map[string]config.AccountConfig
	providers *provider.Registry
	patterns  *patterns.Store
	knowledge *knowledge.Corpus
	scorer    scoring.Strategy
	variants  VariantSource
	cache     *cache.Cache
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a generator.
func New(opts Options) *Generator {
	byID := make(map[string]config.AccountConfig, len(opts.Accounts))
	for _, a := range opts.Accounts {
		byID[a.ID] = a
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Config.MaxAttempts == 0 {
		opts.Config.MaxAttempts = 5
	}
	if opts.Config.AttemptTimeout == 0 {
		opts.Config.AttemptTimeout = 30 * time.Second
	}
	if opts.Patterns.ExampleCount == 0 {
		opts.Patterns.ExampleCount = 3
	}
	return &Generator{
		cfg:       opts.Config,
		pcfg:      opts.Patterns,
		accounts:  byID,
		providers: opts.Providers,
		patterns:  opts.Store,
		knowledge: opts.Knowledge,
		scorer:    opts.Scorer,
		variants:  opts.Variants,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("postmint/generator"),
		rnd:       rnd,
	}
}

// GenerateForAccount runs the revise loop once for an account and returns
// the first passing draft, or the best failing draft after the attempt
// budget is spent. The returned candidate's Score.Passed distinguishes the
// two; only transport exhaustion or bad configuration yields an error.
func (g *Generator) GenerateForAccount(ctx context.Context, accountID string) (*models.CandidatePost, error) {
	acct, ok := g.accounts[accountID]
	if !ok {
		return nil, &config.ConfigError{Field: "accounts", Reason: fmt.Sprintf("unknown account %q", accountID)}
	}

	ctx, span := g.tracer.Start(ctx, "generator.run",
		trace.WithAttributes(attribute.String("account", accountID)))
	defer span.End()

	started := time.Now()
	target, benefit, variant := g.pickCombo(ctx, acct)

	providerID := acct.Provider
	if providerID == "" {
		providerID = g.cfg.DefaultProvider
	}
	completer, err := g.providers.Get(providerID)
	if err != nil {
		return nil, err
	}

	examples := g.promptExamples(ctx, accountID)
	snippets := g.promptSnippets(acct)

	var (
		best      *models.CandidatePost
		feedback  []string
		transport int
	)

	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		prompt := g.buildPrompt(acct, target, benefit, examples, snippets, feedback)

		text, err := g.complete(ctx, providerID, completer, prompt)
		if err != nil {
			transport++
			g.countAttempt(accountID, "transport")
			log.Printf("[Generator] attempt %d/%d for %s failed: %v", attempt, g.cfg.MaxAttempts, accountID, err)
			feedback = foldFeedback(feedback, models.QualityScore{Issues: []string{transportFeedback}})
			continue
		}

		score := g.scorer.Score(text)
		if score.Prohibited {
			g.countAttempt(accountID, "prohibited")
		}

		// Bad-pattern matches cost a point but never reject outright.
		if !score.Prohibited {
			if warnings := g.patterns.CheckDraft(ctx, accountID, text, target, benefit); len(warnings) > 0 {
				score.Total--
				if score.Total < 0 {
					score.Total = 0
				}
				score.Issues = append(score.Issues, warnings...)
				if ps, ok := g.scorer.(interface{ PassThreshold() int }); ok {
					score.Passed = score.Total >= ps.PassThreshold()
				}
			}
		}

		candidate := &models.CandidatePost{
			Text:          text,
			Account:       accountID,
			TargetLabel:   target,
			BenefitLabel:  benefit,
			PatternLabel:  variant,
			Score:         score,
			RevisionCount: attempt - 1,
		}

		if g.metrics != nil {
			g.metrics.GenerationScore.WithLabelValues(accountID).Observe(float64(score.Total))
		}

		if score.Passed {
			g.countAttempt(accountID, "pass")
			g.recordRun(accountID, "pass", started)
			g.writeThrough(ctx, candidate)
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.Int("score", score.Total))
			return candidate, nil
		}

		g.countAttempt(accountID, "fail")
		if best == nil || score.Total > best.Score.Total {
			best = candidate
		}
		feedback = foldFeedback(feedback, score)
	}

	if best == nil {
		g.recordRun(accountID, "error", started)
		return nil, &provider.TransportError{
			Provider: providerID,
			Err:      fmt.Errorf("all %d attempts failed (%d transport errors)", g.cfg.MaxAttempts, transport),
		}
	}

	// Out of budget: hand back the best draft rather than nothing. The
	// caller decides whether a sub-threshold draft is still usable.
	best.RevisionCount = g.cfg.MaxAttempts - 1
	g.recordRun(accountID, "degraded", started)
	span.SetAttributes(attribute.Bool("degraded", true), attribute.Int("score", best.Score.Total))
	return best, nil
}

// pickCombo asks the A/B engine for the running test's under-filled arm,
// and falls back to a uniform draw over the account's catalogs.
func (g *Generator) pickCombo(ctx context.Context, acct config.AccountConfig) (target, benefit, variant string) {
	if g.variants != nil {
		if a, err := g.variants.CurrentVariant(ctx, acct.ID); err == nil {
			return a.TargetLabel, a.BenefitLabel, a.Variant
		} else if !abtest.IsNoRunningTest(err) {
			log.Printf("[Generator] variant lookup for %s failed: %v", acct.ID, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return acct.Targets[g.rnd.Intn(len(acct.Targets))],
		acct.Benefits[g.rnd.Intn(len(acct.Benefits))],
		""
}

// transportFeedback is folded into the retry prompt after a failed or
// timed-out provider call, where a scored draft would contribute its issues.
const transportFeedback = "前回の下書きは生成中に失われました。最初から書き直してください。"

// complete runs one provider call under the per-attempt timeout, consulting
// the completion cache first.
func (g *Generator) complete(ctx context.Context, providerID string, completer provider.Completer, prompt string) (string, error) {
	if g.cache != nil {
		if text, ok := g.cache.Get(ctx, prompt); ok {
			if g.metrics != nil {
				g.metrics.CacheHits.Inc()
			}
			return text, nil
		}
		if g.metrics != nil {
			g.metrics.CacheMisses.Inc()
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()

	started := time.Now()
	if g.metrics != nil {
		g.metrics.ProviderRequests.WithLabelValues(providerID).Inc()
	}
	text, err := completer.Complete(attemptCtx, prompt)
	if g.metrics != nil {
		g.metrics.ProviderLatency.WithLabelValues(providerID).Observe(time.Since(started).Seconds())
	}
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = &provider.TransportError{Provider: providerID, Err: fmt.Errorf("empty response")}
		}
	}
	if err != nil {
		if g.metrics != nil {
			g.metrics.ProviderErrors.WithLabelValues(providerID).Inc()
		}
		return "", err
	}

	if g.cache != nil {
		if err := g.cache.Put(ctx, prompt, text); err != nil {
			log.Printf("[Generator] cache write failed: %v", err)
		}
	}
	return text, nil
}

// writeThrough records a passing draft as a success pattern so the next run
// already benefits from it.
func (g *Generator) writeThrough(ctx context.Context, c *models.CandidatePost) {
	err := g.patterns.RecordSuccess(ctx, c.Account, c.Text, float64(c.Score.Total),
		c.TargetLabel, c.BenefitLabel, models.PatternCategoryPost)
	if err != nil {
		log.Printf("[Generator] success write-through for %s failed: %v", c.Account, err)
	}
	if g.metrics != nil {
		g.metrics.PatternsRecorded.WithLabelValues("success").Inc()
	}
}

func (g *Generator) promptExamples(ctx context.Context, accountID string) []*models.PatternRecord {
	n := g.pcfg.ExampleCount
	examples := make([]*models.PatternRecord, 0, n)
	seen := make(map[string]bool)
	for i := 0; i < n*2 && len(examples) < n; i++ {
		rec, err := g.patterns.GetWeighted(ctx, accountID, models.PatternCategoryPost)
		if err != nil {
			break
		}
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		examples = append(examples, rec)
	}
	return examples
}

func (g *Generator) promptSnippets(acct config.AccountConfig) []string {
	if g.knowledge == nil || acct.Category == "" {
		return nil
	}
	return g.knowledge.Snippets(acct.Category, 2)
}

func (g *Generator) countAttempt(account, result string) {
	if g.metrics != nil {
		g.metrics.GenerationAttempts.WithLabelValues(account, result).Inc()
	}
}

func (g *Generator) recordRun(account, outcome string, started time.Time) {
	if g.metrics != nil {
		g.metrics.GenerationRuns.WithLabelValues(account, outcome).Inc()
		g.metrics.GenerationDuration.WithLabelValues(account).Observe(time.Since(started).Seconds())
	}
}

// foldFeedback merges a failed attempt's issues and suggestions into the
// feedback carried to the next prompt, deduplicated and bounded.
func foldFeedback(prev []string, score models.QualityScore) []string {
	const maxItems = 8
	seen := make(map[string]bool, len(prev))
	out := make([]string, 0, maxItems)
	for _, f := range prev {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, s := range append(score.Issues, score.Suggestions...) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if len(out) > maxItems {
		out = out[len(out)-maxItems:]
	}
	return out
}
