package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postmint/postmint/internal/abtest"
	"github.com/postmint/postmint/internal/metrics"
	"github.com/postmint/postmint/internal/patterns"
	"github.com/postmint/postmint/internal/provider"
	"github.com/postmint/postmint/internal/scoring"
	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

const goodDraft = `在宅ワークに不安はありませんか？
そんなあなたにスキマ時間でできるお仕事のご案内です😊

未経験OK、日払いにも対応しています。
経験者によるサポート体制もあるので安心です✨

今なら先着5名まで。
気になった方はDMでお気軽にご相談ください！`

const weakDraft = "在宅ワークのお仕事です。DMでご連絡ください。"

type fixture struct {
	gen      *Generator
	mock     *provider.Mock
	backend  *store.MemoryStore
	patterns *patterns.Store
}

func newFixture(t *testing.T, mock *provider.Mock, variants VariantSource) *fixture {
	t.Helper()

	registry := provider.NewRegistry()
	require.NoError(t, registry.Add("mock", mock, 0))

	backend := store.NewMemoryStore()
	patternStore := patterns.New(backend, patterns.Config{SuccessThreshold: 7}, rand.New(rand.NewSource(3)))

	gen := New(Options{
		Config: config.GenerationConfig{
			MaxAttempts:     5,
			DefaultProvider: "mock",
		},
		Accounts: []config.AccountConfig{{
			ID:       "acct",
			Name:     "テスト事業",
			Targets:  []string{"学生"},
			Benefits: []string{"日払い"},
		}},
		Providers: registry,
		Store:     patternStore,
		Scorer:    scoring.NewHeuristic(scoring.Config{}),
		Variants:  variants,
		Metrics:   metrics.New(),
		Rand:      rand.New(rand.NewSource(11)),
	})
	return &fixture{gen: gen, mock: mock, backend: backend, patterns: patternStore}
}

func TestGenerateFirstAttemptPasses(t *testing.T) {
	f := newFixture(t, provider.NewMock([]string{goodDraft}), nil)

	candidate, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)

	assert.True(t, candidate.Score.Passed)
	assert.Equal(t, 0, candidate.RevisionCount)
	assert.Equal(t, 1, f.mock.Calls())
	assert.Equal(t, "学生", candidate.TargetLabel)
	assert.Equal(t, "日払い", candidate.BenefitLabel)
}

func TestGenerateWriteThrough(t *testing.T) {
	f := newFixture(t, provider.NewMock([]string{goodDraft}), nil)

	_, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)

	n, err := f.backend.CountPatterns(context.Background(), store.PatternSuccess, "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a passing draft is recorded as a success pattern")
}

func TestGenerateRevisesWithFeedback(t *testing.T) {
	f := newFixture(t, provider.NewMock([]string{weakDraft, weakDraft, goodDraft}), nil)

	candidate, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)

	assert.True(t, candidate.Score.Passed)
	assert.Equal(t, 2, candidate.RevisionCount)
	assert.Equal(t, 3, f.mock.Calls())

	// The retry prompts must carry the previous attempt's issues.
	require.GreaterOrEqual(t, len(f.mock.Prompts), 2)
	assert.NotContains(t, f.mock.Prompts[0], "指摘")
	assert.Contains(t, f.mock.Prompts[1], "指摘")
}

func TestGenerateDegradesToBestAttempt(t *testing.T) {
	// Every attempt fails the gate; attempt three scores best.
	drafts := []string{
		weakDraft,
		"お仕事があります。",
		weakDraft + " 今なら先着です。",
		"お仕事があります。",
		weakDraft,
	}
	f := newFixture(t, provider.NewMock(drafts), nil)

	candidate, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err, "a sub-threshold run degrades, it does not error")

	assert.False(t, candidate.Score.Passed)
	assert.Equal(t, 4, candidate.RevisionCount)
	assert.Equal(t, 5, f.mock.Calls(), "the full attempt budget is spent")
	assert.Equal(t, drafts[2], candidate.Text, "the best-scoring attempt is returned")
}

func TestGenerateProhibitedNeverReturned(t *testing.T) {
	prohibited := "今なら時給5000円、絶対に稼げます！！"
	f := newFixture(t, provider.NewMock([]string{prohibited, goodDraft}), nil)

	candidate, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)
	assert.True(t, candidate.Score.Passed)
	assert.NotEqual(t, prohibited, candidate.Text)
}

func TestGenerateTransportRetry(t *testing.T) {
	mock := provider.NewMock([]string{goodDraft, goodDraft, goodDraft})
	mock.FailWith(
		&provider.TransportError{Provider: "mock", Err: errors.New("connection refused")},
		&provider.TransportError{Provider: "mock", Err: errors.New("timeout")},
	)
	f := newFixture(t, mock, nil)

	candidate, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)
	assert.True(t, candidate.Score.Passed)
	assert.Equal(t, 3, f.mock.Calls())
}

func TestGenerateTransportFailureFoldsFeedback(t *testing.T) {
	mock := provider.NewMock([]string{goodDraft})
	mock.FailWith(&provider.TransportError{Provider: "mock", Err: errors.New("timeout")})
	f := newFixture(t, mock, nil)

	candidate, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)
	assert.True(t, candidate.Score.Passed)

	// The retry prompt tells the provider the previous draft never arrived.
	require.Len(t, f.mock.Prompts, 2)
	assert.NotContains(t, f.mock.Prompts[0], "生成中に失われました")
	assert.Contains(t, f.mock.Prompts[1], "生成中に失われました")
}

func TestGenerateProviderCounters(t *testing.T) {
	m := metrics.New()
	requests := testutil.ToFloat64(m.ProviderRequests.WithLabelValues("mock"))
	failures := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("mock"))

	mock := provider.NewMock([]string{goodDraft})
	mock.FailWith(&provider.TransportError{Provider: "mock", Err: errors.New("down")})
	f := newFixture(t, mock, nil)

	_, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)

	assert.Equal(t, requests+2, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("mock")))
	assert.Equal(t, failures+1, testutil.ToFloat64(m.ProviderErrors.WithLabelValues("mock")))
}

func TestGenerateAllTransportFailures(t *testing.T) {
	mock := provider.NewMock(nil)
	mock.CompleteFunc = func(ctx context.Context, prompt string) (string, error) {
		return "", &provider.TransportError{Provider: "mock", Err: errors.New("down")}
	}
	f := newFixture(t, mock, nil)

	_, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.Error(t, err)
	assert.True(t, provider.IsTransport(err))
	assert.Equal(t, 5, f.mock.Calls())
}

func TestGenerateUnknownAccount(t *testing.T) {
	f := newFixture(t, provider.NewMock(nil), nil)

	_, err := f.gen.GenerateForAccount(context.Background(), "nobody")
	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 0, f.mock.Calls())
}

func TestGeneratePromptIncludesExamples(t *testing.T) {
	f := newFixture(t, provider.NewMock([]string{goodDraft}), nil)
	require.NoError(t, f.patterns.RecordSuccess(context.Background(), "acct",
		"過去に反応が良かった実例テキスト", 9, "", "", models.PatternCategoryPost))

	_, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)

	require.Len(t, f.mock.Prompts, 1)
	assert.Contains(t, f.mock.Prompts[0], "過去に反応が良かった実例テキスト")
}

type fixedVariants struct {
	assignment *abtest.Assignment
}

func (f fixedVariants) CurrentVariant(context.Context, string) (*abtest.Assignment, error) {
	if f.assignment == nil {
		return nil, store.ErrNotFound
	}
	return f.assignment, nil
}

func TestGenerateUsesRunningTestVariant(t *testing.T) {
	variants := fixedVariants{assignment: &abtest.Assignment{
		Variant:      "B",
		TargetLabel:  "主婦",
		BenefitLabel: "在宅",
	}}
	f := newFixture(t, provider.NewMock([]string{goodDraft}), variants)

	candidate, err := f.gen.GenerateForAccount(context.Background(), "acct")
	require.NoError(t, err)

	assert.Equal(t, "主婦", candidate.TargetLabel)
	assert.Equal(t, "在宅", candidate.BenefitLabel)
	assert.Equal(t, "B", candidate.PatternLabel)
	require.Len(t, f.mock.Prompts, 1)
	assert.Contains(t, f.mock.Prompts[0], "主婦")
}

func TestGenerateBadPatternPenalty(t *testing.T) {
	f := newFixture(t, provider.NewMock([]string{goodDraft}), nil)
	ctx := context.Background()

	// Record the draft's opening as a repeated failure so the avoidance
	// check fires.
	opening := strings.Split(goodDraft, "\n")[0]
	require.NoError(t, f.patterns.RecordBad(ctx, "acct", opening+" 古い本文その一", 2, "", "", "no response"))
	require.NoError(t, f.patterns.RecordBad(ctx, "acct", opening+" 古い本文その二", 2, "", "", "no response"))

	clean := newFixture(t, provider.NewMock([]string{goodDraft}), nil)
	baseline, err := clean.gen.GenerateForAccount(ctx, "acct")
	require.NoError(t, err)

	candidate, err := f.gen.GenerateForAccount(ctx, "acct")
	require.NoError(t, err)

	assert.Equal(t, baseline.Score.Total-1, candidate.Score.Total)
	found := false
	for _, issue := range candidate.Score.Issues {
		if strings.Contains(issue, "matches past failures") {
			found = true
		}
	}
	assert.True(t, found, "the penalty reason lands in the issues, got %v", candidate.Score.Issues)
}

func TestGeneratePromptVariation(t *testing.T) {
	mock := provider.NewMock(nil)
	mock.CompleteFunc = func(ctx context.Context, prompt string) (string, error) {
		return goodDraft, nil
	}
	f := newFixture(t, mock, nil)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		_, err := f.gen.GenerateForAccount(context.Background(), "acct")
		require.NoError(t, err)
	}
	for _, p := range f.mock.Prompts {
		seen[p] = true
	}
	assert.Greater(t, len(seen), 1, "style jitter varies prompts across runs")
}

func TestFoldFeedbackDedupAndBound(t *testing.T) {
	fb := foldFeedback(nil, models.QualityScore{
		Issues:      []string{"a", "b", "a"},
		Suggestions: []string{"b", "c"},
	})
	assert.Equal(t, []string{"a", "b", "c"}, fb)

	var big models.QualityScore
	for i := 0; i < 20; i++ {
		big.Issues = append(big.Issues, fmt.Sprintf("issue-%d", i))
	}
	fb = foldFeedback(fb, big)
	assert.LessOrEqual(t, len(fb), 8)
}
