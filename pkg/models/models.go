package models

import "time"

// DimensionScore is one graded dimension of a quality score.
type DimensionScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Max   int    `json:"max"`
}

// QualityScore is the result of grading a post draft. A prohibited-phrase
// match forces Total to zero regardless of the other dimensions.
type QualityScore struct {
	Dimensions  []DimensionScore `json:"dimensions"`
	Total       int              `json:"total"`
	Scale       int              `json:"scale"`
	Passed      bool             `json:"passed"`
	Prohibited  bool             `json:"prohibited"`
	Issues      []string         `json:"issues,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
}

// Dimension returns the score recorded for a named dimension, or -1 if the
// dimension was not graded.
func (q QualityScore) Dimension(name string) int {
	for _, d := range q.Dimensions {
		if d.Name == name {
			return d.Score
		}
	}
	return -1
}

// CandidatePost is the ephemeral product of one generator invocation. It is
// never persisted as-is; passing candidates become StockedPosts or pattern
// records.
type CandidatePost struct {
	Text          string       `json:"text"`
	Account       string       `json:"account"`
	TargetLabel   string       `json:"target_label"`
	BenefitLabel  string       `json:"benefit_label"`
	PatternLabel  string       `json:"pattern_label,omitempty"`
	Score         QualityScore `json:"score"`
	RevisionCount int          `json:"revision_count"`
}

// StockedPost is a pre-vetted post held in inventory for later consumption.
// Immutable once created except for the single UsedAt transition.
type StockedPost struct {
	ID           string     `json:"id"`
	Account      string     `json:"account"`
	Text         string     `json:"text"`
	TargetLabel  string     `json:"target_label"`
	BenefitLabel string     `json:"benefit_label"`
	PatternLabel string     `json:"pattern_label,omitempty"`
	Score        int        `json:"score"`
	CreatedAt    time.Time  `json:"created_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}

// Used reports whether the post has already been consumed.
func (p *StockedPost) Used() bool {
	return p.UsedAt != nil
}

// Pattern categories for learned fragments.
const (
	PatternCategoryHook    = "hook"
	PatternCategoryCTA     = "cta"
	PatternCategoryBenefit = "benefit"
	PatternCategoryPost    = "post"
)

// PatternRecord is a reusable textual fragment learned from a past outcome.
// Success patterns feed future prompts; bad patterns feed avoidance checks.
type PatternRecord struct {
	ID           string    `json:"id"`
	Account      string    `json:"account"`
	Text         string    `json:"text"`
	Category     string    `json:"category"`
	TargetLabel  string    `json:"target_label,omitempty"`
	BenefitLabel string    `json:"benefit_label,omitempty"`
	Reason       string    `json:"reason,omitempty"` // bad patterns only
	Score        float64   `json:"score"`            // running average across merges
	UsageCount   int       `json:"usage_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// ABTestStatus represents the lifecycle state of an A/B test.
type ABTestStatus string

const (
	ABTestRunning   ABTestStatus = "running"
	ABTestCompleted ABTestStatus = "completed"
	ABTestPaused    ABTestStatus = "paused"
)

// Variant is one arm of an A/B test, defined by a (target, benefit) pair.
type Variant struct {
	TargetLabel  string  `json:"target_label"`
	BenefitLabel string  `json:"benefit_label"`
	Posts        int     `json:"posts"`
	DMs          int     `json:"dms"`
	Conversions  int     `json:"conversions"`
	AvgScore     float64 `json:"avg_score"`
}

// Rate returns inbound DMs per post, the metric tests are judged on.
func (v Variant) Rate() float64 {
	if v.Posts == 0 {
		return 0
	}
	return float64(v.DMs) / float64(v.Posts)
}

// ABTest compares two targeting/benefit combinations for one account.
// At most one test per account may be running at a time; the transition to
// completed is one-way.
type ABTest struct {
	ID                 string       `json:"id"`
	Account            string       `json:"account"`
	Status             ABTestStatus `json:"status"`
	VariantA           Variant      `json:"variant_a"`
	VariantB           Variant      `json:"variant_b"`
	MinPostsPerVariant int          `json:"min_posts_per_variant"`
	Winner             string       `json:"winner,omitempty"` // "A", "B" or "tie"
	Confidence         float64      `json:"confidence,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
}

// ComboStat tracks how a (target, benefit) combination has performed across
// completed tests. The engine keeps a ranked top list per account.
type ComboStat struct {
	Account      string    `json:"account"`
	TargetLabel  string    `json:"target_label"`
	BenefitLabel string    `json:"benefit_label"`
	SuccessRate  float64   `json:"success_rate"`
	Samples      int       `json:"samples"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StockStatus summarizes one account's inventory for the dashboard.
type StockStatus struct {
	Account     string `json:"account"`
	UnusedCount int    `json:"unused_count"`
	NeedsRefill bool   `json:"needs_refill"`
}

// RefillResult reports the outcome of one refill pass for an account.
type RefillResult struct {
	Account string `json:"account"`
	Added   int    `json:"added"`
	Failed  int    `json:"failed"`
	Evicted int    `json:"evicted,omitempty"`
}
