// Package scoring grades post drafts against a heuristic rubric. The scorer
// is a pure function over text: deterministic, no I/O, no randomness.
package scoring

import (
	"fmt"
	"regexp"

	"github.com/postmint/postmint/pkg/models"
)

// Strategy scores a draft. The heuristic implementation below is the
// default; the interface exists so a learned classifier can replace it
// without touching the generator or inventory contracts.
type Strategy interface {
	Score(text string) models.QualityScore
}

// Config selects the rubric profile and pass threshold.
type Config struct {
	Profile       string // "default" (10-point) or "extended" (15-point)
	PassThreshold int
}

// Heuristic is the pattern-counting scorer. Dimension scores are presence
// counts against curated pattern sets, capped per dimension; this is not
// semantic understanding and is not meant to be.
type Heuristic struct {
	cfg        Config
	dims       []dimension
	prohibited []prohibitedPattern
	scale      int
}

type dimension struct {
	name       string
	max        int
	patterns   []*regexp.Regexp
	suggestion string
}

type prohibitedPattern struct {
	category string
	re       *regexp.Regexp
}

// NewHeuristic builds a scorer for the configured profile.
func NewHeuristic(cfg Config) *Heuristic {
	if cfg.PassThreshold == 0 {
		cfg.PassThreshold = 8
	}
	dims := defaultDimensions()
	if cfg.Profile == "extended" {
		dims = append(dims, extendedDimensions()...)
	}
	scale := 0
	for _, d := range dims {
		scale += d.max
	}
	return &Heuristic{
		cfg:        cfg,
		dims:       dims,
		prohibited: prohibitedPatterns(),
		scale:      scale,
	}
}

// PassThreshold returns the configured pass bar.
func (h *Heuristic) PassThreshold() int { return h.cfg.PassThreshold }

// Score grades text. A prohibited-phrase match short-circuits everything
// else and forces a zero total.
func (h *Heuristic) Score(text string) models.QualityScore {
	score := models.QualityScore{Scale: h.scale}

	for _, p := range h.prohibited {
		if p.re.MatchString(text) {
			score.Total = 0
			score.Passed = false
			score.Prohibited = true
			score.Issues = []string{fmt.Sprintf("prohibited content: %s", p.category)}
			return score
		}
	}

	for _, d := range h.dims {
		n := 0
		for _, re := range d.patterns {
			if re.MatchString(text) {
				n++
			}
		}
		if n > d.max {
			n = d.max
		}
		score.Dimensions = append(score.Dimensions, models.DimensionScore{Name: d.name, Score: n, Max: d.max})
		score.Total += n

		if n == 0 {
			score.Issues = append(score.Issues, fmt.Sprintf("%s: no signal found", d.name))
			score.Suggestions = append(score.Suggestions, d.suggestion)
		} else if n < d.max {
			score.Suggestions = append(score.Suggestions, d.suggestion)
		}
	}

	penalty, readIssues := readability(text)
	score.Issues = append(score.Issues, readIssues...)
	score.Total -= penalty
	if score.Total < 0 {
		score.Total = 0
	}

	score.Passed = score.Total >= h.cfg.PassThreshold
	return score
}
