package patterns

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/postmint/postmint/pkg/models"
)

var (
	ctaRe     = regexp.MustCompile(`[^。\n！!？?]*(DM|ＤＭ|メッセージ|お問い合わせ|ご連絡|ご相談|プロフィール|プロフ)[^。\n！!？?]*[。\n！!？?]?`)
	benefitRe = regexp.MustCompile(`[^。\n！!？?]*(日払い|週払い|在宅|高収入|時給|スキマ時間|未経験|初心者)[^。\n！!？?]*[。\n！!？?]?`)
)

// extractFragments pulls up to three fragment classes from a post: the
// opening hook (first line), the call-to-action sentence, and the benefit
// phrase. Missing classes are simply absent from the result.
func extractFragments(text string) map[string]string {
	out := make(map[string]string)

	if hook := firstLine(text); hook != "" {
		out[models.PatternCategoryHook] = hook
	}
	if m := ctaRe.FindString(text); strings.TrimSpace(m) != "" {
		out[models.PatternCategoryCTA] = strings.TrimSpace(m)
	}
	if m := benefitRe.FindString(text); strings.TrimSpace(m) != "" {
		out[models.PatternCategoryBenefit] = strings.TrimSpace(m)
	}
	return out
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}

// opening returns the normalized first 12 runes of a text, the key used to
// match drafts against recorded failures.
func opening(text string) string {
	s := []rune(firstLine(text))
	if len(s) > 12 {
		s = s[:12]
	}
	return string(s)
}

// tokenize splits on anything that is not a letter or digit. Crude for
// unsegmented Japanese, but stable, and the >= 3 document threshold filters
// most of the noise.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
