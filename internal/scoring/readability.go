package scoring

import (
	"strings"
	"unicode"
)

// readability computes a structural penalty: single-block paragraphs, long
// sentences, emoji absence or excess, and excessive logographic density all
// make a post harder to read in a feed. Returns the penalty and one issue
// per violation.
func readability(text string) (int, []string) {
	penalty := 0
	var issues []string

	paragraphs := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	if paragraphs <= 1 && len([]rune(text)) > 80 {
		penalty++
		issues = append(issues, "readability: single block of text, needs paragraph breaks")
	}

	sentences := splitSentences(text)
	long := 0
	for _, s := range sentences {
		if len([]rune(s)) > 60 {
			long++
		}
	}
	if len(sentences) > 0 && long*2 > len(sentences) {
		penalty++
		issues = append(issues, "readability: most sentences run too long")
	}

	emoji := countEmoji(text)
	if emoji == 0 {
		issues = append(issues, "readability: no emoji, reads flat in a feed")
	} else if emoji > 8 {
		penalty++
		issues = append(issues, "readability: emoji overload")
	}

	runes := []rune(text)
	if len(runes) > 0 {
		logographic := 0
		for _, r := range runes {
			if unicode.Is(unicode.Han, r) {
				logographic++
			}
		}
		if logographic*10 > len(runes)*6 {
			penalty++
			issues = append(issues, "readability: too dense, mix in kana or spacing")
		}
	}

	return penalty, issues
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		switch r {
		case '。', '．', '!', '！', '?', '？', '\n':
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func countEmoji(text string) int {
	n := 0
	for _, r := range text {
		if (r >= 0x1F300 && r <= 0x1FAFF) || (r >= 0x2600 && r <= 0x27BF) || r == 0x2B50 || r == 0x2728 {
			n++
		}
	}
	return n
}
