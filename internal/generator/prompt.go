package generator

import (
	"fmt"
	"strings"

	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

// styleHints are small per-run variations mixed into the prompt so repeated
// runs for the same combination do not converge on identical drafts.
var styleHints = []string{
	"語りかけるような口調で書いてください。",
	"短い文を重ねてテンポよく書いてください。",
	"冒頭は疑問文で始めてください。",
	"具体的な数字を1つ入れてください。",
	"体験談のような一人称で書いてください。",
	"絵文字は1〜2個までにしてください。",
}

// buildPrompt assembles one generation prompt: persona, combination,
// successful examples, knowledge snippets, accumulated feedback, and a
// random style hint.
func (g *Generator) buildPrompt(acct config.AccountConfig, target, benefit string, examples []*models.PatternRecord, snippets, feedback []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "あなたは「%s」のSNS運用担当者です。\n", acct.Name)
	b.WriteString("読んだ人がDMで問い合わせたくなる投稿文を1つ作成してください。\n\n")
	fmt.Fprintf(&b, "ターゲット: %s\n", target)
	fmt.Fprintf(&b, "訴求ポイント: %s\n\n", benefit)

	b.WriteString("条件:\n")
	b.WriteString("- 140〜300文字程度\n")
	b.WriteString("- 誇大表現(「絶対」「確実に稼げる」など)は使わない\n")
	b.WriteString("- 外部リンクやLINE誘導は書かない\n")
	b.WriteString("- 最後はDMを促す一文で締める\n")

	g.mu.Lock()
	hint := styleHints[g.rnd.Intn(len(styleHints))]
	g.mu.Unlock()
	fmt.Fprintf(&b, "- %s\n", hint)

	if len(examples) > 0 {
		b.WriteString("\n過去に反応が良かった投稿の例:\n")
		for i, ex := range examples {
			fmt.Fprintf(&b, "%d. %s\n", i+1, ex.Text)
		}
	}

	if len(snippets) > 0 {
		b.WriteString("\n参考情報:\n")
		for _, s := range snippets {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	if len(feedback) > 0 {
		b.WriteString("\n前回の下書きへの指摘。必ず改善してください:\n")
		for _, f := range feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	b.WriteString("\n投稿文のみを出力してください。前置きや説明は不要です。\n")
	return b.String()
}
