package scoring

import "regexp"

// Prohibited phrase patterns. Any match zeroes the score: exaggerated
// earnings claims, external link bait, and restricted content categories.
func prohibitedPatterns() []prohibitedPattern {
	return []prohibitedPattern{
		{"exaggeration claim", regexp.MustCompile(`絶対(に)?(稼|儲|勝て|損しない)`)},
		{"exaggeration claim", regexp.MustCompile(`必ず(稼|儲)`)},
		{"exaggeration claim", regexp.MustCompile(`100[%％](稼|儲|保証)`)},
		{"exaggeration claim", regexp.MustCompile(`誰でも(簡単に)?月収?[0-9０-９]+万`)},
		{"exaggeration claim", regexp.MustCompile(`(?i)guaranteed\s+(income|profit)`)},
		{"external link", regexp.MustCompile(`(?i)https?://(bit\.ly|tinyurl\.com|t\.co)/`)},
		{"external link", regexp.MustCompile(`(?i)(LINE|ライン)\s*(ID|アイディー)\s*[:：]`)},
		{"restricted content", regexp.MustCompile(`(マルチ商法|ネズミ講|情報商材を?売)`)},
		{"restricted content", regexp.MustCompile(`(年齢確認なし|身分証不要)`)},
	}
}

// The 10-point rubric: empathy 0-3, benefit clarity 0-2, call to action 0-2,
// credibility 0-2, urgency 0-1. Each pattern that appears contributes one
// point up to the dimension cap.
func defaultDimensions() []dimension {
	return []dimension{
		{
			name: "empathy",
			max:  3,
			patterns: compile(
				`(悩み|悩んで)`,
				`(不安|心配)`,
				`わかります`,
				`そんな(あなた|方)`,
				`(ありません|いません)か[？?]`,
				`(困って|迷って)`,
			),
			suggestion: "open by naming the reader's situation or worry",
		},
		{
			name: "benefit",
			max:  2,
			patterns: compile(
				`(日払い|週払い|即日)`,
				`(在宅|リモート|スキマ時間)`,
				`(高(収入|時給)|時給[0-9０-９]+)`,
				`(未経験|初心者)(OK|歓迎|でも)`,
			),
			suggestion: "state one concrete benefit the reader gets",
		},
		{
			name: "cta",
			max:  2,
			patterns: compile(
				`(DM|ＤＭ|メッセージ)(で|にて|ください|お待ち)`,
				`(お問い合わせ|ご連絡|ご相談)`,
				`(プロフィール|プロフ)(欄|から)`,
				`お気軽に`,
			),
			suggestion: "close with a clear next step, such as sending a DM",
		},
		{
			name: "credibility",
			max:  2,
			patterns: compile(
				`(実績|経験者?)`,
				`(サポート|フォロー)(体制|付き|します)`,
				`[0-9０-９]+(人|名|件)(以上|突破|の)`,
				`(安心|丁寧)`,
			),
			suggestion: "add a concrete fact that builds trust",
		},
		{
			name: "urgency",
			max:  1,
			patterns: compile(
				`今なら`,
				`(限定|先着|残り)[0-9０-９]*`,
				`(締切|〆切|急募)`,
			),
			suggestion: "give a reason to act now rather than later",
		},
	}
}

// The extended rubric adds originality 0-2, engagement 0-2 and scroll-stop
// 0-1 on top of the default dimensions (15-point scale).
func extendedDimensions() []dimension {
	return []dimension{
		{
			name: "originality",
			max:  2,
			patterns: compile(
				`(実は|ぶっちゃけ|正直)`,
				`(私|僕|自分)(も|は|が)`,
				`(きっかけ|体験談?)`,
			),
			suggestion: "add a first-person detail no template would have",
		},
		{
			name: "engagement",
			max:  2,
			patterns: compile(
				`[？?]`,
				`(あなた|みなさん)`,
				`(コメント|リプ|いいね)`,
			),
			suggestion: "ask the reader something instead of only telling",
		},
		{
			name: "scrollstop",
			max:  1,
			patterns: compile(
				`\A.{0,30}[【〔\[]`,
				`\A.{0,20}[！!]`,
			),
			suggestion: "make the first line land before the fold",
		},
	}
}

func compile(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		res = append(res, regexp.MustCompile(p))
	}
	return res
}
