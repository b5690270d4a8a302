package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mna-news/translate-runner/internal/glossary"
	"github.com/mna-news/translate-runner/internal/model"
)

const promptHeader = `あなたはミャンマー報道の日本語編集者です。以下の各記事について、3つのタスクを実行してください。
1. headlineA: 原題を自然な日本語の見出しに翻訳する。
2. headlineBPrime: 本文の要点を踏まえた別案の日本語見出しを作る。
3. summary: 本文を日本語で300字程度に要約する。

出力は JSON 配列のみとし、記事ごとに {"id","headlineA","headlineBPrime","summary"} を1要素とする。
id は各記事の <article id="..."> の値をそのまま文字列で返す。
改行は \n で表す。コードフェンスや説明文は付けない。
`

// PromptBuilder renders the combined prompt for a chunk.
type PromptBuilder struct {
	glossary *glossary.Glossary
	bodyMax  int
}

// NewPromptBuilder creates a PromptBuilder. Bodies longer than bodyMax
// runes are truncated; zero disables truncation.
func NewPromptBuilder(g *glossary.Glossary, bodyMax int) *PromptBuilder {
	return &PromptBuilder{glossary: g, bodyMax: bodyMax}
}

// Build returns one prompt covering every row, each tagged by its row id.
func (b *PromptBuilder) Build(rows []model.Row) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)

	for _, r := range rows {
		body := r.Body
		if b.bodyMax > 0 {
			body = model.Truncate(body, b.bodyMax)
		}

		fmt.Fprintf(&sb, "\n<article id=\"%s\">\n", strconv.Itoa(r.ID))
		if rules := b.glossary.RulesForTitle(r.Title); rules != "" {
			sb.WriteString("[見出し用]\n")
			sb.WriteString(rules)
		}
		if rules := b.glossary.RulesForBody(r.Title + "\n" + body); rules != "" {
			sb.WriteString("[本文用]\n")
			sb.WriteString(rules)
		}
		fmt.Fprintf(&sb, "<title>%s</title>\n<body>%s</body>\n</article>\n", r.Title, body)
	}
	return sb.String()
}
