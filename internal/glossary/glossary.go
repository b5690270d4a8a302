// Package glossary builds fixed-translation directives for region names
// found in article text.
package glossary

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mna-news/translate-runner/internal/sheet"
)

const rulesHeader = "【用語固定（必須）】\n"

// Entry is one glossary row: a Burmese and/or English term with its
// Japanese renderings for body text and for headlines.
type Entry struct {
	MM         string `yaml:"mm"`
	EN         string `yaml:"en"`
	JABody     string `yaml:"ja_body"`
	JAHeadline string `yaml:"ja_headline"`
}

type compiled struct {
	Entry
	enRe *regexp.Regexp
}

// Glossary is loaded once per run and discarded afterwards.
type Glossary struct {
	entries []compiled
}

// New compiles entries, skipping rows with neither term.
func New(entries []Entry) *Glossary {
	g := &Glossary{}
	for _, e := range entries {
		e.MM = strings.TrimSpace(e.MM)
		e.EN = strings.TrimSpace(e.EN)
		e.JABody = strings.TrimSpace(e.JABody)
		e.JAHeadline = strings.TrimSpace(e.JAHeadline)
		if e.MM == "" && e.EN == "" {
			continue
		}
		c := compiled{Entry: e}
		if e.EN != "" {
			c.enRe = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e.EN) + `\b`)
		}
		g.entries = append(g.entries, c)
	}
	return g
}

// Len returns the number of usable entries.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// RulesForTitle returns directives for terms in text using headline renderings.
func (g *Glossary) RulesForTitle(text string) string {
	return g.rules(text, true)
}

// RulesForBody returns directives for terms in text using body renderings.
func (g *Glossary) RulesForBody(text string) string {
	return g.rules(text, false)
}

func (g *Glossary) rules(text string, headline bool) string {
	if g == nil || strings.TrimSpace(text) == "" {
		return ""
	}

	seen := make(map[string]bool)
	var lines []string
	for _, e := range g.match(text) {
		key := e.MM + "|" + e.EN
		if seen[key] {
			continue
		}
		seen[key] = true

		ja := e.translation(headline)
		if ja == "" {
			continue
		}
		switch {
		case e.MM != "" && e.EN != "":
			lines = append(lines, "- 「"+e.MM+"」または「"+e.EN+"」が出たら、必ず「"+ja+"」と訳す。")
		case e.MM != "":
			lines = append(lines, "- 「"+e.MM+"」が出たら、必ず「"+ja+"」と訳す。")
		default:
			lines = append(lines, "- 「"+e.EN+"」が出たら、必ず「"+ja+"」と訳す。")
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return rulesHeader + strings.Join(lines, "\n") + "\n"
}

// match returns entries whose Burmese term is a substring of text or whose
// English term appears as a whole word, case-insensitively.
func (g *Glossary) match(text string) []compiled {
	var out []compiled
	for _, e := range g.entries {
		if (e.MM != "" && strings.Contains(text, e.MM)) || (e.enRe != nil && e.enRe.MatchString(text)) {
			out = append(out, e)
		}
	}
	return out
}

func (e compiled) translation(headline bool) string {
	fallback := e.JAHeadline
	if fallback == "" {
		fallback = e.JABody
	}
	if headline && e.JAHeadline != "" {
		return e.JAHeadline
	}
	if !headline && e.JABody != "" {
		return e.JABody
	}
	return fallback
}

// LoadYAML reads a list of entries from a YAML file.
func LoadYAML(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "glossary: read yaml")
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, eris.Wrap(err, "glossary: parse yaml")
	}
	return New(entries), nil
}

// LoadGrid reads columns A:D (mm, en, ja_body, ja_headline) from row 2
// of the named sheet. A missing sheet yields an empty glossary.
func LoadGrid(ctx context.Context, grid sheet.Grid, name string) (*Glossary, error) {
	names, err := grid.Sheets(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "glossary: list sheets")
	}
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		zap.L().Warn("glossary: sheet not found", zap.String("sheet", name))
		return New(nil), nil
	}

	const maxRows = 10000
	values, err := grid.GetRange(ctx, name, 2, 1, maxRows, 4)
	if err != nil {
		return nil, eris.Wrapf(err, "glossary: read sheet %s", name)
	}
	entries := make([]Entry, 0, len(values))
	for _, v := range values {
		entries = append(entries, Entry{MM: v[0], EN: v[1], JABody: v[2], JAHeadline: v[3]})
	}
	g := New(entries)
	zap.L().Info("glossary: loaded", zap.String("sheet", name), zap.Int("entries", g.Len()))
	return g, nil
}

// Load resolves the glossary source: a YAML file, a separate workbook, or
// the named sheet of the article workbook.
func Load(ctx context.Context, path, sheetName string, workbook sheet.Grid) (*Glossary, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case path == "":
		if workbook == nil {
			return New(nil), nil
		}
		return LoadGrid(ctx, workbook, sheetName)
	case ext == ".yaml" || ext == ".yml":
		return LoadYAML(path)
	default:
		grid, err := sheet.OpenXLSX(path)
		if err != nil {
			return nil, eris.Wrap(err, "glossary: open workbook")
		}
		return LoadGrid(ctx, grid, sheetName)
	}
}
