package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/mna-news/translate-runner/internal/config"
	"github.com/mna-news/translate-runner/internal/sheet"
)

func createWorkbook(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sh, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sh.AddRow()
			for _, v := range rowData {
				row.AddCell().SetString(v)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "articles.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func articleRow(marker, media, title, body string) []string {
	r := make([]string, 16)
	r[0] = marker
	r[2] = media
	r[12] = title
	r[13] = body
	return r
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	old := cfg
	cfg = c
	t.Cleanup(func() { cfg = old })
}

func testConfig(t *testing.T, workbook, geminiURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "state.db")},
		Sheet: config.SheetConfig{
			Path: workbook, Names: []string{"prod"}, StartRow: 2, WindowRows: 50,
			Columns: config.ColumnsConfig{
				Marker: "A", Media: "C", HeadlineA: "E", HeadlineBAlt: "G", Summary: "I",
				URL: "J", Title: "M", Body: "N", Status: "P",
			},
		},
		Glossary: config.GlossaryConfig{Sheet: "regions"},
		Gemini:   config.GeminiConfig{BaseURL: geminiURL, Model: "gemini-test"},
		OpenAI:   config.OpenAIConfig{KeyName: "OPENAI_API_KEY"},
		Routing: config.RoutingConfig{
			DefaultPrefix: "GEMINI_API_KEY_",
			MediaKeys:     map[string]string{"dvb": "DVB"},
			DefaultBase:   "MIZZIMA",
			DailyCap:      200,
		},
		Batch: config.BatchConfig{TokenBudget: 6000, CharsPerToken: 2.5, BodyMaxChars: 1800},
		Run: config.RunConfig{
			MaxRows: 10, PrimaryCeiling: 3, FallbackCeiling: 2,
			LockTTLSecs: 60, WindowStart: "00:00", WindowEnd: "00:00", Timezone: "Asia/Yangon",
		},
		Credentials: map[string]string{"GEMINI_API_KEY_DVB": "secret-dvb"},
	}
}

func TestInitRunner_InvalidConfig(t *testing.T) {
	c := testConfig(t, "", "")
	c.Store.Driver = "mysql"
	withConfig(t, c)

	_, err := initRunner(context.Background(), "run", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestInitRunner_MissingWorkbook(t *testing.T) {
	withConfig(t, testConfig(t, filepath.Join(t.TempDir(), "missing.xlsx"), ""))

	_, err := initRunner(context.Background(), "run", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open workbook")
}

func TestInitRunner_RunsAgainstWorkbook(t *testing.T) {
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-goog-api-key")
		text := `[{"id":"2","headlineA":"ヤンゴンで洪水","headlineBPrime":"大雨で市内冠水","summary":"大雨によりヤンゴン市内が冠水した。"}]`
		b, _ := json.Marshal(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
			}},
		})
		w.Write(b)
	}))
	defer srv.Close()

	path := createWorkbook(t, map[string][][]string{
		"prod": {
			make([]string, 16),
			articleRow("1", "DVB", "Floods in Yangon", "Heavy rain flooded the city."),
		},
		"regions": {{"mm", "en", "ja_body", "ja_headline"}, {"ရန်ကုန်", "Yangon", "ヤンゴン", "ヤンゴン"}},
	})
	withConfig(t, testConfig(t, path, srv.URL))

	reg := prometheus.NewRegistry()
	env, err := initRunner(context.Background(), "run", reg)
	require.NoError(t, err)
	defer env.Close()

	res, err := env.Runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, "secret-dvb", key)

	// Results are persisted to the workbook on disk.
	wb, err := sheet.OpenXLSX(path)
	require.NoError(t, err)
	rows, err := wb.GetRange(context.Background(), "prod", 2, 1, 1, 16)
	require.NoError(t, err)
	assert.Equal(t, "ヤンゴンで洪水", rows[0][4])
	assert.Equal(t, "OK", rows[0][15])

	day := time.Now().In(env.Location).Format(time.DateOnly)
	usage, err := env.Store.ListUsage(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 1, usage["GEMINI_API_KEY_DVB"])

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
