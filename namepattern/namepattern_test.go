package namepattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRender(t *testing.T) {
	fields := map[string]any{
		"_id":      "65a1c0e2f1a2b3c4d5e6f708",
		"filename": "report.pdf",
		"length":   int64(2048),
		"metadata": map[string]any{
			"container": "docs",
			"pages":     float64(12),
			"nested":    map[string]any{"deep": "value"},
		},
	}

	tests := []struct {
		pattern string
		want    string
	}{
		{"{$filename}", "report.pdf"},
		{"{$_id}_{$filename}", "65a1c0e2f1a2b3c4d5e6f708_report.pdf"},
		{"{$metadata.container}/{$filename}", "docs/report.pdf"},
		{"{$metadata.nested.deep}", "value"},
		{"{$length} bytes", "2048 bytes"},
		{"p{$metadata.pages}", "p12"},
		{"plain.txt", "plain.txt"},
		{"{$missing}.txt", "{$missing}.txt"},
		{"{$filename.sub}", "{$filename.sub}"},
		{"{filename}", "{filename}"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.pattern, fields, nil))
		})
	}
}

func TestRender_WarnsOnUndefinedPath(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	got := Render("{$a}-{$b.c}-{$name}", map[string]any{"name": "x"}, zap.New(core))
	assert.Equal(t, "{$a}-{$b.c}-x", got)

	entries := logs.FilterMessage("name pattern path is undefined").All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "a", entries[0].ContextMap()["path"])
		assert.Equal(t, "b.c", entries[1].ContextMap()["path"])
	}
}

func TestLookup(t *testing.T) {
	fields := map[string]any{"a": map[string]any{"b": nil, "c": 1}}

	_, ok := Lookup(fields, "a.b")
	assert.False(t, ok, "null values are undefined")

	v, ok := Lookup(fields, "a.c")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = Lookup(fields, "")
	assert.False(t, ok)
}
