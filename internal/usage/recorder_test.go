package usage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/config"
)

func TestRecorder_WritesJSONLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r, err := NewRecorder(&config.UsageConfig{}, WithRecorderWriter(&buf))
	require.NoError(t, err)

	r.Record(&Record{
		Subject:      "alice",
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  120,
		OutputTokens: 45,
	})
	r.Record(&Record{Subject: "bob", InputTokens: 10})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "alice", first.Subject)
	assert.Equal(t, int64(120), first.InputTokens)
	assert.False(t, first.Timestamp.IsZero())
}

func TestRecorder_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "usage.jsonl")
	r, err := NewRecorder(&config.UsageConfig{Path: path})
	require.NoError(t, err)

	r.Record(&Record{Subject: "alice", Timestamp: time.Now()})
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"subject":"alice"`)
}

func TestNopRecorder(t *testing.T) {
	t.Parallel()

	r := NopRecorder()
	r.Record(&Record{Subject: "alice"})
	assert.NoError(t, r.Close())
}
