package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TextRecordsEveryLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "text", &buf)
	ctx := context.Background()

	log.Debug(ctx, "search done", "hits", 3)
	log.Info(ctx, "vault saved", "revision", "r2")
	log.Warn(ctx, "breach check skipped", "entry", "mail")
	log.Error(ctx, "commit failed", "attempt", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	for i, want := range [][]string{
		{"level=DEBUG", `msg="search done"`, "hits=3"},
		{"level=INFO", `msg="vault saved"`, "revision=r2"},
		{"level=WARN", `msg="breach check skipped"`, "entry=mail"},
		{"level=ERROR", `msg="commit failed"`, "attempt=3"},
	} {
		for _, part := range want {
			assert.Contains(t, lines[i], part)
		}
	}
}

func TestNew_JSONFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)

	log.Info(context.Background(), "audit started")
	log.With("vault", "main").Warn(context.Background(), "conflict pending", "fields", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), "exactly one JSON record expected")
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "conflict pending", rec["msg"])
	assert.Equal(t, "main", rec["vault"])
	assert.EqualValues(t, 2, rec["fields"])
}

func TestWith_DoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New("info", "text", &buf)
	parent.With("op", "sync").Info(context.Background(), "child")
	parent.Info(context.Background(), "parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "op=sync")
	assert.NotContains(t, lines[1], "op=sync")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestOrNop(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		OrNop(nil).Error(ctx, "discarded")
		Nop().With("k", "v").Info(ctx, "discarded")
	})

	l := New("info", "text", &bytes.Buffer{})
	assert.Same(t, Logger(l), OrNop(l))
}
