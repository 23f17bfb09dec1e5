package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Entry {
	t.Helper()
	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		entries = append(entries, e)
	}
	return entries
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"fatal":   LevelFatal,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestLogger_JSONNestsFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo}).With(Component("discovery"))

	log.Debug("dropped")
	log.Info("tier exhausted", Tier("locality"), Int("found", 3), Err(errors.New("boom")))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "INFO", e.Level)
	assert.Equal(t, "tier exhausted", e.Message)
	assert.Empty(t, e.Caller)
	assert.Equal(t, "discovery", e.Fields["component"])
	assert.Equal(t, "locality", e.Fields["tier"])
	assert.Equal(t, float64(3), e.Fields["found"])
	assert.Equal(t, "boom", e.Fields["error"])
}

func TestLogger_WithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Options{Output: &buf})
	_ = parent.With(UserID("u1"))

	parent.Info("plain")
	e := decodeLines(t, &buf)[0]
	assert.NotContains(t, e.Fields, "user_id")
}

func TestLogger_TextFormatSortsKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Format: FormatText})

	log.Warn("slow query", Latency(250*time.Millisecond), PairKey("a:b"))

	line := buf.String()
	assert.Contains(t, line, "WARN  slow query latency=250ms pair_key=a:b")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLogger_CallerPointsAtCallSite(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, AddCaller: true})

	log.Error("failed")

	e := decodeLines(t, &buf)[0]
	assert.True(t, strings.HasPrefix(e.Caller, "logger_test.go:"), e.Caller)
}

func TestLogger_ConcurrentWritesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.With(Int("worker", i)).Info("tick")
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 20)
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf}).WithRequestID("req-1")

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("handled")

	e := decodeLines(t, &buf)[0]
	assert.Equal(t, "req-1", e.Fields[RequestIDKey])
	assert.NotNil(t, FromContext(context.Background()))
}

func TestNopAndWithLevel(t *testing.T) {
	assert.False(t, Nop().Enabled(LevelFatal))

	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelError}).WithLevel(LevelDebug)
	assert.True(t, log.Enabled(LevelDebug))
}
