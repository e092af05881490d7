package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), scanner.Text())
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{DebugLevel, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{InfoLevel, []string{"INFO", "WARN", "ERROR"}},
		{WarnLevel, []string{"WARN", "ERROR"}},
		{ErrorLevel, []string{"ERROR"}},
		{LogLevel("bogus"), nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			l := New(tt.level, &buf)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")

			var got []string
			for _, e := range decodeLines(t, &buf) {
				got = append(got, e["level"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, &buf)
	l.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	child := l.WithField("session", "abc").WithError(errors.New("boom"))
	child.Info("updated", map[string]interface{}{"psi": 1.5})
	l.Info("parent")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "abc", entries[0]["session"])
	assert.Equal(t, "boom", entries[0]["error"])
	assert.Equal(t, 1.5, entries[0]["psi"])
	assert.Equal(t, "updated", entries[0]["message"])
	assert.Equal(t, "2024-01-02T03:04:05Z", entries[0]["timestamp"])
	assert.Contains(t, entries[0]["caller"], "logging_test.go:")

	_, ok := entries[1]["session"]
	assert.False(t, ok, "parent logger must not see child fields")
	assert.Same(t, l, l.WithError(nil))
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, &buf)
	l.text = true
	l.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	l.WithFields(map[string]interface{}{"b": 2, "a": 1}).Info("hello")

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(line, "2024-01-02T03:04:05Z INFO hello a=1 b=2 caller="), line)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{in: "debug", want: DebugLevel},
		{in: "", want: InfoLevel},
		{in: "Warning", want: WarnLevel},
		{in: "ERROR", want: ErrorLevel},
		{in: "fatal", want: FatalLevel},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, closer, err := NewLogger(&Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")

	_, _, err = NewLogger(&Config{Format: "xml"})
	assert.Error(t, err)
	_, _, err = NewLogger(&Config{Level: "loud"})
	assert.Error(t, err)

	logger, closer, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())
	assert.NoError(t, closer.Close())
}

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer
	z := NewZapLogger(New(DebugLevel, &buf)).Named("laplace").With(zap.String("session", "s1"))

	z.Warn("fallback",
		zap.Float64("psi", 2.25),
		zap.Float64("bad", math.Inf(1)),
		zap.Int("iterations", 7),
		zap.Bool("warm", true),
		zap.Duration("elapsed", 1500*time.Millisecond),
		zap.Error(errors.New("line search failed")),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "WARN", e["level"])
	assert.Equal(t, "fallback", e["message"])
	assert.Equal(t, "laplace", e["logger"])
	assert.Equal(t, "s1", e["session"])
	assert.Equal(t, 2.25, e["psi"])
	assert.Equal(t, "+Inf", e["bad"])
	assert.Equal(t, 7.0, e["iterations"])
	assert.Equal(t, true, e["warm"])
	assert.Equal(t, "1.5s", e["elapsed"])
	assert.Equal(t, "line search failed", e["error"])
	assert.Contains(t, e["caller"], "logging_test.go:")
}

func TestZapLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	z := NewZapLogger(New(ErrorLevel, &buf))
	z.Info("quiet")
	z.Warn("quiet")
	assert.Zero(t, buf.Len())
	assert.False(t, z.Core().Enabled(zap.WarnLevel))
	assert.True(t, z.Core().Enabled(zap.DPanicLevel))
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf)

	var fromCtx *CtxLogger
	handler := middleware.RequestID(Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = FromContext(r.Context())
		http.Error(w, "nope", http.StatusBadRequest)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/inference", nil))

	require.NotNil(t, fromCtx)
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, 400.0, entries[0]["status"])
	assert.Equal(t, "/api/v1/inference", entries[0]["path"])
	assert.NotEmpty(t, entries[0]["request_id"])
	assert.Equal(t, "Bad Request", entries[0]["error"])
	assert.Equal(t, "HTTP/1.1", entries[0]["protocol"])
}

func TestFromContext_Default(t *testing.T) {
	l := FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	require.NotNil(t, l)
	assert.Equal(t, InfoLevel, l.Level())
}
