package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]interface{}
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("debug", "json", &buf)

	log.Info("document created", Field{Key: "collection", Value: "user"}, Err(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "document created", lines[0]["msg"])
	assert.Equal(t, "user", lines[0]["collection"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, "info", lines[0]["level"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("warn", "json", &buf)

	log.Info("dropped")
	log.Warn("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "warning", lines[0]["level"])
}

func TestLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("loud", "json", &buf)

	log.Debug("dropped")
	log.Info("kept")

	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestLogger_WithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("info", "json", &buf)

	ctx := ContextWithRequestID(context.Background(), "req-42")
	log.WithContext(ctx).Info("hello", Field{Key: "op", Value: "read"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req-42", lines[0]["request_id"])
	assert.Equal(t, "read", lines[0]["op"])
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	log := NewWithOutput("info", "json", &buf)

	var seen string
	router := gin.New()
	router.Use(GinMiddleware("webportal", log, "/health"))
	router.GET("/ping", func(c *gin.Context) {
		seen, _ = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("generates request id", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "Request completed", lines[0]["msg"])
		assert.Equal(t, "webportal", lines[0]["service"])
	})

	t.Run("keeps incoming request id", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(RequestIDHeader, "abc")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "abc", seen)
		assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
	})

	t.Run("skips configured paths", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decodeLines(t, &buf))
	})
}
