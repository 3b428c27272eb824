package httpmw

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/elisa-dev/elisa/internal/common/logger"
)

func captureLogger(t *testing.T) (*logger.Logger, func() string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "http.log")
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		OutputPath: path,
	})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	return log, func() string {
		_ = log.Sync()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		return string(data)
	}
}

func TestRequestLogger_SessionRouteCarriesSessionID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, read := captureLogger(t)

	r := gin.New()
	r.Use(RequestLogger(log, "elisa-api"))
	r.GET("/api/sessions/:id/tasks", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions/sess-9/tasks", nil))

	out := read()
	if !strings.Contains(out, `"session_id":"sess-9"`) {
		t.Errorf("log line missing session_id field: %s", out)
	}
	if !strings.Contains(out, `"duration_ms"`) {
		t.Errorf("log line missing duration_ms field: %s", out)
	}
}

func TestRequestLogger_StreamRouteLoggedAtOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, read := captureLogger(t)

	r := gin.New()
	r.Use(RequestLogger(log, "elisa-api"))
	r.GET("/api/sessions/:id/stream", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions/sess-9/stream", nil))

	out := read()
	if !strings.Contains(out, "stream opened") {
		t.Errorf("stream route should log an open message: %s", out)
	}
	if strings.Contains(out, `"duration_ms"`) {
		t.Errorf("stream route should not report latency: %s", out)
	}
}
