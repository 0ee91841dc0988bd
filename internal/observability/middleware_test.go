package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestHTTPMiddlewareLabelsRoutesAndLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	RegisterMetrics()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	r := gin.New()
	r.Use(HTTPMiddleware(logger))
	r.GET("/status", func(c *gin.Context) { c.Status(http.StatusOK) })

	unmatched := httpRequests.WithLabelValues(http.MethodGet, unmatchedRoute, "404")
	before := testutil.ToFloat64(unmatched)

	for _, path := range []string{"/status", "/wp-login.php", "/.env"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if delta := testutil.ToFloat64(unmatched) - before; delta != 2 {
		t.Fatalf("expected unknown paths to share one series, got delta %v", delta)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected one log line per request, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"level":"debug"`) || !strings.Contains(lines[0], `"route":"/status"`) {
		t.Fatalf("unexpected log for served route: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) || !strings.Contains(lines[1], `"path":"/wp-login.php"`) {
		t.Fatalf("unexpected log for unmatched route: %s", lines[1])
	}
}
