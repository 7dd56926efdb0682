package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(3 * time.Second)
	m.Routed("unknown_session")
	m.Routed("dispatched")
	m.Routed("dispatched")
	m.ToolCall("echo", "ok", time.Millisecond)
	m.FrameWritten(nil)
	m.FrameWritten(errors.New("broken"))

	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Fatalf("sessions_active: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.sessionsOpened); got != 2 {
		t.Fatalf("sessions_opened_total: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.routedMessages.WithLabelValues("dispatched")); got != 2 {
		t.Fatalf("routed dispatched: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("echo", "ok")); got != 1 {
		t.Fatalf("tool calls: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.frames.WithLabelValues("error")); got != 1 {
		t.Fatalf("frame errors: want 1, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Shutdown("clean")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `mcp_shutdowns_total{result="clean"} 1`) {
		t.Fatalf("expected shutdown counter in exposition, got:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed(time.Second)
	m.Routed("x")
	m.RateLimited()
	m.ToolCall("t", "ok", 0)
	m.RequestStarted()
	m.RequestFinished()
	m.FrameWritten(nil)
	m.Shutdown("forced")
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}
