package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	p := NewPrometheus()
	p.RecordSent("bot", "group")
	p.RecordSent("bot", "group")
	p.RecordReceived("bot", "friend")
	p.RecordEvent("bot", "group_increase")

	if got := testutil.ToFloat64(p.sent.WithLabelValues("bot", "group")); got != 2 {
		t.Fatalf("sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.received.WithLabelValues("bot", "friend")); got != 1 {
		t.Fatalf("received = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.events.WithLabelValues("bot", "group_increase")); got != 1 {
		t.Fatalf("events = %v, want 1", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus()
	p.RecordSent("bot", "friend")

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `qqbot_messages_sent_total{account="bot",kind="friend"} 1`) {
		t.Fatalf("metrics body missing sent counter:\n%s", body)
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordSent("a", "b")
	r.RecordReceived("a", "b")
	r.RecordEvent("a", "b")
}
