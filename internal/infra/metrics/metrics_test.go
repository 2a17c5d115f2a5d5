package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	m := New()

	m.MessagePublished("TASK")
	m.MessagePublished("TASK")
	m.MessageUnresolved()
	m.GovernanceDecision("")
	m.GovernanceDecision("cooldown")
	m.AuthorizationDenied("COMMAND", "capability")
	m.Promoted()
	m.MemoryWrite("sqlite", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("TASK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesUnresolved))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GovernanceDecisions.WithLabelValues("allowed", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GovernanceDecisions.WithLabelValues("blocked", "cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDenied.WithLabelValues("COMMAND", "capability")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Promotions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryWrites.WithLabelValues("sqlite", "ok")))
}

func TestInboxDepthAndForget(t *testing.T) {
	m := New()
	m.SetInboxDepth("worker", 3)
	m.MessageDelivered("worker")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InboxDepth.WithLabelValues("worker")))

	m.ForgetAgent("worker")
	assert.Equal(t, 0, testutil.CollectAndCount(m.InboxDepth))
	assert.Equal(t, 0, testutil.CollectAndCount(m.MessagesDelivered))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.MessagePublished("INFO")
	m.MessageUnresolved()
	m.MessageDelivered("a")
	m.GovernanceDecision("loop")
	m.AuthorizationDenied("TASK", "hierarchy")
	m.Promoted()
	m.ObserveHandler("responder", time.Millisecond)
	m.HandlerFailed("a")
	m.SetInboxDepth("a", 1)
	m.ForgetAgent("a")
	m.SetAgentsLive(1)
	m.MemoryWrite("redis", "error")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetAgentsLive(2)
	m.ObserveHandler("responder", 10*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "agenthub_agents_live 2"), "missing gauge in:\n%s", text)
	assert.Contains(t, text, "agenthub_handler_duration_seconds_bucket")
	assert.Contains(t, text, "go_goroutines")
}
