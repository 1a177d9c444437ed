package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chathub/internal/generation"
)

func TestCollectorsRecord(t *testing.T) {
	c := New()
	c.SetConnections(3)
	c.MessageStored("main", "message")
	c.MessageStored("main", "message")
	c.DeliveryDropped()
	c.CommandHandled("ban", "ok")
	c.TaskStarted()
	c.TaskStarted()
	c.TaskFinished(generation.Stopped)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.messages.WithLabelValues("main", "message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("ban", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.generationActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.generationResults.WithLabelValues("stopped")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.CommandHandled("kick", "rejected")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chathub_commands_total{command="kick",result="rejected"} 1`)
	assert.Contains(t, string(body), "chathub_connections 0")
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.SetConnections(1)
		c.MessageStored("dm", "media")
		c.DeliveryDropped()
		c.CommandHandled("x", "ok")
		c.TaskStarted()
		c.TaskFinished(generation.Completed)
	})
}
