package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	m.Action("send-message")
	m.Action("send-message")
	m.Rejected("edit-message", "Forbidden")
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.RoomStats("general", 3, 10)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.actions.WithLabelValues("send-message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("edit-message", "Forbidden")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.roomMembers.WithLabelValues("general")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.roomMessages.WithLabelValues("general")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Action("x")
		m.Broadcast("y")
		m.SlowClient()
		m.ArchiveDropped()
		m.RoomStats("general", 1, 1)
	})
}
