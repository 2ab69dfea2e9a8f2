package webmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
)

func TestBroadcasterReplaysLastEvent(t *testing.T) {
	m := metrics.New()
	b := NewBroadcaster("test", true, m)
	require.NoError(t, b.Publish("view", map[string]int{"version": 1}))
	require.NoError(t, b.Publish("view", map[string]int{"version": 2}))

	id, ch := b.Subscribe()
	ev := <-ch
	assert.Equal(t, "view", ev.Name)
	assert.JSONEq(t, `{"version":2}`, string(ev.JSONData))
	assert.Equal(t, uint64(1), m.ActiveClients.Load())

	b.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, uint64(0), m.ActiveClients.Load())
}

func TestBroadcasterSkipsSlowClients(t *testing.T) {
	b := NewBroadcaster("test", false, nil)
	_, ch := b.Subscribe()
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish("notification", map[string]int{"n": i}))
	}
	assert.Len(t, ch, cap(ch))

	b.Stop()
	b.Stop()
	assert.Equal(t, 0, b.Clients())
	_, late := b.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
}

func TestSerializeEventRequiresObject(t *testing.T) {
	_, err := serializeEvent("view", []int{1, 2})
	assert.Error(t, err)

	ev, err := serializeEvent("view", map[string]any{"connection": "connected"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ProtobufData)
}
