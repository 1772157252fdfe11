package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackerHandlers() []*Task {
	return []*Task{
		{Name: "restart nginx", UUID: "uuid-nginx", IsHandler: true, Listen: []string{"web changed"}},
		{Name: "restart varnish", UUID: "uuid-varnish", IsHandler: true, Listen: []string{"web changed"}},
		{Name: "reload firewall", UUID: "uuid-firewall", IsHandler: true},
	}
}

func TestHandlerTracker_NotifyByName(t *testing.T) {
	tracker := NewHandlerTracker(trackerHandlers())
	require.False(t, tracker.AnyNotified())

	assert.True(t, tracker.Notify("restart nginx", "h1"))
	assert.True(t, tracker.AnyNotified())
	assert.Equal(t, []string{"h1"}, tracker.NotifiedHosts("uuid-nginx"))
	assert.Empty(t, tracker.NotifiedHosts("uuid-varnish"))
}

func TestHandlerTracker_NotifyByListenTopic(t *testing.T) {
	tracker := NewHandlerTracker(trackerHandlers())

	assert.True(t, tracker.Notify("web changed", "h1"))
	assert.Equal(t, []string{"h1"}, tracker.NotifiedHosts("uuid-nginx"))
	assert.Equal(t, []string{"h1"}, tracker.NotifiedHosts("uuid-varnish"))
	assert.Empty(t, tracker.NotifiedHosts("uuid-firewall"))
}

func TestHandlerTracker_UnknownTopic(t *testing.T) {
	tracker := NewHandlerTracker(trackerHandlers())
	assert.False(t, tracker.Notify("no such handler", "h1"))
	assert.False(t, tracker.AnyNotified())
}

func TestHandlerTracker_NotifyIsIdempotentPerHost(t *testing.T) {
	tracker := NewHandlerTracker(trackerHandlers())
	tracker.Notify("restart nginx", "h1")
	tracker.Notify("restart nginx", "h1")
	tracker.Notify("restart nginx", "h2")

	assert.Equal(t, []string{"h1", "h2"}, tracker.NotifiedHosts("uuid-nginx"))
}

func TestHandlerTracker_ClearHandler(t *testing.T) {
	tracker := NewHandlerTracker(trackerHandlers())
	tracker.Notify("restart nginx", "h1")
	tracker.Notify("reload firewall", "h1")

	tracker.ClearHandler("uuid-nginx")
	assert.Empty(t, tracker.NotifiedHosts("uuid-nginx"))
	assert.True(t, tracker.AnyNotified(), "other handlers keep their notifications")

	// Running again after a new notification works.
	tracker.Notify("restart nginx", "h2")
	assert.Equal(t, []string{"h2"}, tracker.NotifiedHosts("uuid-nginx"))
}

func TestHandlerTracker_ClearHost(t *testing.T) {
	tracker := NewHandlerTracker(trackerHandlers())
	tracker.Notify("restart nginx", "h1")
	tracker.Notify("restart nginx", "h2")

	tracker.ClearHost("uuid-nginx", "h1")
	assert.Equal(t, []string{"h2"}, tracker.NotifiedHosts("uuid-nginx"))

	tracker.ClearHost("uuid-unknown", "h1")
}

func TestHandlerTracker_Reset(t *testing.T) {
	tracker := NewHandlerTracker(trackerHandlers())
	tracker.Notify("web changed", "h1")
	tracker.Notify("reload firewall", "h2")

	tracker.Reset()
	assert.False(t, tracker.AnyNotified())
}

func TestHandlerTracker_Stats(t *testing.T) {
	tracker := NewHandlerTracker(trackerHandlers())
	tracker.Notify("web changed", "h1")

	stats := tracker.Stats()
	assert.Equal(t, 3, stats["total_handlers"])
	assert.Equal(t, 2, stats["pending_notifications"])
}
