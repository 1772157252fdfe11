package pkg

import (
	"sort"
	"sync"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// HandlerTracker records which hosts have notified which handlers. Handlers
// run in declaration order at flush points, and a handler that ran can be
// notified again afterwards.
type HandlerTracker struct {
	mu       sync.RWMutex
	handlers []*Task
	notified map[string]map[string]bool
}

// NewHandlerTracker creates a tracker over a play's handlers.
func NewHandlerTracker(handlers []*Task) *HandlerTracker {
	ht := &HandlerTracker{
		handlers: handlers,
		notified: make(map[string]map[string]bool),
	}
	for _, handler := range handlers {
		common.LogDebug("Added handler to tracker", map[string]interface{}{
			"handler": handler.Name,
		})
	}
	return ht
}

// Handlers returns the play's handlers in declaration order.
func (ht *HandlerTracker) Handlers() []*Task {
	return ht.handlers
}

// Notify marks every handler responding to the topic as notified by the
// host. It reports whether any handler matched.
func (ht *HandlerTracker) Notify(topic, hostName string) bool {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	matched := false
	for _, handler := range ht.handlers {
		if !handler.RespondsTo(topic) {
			continue
		}
		matched = true
		if ht.notified[handler.UUID] == nil {
			ht.notified[handler.UUID] = make(map[string]bool)
		}
		if !ht.notified[handler.UUID][hostName] {
			ht.notified[handler.UUID][hostName] = true
			common.LogDebug("Handler notified", map[string]interface{}{
				"handler": handler.Name,
				"topic":   topic,
				"host":    hostName,
			})
		}
	}
	if !matched {
		common.LogWarn("No handler responds to notification", map[string]interface{}{
			"topic": topic,
			"host":  hostName,
		})
	}
	return matched
}

// AnyNotified reports whether any handler has pending notifications.
func (ht *HandlerTracker) AnyNotified() bool {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	for _, hosts := range ht.notified {
		if len(hosts) > 0 {
			return true
		}
	}
	return false
}

// NotifiedHosts returns the hosts that notified a handler, sorted by name.
func (ht *HandlerTracker) NotifiedHosts(handlerUUID string) []string {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	hosts := make([]string, 0, len(ht.notified[handlerUUID]))
	for hostName := range ht.notified[handlerUUID] {
		hosts = append(hosts, hostName)
	}
	sort.Strings(hosts)
	return hosts
}

// ClearHandler drops a handler's pending notifications after it ran.
func (ht *HandlerTracker) ClearHandler(handlerUUID string) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	delete(ht.notified, handlerUUID)
}

// ClearHost drops one host's pending notification for a handler, used when
// the host became ineligible before the handler could run.
func (ht *HandlerTracker) ClearHost(handlerUUID, hostName string) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	if hosts, ok := ht.notified[handlerUUID]; ok {
		delete(hosts, hostName)
	}
}

// Reset clears all notification state.
func (ht *HandlerTracker) Reset() {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.notified = make(map[string]map[string]bool)
}

// Stats summarizes the tracker for logging.
func (ht *HandlerTracker) Stats() map[string]interface{} {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	pending := 0
	for _, hosts := range ht.notified {
		pending += len(hosts)
	}
	return map[string]interface{}{
		"total_handlers":        len(ht.handlers),
		"pending_notifications": pending,
	}
}
