package executor

import (
	"fmt"
	"time"

	"github.com/AlexanderGrooff/drover/pkg"
)

type cacheKey struct {
	hostName string
	taskUUID string
}

// queuedTask is the dispatch-time snapshot held until the result returns.
type queuedTask struct {
	host         *pkg.Host
	task         *pkg.Task
	dispatchedAt time.Time
}

// QueuedTaskCache correlates results back to their originating dispatch.
// Only the coordinator goroutine touches it, so it carries no lock. A
// duplicate insert or a missed lookup is a protocol violation and fails
// loudly instead of being papered over.
type QueuedTaskCache struct {
	entries map[cacheKey]*queuedTask
}

func NewQueuedTaskCache() *QueuedTaskCache {
	return &QueuedTaskCache{entries: make(map[cacheKey]*queuedTask)}
}

// Insert records a dispatch. A second dispatch for a live (host, task) pair
// means the scheduler double-sent and is rejected.
func (c *QueuedTaskCache) Insert(host *pkg.Host, task *pkg.Task) error {
	key := cacheKey{hostName: host.Name, taskUUID: task.UUID}
	if _, exists := c.entries[key]; exists {
		return fmt.Errorf("task %q (%s) is already in flight for host %q", task.String(), task.UUID, host.Name)
	}
	c.entries[key] = &queuedTask{host: host, task: task, dispatchedAt: time.Now()}
	return nil
}

// Get looks up the dispatch snapshot for a result.
func (c *QueuedTaskCache) Get(hostName, taskUUID string) (*queuedTask, bool) {
	entry, ok := c.entries[cacheKey{hostName: hostName, taskUUID: taskUUID}]
	return entry, ok
}

// Remove drops the entry once its result is fully processed.
func (c *QueuedTaskCache) Remove(hostName, taskUUID string) {
	delete(c.entries, cacheKey{hostName: hostName, taskUUID: taskUUID})
}

// InFlightForTask counts live dispatches of one task across hosts, the
// input for throttle decisions.
func (c *QueuedTaskCache) InFlightForTask(taskUUID string) int {
	count := 0
	for key := range c.entries {
		if key.taskUUID == taskUUID {
			count++
		}
	}
	return count
}

// Len reports the number of in-flight dispatches.
func (c *QueuedTaskCache) Len() int {
	return len(c.entries)
}
