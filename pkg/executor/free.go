package executor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/AlexanderGrooff/drover/pkg"
)

// FreeStrategy lets every host run through the play as fast as it can,
// without waiting for the others. Each host has at most one task in
// flight; throttle caps how many hosts run the same task concurrently.
type FreeStrategy struct {
	*StrategyBase

	// lastHost rotates the starting point of each dispatch sweep so no
	// host is systematically favored.
	lastHost int
	banners  map[string]bool
}

func (s *FreeStrategy) Run(playCtx *pkg.PlayContext) (int, error) {
	s.banners = make(map[string]bool)

	for {
		hosts := s.hostsLeft()
		if len(hosts) == 0 {
			break
		}
		if s.lastHost >= len(hosts) {
			s.lastHost = 0
		}

		workToDo := false
		start := s.lastHost
		for {
			host := hosts[s.lastHost]
			s.lastHost = (s.lastHost + 1) % len(hosts)

			if !s.isBlocked(host.Name) {
				task := s.iterator.PeekNextTaskForHost(host.Name)
				if task != nil {
					workToDo = true
					if err := s.dispatchFree(host, task, playCtx); err != nil {
						return RunError, err
					}
				}
			}

			if s.lastHost == start {
				break
			}
		}

		drained := 0
		for {
			processed, err := s.processPendingResults()
			if err != nil {
				return RunError, err
			}
			if len(processed) == 0 {
				break
			}
			drained += len(processed)
		}

		if !workToDo && s.pendingResults == 0 {
			break
		}

		if drained == 0 {
			if s.pendingResults > 0 {
				if dead := s.pool.DeadWorker(); dead != nil {
					pkg.Inc("drover_worker_failures_total", map[string]string{"worker": strconv.Itoa(dead.id)})
					return RunError, fmt.Errorf("worker %d exited with %d results still pending", dead.id, s.pendingResults)
				}
			}
			time.Sleep(s.cfg.PollInterval)
		}
	}
	return s.finish(playCtx)
}

// dispatchFree decides whether the host's next task runs now, is consumed
// without running, or stays put for a later sweep.
func (s *FreeStrategy) dispatchFree(host *pkg.Host, task *pkg.Task, playCtx *pkg.PlayContext) error {
	if task.IsMeta() {
		s.iterator.NextTaskForHost(host.Name)
		return s.executeMeta(host, task, playCtx)
	}

	// The first host to reach a run_once task executes it; everyone else
	// consumes it without dispatching and picks up its results through
	// the fan-out.
	if task.RunOnce {
		if _, done := s.runOnceDispatched[task.UUID]; done {
			s.iterator.NextTaskForHost(host.Name)
			return nil
		}
	}

	throttle, err := resolveThrottle(task, s.varMgr.ScopeFor(host, task.Vars))
	if err != nil {
		return err
	}
	if throttle > 0 && s.cache.InFlightForTask(task.UUID) >= throttle {
		// At capacity. Leave the iterator alone and retry next sweep.
		return nil
	}

	s.iterator.NextTaskForHost(host.Name)
	if !s.banners[task.UUID] {
		s.display.TaskBanner(task)
		s.banners[task.UUID] = true
	}
	if task.RunOnce {
		s.runOnceDispatched[task.UUID] = struct{}{}
	}
	return s.queueTask(host, task, playCtx)
}
