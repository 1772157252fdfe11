package executor

import (
	"github.com/AlexanderGrooff/drover/pkg"
)

// LinearStrategy runs hosts in lockstep: every host finishes the current
// task before any host starts the next one. Hosts that failed into a
// rescue section drain it while the rest wait, ordered by their position
// in the play's block tree.
type LinearStrategy struct {
	*StrategyBase
}

func (s *LinearStrategy) Run(playCtx *pkg.PlayContext) (int, error) {
	for {
		group, task := s.nextTaskGroup()
		if task == nil {
			break
		}

		if task.IsMeta() {
			for _, host := range group {
				s.iterator.NextTaskForHost(host.Name)
				if err := s.executeMeta(host, task, playCtx); err != nil {
					return RunError, err
				}
			}
			if _, err := s.waitOnPendingResults(); err != nil {
				return RunError, err
			}
			continue
		}

		s.display.TaskBanner(task)
		dispatched := false
		for _, host := range group {
			s.iterator.NextTaskForHost(host.Name)
			if task.RunOnce && dispatched {
				continue
			}
			if err := s.queueTask(host, task, playCtx); err != nil {
				return RunError, err
			}
			dispatched = true
		}
		if _, err := s.waitOnPendingResults(); err != nil {
			return RunError, err
		}
	}
	return s.finish(playCtx)
}

// nextTaskGroup peeks every live host and returns the hosts whose next
// task sits at the earliest position in the play, together with that task.
// Hosts at the same position are by construction looking at the same task.
func (s *LinearStrategy) nextTaskGroup() ([]*pkg.Host, *pkg.Task) {
	var (
		group    []*pkg.Host
		groupPos []int
		task     *pkg.Task
	)
	for _, host := range s.hostsLeft() {
		peeked, pos := s.iterator.PeekWithPosition(host.Name)
		if peeked == nil {
			continue
		}
		if task == nil || pkg.ComparePositions(pos, groupPos) < 0 {
			group = []*pkg.Host{host}
			groupPos = pos
			task = peeked
			continue
		}
		if pkg.ComparePositions(pos, groupPos) == 0 {
			group = append(group, host)
		}
	}
	return group, task
}
