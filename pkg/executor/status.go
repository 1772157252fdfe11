package executor

import (
	"sync"

	"github.com/AlexanderGrooff/drover/pkg"
)

// statusBoard is the snapshot of a run the HTTP server reads while the
// coordinator is busy. The coordinator writes at play boundaries and per
// processed result; readers get a copy.
type statusBoard struct {
	mu     sync.Mutex
	status pkg.RunStatus
}

func newStatusBoard() *statusBoard {
	return &statusBoard{status: pkg.RunStatus{Hosts: make(map[string]string)}}
}

func (b *statusBoard) beginPlay(play, strategy string, hosts []*pkg.Host) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Play = play
	b.status.Strategy = strategy
	b.status.PendingResults = 0
	b.status.Hosts = make(map[string]string, len(hosts))
	for _, host := range hosts {
		b.status.Hosts[host.Name] = "pending"
	}
}

func (b *statusBoard) noteResult(result *pkg.TaskResult, pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.PendingResults = pending
	b.status.Hosts[result.HostName] = string(result.Status)
}

func (b *statusBoard) notePending(pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.PendingResults = pending
}

// Snapshot returns a copy safe to serialize concurrently with updates.
func (b *statusBoard) Snapshot() pkg.RunStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	hosts := make(map[string]string, len(b.status.Hosts))
	for name, state := range b.status.Hosts {
		hosts[name] = state
	}
	return pkg.RunStatus{
		Play:           b.status.Play,
		Strategy:       b.status.Strategy,
		PendingResults: b.status.PendingResults,
		Hosts:          hosts,
	}
}
