package executor

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/AlexanderGrooff/drover/pkg"
	"github.com/AlexanderGrooff/drover/pkg/common"
	"github.com/AlexanderGrooff/drover/pkg/config"
)

// resultQueueCapacity bounds how far workers can run ahead of the
// coordinator before their writes block.
const resultQueueCapacity = 1024

// Runner executes a playbook: one worker pool and one strategy loop per
// play, with facts carried across plays by a single variable manager.
type Runner struct {
	cfg        *config.Config
	inventory  *pkg.Inventory
	display    *pkg.Display
	configFile string
	status     *statusBoard
	stats      *pkg.AggregateStats
}

func NewRunner(cfg *config.Config, inventory *pkg.Inventory, display *pkg.Display, configFile string) *Runner {
	return &Runner{
		cfg:        cfg,
		inventory:  inventory,
		display:    display,
		configFile: configFile,
		status:     newStatusBoard(),
		stats:      pkg.NewAggregateStats(),
	}
}

// Status reports run progress for the HTTP server.
func (r *Runner) Status() pkg.RunStatus {
	return r.status.Snapshot()
}

// Stats exposes the run's aggregate statistics. Safe for concurrent reads.
func (r *Runner) Stats() *pkg.AggregateStats {
	return r.stats
}

// Run drives every play in order and returns the combined run result
// bitmask. A play that leaves no host alive ends the playbook early, like
// a play matching no hosts is skipped with a warning.
func (r *Runner) Run(plays []*pkg.Play) (int, error) {
	common.SetRunID(uuid.New().String())

	stats := r.stats
	varMgr := pkg.NewVariableManager(r.inventory, nil, r.cfg.ExtraVars, r.cfg.CheckMode)

	runResult := RunOK
	for _, play := range plays {
		hosts := r.inventory.FilterByLimit(r.inventory.MatchPattern(play.Hosts), r.cfg.Limit)
		if len(hosts) == 0 {
			common.LogWarn("No hosts matched, skipping play", map[string]interface{}{
				"play":    play.Name,
				"pattern": play.Hosts,
				"limit":   r.cfg.Limit,
			})
			continue
		}

		r.display.PlayBanner(play)
		hostNames := make([]string, 0, len(hosts))
		for _, host := range hosts {
			hostNames = append(hostNames, host.Name)
		}
		varMgr.ResetPlay(play.Vars, hostNames)

		result, base, err := r.runPlay(play, hosts, varMgr, stats)
		if err != nil {
			r.display.Recap(stats)
			return runResult | result | RunError, err
		}
		runResult |= result

		if allHostsLost(base) {
			common.LogWarn("No hosts left alive, ending playbook", map[string]interface{}{
				"play": play.Name,
			})
			break
		}
	}

	r.display.Recap(stats)
	return runResult, nil
}

func (r *Runner) runPlay(play *pkg.Play, hosts []*pkg.Host, varMgr *pkg.VariableManager, stats *pkg.AggregateStats) (int, *StrategyBase, error) {
	iterator := pkg.NewPlayIterator(play, hosts)
	handlers := pkg.NewHandlerTracker(play.Handlers)
	queue := NewResultQueue(resultQueueCapacity)
	pool := NewPool(r.cfg.Forks, r.cfg, queue, r.spawnArgs())
	defer pool.Shutdown()

	base := NewStrategyBase(r.cfg, play, r.inventory, varMgr, iterator, handlers, stats, r.display, queue, pool)
	base.status = r.status

	strategyName := play.Strategy
	if strategyName == "" {
		strategyName = r.cfg.Strategy
	}
	strategy, err := NewStrategy(strategyName, base)
	if err != nil {
		return RunError, base, err
	}
	r.status.beginPlay(play.Name, strategyName, hosts)

	common.LogInfo("Starting play", map[string]interface{}{
		"play":     play.Name,
		"hosts":    len(hosts),
		"forks":    r.cfg.Forks,
		"strategy": strategyName,
	})

	playCtx := &pkg.PlayContext{
		PlayName:  play.Name,
		CheckMode: r.cfg.CheckMode,
		DiffMode:  r.cfg.DiffMode,
	}
	result, err := strategy.Run(playCtx)
	if err != nil {
		return result, base, fmt.Errorf("play %q: %w", play.Name, err)
	}
	return result, base, nil
}

// spawnArgs are the extra arguments worker subprocesses start with, so a
// child resolves the same configuration the coordinator did.
func (r *Runner) spawnArgs() []string {
	if r.configFile == "" {
		return nil
	}
	return []string{"--config", r.configFile}
}

// allHostsLost reports whether every host of the play ended failed or
// unreachable.
func allHostsLost(base *StrategyBase) bool {
	for _, host := range base.iterator.Hosts() {
		if _, dark := base.unreachableHosts[host.Name]; dark {
			continue
		}
		if _, failed := base.failedHosts[host.Name]; failed {
			continue
		}
		if base.iterator.IsFailed(host.Name) {
			continue
		}
		return false
	}
	return true
}
