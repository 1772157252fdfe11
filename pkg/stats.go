package pkg

import (
	"sort"
	"sync"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

// customStatsRunKey holds play-wide custom stats that are not tied to a host.
const customStatsRunKey = "_run"

// AggregateStats accumulates per-host counters over a run. The processor is
// the only writer during execution, the recap reads it afterwards.
type AggregateStats struct {
	mu sync.Mutex

	Processed map[string]int
	Ok        map[string]int
	Changed   map[string]int
	Dark      map[string]int
	Failures  map[string]int
	Skipped   map[string]int
	Rescued   map[string]int
	Ignored   map[string]int

	custom map[string]map[string]interface{}
}

// SummaryStats is a point-in-time snapshot of one host's counters.
type SummaryStats struct {
	Ok          int `json:"ok"`
	Changed     int `json:"changed"`
	Unreachable int `json:"unreachable"`
	Failures    int `json:"failures"`
	Skipped     int `json:"skipped"`
	Rescued     int `json:"rescued"`
	Ignored     int `json:"ignored"`
}

func NewAggregateStats() *AggregateStats {
	return &AggregateStats{
		Processed: make(map[string]int),
		Ok:        make(map[string]int),
		Changed:   make(map[string]int),
		Dark:      make(map[string]int),
		Failures:  make(map[string]int),
		Skipped:   make(map[string]int),
		Rescued:   make(map[string]int),
		Ignored:   make(map[string]int),
		custom:    make(map[string]map[string]interface{}),
	}
}

// Increment bumps the named counter for a host and marks the host processed.
func (s *AggregateStats) Increment(what, host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Processed[host] = 1
	bucket := s.bucket(what)
	if bucket == nil {
		return
	}
	bucket[host]++
}

func (s *AggregateStats) bucket(what string) map[string]int {
	switch what {
	case "ok":
		return s.Ok
	case "changed":
		return s.Changed
	case "dark":
		return s.Dark
	case "failures":
		return s.Failures
	case "skipped":
		return s.Skipped
	case "rescued":
		return s.Rescued
	case "ignored":
		return s.Ignored
	}
	return nil
}

// Summarize returns a snapshot of one host's counters.
func (s *AggregateStats) Summarize(host string) SummaryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SummaryStats{
		Ok:          s.Ok[host],
		Changed:     s.Changed[host],
		Unreachable: s.Dark[host],
		Failures:    s.Failures[host],
		Skipped:     s.Skipped[host],
		Rescued:     s.Rescued[host],
		Ignored:     s.Ignored[host],
	}
}

// ProcessedHosts returns the sorted list of hosts that produced any result.
func (s *AggregateStats) ProcessedHosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hosts := make([]string, 0, len(s.Processed))
	for host := range s.Processed {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// SetCustomStats replaces custom stats for a host. An empty host targets the
// play-wide bucket.
func (s *AggregateStats) SetCustomStats(data map[string]interface{}, host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if host == "" {
		host = customStatsRunKey
	}
	s.custom[host] = common.CopyMap(data)
}

// UpdateCustomStats merges data into a host's custom stats. Numbers add,
// lists append, maps merge recursively, everything else replaces.
func (s *AggregateStats) UpdateCustomStats(data map[string]interface{}, host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if host == "" {
		host = customStatsRunKey
	}
	if s.custom[host] == nil {
		s.custom[host] = make(map[string]interface{})
	}
	for key, value := range data {
		s.custom[host][key] = mergeCustomStat(s.custom[host][key], value)
	}
}

// CustomStats returns a copy of all custom stats keyed by host, with the
// play-wide bucket under "_run".
func (s *AggregateStats) CustomStats() map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(s.custom))
	for host, data := range s.custom {
		out[host] = common.CopyMap(data)
	}
	return out
}

func mergeCustomStat(existing, incoming interface{}) interface{} {
	switch oldVal := existing.(type) {
	case int:
		if newVal, ok := incoming.(int); ok {
			return oldVal + newVal
		}
	case float64:
		if newVal, ok := incoming.(float64); ok {
			return oldVal + newVal
		}
	case []interface{}:
		if newVal, ok := incoming.([]interface{}); ok {
			return append(append([]interface{}{}, oldVal...), newVal...)
		}
	case map[string]interface{}:
		if newVal, ok := incoming.(map[string]interface{}); ok {
			merged := common.CopyMap(oldVal)
			for key, value := range newVal {
				merged[key] = mergeCustomStat(merged[key], value)
			}
			return merged
		}
	}
	return incoming
}
