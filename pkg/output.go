package pkg

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/AlexanderGrooff/drover/pkg/common"
)

const bannerPadding = "****************************************************"

// Display renders play progress. In plain format it prints the familiar
// banner and per-result lines to stdout, in structured formats everything
// goes through the logger instead.
type Display struct {
	format string
	out    io.Writer
}

func NewDisplay(format string) *Display {
	return &Display{format: format, out: os.Stdout}
}

// NewDisplayTo renders to a specific writer, used by tests.
func NewDisplayTo(format string, out io.Writer) *Display {
	return &Display{format: format, out: out}
}

func (d *Display) plain() bool {
	return d.format == "plain"
}

func (d *Display) PlayBanner(play *Play) {
	if d.plain() {
		fmt.Fprintf(d.out, "\nPLAY [%s] %s\n", play.Name, bannerPadding)
		return
	}
	common.LogInfo("Starting play", map[string]interface{}{"play": play.Name})
}

func (d *Display) TaskBanner(task *Task) {
	if d.plain() {
		fmt.Fprintf(d.out, "\nTASK [%s] %s\n", task.String(), bannerPadding)
	}
}

func (d *Display) HandlerBanner(handler *Task) {
	if d.plain() {
		fmt.Fprintf(d.out, "\nRUNNING HANDLER [%s] %s\n", handler.String(), bannerPadding)
	}
}

// Result prints one task result line, or one line per item when the
// payload carries loop sub-results.
func (d *Display) Result(result *TaskResult) {
	if subs := result.SubResults(); len(subs) > 0 {
		for _, sub := range subs {
			d.itemResult(result, sub)
		}
		return
	}

	logData := map[string]interface{}{
		"host":   result.HostName,
		"task":   result.TaskFields.Name,
		"status": string(result.Status),
	}

	if diff, ok := result.OriginalResult["diff"].(string); ok && diff != "" && d.plain() {
		fmt.Fprint(d.out, diff)
	}

	switch result.Status {
	case StatusFailed, StatusFailedAll:
		if d.plain() {
			fmt.Fprintf(d.out, "failed: [%s] => (%v)\n", result.HostName, result.Msg())
		} else {
			logData["error"] = result.Msg()
			common.LogError("Task failed", logData)
		}
	case StatusFailedIgnored:
		if d.plain() {
			fmt.Fprintf(d.out, "failed: [%s] => (ignored error: %v)\n", result.HostName, result.Msg())
		} else {
			logData["ignored"] = true
			logData["error"] = result.Msg()
			common.LogWarn("Task failed (ignored)", logData)
		}
	case StatusUnreachable, StatusUnreachableIgnored:
		if d.plain() {
			fmt.Fprintf(d.out, "unreachable: [%s] => (%v)\n", result.HostName, result.Msg())
		} else {
			logData["error"] = result.Msg()
			common.LogError("Host unreachable", logData)
		}
	case StatusSkipped:
		if d.plain() {
			fmt.Fprintf(d.out, "skipped: [%s]\n", result.HostName)
		} else {
			common.LogInfo("Task skipped", logData)
		}
	default:
		if result.Changed {
			logData["changed"] = true
			if d.plain() {
				fmt.Fprintf(d.out, "changed: [%s]\n", result.HostName)
			} else {
				common.LogInfo("Task changed", logData)
			}
			return
		}
		if d.plain() {
			if msg := result.Msg(); msg != "" {
				fmt.Fprintf(d.out, "ok: [%s] => %s\n", result.HostName, msg)
			} else {
				fmt.Fprintf(d.out, "ok: [%s]\n", result.HostName)
			}
		} else {
			common.LogInfo("Task ok", logData)
		}
	}
}

// itemResult prints one loop item line. Each item classifies on its own
// payload; the aggregate status only decides the run's bookkeeping.
func (d *Display) itemResult(result *TaskResult, sub map[string]interface{}) {
	item := sub["item"]
	if name, ok := sub["ansible_loop_var"].(string); ok && name != "" {
		item = sub[name]
	}
	msg, _ := sub["msg"].(string)

	if !d.plain() {
		common.LogInfo("Loop item result", map[string]interface{}{
			"host":    result.HostName,
			"task":    result.TaskFields.Name,
			"item":    item,
			"failed":  IsTruthy(sub["failed"]),
			"skipped": IsTruthy(sub["skipped"]),
			"changed": IsTruthy(sub["changed"]),
			"msg":     msg,
		})
		return
	}

	switch {
	case IsTruthy(sub["failed"]):
		fmt.Fprintf(d.out, "failed: [%s] (item=%v) => (%v)\n", result.HostName, item, msg)
	case IsTruthy(sub["skipped"]):
		fmt.Fprintf(d.out, "skipped: [%s] (item=%v)\n", result.HostName, item)
	case IsTruthy(sub["changed"]):
		fmt.Fprintf(d.out, "changed: [%s] (item=%v)\n", result.HostName, item)
	case msg != "":
		fmt.Fprintf(d.out, "ok: [%s] (item=%v) => %s\n", result.HostName, item, msg)
	default:
		fmt.Fprintf(d.out, "ok: [%s] (item=%v)\n", result.HostName, item)
	}
}

// Recap prints the final per-host counters.
func (d *Display) Recap(stats *AggregateStats) {
	hosts := stats.ProcessedHosts()
	if !d.plain() {
		summary := make(map[string]interface{}, len(hosts))
		for _, host := range hosts {
			s := stats.Summarize(host)
			summary[host] = map[string]int{
				"ok": s.Ok, "changed": s.Changed, "unreachable": s.Unreachable,
				"failed": s.Failures, "skipped": s.Skipped, "rescued": s.Rescued,
				"ignored": s.Ignored,
			}
		}
		common.LogInfo("Play recap", map[string]interface{}{"stats": summary})
		return
	}

	fmt.Fprintf(d.out, "\nPLAY RECAP %s\n", bannerPadding)
	for _, host := range hosts {
		s := stats.Summarize(host)
		fmt.Fprintf(d.out, "%s : ok=%d    changed=%d    unreachable=%d    failed=%d    skipped=%d    rescued=%d    ignored=%d\n",
			host, s.Ok, s.Changed, s.Unreachable, s.Failures, s.Skipped, s.Rescued, s.Ignored)
	}

	custom := stats.CustomStats()
	if len(custom) > 0 {
		fmt.Fprintf(d.out, "\nCUSTOM STATS %s\n", bannerPadding)
		scopes := make([]string, 0, len(custom))
		for scope := range custom {
			scopes = append(scopes, scope)
		}
		sort.Strings(scopes)
		for _, scope := range scopes {
			label := scope
			if scope == customStatsRunKey {
				label = "RUN"
			}
			fmt.Fprintf(d.out, "%s: %v\n", label, custom[scope])
		}
	}
}
