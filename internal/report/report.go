// Package report prints scheduler status to a terminal: per-model,
// per-priority queue depth and wait time, plus recent admission events. It
// is the terminal counterpart to the teacher's HTML dashboard — the
// view-model assembly is the same idea (snapshot state, compute rows,
// render), but there is no HTTP surface to serve here.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/kestrun/inferqueue/internal/activity"
	"github.com/kestrun/inferqueue/internal/metrics"
)

// ModelLevelSnapshot is one row of the status table: a model's queue at one
// priority level.
type ModelLevelSnapshot struct {
	ModelID       string
	PriorityLevel uint32
	QueueSize     int
	OldestWaitNs  uint64 // 0/sentinel means "no pending payload"
	ClosestTimeNs uint64
	WaitStats     metrics.WaitStats
	HasWaitStats  bool
}

// Reporter renders status snapshots and activity events to an io.Writer,
// choosing a live-redraw table on a TTY and append-only lines otherwise.
type Reporter struct {
	out        io.Writer
	isTerminal bool
}

// NewReporter builds a Reporter writing to out. isTerminal is auto-detected
// via go-isatty when out is an *os.File; for any other writer it is false
// and output is append-only.
func NewReporter(out io.Writer) *Reporter {
	r := &Reporter{out: out}
	if f, ok := out.(*os.File); ok {
		r.isTerminal = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return r
}

// Render prints the current snapshot set, sorted by model then priority
// level, followed by the most recent activity events (capped at
// maxEvents).
func (r *Reporter) Render(rows []ModelLevelSnapshot, events []activity.Event, maxEvents int) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ModelID != rows[j].ModelID {
			return rows[i].ModelID < rows[j].ModelID
		}
		return rows[i].PriorityLevel < rows[j].PriorityLevel
	})

	if r.isTerminal {
		fmt.Fprint(r.out, "\033[H\033[2J")
	}

	fmt.Fprintf(r.out, "%-20s %-6s %8s %14s %14s %10s\n", "MODEL", "PRIO", "QUEUE", "OLDEST WAIT", "CLOSEST TMO", "AVG WAIT")
	for _, row := range rows {
		oldest := "-"
		if row.OldestWaitNs != 0 && row.OldestWaitNs != math.MaxUint64 {
			oldest = humanize.RelTime(time.Now().Add(-time.Duration(row.OldestWaitNs)), time.Now(), "", "")
		}
		closest := "-"
		if row.ClosestTimeNs != 0 {
			closest = humanize.RelTime(time.Now(), time.Now().Add(time.Duration(row.ClosestTimeNs)), "", "")
		}
		avg := "-"
		if row.HasWaitStats {
			avg = fmt.Sprintf("%.0fms", row.WaitStats.EWMAms)
		}
		fmt.Fprintf(r.out, "%-20s %-6d %8d %14s %14s %10s\n",
			row.ModelID, row.PriorityLevel, row.QueueSize, oldest, closest, avg)
	}

	if maxEvents <= 0 || len(events) == 0 {
		return
	}
	fmt.Fprintln(r.out, "\nrecent activity:")
	for i, e := range events {
		if i >= maxEvents {
			break
		}
		fmt.Fprintf(r.out, "  %s  %-20s model=%s prio=%d corr=%s %s\n",
			e.At.Format("15:04:05.000"), e.Type, e.ModelID, e.PriorityLevel, e.CorrelationID, e.Note)
	}
}
