package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ChuLiYu/fiberjobs/pkg/jobsystem"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	failColor  = color.New(color.FgRed, color.Bold)
	dimColor   = color.New(color.Faint)
)

func mark(ok bool) string {
	if ok {
		return okColor.Sprint("✅")
	}
	return failColor.Sprint("❌")
}

func printBanner(out io.Writer, title string) {
	titleColor.Fprintln(out, "\n╔═══════════════════════════════════════════════════════════╗")
	titleColor.Fprintf(out, "║ %-57s ║\n", title)
	titleColor.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
}

func printDemoReport(out io.Writer, runID string, r demoReport, st jobsystem.Stats) {
	printBanner(out, "fiberjobs demo run")
	dimColor.Fprintf(out, "  run id: %s\n\n", runID)

	fmt.Fprintln(out, "🧵 Workload:")
	fmt.Fprintf(out, "  ├─ %s Fan-out:   %d jobs, sum=%d (want %d)\n",
		mark(r.FanOutSum == r.FanOutWant), r.FanOutJobs, r.FanOutSum, r.FanOutWant)
	fmt.Fprintf(out, "  ├─ %s Nested:    %d parents, %d children\n",
		mark(r.NestedChildren == int64(r.NestedParents*demoChildren)), r.NestedParents, r.NestedChildren)
	fmt.Fprintf(out, "  ├─ %s Affinity:  %d pinned jobs, %d misses\n",
		mark(r.AffinityMisses == 0), r.AffinityJobs, r.AffinityMisses)
	fmt.Fprintf(out, "  └─ %s Chain:     order %v\n", mark(r.chainOK()), r.ChainOrder)
	fmt.Fprintln(out)

	printStats(out, st)
	fmt.Fprintf(out, "⏱  Elapsed: %s\n", r.Elapsed)

	if r.OK() {
		okColor.Fprintln(out, "\nAll stages passed")
	} else {
		failColor.Fprintln(out, "\nSome stages failed")
	}
}

func printStressReport(out io.Writer, runID string, r stressReport, st jobsystem.Stats) {
	printBanner(out, "fiberjobs stress run")
	dimColor.Fprintf(out, "  run id: %s\n\n", runID)

	fmt.Fprintln(out, "📊 Fan-in:")
	fmt.Fprintf(out, "  ├─ Producers:  %d\n", r.Producers)
	fmt.Fprintf(out, "  ├─ %s Completed: %d/%d\n", mark(r.Completed == int64(r.Jobs)), r.Completed, r.Jobs)
	fmt.Fprintf(out, "  ├─ Elapsed:    %s\n", r.Elapsed)
	fmt.Fprintf(out, "  └─ Throughput: %.0f jobs/s\n", r.Throughput)
	fmt.Fprintln(out)

	printStats(out, st)
}

func printStats(out io.Writer, st jobsystem.Stats) {
	fmt.Fprintln(out, "📋 Scheduler:")
	fmt.Fprintf(out, "  ├─ Workers:        %d\n", st.Workers)
	fmt.Fprintf(out, "  ├─ Fibers:         %d free / %d started / %d capacity\n",
		st.FreeFibers, st.StartedFibers, st.FiberCapacity)
	fmt.Fprintf(out, "  ├─ Parked/Ready:   %d / %d\n", st.ParkedFibers, st.ReadyFibers)
	fmt.Fprintf(out, "  ├─ Counters:       %d live / %d capacity\n", st.LiveCounters, st.CounterCapacity)
	fmt.Fprintf(out, "  └─ Jobs per worker: %v\n", st.JobsExecuted)
	fmt.Fprintln(out)
}
