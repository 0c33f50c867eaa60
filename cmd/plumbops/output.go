package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/c-r-lewis/plumbops/internal/app"
	"github.com/c-r-lewis/plumbops/internal/executor"
	"github.com/c-r-lewis/plumbops/internal/store"
)

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printRecap writes the per-host recap of a run, then every failed or
// indeterminate task.
func printRecap(w io.Writer, r *executor.RunResult) {
	mode := ""
	if r.CheckMode {
		mode = " (check mode)"
	}
	fmt.Fprintf(w, "\nRun %s%s: %s in %s\n\n", r.ID, mode, r.Playbook, r.Duration().Round(time.Millisecond))

	tw := newTable(w)
	fmt.Fprintln(tw, "HOST\tSTATE\tCHANGED\tOK\tSKIPPED\tFAILED\tINDETERMINATE")
	for _, name := range r.HostNames() {
		h, _ := r.Host(name)
		c := h.Counts()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			h.Host, h.State, c.Changed, c.Satisfied, c.Skipped, c.Failed, c.Indeterminate)
	}
	_ = tw.Flush()

	var problems []string
	for _, name := range r.HostNames() {
		h, _ := r.Host(name)
		if h.State == executor.ConnUnreachable {
			problems = append(problems, fmt.Sprintf("UNREACHABLE %s after %d attempts: %s", h.Host, h.Attempts, h.Error))
		}
		for _, list := range [][]executor.TaskResult{h.Tasks, h.Handlers} {
			for _, t := range list {
				switch t.Status {
				case executor.StatusFailed:
					problems = append(problems, fmt.Sprintf("FAILED %s [%s]: %s", h.Host, t.Task, t.Error))
				case executor.StatusIndeterminate:
					problems = append(problems, fmt.Sprintf("INDETERMINATE %s [%s]: remote state unknown, verify by hand: %s", h.Host, t.Task, t.Error))
				}
			}
		}
	}
	if len(problems) > 0 {
		fmt.Fprintln(w)
		for _, p := range problems {
			fmt.Fprintln(w, p)
		}
	}
}

func printPlan(w io.Writer, playbook string, plans []app.HostPlan) {
	if playbook != "" {
		fmt.Fprintf(w, "Playbook %s is valid\n", playbook)
	} else {
		fmt.Fprintln(w, "Playbook is valid")
	}
	for _, p := range plans {
		fmt.Fprintf(w, "\n%s (%s): %d tasks\n", p.Host, p.Addr, len(p.Tasks))
		for i, task := range p.Tasks {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, task)
		}
	}
}

func printRuns(w io.Writer, runs []store.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "RUN ID\tPLAYBOOK\tSTARTED\tDURATION\tHOSTS\tCHANGED\tFAILED\tRESULT")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(run.RunID), run.Playbook, run.StartedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.Hosts, run.Changed, run.Failed+run.Indeterminate, runResult(run))
	}
	_ = tw.Flush()
}

func printRun(w io.Writer, run *store.RunRecord) {
	fmt.Fprintf(w, "Run:      %s\n", run.RunID)
	fmt.Fprintf(w, "Playbook: %s\n", run.Playbook)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Result:   %s\n", runResult(*run))
	if run.FailedHosts != "" {
		fmt.Fprintf(w, "Failed:   %s\n", run.FailedHosts)
	}
	fmt.Fprintln(w)

	tw := newTable(w)
	fmt.Fprintln(tw, "HOST\tTASK\tSTATUS\tDURATION\tDETAIL")
	for _, t := range run.Tasks {
		name := t.Task
		if t.Handler {
			name += " (handler)"
		}
		status := t.Status
		if t.Reason != "" {
			status += "/" + t.Reason
		}
		detail := t.Msg
		if t.Error != "" {
			detail = t.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.Host, name, status, time.Duration(t.DurationMs)*time.Millisecond, detail)
	}
	_ = tw.Flush()
}

func runResult(run store.RunRecord) string {
	switch {
	case !run.Succeeded():
		return "failed"
	case run.CheckMode:
		return "ok (check)"
	default:
		return "ok"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
