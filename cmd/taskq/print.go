package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/PyNishanth/taskq-system/job"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJobs renders jobs as a table, or JSON with --json.
func (a *app) printJobs(w io.Writer, jobs []*job.Job) error {
	if a.jsonOut {
		return printJSON(w, jobs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQUEUE\tSTATE\tATTEMPTS\tNEXT RUN\tLAST ERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, orDash(j.Name), j.Queue, j.State,
			j.AttemptCount, j.MaxAttempts,
			j.NextRunAt.Local().Format(time.RFC3339),
			truncateError(j.LastError),
		)
	}
	return tw.Flush()
}

// printJob renders one job with its full detail.
func (a *app) printJob(w io.Writer, j *job.Job) error {
	if a.jsonOut {
		return printJSON(w, j)
	}
	fmt.Fprintf(w, "ID:           %s\n", j.ID)
	fmt.Fprintf(w, "Name:         %s\n", orDash(j.Name))
	fmt.Fprintf(w, "Queue:        %s\n", j.Queue)
	fmt.Fprintf(w, "State:        %s\n", j.State)
	fmt.Fprintf(w, "Attempts:     %d/%d\n", j.AttemptCount, j.MaxAttempts)
	fmt.Fprintf(w, "Next run at:  %s\n", j.NextRunAt.Local().Format(time.RFC3339))
	if j.Timeout > 0 {
		fmt.Fprintf(w, "Timeout:      %s\n", j.Timeout)
	}
	if j.LastError != "" {
		fmt.Fprintf(w, "Last error:   %s\n", j.LastError)
	}
	if !j.LockedBy.IsNil() {
		fmt.Fprintf(w, "Locked by:    %s\n", j.LockedBy)
	}
	if j.LockExpiry != nil {
		fmt.Fprintf(w, "Lock expiry:  %s\n", j.LockExpiry.Local().Format(time.RFC3339))
	}
	if len(j.Payload) > 0 {
		fmt.Fprintf(w, "Payload:      %s\n", string(j.Payload))
	}
	fmt.Fprintf(w, "Created at:   %s\n", j.CreatedAt.Local().Format(time.RFC3339))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncateError keeps table rows on one line.
func truncateError(s string) string {
	const max = 48
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
