package main

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/progress"
)

type progressView struct {
	Record      *domain.WorkRecord `json:"record"`
	Stats       *progress.Stats    `json:"stats"`
	CanComplete bool               `json:"can_complete"`
}

// cmdProgress shows progress on one assignment
func cmdProgress(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("assignment ID required (e.g., ch01-01)")
	}

	var v progressView
	if err := call("GET", "/v1/assignments/"+url.PathEscape(args[0]), nil, &v); err != nil {
		return err
	}
	printProgress(v)
	return nil
}

func printProgress(v progressView) {
	rec := v.Record
	fmt.Printf("%s: %s\n", rec.AssignmentID, rec.Status)
	fmt.Printf("Time spent: %s | Hints: %d | Solution reveals: %d\n",
		formatDuration(rec.TotalTimeSpentSeconds), rec.TotalHintsUsed, rec.TotalSolutionReveals)

	if v.Stats == nil {
		return
	}
	fmt.Printf("\n%s %d%% (%d/%d items)\n", renderProgressBar(v.Stats.Percent, 30),
		v.Stats.Percent, v.Stats.CompletedItems, v.Stats.TotalItems)
	for _, es := range v.Stats.Exercises {
		fmt.Printf("  %-8s %s %3d%%  %s\n", es.ExerciseID, renderProgressBar(es.Percent, 20), es.Percent, es.Status)
	}
	if v.CanComplete && rec.Status != domain.StatusCompleted {
		fmt.Printf("\nReady to complete: academy complete %s\n", rec.AssignmentID)
	}
}

// cmdComplete marks an assignment completed
func cmdComplete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("assignment ID required (e.g., ch01-01)")
	}

	var v progressView
	if err := call("POST", "/v1/assignments/"+url.PathEscape(args[0])+"/complete", nil, &v); err != nil {
		return err
	}
	fmt.Printf("✓ %s completed\n", v.Record.AssignmentID)
	return nil
}

// cmdReset discards progress on an assignment
func cmdReset(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("assignment ID required (e.g., ch01-01)")
	}
	if err := call("DELETE", "/v1/assignments/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Printf("Progress on %s reset\n", args[0])
	return nil
}

// cmdStats shows totals across all assignments
func cmdStats() error {
	var s progress.Summary
	if err := call("GET", "/v1/stats", nil, &s); err != nil {
		return err
	}

	fmt.Println("Progress Statistics")
	fmt.Println("===================")
	fmt.Printf("Assignments:       %d\n", s.Assignments)
	fmt.Printf("Time spent:        %s\n", formatDuration(s.TimeSpentSeconds))
	fmt.Printf("Hints used:        %d\n", s.HintsUsed)
	fmt.Printf("Solution reveals:  %d\n", s.SolutionReveals)

	if len(s.ByStatus) > 0 {
		fmt.Println("\nBy status")
		fmt.Println("---------")
		statuses := make([]string, 0, len(s.ByStatus))
		for st := range s.ByStatus {
			statuses = append(statuses, string(st))
		}
		sort.Strings(statuses)
		for _, st := range statuses {
			fmt.Printf("  %-12s %d\n", st, s.ByStatus[domain.Status(st)])
		}
	}
	return nil
}
