package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var learnCmd = &cobra.Command{
	Use:   "learn TRACE.json",
	Short: "Replay a trace and show the templates it teaches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := LoadTrace(args[0])
		if err != nil {
			return err
		}
		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		report, h, err := Replay(e, tr, true)
		if err != nil {
			return err
		}
		entries, err := e.Templates(h)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"report": report, "templates": entries})
		}

		fmt.Println(styles.Title.Render("Trace " + report.Subject))
		for _, s := range report.Steps {
			fmt.Println(stepLine(s))
		}
		fmt.Println()
		fmt.Println(styles.Title.Render("Templates"))
		for _, entry := range entries {
			kind := "exact"
			if entry.Derived {
				kind = "derived"
			}
			fmt.Printf("  %-24s %-14s %-8s obs=%d hits=%d misses=%d confidence=%.2f\n",
				entry.Key, entry.Rule, kind, entry.Observations, entry.Hits, entry.Misses, entry.Confidence())
		}
		return nil
	},
}

func stepLine(s StepResult) string {
	var status string
	switch {
	case s.Hit:
		status = styles.Success.Render("hit")
	case s.Mismatch:
		status = styles.Error.Render("mismatch")
	default:
		status = styles.Muted.Render("miss")
	}

	var notes []string
	if s.Predicted {
		notes = append(notes, "predicted by "+s.Rule)
	}
	if s.Learned != "" {
		notes = append(notes, fmt.Sprintf("learned %s (%.2f)", s.Learned, s.Confidence))
	}
	if s.LearnErr != "" {
		notes = append(notes, styles.Warning.Render(s.LearnErr))
	}
	return fmt.Sprintf("  %3d  %-20s %-10s %d patches  %s", s.Step, s.Key, status, s.Patches, strings.Join(notes, "; "))
}
