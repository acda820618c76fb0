package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/qorelogic/sentinel/internal/sentinel"
	"github.com/qorelogic/sentinel/internal/types"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// decisionLabel colors a decision by severity
func decisionLabel(d types.Decision) string {
	switch d {
	case types.DecisionPass:
		return green(string(d))
	case types.DecisionWarn, types.DecisionEscalate:
		return yellow(string(d))
	default:
		return red(string(d))
	}
}

func gradeLabel(g types.RiskGrade) string {
	switch g {
	case types.RiskL3:
		return red(string(g))
	case types.RiskL2:
		return yellow(string(g))
	default:
		return string(g)
	}
}

func modeLabel(st sentinel.Status) string {
	mode := string(st.Mode)
	if st.ModelAvailable {
		return mode + " " + green("(model available)")
	}
	if st.Mode != "heuristic" {
		return mode + " " + yellow("(model unavailable)")
	}
	return mode
}

// shortHash trims a hex digest for display
func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

// truncate shortens s to n runes with an ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// formatAge renders how long ago t was, coarsely
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func printVerdict(v *types.Verdict) {
	fmt.Printf("\n%s %s  %s  confidence %.2f\n", bold("Verdict:"), decisionLabel(v.Decision), gradeLabel(v.RiskGrade), v.Confidence)
	if v.ArtifactPath != "" {
		fmt.Printf("  Artifact: %s\n", cyan(v.ArtifactPath))
	}
	fmt.Printf("  Agent:    %s (trust %.2f)\n", v.AgentID, v.AgentTrustAtVerdict)
	fmt.Printf("  Summary:  %s\n", v.Summary)
	if len(v.MatchedPatterns) > 0 {
		fmt.Printf("  Matched:  %s\n", strings.Join(v.MatchedPatterns, ", "))
	}
	if v.ModelEvaluation != nil {
		fmt.Printf("  Model:    %s (%s)\n", v.ModelEvaluation.Model, truncate(strings.TrimSpace(v.ModelEvaluation.Response), 80))
	}
	if len(v.Actions) > 0 {
		fmt.Printf("  Actions:\n")
		for _, a := range v.Actions {
			mark := green("✓")
			switch a.Status {
			case types.ActionPending:
				mark = yellow("…")
			case types.ActionFailed:
				mark = red("✗")
			}
			line := fmt.Sprintf("    %s %s", mark, a.Type)
			if a.Details != "" {
				line += " " + gray(a.Details)
			}
			fmt.Println(line)
		}
	}
	if v.LedgerEntryID != nil {
		fmt.Printf("  Ledger:   #%d\n", *v.LedgerEntryID)
	}
	fmt.Println()
}

// verdictExitCode maps a decision onto the process exit status so audits
// can gate scripts
func verdictExitCode(d types.Decision) int {
	switch d {
	case types.DecisionPass, types.DecisionWarn:
		return 0
	case types.DecisionEscalate:
		return 2
	default:
		return 3
	}
}

func sortedStrings(ss []string) []string {
	sort.Strings(ss)
	return ss
}
