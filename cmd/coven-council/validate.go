// ABOUTME: validate command checking the config file and printing the resolved team
// ABOUTME: Shows roles, the transition table and which frontends would start

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-council/internal/roster"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and show the team",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	team, graph, err := cfg.BuildTeam()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, "%s is valid\n\n", path)

	cyan.Fprintln(out, "Team")
	for _, role := range team.Roles() {
		fmt.Fprintf(out, "  %-12s %-20s %s\n", role.ID, role.Label, role.Capability)
	}

	cyan.Fprintln(out, "\nTransitions")
	for _, e := range graph.Edges() {
		to := make([]string, 0, len(e.To))
		for _, id := range e.To {
			to = append(to, string(id))
		}
		marker := " "
		if e.From == graph.Entry() {
			marker = "*"
		}
		fmt.Fprintf(out, " %s%-12s → %s\n", marker, e.From, strings.Join(to, ", "))
	}
	fmt.Fprintf(out, "  coordinator: %s\n", team.Coordinator().ID)

	cyan.Fprintln(out, "\nLimits")
	fmt.Fprintf(out, "  max_rounds:   %d\n", cfg.Council.MaxRounds)
	fmt.Fprintf(out, "  turn_timeout: %s\n", cfg.Council.TurnTimeout)

	cyan.Fprintln(out, "\nFrontends")
	fmt.Fprintf(out, "  matrix: %s\n", onOff(cfg.Matrix.Enabled))
	fmt.Fprintf(out, "  http:   %s\n", onOff(cfg.HTTP.Enabled))
	fmt.Fprintf(out, "  ledger: %s\n", onOff(cfg.Database.Path != ""))
	fmt.Fprintf(out, "  redis:  %s\n", onOff(cfg.Redis.Addr != ""))

	if !team.Has(roster.Executor) || cfg.Sandbox.URL == "" {
		color.New(color.FgYellow).Fprintln(out, "\n! code execution is disabled (no executor role or sandbox.url)")
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
