// ABOUTME: ask command running one task in the terminal
// ABOUTME: Streams every turn through the console printer and exits non-zero on failure

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/coven-council/internal/console"
	"github.com/2389/coven-council/internal/council"
)

var (
	askNoMarkdown bool
	askStyle      string
	askWidth      int
)

var askCmd = &cobra.Command{
	Use:   "ask [task]",
	Short: "Run one task in the terminal",
	Long:  `Runs a single task with the expert team and prints every turn. The task is read from stdin when no argument is given.`,
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askNoMarkdown, "no-markdown", false, "print turns without markdown rendering")
	askCmd.Flags().StringVar(&askStyle, "style", "", "glamour style (dark, light, notty); detected when empty")
	askCmd.Flags().IntVar(&askWidth, "width", 100, "wrap rendered markdown at this width")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")
	if strings.TrimSpace(task) == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading task from stdin: %w", err)
		}
		task = string(data)
	}
	if strings.TrimSpace(task) == "" {
		return errors.New("no task given")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, buildOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	printer, err := console.New(cmd.OutOrStdout(), console.Options{
		Markdown: !askNoMarkdown,
		Style:    askStyle,
		Width:    askWidth,
	})
	if err != nil {
		return err
	}

	out := a.service.Submit(ctx, council.OwnerKey("console", localUser()), task, printer)
	switch out.Status {
	case council.StatusFailed:
		return fmt.Errorf("task failed: %w", out.Err)
	case council.StatusIncomplete:
		return fmt.Errorf("no final answer after %d rounds", out.Rounds)
	default:
		return nil
	}
}

func localUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
