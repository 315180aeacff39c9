package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/steward-bot/steward/internal/agent"
	"github.com/steward-bot/steward/internal/config"
	"github.com/steward-bot/steward/internal/doctor"
	"github.com/steward-bot/steward/internal/logging"
	"github.com/steward-bot/steward/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogMaxFiles)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	if cfg.OTELEndpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, telErr := telemetry.Init(ctx, cfg.OTELEndpoint)
		if telErr != nil {
			return fmt.Errorf("initialize telemetry: %w", telErr)
		}
		defer shutdown()
	}

	cmd := newRootCommand(cfg, logger.Logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "steward",
		Short:         "Chat-delegated agent turn orchestration runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newRunCommand(cfg, logger),
		newDoctorCommand(),
	)
	return root
}

func newRunCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		resumeID   string
		model      string
		cwd        string
		timeout    time.Duration
		unattended bool
		terminal   bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one agent turn and stream its progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if id, ok := agent.ParseResumeToken(prompt); ok && resumeID == "" {
				resumeID = id
			}

			if terminal {
				return runTerminal(cmd, cfg, resumeID, model, cwd)
			}

			turnTimeout := timeout
			if turnTimeout <= 0 {
				turnTimeout = cfg.TurnTimeout
				if unattended {
					turnTimeout = cfg.UnattendedTimeout
				}
			}

			runner := agent.NewRunner(agent.RunnerOptions{
				Launcher:       agent.NewCLILauncher(cfg.AgentBinary),
				Logger:         logger,
				DefaultModel:   cfg.DefaultModel,
				DefaultTimeout: turnTimeout,
				GracePeriod:    cfg.GracePeriod,
			})

			turn := runner.Run(cmd.Context(), prompt, agent.TurnOptions{
				ResumeID: resumeID,
				Model:    model,
				CWD:      cwd,
				Timeout:  turnTimeout,
			})
			for ev := range turn.Events() {
				printEvent(cmd, ev)
			}
			res := turn.Wait()

			if !res.OK {
				return fmt.Errorf("turn failed: %s", res.Text)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if res.SessionID != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "resume:", agent.FormatResumeToken(res.SessionID))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&resumeID, "resume", "", "resume an existing agent session id")
	cmd.Flags().StringVar(&model, "model", "", "agent capability tier (default from config)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory visible to the agent")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "turn timeout (default from config)")
	cmd.Flags().BoolVar(&unattended, "unattended", false, "use the longer unattended turn timeout")
	cmd.Flags().BoolVar(&terminal, "terminal", false, "start the agent in a detached tmux session instead")
	return cmd
}

func runTerminal(cmd *cobra.Command, cfg *config.Config, resumeID, model, cwd string) error {
	launcher := agent.NewTerminalLauncher(cfg.AgentBinary)
	session, err := launcher.Start(cmd.Context(), agent.LaunchSpec{
		Model:    model,
		ResumeID: resumeID,
		CWD:      cwd,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "started terminal session %s (pid %d)\n", session.Name, session.PID)
	fmt.Fprintf(cmd.OutOrStdout(), "attach with: tmux attach -t %s\n", session.Name)
	return nil
}

func printEvent(cmd *cobra.Command, ev agent.Event) {
	out := cmd.OutOrStdout()
	switch ev.Type {
	case agent.EventStarted:
		fmt.Fprintf(out, "session %s\n", ev.SessionID)
	case agent.EventText:
		fmt.Fprintln(out, ev.Content)
	case agent.EventToolStart:
		fmt.Fprintf(out, "[%s] %s\n", ev.Kind, ev.Title)
	case agent.EventToolEnd:
		status := "ok"
		if !ev.OK {
			status = "failed"
		}
		fmt.Fprintf(out, "[%s done: %s]\n", ev.Kind, status)
	}
}

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment for required tools and configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			results := doctor.New().Run()
			for _, result := range results {
				status := "ok"
				if !result.OK {
					status = "missing"
					if !result.Required {
						status = "optional"
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-8s %s\n", result.Name, status, result.Detail)
			}
			if !doctor.Healthy(results) {
				return errors.New("required checks failed")
			}
			return nil
		},
	}
}
