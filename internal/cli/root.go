// Package cli wires Cobra subcommands to application dependencies; it is a thin controller with no business logic.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/neoclaw-ai/interviewer/internal/bootstrap"
	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/provider"
	"github.com/spf13/cobra"
)

var routerFactory = provider.NewRouterFromConfig

// NewRootCmd creates the root command and registers all subcommands.
func NewRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "interviewer",
		Short: "Voice interview sessions over LLM and speech-to-text backends",
		// Let main handle fatal error rendering through structured logs.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if verbose {
				logging.SetLevel(slog.LevelInfo)
			} else {
				logging.SetLevel(slog.LevelWarn)
			}

			// config and version only read state and should not create files.
			switch cmd.Name() {
			case "config", "version":
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			configPath := cfg.ConfigPath()
			firstRun := false
			if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
				firstRun = true
			} else if err != nil {
				return fmt.Errorf("stat interviewer config file %q: %w", configPath, err)
			}

			if err := bootstrap.Initialize(cfg); err != nil {
				return err
			}

			if firstRun {
				fmt.Fprintf(
					cmd.ErrOrStderr(),
					"First run setup complete.\nEdit config file: %s\nEdit questions: %s\n",
					configPath,
					cfg.QuestionsPath(),
				)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to `interviewer run` when no subcommand is provided.
			runCmd, _, err := cmd.Find([]string{"run"})
			if err != nil {
				return err
			}
			runCmd.SetContext(cmd.Context())
			return runCmd.RunE(runCmd, args)
		},
	}

	root.AddCommand(newConfigCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newTranscribeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newTelegramCmd())
	root.AddCommand(newUsageCmd())
	root.AddCommand(newVersionCmd())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging (info level)")

	return root
}

// loadConfig loads and validates the merged config, then logs non-fatal warnings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	warnStartupConditions(cfg)
	return cfg, nil
}
