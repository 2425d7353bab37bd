package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/doughall/killable-sudo/internal/config"
	"github.com/doughall/killable-sudo/internal/executor"
	"github.com/doughall/killable-sudo/internal/helper"
	"github.com/doughall/killable-sudo/internal/logging"
	"github.com/doughall/killable-sudo/internal/rundir"
)

var (
	// errMissingChannel is returned when --command or --kill lacks --channel.
	errMissingChannel = errors.New("--" + helper.FlagChannel + " is required with --" +
		helper.FlagCommand + " and --" + helper.FlagKill)
	// errNoAction is returned when no action flag asks for anything.
	errNoAction = errors.New("one of --" + helper.FlagInitDir + ", --" + helper.FlagCommand +
		" or --" + helper.FlagKill + " is required")
)

// invokerEnv holds the uid of the user the escalation facility ran us for.
const invokerEnv = "SUDO_UID"

func newExecutorCmd(status *int) *cobra.Command {
	var (
		initDir     string
		command     string
		channelPath string
		kill        bool
	)

	cmd := &cobra.Command{
		Use:           "killable-sudo --init-dir USER | --channel PATH (--command CMD | --kill)",
		Short:         "Privileged side of killable-sudo (internal use)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			runCommand := flags.Changed(helper.FlagCommand)
			if !flags.Changed(helper.FlagInitDir) && !runCommand && !kill {
				// --kill=false satisfies the flag group but names no action.
				*status = executor.ExitFailure
				return errNoAction
			}
			if (runCommand || kill) && channelPath == "" {
				*status = executor.ExitFailure
				return errMissingChannel
			}

			// Never a caller-supplied path: the caller is unprivileged.
			cfg, err := config.Load(config.DefaultConfigPath)
			if err != nil {
				*status = executor.ExitFailure
				return fmt.Errorf("failed to load configuration from %s: %w", config.DefaultConfigPath, err)
			}

			logger := logging.SetupLogger(logging.Options{
				Level:   cfg.LogLevel,
				Format:  cfg.LogFormat,
				Output:  cmd.ErrOrStderr(),
				Journal: !cfg.JournalDisabled,
			})

			invoker := os.Getenv(invokerEnv)
			switch {
			case flags.Changed(helper.FlagInitDir):
				*status, err = initDirectory(cfg, logger, initDir)
			case runCommand:
				*status, err = runAndWatch(cfg, logger, invoker, channelPath, command)
			default:
				ex := executor.New(executor.Config{RunDir: cfg.RunDir, Invoker: invoker}, logger)
				*status, err = ex.Kill(cmd.Context(), channelPath)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&initDir, helper.FlagInitDir, "", "create and secure the channel directory of `USER`")
	flags.StringVar(&command, helper.FlagCommand, "", "run the shell-quoted `CMD` as the channel's owner and watch the channel")
	flags.BoolVar(&kill, helper.FlagKill, false, "send SIGTERM to the process the channel belongs to")
	flags.StringVar(&channelPath, helper.FlagChannel, "", "signalling channel `PATH`")

	cmd.MarkFlagsMutuallyExclusive(helper.FlagInitDir, helper.FlagCommand, helper.FlagKill)
	cmd.MarkFlagsMutuallyExclusive(helper.FlagInitDir, helper.FlagChannel)
	cmd.MarkFlagsOneRequired(helper.FlagInitDir, helper.FlagCommand, helper.FlagKill)

	return cmd
}

func initDirectory(cfg *config.Config, logger *slog.Logger, username string) (int, error) {
	mgr := rundir.New(rundir.Config{Root: cfg.RunDir}, logger)
	if err := mgr.Initialize(username); err != nil {
		return executor.ExitFailure, err
	}
	return executor.ExitSuccess, nil
}

func runAndWatch(cfg *config.Config, logger *slog.Logger, invoker, channelPath, command string) (int, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return executor.ExitFailure, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	ex := executor.New(executor.Config{
		RunDir:  cfg.RunDir,
		Spawner: executor.EscalationSpawner{Command: cfg.EscalationCommand},
		Invoker: invoker,
	}, logger)
	return ex.RunAndWatch(channelPath, argv)
}
