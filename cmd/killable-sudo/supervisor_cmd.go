package main

import (
	"errors"
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/doughall/killable-sudo/internal/config"
	"github.com/doughall/killable-sudo/internal/helper"
	"github.com/doughall/killable-sudo/internal/logging"
	"github.com/doughall/killable-sudo/internal/supervisor"
	"github.com/doughall/killable-sudo/internal/version"
)

// errKillWithCommand is returned when --kill-channel is combined with a command.
var errKillWithCommand = errors.New("--kill-channel takes no command")

func newSupervisorCmd(status *int) *cobra.Command {
	var (
		configPath  string
		logLevel    string
		showConfig  bool
		showVersion bool
		killChannel string
	)

	cmd := &cobra.Command{
		Use:   "killable-sudo [flags] COMMAND [ARGS...]",
		Short: "Run a command with sudo and keep it interruptible",
		Long: "killable-sudo runs COMMAND with root privileges through sudo.\n" +
			"Interrupting killable-sudo (Ctrl-C or SIGTERM) asks the privileged\n" +
			"side to send the command SIGTERM, which an unprivileged user could\n" +
			"not do directly. The exit status is the command's own.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Info())
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				*status = supervisor.ExitUsage
				return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			if showConfig {
				data, err := config.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if killChannel != "" && len(args) > 0 {
				*status = supervisor.ExitUsage
				return errKillWithCommand
			}
			if killChannel == "" && len(args) == 0 {
				*status = supervisor.ExitUsage
				_ = cmd.Usage()
				return supervisor.ErrUsage
			}

			logger := logging.SetupLogger(logging.Options{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
				Output: cmd.ErrOrStderr(),
			})

			client := helper.NewClient(cfg.EscalationCommand, cfg.HelperPath, logger)
			if err := client.Available(); err != nil {
				*status = supervisor.ExitUsage
				printHelperHint(cmd, client)
				return err
			}

			if killChannel != "" {
				// The channel names the supervisor watching it; terminating
				// that supervisor stops its command as an interrupt would.
				code, err := client.Kill(cmd.Context(), killChannel)
				*status = code
				return err
			}

			sup := supervisor.New(supervisor.Config{RunDir: cfg.RunDir}, client, logger)
			code, err := sup.RunUnderElevation(cmd.Context(), args)
			*status = code
			if errors.Is(err, supervisor.ErrUsage) {
				_ = cmd.Usage()
			}
			return err
		},
	}

	flags := cmd.Flags()
	// Everything from the first non-flag argument on belongs to COMMAND.
	flags.SetInterspersed(false)
	flags.StringVar(&configPath, "config", config.DefaultConfigPath, "path to configuration file")
	flags.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flags.BoolVar(&showConfig, "show-config", false, "print the effective configuration and exit")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.StringVar(&killChannel, "kill-channel", "", "terminate the killable-sudo run watching channel `PATH` and exit")

	return cmd
}

func printHelperHint(cmd *cobra.Command, client *helper.Client) {
	username := "yourusername"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "The privileged helper %s is missing or not executable.\n", client.HelperPath())
	fmt.Fprintln(w, "Install it root-owned and allow it in sudoers with visudo:")
	fmt.Fprintf(w, "    %s\n", client.SudoersHint(username))
}
