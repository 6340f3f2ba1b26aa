package cli

import (
	"github.com/spf13/cobra"

	"github.com/Vovarama1992/chatcrm-relay/internal/config"
	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
)

var (
	logLevel string

	// loaded before every command runs
	cfg config.Config
	log *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatcrm-relay",
		Short: "Relay between a Telegram bot and the CRM",
		Long: "chatcrm-relay registers Telegram users as CRM contacts, opens support " +
			"sessions on their behalf and forwards their messages to agents.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			log = logging.New(nil, cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, silent)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWebhookCmd())
	cmd.AddCommand(newBroadcastCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
