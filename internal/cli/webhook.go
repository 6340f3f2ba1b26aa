package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vovarama1992/chatcrm-relay/internal/config"
	"github.com/Vovarama1992/chatcrm-relay/internal/telegram"
)

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}

	cmd.AddCommand(newWebhookSetCmd())
	cmd.AddCommand(newWebhookDeleteCmd())
	cmd.AddCommand(newWebhookInfoCmd())
	return cmd
}

func botClient() (*telegram.Client, error) {
	if cfg.BotToken == "" {
		return nil, &config.Error{Message: "missing BOT_TOKEN"}
	}
	return telegram.NewClient(cfg.TelegramAPIURL, cfg.BotToken, cfg.HTTPTimeout, log), nil
}

func newWebhookSetCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Point the bot at this relay's webhook URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = cfg.WebhookURL
			}
			if url == "" {
				return fmt.Errorf("webhook url required (--url or TELEGRAM_WEBHOOK_URL)")
			}
			bot, err := botClient()
			if err != nil {
				return err
			}
			if err := bot.SetWebhook(cmd.Context(), url, cfg.WebhookSecret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", url)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "public webhook URL (default TELEGRAM_WEBHOOK_URL)")
	return cmd
}

func newWebhookDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the bot's webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := botClient()
			if err != nil {
				return err
			}
			if err := bot.DeleteWebhook(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		},
	}
}

func newWebhookInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := botClient()
			if err != nil {
				return err
			}
			info, err := bot.WebhookInfo(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			url := info.URL
			if url == "" {
				url = "(none)"
			}
			fmt.Fprintf(out, "url:      %s\n", url)
			fmt.Fprintf(out, "pending:  %d\n", info.PendingUpdateCount)
			if info.LastErrorMessage != "" {
				fmt.Fprintf(out, "error:    %s (%s)\n", info.LastErrorMessage,
					time.Unix(info.LastErrorDate, 0).UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}
