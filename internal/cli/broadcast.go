package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

func newBroadcastCmd() *cobra.Command {
	var message, attachment string

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send a message to every contact linked to a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			message = strings.TrimSpace(message)
			if message == "" {
				return fmt.Errorf("--message is required")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Broadcast(cmd.Context(), relay.Outgoing{Text: message, AttachmentURL: attachment})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range res.Results {
				status := "ok"
				if !r.Success {
					status = "FAILED"
				}
				fmt.Fprintf(out, "%-6s %s (%s)\n", status, r.RecordName, r.ChatID)
			}
			fmt.Fprintf(out, "%d sent, %d failed\n", res.Succeeded, res.Failed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "message text")
	cmd.Flags().StringVar(&attachment, "attachment-url", "", "photo URL; the message becomes its caption")
	return cmd
}
