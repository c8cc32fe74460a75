package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/otp-forwarder/internal/credential"
	"github.com/nhle/otp-forwarder/internal/history"
	"github.com/nhle/otp-forwarder/internal/logging"
	"github.com/nhle/otp-forwarder/internal/model"
	"github.com/nhle/otp-forwarder/internal/session"
	"github.com/nhle/otp-forwarder/internal/source/ivasms"
)

func newHistoryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history <start> <end>",
		Short: "Fetch messages for a date range (YYYY-MM-DD) and print them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogLevel)

			start, err := time.Parse("2006-01-02", args[0])
			if err != nil {
				return fmt.Errorf("invalid start date %q: %w", args[0], err)
			}
			end, err := time.Parse("2006-01-02", args[1])
			if err != nil {
				return fmt.Errorf("invalid end date %q: %w", args[1], err)
			}
			end = end.AddDate(0, 0, 1).Add(-time.Second)

			email, err := credential.Get(credential.KeySourceEmail)
			if err != nil {
				return err
			}
			password, err := credential.Get(credential.KeySourcePassword)
			if err != nil {
				return err
			}

			adapter := ivasms.NewClient(cfg.Source.BaseURL, email, password, cfg.RequestTimeout())
			sessions := session.NewManager(adapter, session.Options{
				MaxAge:           cfg.SessionMaxAge(),
				LoginMaxAttempts: cfg.Source.LoginMaxAttempts,
			})
			q := history.New(sessions, adapter, time.Duration(cfg.History.MaxSpanDays)*24*time.Hour)

			msgs, err := q.Run(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range msgs {
				fmt.Fprintf(out, "%s\t%s\t%s\n",
					m.ReceivedAt.Format("2006-01-02 15:04:05"), m.Sender, m.Body)
			}
			fmt.Fprintf(out, "%d messages\n", len(msgs))
			return nil
		},
	}
}
