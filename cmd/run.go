package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nhle/otp-forwarder/internal/app"
	"github.com/nhle/otp-forwarder/internal/logging"
	"github.com/nhle/otp-forwarder/internal/model"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the forwarding pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := model.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogLevel)

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}
