package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nhle/otp-forwarder/internal/model"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "otpfwd",
		Short:         "otpfwd: forward one-time passcodes from a web portal to Telegram",
		Long:          "otpfwd logs into the SMS portal, polls the received-messages page, deduplicates what it has already forwarded, and delivers new passcodes to the configured Telegram chats.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newHistoryCmd(&configPath),
		newCredentialsCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
