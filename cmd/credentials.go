package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/otp-forwarder/internal/credential"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored credentials",
	}
	cmd.AddCommand(newCredentialsSetCmd())
	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store the portal login and bot token in the system keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			prompts := []struct {
				label string
				key   string
			}{
				{"Portal email", credential.KeySourceEmail},
				{"Portal password", credential.KeySourcePassword},
				{"Telegram bot token", credential.KeyTelegramToken},
			}

			for _, p := range prompts {
				fmt.Fprintf(out, "%s: ", p.label)
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("reading %s: %w", p.label, err)
				}
				value := strings.TrimSpace(line)
				if value == "" {
					fmt.Fprintf(out, "skipped\n")
					continue
				}
				if err := credential.Set(p.key, value); err != nil {
					return err
				}
			}

			fmt.Fprintln(out, "Credentials stored.")
			return nil
		},
	}
}
