package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/coursegrab/internal/config"
)

func newSealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a password read from stdin for use as an enc: config value",
		Long: "Reads one line from stdin and prints it sealed with CRED_ENC_KEY. " +
			"Paste the output into the password field of the config file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			aead, err := config.CredentialCipher()
			if err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password on stdin")
			}
			pw := strings.TrimRight(line, "\r\n")
			if pw == "" {
				return errors.New("no password on stdin")
			}
			sealed, err := aead.Seal(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}
