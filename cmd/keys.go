package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/coursegrab/internal/config"
	"github.com/example/coursegrab/internal/crypto"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate the password sealing key and token cache keys (base64)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := crypto.NewKey()
			if err != nil {
				return err
			}
			hash := make([]byte, 32)
			block := make([]byte, 32)
			if _, err := rand.Read(hash); err != nil {
				return err
			}
			if _, err := rand.Read(block); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "export %s=%s\n", config.EnvCredKey, base64.StdEncoding.EncodeToString(cred))
			fmt.Fprintf(out, "export %s=%s\n", config.EnvCacheHashKey, base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(out, "export %s=%s\n", config.EnvCacheBlockKey, base64.StdEncoding.EncodeToString(block))
			return nil
		},
	}
}
