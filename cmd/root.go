package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/coursegrab/internal/config"
	"github.com/example/coursegrab/internal/internaltypes"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "coursegrab",
		Short:         "Polls the course selection portal and claims configured sections as seats open",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "config file (TOML, or YAML by extension)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newSealCmd())
	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newConfigCmd(&configPath))
	root.AddCommand(newSelectionCmd(&configPath))
	root.AddCommand(newPingCmd(&configPath))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, internaltypes.ErrConfigInvalid) {
		return 2
	}
	return 1
}
