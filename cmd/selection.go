package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/coursegrab/internal/config"
	"github.com/example/coursegrab/internal/internaltypes"
	"github.com/example/coursegrab/internal/logging"
)

func newSelectionCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selection",
		Short: "Work with the persisted selection",
	}
	cmd.AddCommand(newSelectionShowCmd(configPath))
	return cmd
}

func newSelectionShowCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the courses secured by the last saved run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: cmd.ErrOrStderr()})
			st, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			snap, err := st.Load(cmd.Context())
			if errors.Is(err, internaltypes.ErrNotFound) {
				fmt.Fprintln(out, "no saved selection")
				return nil
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			fmt.Fprintf(out, "run %s, saved %s\n", snap.RunID, snap.SavedAt.Format("2006-01-02 15:04:05 MST"))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COURSE\tSECTION\tTIME SLOT\tSECURED AT")
			for _, e := range snap.Entries {
				slot := "-"
				if e.Slot != nil {
					slot = e.Slot.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Code, e.Section, slot, e.SecuredAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}
