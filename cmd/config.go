package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/coursegrab/internal/config"
	"github.com/example/coursegrab/internal/course"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}
	cmd.AddCommand(newConfigCheckCmd(configPath))
	cmd.AddCommand(newConfigInitCmd(configPath))
	return cmd
}

func newConfigCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the courses in attempt order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			courses, err := cfg.CourseList()
			if err != nil {
				return err
			}
			if _, err := cfg.ResolvePassword(); err != nil {
				return err
			}
			if _, _, _, err := cfg.TokenCacheKeys(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			mode := "sequential"
			if cfg.UseMultithreading {
				mode = fmt.Sprintf("concurrent (%d workers)", cfg.Workers)
			}
			fmt.Fprintf(out, "%s: ok\nportal: %s\nmode: %s, goal: %s, wait: %s\nstore: %s\n\n",
				*configPath, cfg.Portal.BaseURL, mode, cfg.Goal, cfg.Wait(), cfg.Store.Driver)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tCOURSE\tSECTION\tPRIORITY\tTIME SLOT")
			for i, c := range course.SortByPriority(courses) {
				prio, slot := "-", "-"
				if c.Priority != nil {
					prio = fmt.Sprint(*c.Priority)
				}
				if c.Slot != nil {
					slot = c.Slot.String()
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, c.Code, c.Section, prio, slot)
			}
			return tw.Flush()
		},
	}
}

func newConfigInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented config template (never overwrites)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(*configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", *configPath)
			return nil
		},
	}
}
