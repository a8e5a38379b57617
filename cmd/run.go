package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/coursegrab/internal/config"
	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/logging"
	"github.com/example/coursegrab/internal/scheduler"
	"github.com/example/coursegrab/internal/web"
)

func newRunCmd(configPath *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the portal and claim configured courses until done",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if errors.Is(err, fs.ErrNotExist) {
				if err := config.WriteTemplate(*configPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote a config template to %s; fill it in and run again\n", *configPath)
				return nil
			}
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: cmd.ErrOrStderr()})
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			if dryRun {
				return a.dryRun(ctx, cmd.OutOrStdout())
			}
			return a.run(ctx)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "authenticate and report seat counts without claiming")
	return cmd
}

func (a *app) run(ctx context.Context) error {
	st, err := openStore(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer st.Close()

	record := course.NewSelectionRecord()
	loop := &scheduler.Loop{
		Round: &scheduler.Round{
			Prober:     a.prober,
			Creds:      a.broker,
			Concurrent: a.cfg.UseMultithreading,
			Workers:    a.cfg.Workers,
			Log:        logging.Component(a.log, "round"),
			Metrics:    a.metrics,
		},
		Creds:            a.broker,
		Courses:          a.courses,
		Record:           record,
		Store:            st,
		WaitTime:         a.cfg.Wait(),
		Jitter:           scheduler.DefaultJitter,
		Goal:             scheduler.Goal(a.cfg.Goal),
		Resume:           a.cfg.Resume,
		MaxRounds:        a.cfg.MaxRounds,
		AuthFailureLimit: a.cfg.AuthFailureLimit,
		Log:              logging.Component(a.log, "loop"),
		Metrics:          a.metrics,
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		return loop.Run(runCtx)
	})
	if addr := a.cfg.MetricsAddr; addr != "" {
		ws := &web.Server{
			Record:  record,
			Metrics: a.metrics,
			Log:     logging.Component(a.log, "web"),
			Status: func() web.Status {
				s, round, id := loop.Status()
				return web.Status{State: s.String(), Round: round, RunID: id.String()}
			},
		}
		g.Go(func() error { return web.Start(runCtx, addr, ws.Routes(), ws.Log) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, e := range record.Entries() {
		a.log.Info().Str("course", e.Code).Str("section", e.Section).Time("secured_at", e.SecuredAt).Msg("secured")
	}
	return nil
}

// dryRun authenticates once and lists every configured course without
// claiming anything.
func (a *app) dryRun(ctx context.Context, out io.Writer) error {
	cred, err := a.broker.Token(ctx, false)
	if err != nil {
		return fmt.Errorf("authentication: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COURSE\tSECTION\tROWS\tOPEN\tNOTE")
	for _, c := range course.SortByPriority(a.courses) {
		rows, skipped, err := a.client.List(ctx, cred.Token, c)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t%v\n", c.Code, c.Section, err)
			continue
		}
		open := 0
		for _, r := range rows {
			if r.HasSeat() {
				open++
			}
		}
		note := ""
		if skipped > 0 {
			note = fmt.Sprintf("%d malformed rows", skipped)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", c.Code, c.Section, len(rows), open, note)
	}
	return tw.Flush()
}
