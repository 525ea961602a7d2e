package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"marketrefresh/internal/refresh"
	"marketrefresh/internal/scheduler"
	"marketrefresh/internal/status"
)

const shutdownTimeout = 30 * time.Second

type scheduleFlags struct {
	cron       string
	listenAddr string
	runNow     bool
}

func newScheduleCmd(g *globalFlags) *cobra.Command {
	f := &scheduleFlags{}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run full refreshes on a cron schedule and serve run status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, g, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.cron, "cron", "", "Cron expression (default from config)")
	fl.StringVar(&f.listenAddr, "listen", "", "Status server address (default from config)")
	fl.BoolVar(&f.runNow, "run-now", false, "Run one refresh immediately after starting")
	return cmd
}

func runSchedule(cmd *cobra.Command, g *globalFlags, f *scheduleFlags) error {
	ctx := cmd.Context()

	a, err := setup(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	spec := a.cfg.Schedule.Cron
	if f.cron != "" {
		spec = f.cron
	}
	addr := a.cfg.Status.ListenAddr
	if f.listenAddr != "" {
		addr = f.listenAddr
	}

	kinds := a.cfg.Coordinator().EnabledKinds()
	if err := a.cfg.RequireAPIKey(kinds); err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	if err := a.db.EnsureSchema(ctx); err != nil {
		return err
	}
	coord, err := a.coordinator(ctx, kinds)
	if err != nil {
		return err
	}

	run := func(ctx context.Context) (map[refresh.Kind]refresh.Result, error) {
		instruments, err := a.instruments.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		results, err := coord.RunFull(ctx, instruments)
		a.pushMetrics(context.WithoutCancel(ctx))
		return results, err
	}

	board := &status.Board{}
	sched, err := scheduler.New(ctx, spec, run, board, scheduler.WithLogger(a.log))
	if err != nil {
		return usageError("%v", err)
	}

	srv := status.NewServer(board, a.db, a.metrics.Handler(), a.log)
	bound, err := srv.Start(addr)
	if err != nil {
		return err
	}
	a.log.Info().Str("addr", bound).Msg("status server listening")

	sched.Start()
	if f.runNow {
		sched.Trigger()
	}

	<-ctx.Done()
	a.log.Info().Msg("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		a.log.Warn().Err(err).Msg("scheduler did not stop cleanly")
	}
	if err := srv.Stop(stopCtx); err != nil {
		a.log.Warn().Err(err).Msg("status server did not stop cleanly")
	}
	return nil
}
