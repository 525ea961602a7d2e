package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"marketrefresh/internal/config"
	"marketrefresh/internal/models"
	"marketrefresh/internal/refresh"
	"marketrefresh/internal/store"
)

type runFlags struct {
	all          bool
	ohlcv        bool
	fundamentals bool
	estimates    bool
	news         bool

	symbols string
	sector  string
	limit   int

	lookback     int
	period       string
	maxPerTicker int
	workers      int
	batchSize    int

	dryRun bool
	json   bool
	output string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Refresh market data for the selected instruments",
		Example: `  marketrefresh run --all
  marketrefresh run --ohlcv --lookback 5 --symbols AAPL,MSFT
  marketrefresh run --fundamentals --period annual --sector Technology
  marketrefresh run --all --dry-run --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRefresh(cmd, g, f)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.all, "all", false, "Refresh every enabled data kind")
	fl.BoolVar(&f.ohlcv, "ohlcv", false, "Refresh daily price bars")
	fl.BoolVar(&f.fundamentals, "fundamentals", false, "Refresh financial statements")
	fl.BoolVar(&f.estimates, "estimates", false, "Refresh analyst estimates")
	fl.BoolVar(&f.news, "news", false, "Refresh news headlines")

	fl.StringVar(&f.symbols, "symbols", "", "Comma separated symbols to process (e.g. AAPL,MSFT)")
	fl.StringVar(&f.sector, "sector", "", "Only process instruments in this sector")
	fl.IntVar(&f.limit, "limit", 0, "Process at most this many instruments")

	fl.IntVar(&f.lookback, "lookback", 0, "Price bar lookback in days (default from config)")
	fl.StringVar(&f.period, "period", "", "Statement and estimate period: quarterly or annual (default from config)")
	fl.IntVar(&f.maxPerTicker, "max-per-ticker", 0, "Max news headlines per instrument (default from config)")
	fl.IntVar(&f.workers, "workers", 0, "Max parallel workers (default from config)")
	fl.IntVar(&f.batchSize, "batch-size", 0, "Instruments per batch (default from config)")

	fl.BoolVar(&f.dryRun, "dry-run", false, "List what would be refreshed without fetching or writing")
	fl.BoolVar(&f.json, "json", false, "Shorthand for --output json")
	fl.StringVarP(&f.output, "output", "o", formatText, "Output format: text, json or yaml")

	return cmd
}

// selectedKinds returns the kinds named by flags; full reports --all
func (f *runFlags) selectedKinds() (kinds []refresh.Kind, full bool) {
	if f.all {
		return nil, true
	}
	for _, sel := range []struct {
		on   bool
		kind refresh.Kind
	}{
		{f.ohlcv, refresh.KindOHLCV},
		{f.fundamentals, refresh.KindFundamentals},
		{f.estimates, refresh.KindEstimates},
		{f.news, refresh.KindNews},
	} {
		if sel.on {
			kinds = append(kinds, sel.kind)
		}
	}
	return kinds, false
}

// apply copies command line overrides onto cfg
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("lookback") {
		if f.lookback < 1 {
			return usageError("--lookback must be at least 1")
		}
		cfg.OHLCV.LookbackDays = f.lookback
	}
	if fl.Changed("period") {
		if f.period != "quarterly" && f.period != "annual" {
			return usageError("--period must be quarterly or annual, got %q", f.period)
		}
		cfg.Fundamentals.Period = f.period
		cfg.Estimates.Period = f.period
	}
	if fl.Changed("max-per-ticker") {
		if f.maxPerTicker < 1 {
			return usageError("--max-per-ticker must be at least 1")
		}
		cfg.News.MaxPerTicker = f.maxPerTicker
	}
	if fl.Changed("workers") {
		if f.workers < 1 {
			return usageError("--workers must be at least 1")
		}
		cfg.Pipeline.MaxWorkers = f.workers
	}
	if fl.Changed("batch-size") {
		if f.batchSize < 1 {
			return usageError("--batch-size must be at least 1")
		}
		cfg.Pipeline.BatchSize = f.batchSize
	}
	if fl.Changed("limit") && f.limit < 1 {
		return usageError("--limit must be at least 1")
	}
	return nil
}

func runRefresh(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	ctx := cmd.Context()

	kinds, full := f.selectedKinds()
	if !full && len(kinds) == 0 {
		return usageError("no data kinds selected: use --all or one or more of --ohlcv, --fundamentals, --estimates, --news")
	}

	if f.symbols != "" && f.sector != "" {
		return usageError("--symbols and --sector cannot be combined")
	}

	format := f.output
	if f.json {
		format = formatJSON
	}
	format, err := parseFormat(format)
	if err != nil {
		return usageError("%v", err)
	}

	a, err := setup(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := f.apply(cmd, a.cfg); err != nil {
		return err
	}
	if full {
		kinds = a.cfg.Coordinator().EnabledKinds()
	}

	if !f.dryRun {
		if err := a.cfg.RequireAPIKey(kinds); err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		if err := a.db.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	instruments, err := a.selectInstruments(ctx, f)
	if errors.Is(err, store.ErrNoSchema) {
		return &refresh.ConfigurationError{Reason: "database not seeded: run `marketrefresh seed` first"}
	}
	if err != nil {
		return err
	}
	a.log.Info().Int("instruments", len(instruments)).Msg("instruments selected")

	out := cmd.OutOrStdout()
	if f.dryRun {
		return renderDryRun(out, format, instruments, kinds, a.cfg.Coordinator())
	}

	coord, err := a.coordinator(ctx, kinds)
	if err != nil {
		return err
	}

	var results map[refresh.Kind]refresh.Result
	if full {
		results, err = coord.RunFull(ctx, instruments)
	} else {
		results, err = coord.RunSelective(ctx, instruments, kinds...)
	}
	if err != nil && !errors.Is(err, refresh.ErrInterrupted) {
		return err
	}

	// Push with a fresh context so an interrupted run still reports.
	a.pushMetrics(context.WithoutCancel(ctx))

	if rerr := renderResults(out, format, results); rerr != nil {
		return rerr
	}
	if err != nil {
		return &exitError{code: exitInterrupted, err: err}
	}
	for _, r := range results {
		if r.Failed > 0 {
			return &exitError{code: exitFailures}
		}
	}
	return nil
}

// selectInstruments resolves the instrument set from --symbols, --sector
// or every active instrument, then applies --limit
func (a *app) selectInstruments(ctx context.Context, f *runFlags) ([]models.Instrument, error) {
	var (
		instruments []models.Instrument
		err         error
	)
	switch {
	case f.symbols != "":
		symbols := config.ParseSymbols(f.symbols)
		instruments, err = a.instruments.ListBySymbols(ctx, symbols)
		if err == nil {
			if missing := missingSymbols(symbols, instruments); len(missing) > 0 {
				a.log.Warn().Strs("symbols", missing).Msg("symbols not found")
			}
		}
	case f.sector != "":
		instruments, err = a.instruments.ListBySector(ctx, f.sector)
	default:
		instruments, err = a.instruments.ListActive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instruments: %w", err)
	}

	if f.limit > 0 && len(instruments) > f.limit {
		instruments = instruments[:f.limit]
	}
	if len(instruments) == 0 {
		a.log.Warn().Msg("no instruments selected")
	}
	return instruments, nil
}

func missingSymbols(want []string, found []models.Instrument) []string {
	have := make(map[string]bool, len(found))
	for _, inst := range found {
		have[inst.Symbol] = true
	}
	var missing []string
	for _, s := range want {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
