package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"fib-targets/internal/feed"
	"fib-targets/internal/logging"
	"fib-targets/internal/messaging"
	"fib-targets/internal/models"
	"fib-targets/internal/render"
	"fib-targets/internal/resilience"
	"fib-targets/internal/series"
	"fib-targets/internal/store"
	"fib-targets/internal/stream"
)

// scanOptions are the scan command flags.
type scanOptions struct {
	persist       bool
	dbPath        string
	publish       bool
	fromStore     bool
	symbol        string
	quiet         bool
	singleSession bool
	precision     int
}

// scanReport is the JSON form of a scan.
type scanReport struct {
	Symbols []scanSymbol `json:"symbols"`
}

type scanSymbol struct {
	stream.SymbolResult
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

func newScanCmd(app *App) *cobra.Command {
	opts := scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <file.csv>...",
		Short: "Run the retracement engine over bars",
		Long: `Run one engine per symbol over the bars in the given CSV files and print
every zone as it is drawn.

With --from-store the arguments are symbols whose bars are read from the
store instead. --store records runs, zones and signals; --nats publishes
them.`,
		Example: `  fibtargets scan nifty_5m.csv
  fibtargets scan --store --symbol ES es.csv
  fibtargets scan --from-store NIFTY BANKNIFTY --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScan(ctx, cmd, app, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.persist, "store", false, "persist runs, zones and signals")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "store path (default: [store] path)")
	cmd.Flags().BoolVar(&opts.publish, "nats", false, "publish zones and signals to NATS (also [nats] enabled)")
	cmd.Flags().BoolVar(&opts.fromStore, "from-store", false, "arguments are symbols to read from the store")
	cmd.Flags().StringVar(&opts.symbol, "symbol", "", "symbol for CSV rows without one")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print zones as they are drawn")
	cmd.Flags().BoolVar(&opts.singleSession, "single-session", false, "treat the whole stream as one session")
	cmd.Flags().IntVar(&opts.precision, "precision", 2, "price decimals")

	return cmd
}

func runScan(ctx context.Context, cmd *cobra.Command, app *App, opts scanOptions, args []string) error {
	output := NewOutput(cmd)
	logger := logging.WithOperation(app.Logger, "scan")
	cfg := app.Config

	cal, err := cfg.Session.Calendar()
	if err != nil {
		return err
	}

	var st *store.SQLiteStore
	if opts.persist || opts.fromStore {
		if st, err = app.OpenStore(opts.dbPath); err != nil {
			return err
		}
	}

	groups, err := loadBars(ctx, st, cal, opts, args)
	if err != nil {
		return err
	}
	symbols := feed.Symbols(groups)
	if len(symbols) == 0 {
		return fmt.Errorf("no bars to scan")
	}
	logger.Info().Strs("symbols", symbols).Msg("Scanning")

	if opts.persist && !opts.fromStore {
		for _, symbol := range symbols {
			if err := st.SaveBars(ctx, groups[symbol]); err != nil {
				return err
			}
		}
	}

	var pub messaging.Publisher
	if opts.publish || cfg.NATS.Enabled {
		nc, err := messaging.NewClient(ctx, cfg.NATS, app.Logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		breaker := resilience.NewBreaker("nats", resilience.DefaultBreakerConfig())
		pub = messaging.NewGuardedPublisher(nc, breaker, logger)
	}

	var terminal *render.Terminal
	if !opts.quiet && !output.IsJSON() {
		terminal = render.NewTerminal(cmd.OutOrStdout(), !output.ColorEnabled())
		terminal.SetPrecision(opts.precision)
	}

	var mu sync.Mutex
	runIDs := make(map[string]string)
	openTap := func(ctx context.Context, symbol string) (stream.Tap, error) {
		var taps stream.MultiTap
		if terminal != nil {
			taps = append(taps, stream.SinkTap{ZoneSink: terminal})
		}
		runID := ""
		if opts.persist {
			run, err := st.StartRun(ctx, symbol, cfg.Engine)
			if err != nil {
				return nil, err
			}
			runID = run.ID
			taps = append(taps, store.NewZoneRecorder(ctx, st, runID))
		}
		if pub != nil {
			taps = append(taps, messaging.NewTap(pub, cfg.NATS.SubjectPrefix, symbol, runID))
		}
		mu.Lock()
		runIDs[symbol] = runID
		mu.Unlock()
		return taps, nil
	}

	runnerOpts := []stream.RunnerOption{
		stream.WithRunnerLogger(app.Logger),
		stream.WithTaps(openTap),
	}
	if !opts.singleSession {
		runnerOpts = append(runnerOpts, stream.WithSessionFunc(cal.IsNewSession))
	}

	hub := stream.NewHub()
	runner, err := stream.NewRunner(hub, cfg.Engine, runnerOpts...)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx, symbols); err != nil {
		return err
	}
	if err := hub.Start(ctx); err != nil {
		return err
	}

	for _, bar := range mergeByTime(groups, symbols) {
		if err := hub.Publish(ctx, bar); err != nil {
			hub.Close()
			runner.Wait()
			return err
		}
	}
	hub.Close()
	results := runner.Wait()

	report := scanReport{}
	var failed []string
	for _, res := range results {
		entry := scanSymbol{SymbolResult: res, RunID: runIDs[res.Symbol]}
		if res.Err != nil {
			entry.Error = res.Err.Error()
			failed = append(failed, res.Symbol)
		}
		report.Symbols = append(report.Symbols, entry)
	}

	if output.IsJSON() {
		if err := output.JSON(report); err != nil {
			return err
		}
	} else {
		printScanSummary(output, report, opts.precision)
	}

	if len(failed) > 0 {
		return fmt.Errorf("engine failed for %s", FormatList(failed))
	}
	return nil
}

func loadBars(ctx context.Context, st *store.SQLiteStore, cal series.SessionCalendar, opts scanOptions, args []string) (map[string][]models.Bar, error) {
	if opts.fromStore {
		groups := make(map[string][]models.Bar)
		for _, symbol := range args {
			bars, err := st.GetBars(ctx, normalizeSymbol(symbol), zeroTime, zeroTime)
			if err != nil {
				return nil, err
			}
			if len(bars) > 0 {
				groups[normalizeSymbol(symbol)] = bars
			}
		}
		return groups, nil
	}

	reader := feed.Reader{Location: cal.Location, DefaultSymbol: opts.symbol}
	var all []models.Bar
	for _, path := range args {
		bars, err := reader.ReadFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	return feed.GroupBySymbol(all), nil
}

// mergeByTime interleaves the per-symbol streams by timestamp as a live
// feed would. Each symbol keeps its own order, so a bar out of order in
// its file still reaches the engine out of order.
func mergeByTime(groups map[string][]models.Bar, symbols []string) []models.Bar {
	heads := make([]int, len(symbols))
	total := 0
	for _, s := range symbols {
		total += len(groups[s])
	}
	out := make([]models.Bar, 0, total)
	for len(out) < total {
		pick := -1
		for i, s := range symbols {
			if heads[i] >= len(groups[s]) {
				continue
			}
			if pick < 0 || groups[s][heads[i]].Timestamp.Before(groups[symbols[pick]][heads[pick]].Timestamp) {
				pick = i
			}
		}
		out = append(out, groups[symbols[pick]][heads[pick]])
		heads[pick]++
	}
	return out
}

func printScanSummary(output *Output, report scanReport, precision int) {
	output.Println()
	table := NewTable(output, "SYMBOL", "BARS", "REJECTED", "RETRACES", "ZONES", "BIAS", "LAST BEAR", "LAST BULL", "RUN")
	for _, s := range report.Symbols {
		last := s.LastSignal
		bear, bull := "-", "-"
		if last.Bear.HasRetrace {
			bear = FormatBand(last.Bear.Level1, last.Bear.Level2, precision)
		}
		if last.Bull.HasRetrace {
			bull = FormatBand(last.Bull.Level1, last.Bull.Level2, precision)
		}
		run := "-"
		if s.RunID != "" {
			run = ShortID(s.RunID)
		}
		symbol := s.Symbol
		if s.Error != "" {
			symbol = output.Red(symbol + " !")
		}
		table.AddRow(symbol,
			fmt.Sprintf("%d", s.Bars),
			fmt.Sprintf("%d", s.Rejected),
			fmt.Sprintf("%d", s.Signals),
			fmt.Sprintf("%d", s.Zones),
			output.Polarity(orDash(string(last.Bias))),
			bear, bull, run)
	}
	table.Render()

	for _, s := range report.Symbols {
		if s.Error != "" {
			output.Error("%s: %s", s.Symbol, s.Error)
		}
	}
}
