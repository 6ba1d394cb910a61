package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fib-targets/internal/api"
	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/feed"
	"fib-targets/internal/models"
	"fib-targets/internal/store"
)

var zeroTime time.Time

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newImportCmd(app *App) *cobra.Command {
	var dbPath, symbol string
	cmd := &cobra.Command{
		Use:   "import <file.csv>...",
		Short: "Load CSV bars into the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(dbPath)
			if err != nil {
				return err
			}
			cal, err := app.Config.Session.Calendar()
			if err != nil {
				return err
			}

			reader := feed.Reader{Location: cal.Location, DefaultSymbol: symbol}
			counts := make(map[string]int)
			for _, path := range args {
				bars, err := reader.ReadFile(path)
				if err != nil {
					return err
				}
				if err := st.SaveBars(cmd.Context(), bars); err != nil {
					return err
				}
				for _, b := range bars {
					counts[b.Symbol]++
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"imported": counts})
			}
			for _, s := range sortedSymbols(counts) {
				output.Success("Imported %d bars for %s", counts[s], s)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "store path (default: [store] path)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol for CSV rows without one")
	return cmd
}

func newZonesCmd(app *App) *cobra.Command {
	var (
		dbPath, symbol, runID, kind, polarity string
		live, allRuns, asCSV                  bool
		limit, precision                      int
	)
	cmd := &cobra.Command{
		Use:   "zones",
		Short: "List persisted zones",
		Long: `List zones recorded by scan --store. With --symbol and no --run the
symbol's latest run is shown; --all-runs spans every run.`,
		Example: `  fibtargets zones --symbol NIFTY --live
  fibtargets zones --symbol NIFTY --kind confirmed --polarity bull --csv > zones.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(dbPath)
			if err != nil {
				return err
			}

			filter := store.ZoneFilter{Symbol: normalizeSymbol(symbol), RunID: runID, LiveOnly: live, Limit: limit}
			if filter.Kind, err = api.ParseKind(kind); err != nil {
				return err
			}
			if filter.Polarity, err = api.ParsePolarity(polarity); err != nil {
				return err
			}

			if filter.RunID == "" && filter.Symbol != "" && !allRuns {
				run, err := st.LatestRun(cmd.Context(), filter.Symbol)
				if errors.Is(err, apperrors.ErrDataNotFound) {
					output.Warning("No runs recorded for %s", filter.Symbol)
					return nil
				}
				if err != nil {
					return err
				}
				filter.RunID = run.ID
			}

			zones, err := st.GetZones(cmd.Context(), filter)
			if err != nil {
				return err
			}

			switch {
			case asCSV:
				plain := make([]models.Zone, len(zones))
				for i, z := range zones {
					plain[i] = z.Zone
				}
				return feed.WriteZones(cmd.OutOrStdout(), plain)
			case output.IsJSON():
				if zones == nil {
					zones = []store.StoredZone{}
				}
				return output.JSON(zones)
			}

			if len(zones) == 0 {
				output.Dim("No zones")
				return nil
			}
			table := NewTable(output, "ID", "SYMBOL", "POLARITY", "KIND", "BAR", "TIME", "BAND", "SWING", "ANCHOR", "LIVE")
			for _, z := range zones {
				table.AddRow(z.ID, z.Symbol,
					output.Polarity(string(z.Polarity)),
					strings.ToLower(string(z.Kind)),
					fmt.Sprintf("%d", z.CreatedBar),
					FormatTime(z.CreatedAt, nil),
					FormatBand(z.Level1, z.Level2, precision),
					FormatPrice(z.SwingLow, precision)+"-"+FormatPrice(z.SwingHigh, precision),
					FormatBarsAgo(z.AnchorBarsAgo),
					YesNo(z.Live()))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "store path (default: [store] path)")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "symbol")
	cmd.Flags().StringVar(&runID, "run", "", "run ID")
	cmd.Flags().StringVar(&kind, "kind", "", "confirmed or predictive")
	cmd.Flags().StringVar(&polarity, "polarity", "", "bull or bear")
	cmd.Flags().BoolVar(&live, "live", false, "only zones still drawn")
	cmd.Flags().BoolVar(&allRuns, "all-runs", false, "include every run, not just the latest")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write CSV")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum zones (0 = all)")
	cmd.Flags().IntVar(&precision, "precision", 2, "price decimals")
	return cmd
}

func newSignalsCmd(app *App) *cobra.Command {
	var (
		dbPath, runID    string
		all              bool
		limit, precision int
	)
	cmd := &cobra.Command{
		Use:   "signals <symbol>",
		Short: "List bars on which a zone fired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(dbPath)
			if err != nil {
				return err
			}
			symbol := normalizeSymbol(args[0])

			if runID == "" {
				run, err := st.LatestRun(cmd.Context(), symbol)
				if err != nil {
					return err
				}
				runID = run.ID
			}

			signals, err := st.GetSignals(cmd.Context(), store.SignalFilter{
				Symbol: symbol, RunID: runID, RetraceOnly: !all, Limit: limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if signals == nil {
					signals = []models.Signal{}
				}
				return output.JSON(signals)
			}
			if len(signals) == 0 {
				output.Dim("No signals for %s", symbol)
				return nil
			}

			table := NewTable(output, "BAR", "TIME", "BIAS", "BEAR", "BULL")
			for _, sig := range signals {
				table.AddRow(fmt.Sprintf("%d", sig.BarIndex),
					FormatTime(sig.Timestamp, nil),
					output.Polarity(orDash(string(sig.Bias))),
					formatSide(output, sig.Bear, precision, output.Red),
					formatSide(output, sig.Bull, precision, output.Green))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "store path (default: [store] path)")
	cmd.Flags().StringVar(&runID, "run", "", "run ID (default: latest)")
	cmd.Flags().BoolVar(&all, "all", false, "include bars without a retrace")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum signals (0 = all)")
	cmd.Flags().IntVar(&precision, "precision", 2, "price decimals")
	return cmd
}

func formatSide(output *Output, side models.RetraceSide, precision int, paint func(string) string) string {
	if !side.HasRetrace {
		return output.DimText("-")
	}
	return paint(FormatBand(side.Level1, side.Level2, precision)) + " " + output.DimText(FormatBarsAgo(side.StartBarsAgo))
}

func sortedSymbols(counts map[string]int) []string {
	symbols := make([]string, 0, len(counts))
	for s := range counts {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
