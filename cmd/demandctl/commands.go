package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/calendar"
	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/export"
	"github.com/nicktill/demandcast/pkg/forecast"
	"github.com/nicktill/demandcast/pkg/ingest"
	"github.com/nicktill/demandcast/pkg/logging"
	"github.com/nicktill/demandcast/pkg/server"
	"github.com/nicktill/demandcast/pkg/storage"
)

// cli carries state shared by every command. The store is opened lazily
// by the root command's pre-run hook and closed by main.
type cli struct {
	configPath string
	openStore  func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Store, error)

	cfg   *config.Config
	store storage.Store
	log   zerolog.Logger
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Store, error) {
	return server.OpenStore(ctx, cfg.Storage, log)
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	logCfg := cfg.Logging
	logCfg.Output = cmd.ErrOrStderr()
	logging.Init(logCfg)

	c.cfg = cfg
	c.log = logging.Component("demandctl")
	c.store, err = c.openStore(cmd.Context(), cfg, c.log)
	return err
}

func (c *cli) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

// predictor builds a predictor with the configured calendar.
func (c *cli) predictor() (*forecast.Predictor, error) {
	p := forecast.New(c.store, c.log)
	if c.cfg.Forecast.SkipCalendar {
		return p, nil
	}
	cal, err := calendar.Load(c.cfg.Forecast.Calendar)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar: %w", err)
	}
	p.SetCalendar(cal)
	return p, nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:               "demandctl",
		Short:             "demandctl manages login history and demand forecasts",
		PersistentPreRunE: c.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default: $"+config.ConfigPathEnvVar+" or ./demandcast.yaml)")

	root.AddCommand(
		newLoadCmd(c),
		newPredictCmd(c),
		newOutlierCmd(c),
		newPredictedOutlierCmd(c),
		newExportCmd(c),
		newHistoryCmd(c),
		newResetCmd(c),
	)
	return root
}

func newLoadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>...",
		Short: "Load JSON lists of login timestamps into the history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				res, err := ingest.LoadFile(cmd.Context(), c.store, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d new hours, %d updated", path, res.Inserted, res.Updated)
				if res.Skipped > 0 {
					fmt.Fprintf(out, ", %d timestamps skipped", res.Skipped)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newPredictCmd(c *cli) *cobra.Command {
	var (
		days  int
		start string
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Forecast hourly logins and store the predictions",
		Long: "Forecast whole days of hourly logins. Without --start the forecast begins\n" +
			"the day after the latest history hour.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days == 0 {
				days = c.cfg.Forecast.DefaultDays
			}
			p, err := c.predictor()
			if err != nil {
				return err
			}

			var preds map[bucket.ID]float64
			if start == "" {
				preds, _, err = p.PredictNext(cmd.Context(), days)
			} else {
				id, perr := bucket.Parse(start + "T00")
				if perr != nil {
					return fmt.Errorf("--start must be YYYY-MM-DD: %w", perr)
				}
				preds, err = p.Predict(cmd.Context(), id, days)
			}
			if err != nil {
				return err
			}

			ids := make([]bucket.ID, 0, len(preds))
			for id := range preds {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i].Before(ids[j]) })

			out := cmd.OutOrStdout()
			if len(ids) > 0 {
				fmt.Fprintf(out, "Predicted %d hours from %s to %s\n", len(ids), ids[0], ids[len(ids)-1])
			}
			if quiet {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, id := range ids {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\n", id, id.Weekday2Letter(), preds[id])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 0, "Number of days to forecast (default from config)")
	cmd.Flags().StringVarP(&start, "start", "s", "", "First day to forecast, YYYY-MM-DD")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary line")
	return cmd
}

func newOutlierCmd(c *cli) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "outlier <bucket>",
		Short: "Exclude a history hour (YYYY-MM-DDThh) from future fits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bucket.Parse(args[0])
			if err != nil {
				return err
			}
			p := forecast.New(c.store, c.log)
			if err := p.MarkOutlier(cmd.Context(), id, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as an outlier\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Why the hour is unusual")
	return cmd
}

func newPredictedOutlierCmd(c *cli) *cobra.Command {
	var (
		reason     string
		multiplier float64
	)
	cmd := &cobra.Command{
		Use:   "predicted-outlier <bucket>",
		Short: "Scale the forecast of a future hour (YYYY-MM-DDThh)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bucket.Parse(args[0])
			if err != nil {
				return err
			}
			p := forecast.New(c.store, c.log)
			if err := p.MarkPredictedOutlier(cmd.Context(), id, multiplier, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forecast for %s will be scaled by %g\n", id, multiplier)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&multiplier, "multiplier", "m", 0, "Factor applied to the forecast")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Why the hour is expected to be unusual")
	_ = cmd.MarkFlagRequired("multiplier")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var (
		outPath string
		kind    string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored predictions or history to a CSV or JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format == "" {
				format = export.FormatCSV
				if strings.EqualFold(filepath.Ext(outPath), ".json") {
					format = export.FormatJSON
				}
			}

			// Buffer so a failed export leaves no partial file behind
			var buf bytes.Buffer
			res, err := export.NewExporter(c.store).Export(cmd.Context(), &buf, export.ExportOptions{Kind: kind, Format: format})
			if err != nil {
				return err
			}

			if outPath == "-" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d %s rows to %s\n", res.Rows, res.Kind, outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "predictions.csv", "Output file, - for stdout")
	cmd.Flags().StringVarP(&kind, "kind", "k", export.KindPredictions, "predictions or history")
	cmd.Flags().StringVarP(&format, "format", "f", "", "csv or json (default from the file extension)")
	return cmd
}

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print login history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			history, err := c.store.History(cmd.Context(), storage.Descending)
			if err != nil {
				return err
			}
			if limit > 0 && len(history) > limit {
				history = history[:limit]
			}

			outliers, err := c.store.Outliers(cmd.Context())
			if err != nil {
				return err
			}
			tagged := make(map[bucket.ID]string, len(outliers))
			for _, o := range outliers {
				tagged[o.Bucket] = o.Reason
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "BUCKET\tDAY\tHOUR\tLOGINS\tOUTLIER")
			for _, rec := range history {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", rec.Bucket, rec.Weekday, rec.Hour, rec.Count, tagged[rec.Bucket])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the newest N hours")
	return cmd
}

var errResetNotConfirmed = errors.New("reset deletes all history, outliers and predictions; pass --yes to confirm")

func newResetCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all history, outliers, multipliers and predictions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errResetNotConfirmed
			}
			if err := c.store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Store reset")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the reset")
	return cmd
}
