package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"moviepulse/internal/config"
	"moviepulse/internal/logging"
	"moviepulse/internal/ops"
	"moviepulse/internal/pipeline"
	"moviepulse/internal/tmdb"
	"moviepulse/internal/warehouse"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "moviepulse",
		Short:         "TMDB movie trend ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newDailyCmd(),
		newWeeklyCmd(),
		newInitLoadCmd(),
		newComputeMetricsCmd(),
		newSetupCmd(),
		newResetCmd(),
		newValidateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles the per-run collaborators. Everything is constructed
// explicitly for one run and torn down with it; no process-wide singletons.
type app struct {
	cfg  *config.Config
	log  *zap.SugaredLogger
	db   *gorm.DB
	pipe *pipeline.Pipeline
}

func newApp(withUpstream bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Env)
	if err != nil {
		return nil, err
	}

	db, err := warehouse.Connect(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db}

	if withUpstream {
		client, err := tmdb.New(tmdb.Config{APIKey: cfg.TMDBAPIKey}, log)
		if err != nil {
			return nil, err
		}
		a.pipe = pipeline.New(
			client,
			warehouse.NewLoader(db, log),
			warehouse.NewMetricsEngine(db, log),
			log,
		)
	} else {
		a.pipe = pipeline.New(
			nil,
			warehouse.NewLoader(db, log),
			warehouse.NewMetricsEngine(db, log),
			log,
		)
	}

	ops.Register()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := ops.Serve(cfg.MetricsAddr, log); err != nil {
				log.Errorw("ops listener failed", "error", err)
			}
		}()
	}

	return a, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

// parseDate reads a --date flag value, defaulting to today (UTC).
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", value)
	}
	return t, nil
}

func newDailyCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Ingest movies changed in the last 24 hours and recompute metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			execDate, err := parseDate(date)
			if err != nil {
				return err
			}
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()
			return a.pipe.RunDaily(context.Background(), execDate)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "execution date (YYYY-MM-DD, default today)")
	return cmd
}

func newWeeklyCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Refresh snapshots for every tracked movie and recompute metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			execDate, err := parseDate(date)
			if err != nil {
				return err
			}
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()
			return a.pipe.RunWeekly(context.Background(), execDate)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "execution date (YYYY-MM-DD, default today)")
	return cmd
}

func newInitLoadCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "init-load",
		Short: "Seed the warehouse with the most popular movies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()
			if count <= 0 {
				count = a.cfg.InitialLoadCount
			}
			return a.pipe.RunInitialLoad(context.Background(), time.Now().UTC(), count)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "number of movies to seed (default from APP_INITIAL_LOAD_COUNT)")
	return cmd
}

func newComputeMetricsCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "compute-metrics",
		Short: "Recompute derived and aggregated metrics without ingesting",
		RunE: func(cmd *cobra.Command, args []string) error {
			execDate, err := parseDate(date)
			if err != nil {
				return err
			}
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			return a.pipe.ComputeMetrics(context.Background(), execDate)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "calculation date (YYYY-MM-DD, default today)")
	return cmd
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Provision the warehouse schema and tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			if err := warehouse.Setup(a.db, a.cfg.WarehouseSchema); err != nil {
				return err
			}
			a.log.Infow("warehouse tables provisioned")
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop all warehouse tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to drop tables without --force")
			}
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			if err := warehouse.Reset(a.db); err != nil {
				return err
			}
			a.log.Infow("warehouse tables dropped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm dropping every warehouse table")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check warehouse integrity (required fields, natural keys)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			report, err := warehouse.Validate(context.Background(), a.db)
			if err != nil {
				return err
			}
			for _, c := range report.Checks {
				if c.Violations > 0 {
					a.log.Errorw("check failed", "check", c.Name, "violations", c.Violations)
				} else {
					a.log.Infow("check passed", "check", c.Name)
				}
			}
			if !report.OK() {
				return errors.New("validation failed")
			}
			return nil
		},
	}
}
