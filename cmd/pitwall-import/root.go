package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/BearBump/PitWall/internal/logger"
	"github.com/BearBump/PitWall/internal/models"
	"github.com/BearBump/PitWall/internal/pipeline"
	"github.com/BearBump/PitWall/internal/services/telemetry"
)

func newRootCmd(f importFactories, out io.Writer) *cobra.Command {
	a := &app{f: f, out: out}

	root := &cobra.Command{
		Use:           "pitwall-import",
		Short:         "Import OpenF1 data into PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := logger.Setup(cmd.ErrOrStderr(), a.logLevel)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("configPath"), "path to the YAML config")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(
		meetingsCmd(a),
		sessionFilterCmd(a, "sessions", "Import sessions (default: meetings that have none)", func(ctx context.Context, p *pipeline.Pipeline, f models.SessionFilter, mode models.ImportMode) (models.ImportSummary, error) {
			return p.Catalog.ImportSessions(ctx, f, mode)
		}),
		sessionFilterCmd(a, "drivers", "Import drivers (default: sessions that have none)", func(ctx context.Context, p *pipeline.Pipeline, f models.SessionFilter, mode models.ImportMode) (models.ImportSummary, error) {
			return p.Catalog.ImportDrivers(ctx, f, mode)
		}),
		sessionFilterCmd(a, "race-control", "Import race control messages (default: sessions that have none)", func(ctx context.Context, p *pipeline.Pipeline, f models.SessionFilter, mode models.ImportMode) (models.ImportSummary, error) {
			return p.Catalog.ImportRaceControl(ctx, f, mode)
		}),
		telemetryCmd(a, "car-data", telemetry.CarData),
		telemetryCmd(a, "location", telemetry.Location),
	)
	return root
}

func meetingsCmd(a *app) *cobra.Command {
	var (
		year, meetingKey int
		mode             string
	)
	cmd := &cobra.Command{
		Use:   "meetings",
		Short: "Import meetings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), mode, func(ctx context.Context, p *pipeline.Pipeline, m models.ImportMode) (models.ImportSummary, error) {
				return p.Catalog.ImportMeetings(ctx, year, meetingKey, m)
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "season year")
	cmd.Flags().IntVar(&meetingKey, "meeting_key", 0, "meeting key")
	cmd.Flags().StringVar(&mode, "mode", "I", "I (insert, skip existing) or U (update)")
	return cmd
}

type filteredImport func(ctx context.Context, p *pipeline.Pipeline, f models.SessionFilter, mode models.ImportMode) (models.ImportSummary, error)

func sessionFilterCmd(a *app, use, short string, fn filteredImport) *cobra.Command {
	var (
		f    models.SessionFilter
		mode string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), mode, func(ctx context.Context, p *pipeline.Pipeline, m models.ImportMode) (models.ImportSummary, error) {
				return fn(ctx, p, f, m)
			})
		},
	}
	addFilterFlags(cmd, &f, &mode)
	return cmd
}

func telemetryCmd(a *app, use string, ds telemetry.Dataset) *cobra.Command {
	var (
		f       models.SessionFilter
		mode    string
		workers int
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: "Import " + ds.Name + " samples in parallel time chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), mode, func(ctx context.Context, p *pipeline.Pipeline, m models.ImportMode) (models.ImportSummary, error) {
				return p.Telemetry.Import(ctx, ds, telemetry.Options{Filter: f, Mode: m, Workers: workers})
			})
		},
	}
	addFilterFlags(cmd, &f, &mode)
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel chunk fetches (default from config)")
	return cmd
}

func addFilterFlags(cmd *cobra.Command, f *models.SessionFilter, mode *string) {
	cmd.Flags().IntVar(&f.MeetingKey, "meeting_key", 0, "meeting key")
	cmd.Flags().IntVar(&f.SessionKey, "session_key", 0, "session key")
	cmd.Flags().StringVar(mode, "mode", "I", "I (insert, skip existing) or U (update)")
}
