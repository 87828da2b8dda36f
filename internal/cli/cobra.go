package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"reefstitch/internal/config"
	"reefstitch/internal/pipeline"
	"reefstitch/internal/storage"
	"reefstitch/internal/track"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reefstitch",
		Short: "reefstitch turns towed-camera survey video into georeferenced mosaics",
		Long: `reefstitch stitches survey video frames into strip mosaics, aligns them with a GPS
track and exports rotated overlays as KMZ archives and GeoJSON footprints.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newStageCmd(root, config.StageExtract, "extract", "Extract numbered frames from the survey videos"))
	rootCmd.AddCommand(newTrackCmd(root))
	rootCmd.AddCommand(newStageCmd(root, config.StageMosaic, "mosaic", "Assemble frame windows into strip mosaics"))
	rootCmd.AddCommand(newStageCmd(root, config.StageGeoref, "georef", "Georeference mosaics and export KMZ archives"))
	rootCmd.AddCommand(newStageCmd(root, config.StageQC, "qc", "Write trim-and-mark sheets for manual checking"))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newRunCmd(root *Root) *cobra.Command {
	var pf projectFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every enabled stage of a project",
		Long: `Run the enabled stages of a project in order: extract, track, mosaic, georef, qc.
Without --stages every stage but extract runs. A fatal error stops the run.

Examples:
  reefstitch run --project reef.json
  reefstitch run --name reef --track gps.csv --time-col time --lat-col lat --lon-col lon \
      --window 10 --sync 09:15:00 --utc-offset 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pf.resolve(cmd, root.cfg.Paths.DefaultOutput)
			if err != nil {
				return err
			}
			root.log.Info("project run", "project", p.Name, "stages", stageList(p.Stages))
			results, err := root.pipeline.RunProject(cmd.Context(), p)
			for _, res := range results {
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	pf.bind(cmd)
	return cmd
}

func newStageCmd(root *Root, stage, use, short string) *cobra.Command {
	var pf projectFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pf.resolve(cmd, root.cfg.Paths.DefaultOutput)
			if err != nil {
				return err
			}
			res, err := root.pipeline.RunStage(cmd.Context(), p, stage)
			if res.Job.Type != "" {
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	pf.bind(cmd)
	return cmd
}

func newTrackCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Inspect and normalize GPS tracks",
	}

	var timeCol string
	inspectCmd := &cobra.Command{
		Use:   "inspect <track_file>",
		Short: "List the columns and dates of a track file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := track.NewNormalizer(root.cfg.Track, root.log)
			cols, dates, err := n.Inspect(args[0], timeCol)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "columns: %s\n", strings.Join(cols, ", "))
			if len(dates) > 0 {
				fmt.Fprintf(out, "dates: %s\n", strings.Join(dates, ", "))
			}
			return nil
		},
	}
	inspectCmd.Flags().StringVar(&timeCol, "time-col", "", "time column used to list dates")

	cmd.AddCommand(inspectCmd)
	cmd.AddCommand(newStageCmd(root, config.StageTrack, "normalize", "Normalize a track into the project's track.json"))
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start an HTTP server exposing the run ledger, queued project runs, a websocket
stream of stage results and artifact changes, and the output tree under /files/.

Examples:
  reefstitch serve --addr :8080 --output ./output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}
			root.log.Info("starting server", "addr", addr, "output", output)
			return root.serveFn(cmd.Context(), addr, root.store, root.pipeline, output, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output root to serve and watch")
	return cmd
}
