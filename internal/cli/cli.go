package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"reefstitch/internal/config"
	"reefstitch/internal/pipeline"
	"reefstitch/internal/server"
	"reefstitch/internal/storage"
)

type pipelineClient interface {
	RunProject(ctx context.Context, project *config.Project) ([]pipeline.Result, error)
	RunStage(ctx context.Context, project *config.Project, stage string) (pipeline.Result, error)
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, outputRoot string, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, outputRoot string, log *slog.Logger) error {
	pl, ok := pipe.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	return server.NewServer(addr, store, pl, outputRoot, log).Start(ctx)
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
	}
}

// projectFlags binds the project record fields to command flags. Flags that
// are set override the record loaded with --project.
type projectFlags struct {
	file    string
	project config.Project
}

func (f *projectFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	p := &f.project
	fl.StringVar(&f.file, "project", "", "project record (JSON)")
	fl.StringVar(&p.Name, "name", "", "project name")
	fl.StringVarP(&p.OutputRoot, "output", "o", "", "output root directory")
	fl.StringVar(&p.VideoDir, "video-dir", "", "directory of survey videos")
	fl.StringVar(&p.TrackFile, "track", "", "GPS track file (csv, gpx or nmea)")
	fl.StringVar(&p.Columns.Time, "time-col", "", "time column")
	fl.StringVar(&p.Columns.Lat, "lat-col", "", "latitude column")
	fl.StringVar(&p.Columns.Lon, "lon-col", "", "longitude column")
	fl.StringVar(&p.Columns.Depth, "depth-col", "", "depth column (NA when absent)")
	fl.StringVar(&p.Columns.Heading, "heading-col", "", "heading column (NA to synthesize)")
	fl.Float64Var(&p.WindowSeconds, "window", 0, "mosaic window in seconds")
	fl.Float64Var(&p.StartOffset, "start-offset", 0, "seconds of video to skip before the first mosaic")
	fl.StringVar(&p.SyncTime, "sync", "", "local clock time of the first mosaic frame (HH:MM:SS)")
	fl.IntVar(&p.UTCOffset, "utc-offset", 0, "UTC offset of the sync clock in hours")
	fl.StringVar(&p.Date, "date", "", "survey date when the track spans several days")
	fl.StringSliceVar(&p.Stages, "stages", nil, "stages to run (extract,track,mosaic,georef,qc)")
}

func (f *projectFlags) resolve(cmd *cobra.Command, defaultOutput string) (*config.Project, error) {
	p := &config.Project{}
	if f.file != "" {
		loaded, err := config.LoadProject(f.file)
		if err != nil {
			return nil, err
		}
		p = loaded
	}
	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	src := f.project
	set("name", func() { p.Name = src.Name })
	set("output", func() { p.OutputRoot = src.OutputRoot })
	set("video-dir", func() { p.VideoDir = src.VideoDir })
	set("track", func() { p.TrackFile = src.TrackFile })
	set("time-col", func() { p.Columns.Time = src.Columns.Time })
	set("lat-col", func() { p.Columns.Lat = src.Columns.Lat })
	set("lon-col", func() { p.Columns.Lon = src.Columns.Lon })
	set("depth-col", func() { p.Columns.Depth = src.Columns.Depth })
	set("heading-col", func() { p.Columns.Heading = src.Columns.Heading })
	set("window", func() { p.WindowSeconds = src.WindowSeconds })
	set("start-offset", func() { p.StartOffset = src.StartOffset })
	set("sync", func() { p.SyncTime = src.SyncTime })
	set("utc-offset", func() { p.UTCOffset = src.UTCOffset })
	set("date", func() { p.Date = src.Date })
	set("stages", func() { p.Stages = src.Stages })
	if p.OutputRoot == "" {
		p.OutputRoot = defaultOutput
	}
	return p, nil
}

func printResult(w io.Writer, res pipeline.Result) {
	status := "ok"
	if res.Error != nil {
		status = "failed: " + res.Error.Error()
	}
	fmt.Fprintf(w, "%-7s %s\n", res.Job.Type, status)
	keys := make([]string, 0, len(res.Meta))
	for k := range res.Meta {
		if k != "warnings" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "        %s: %v\n", k, res.Meta[k])
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "        warning: %s\n", warn)
	}
}

func stageList(stages []string) string {
	if len(stages) == 0 {
		return "all but extract"
	}
	return strings.Join(stages, ",")
}
