package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"reefstitch/internal/config"
	"reefstitch/internal/fsutil"
	"reefstitch/internal/logging"
	"reefstitch/internal/progress"
	"reefstitch/internal/storage"
)

// JobType enumerates the pipeline stages plus a whole-project run.
type JobType string

const (
	JobExtract JobType = config.StageExtract
	JobTrack   JobType = config.StageTrack
	JobMosaic  JobType = config.StageMosaic
	JobGeoref  JobType = config.StageGeoref
	JobQC      JobType = config.StageQC
	JobRun     JobType = "run"
)

// Job is one stage (or a whole run) of a project.
type Job struct {
	ID        string
	Type      JobType
	Project   *config.Project
	InputPath string
	Output    string
	Options   map[string]any
}

// Result captures the outcome of a Job. Error is fatal; Warnings are not.
type Result struct {
	Job      Job
	Error    error
	Meta     map[string]any
	Warnings []string
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline runs project stages one at a time. Queued jobs are handled by a
// single worker so an output tree never has two writers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a Pipeline whose stages use cfg and report progress to rep.
func New(ctx context.Context, logger *slog.Logger, store *storage.Store, cfg *config.Config, rep progress.Reporter) *Pipeline {
	return newPipeline(ctx, logger, store, newRouter(logger, store, cfg, rep))
}

func newPipeline(ctx context.Context, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, 8),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.worker(ctx)
	})
	return p
}

// NewJob builds a job for stage of project with a fresh id and its input and
// output locations filled in.
func NewJob(project *config.Project, t JobType) Job {
	job := Job{
		ID:      fmt.Sprintf("%s-%s-%d", project.Name, t, time.Now().UnixNano()),
		Type:    t,
		Project: project,
	}
	layout := fsutil.NewLayout(project.OutputRoot, project.Name)
	switch t {
	case JobExtract:
		job.InputPath, job.Output = project.VideoDir, layout.Frames
	case JobTrack:
		job.InputPath, job.Output = project.TrackFile, layout.TrackPath()
	case JobMosaic:
		job.InputPath, job.Output = layout.Frames, layout.Mosaics
	case JobGeoref:
		job.InputPath, job.Output = layout.Mosaics, layout.Georef
	case JobQC:
		job.InputPath, job.Output = layout.Mosaics, layout.QC
	case JobRun:
		job.InputPath, job.Output = project.VideoDir, layout.Root
	}
	return job
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if job.Project == nil {
		return errors.New("job has no project")
	}
	p.recordQueued(job)
	select {
	case p.jobs <- job:
		return nil
	default:
		return errors.New("job queue is full")
	}
}

// Stop signals the worker to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if job.Type == JobRun {
				if _, err := p.runStages(ctx, job.Project); err != nil {
					p.log.Error("project run aborted", "project", job.Project.Name, "error", err)
				}
				continue
			}
			p.execute(ctx, job)
		}
	}
}

// RunProject validates project, prepares its output tree and runs every
// enabled stage in order. The first fatal error aborts the remaining stages.
func (p *Pipeline) RunProject(ctx context.Context, project *config.Project) ([]Result, error) {
	return p.runStages(ctx, project)
}

// RunStage runs a single stage synchronously.
func (p *Pipeline) RunStage(ctx context.Context, project *config.Project, stage string) (Result, error) {
	if err := project.Validate(stage); err != nil {
		return Result{}, err
	}
	if err := fsutil.NewLayout(project.OutputRoot, project.Name).Ensure(); err != nil {
		return Result{}, err
	}
	job := NewJob(project, JobType(stage))
	p.recordQueued(job)
	res := p.execute(ctx, job)
	return res, res.Error
}

func (p *Pipeline) runStages(ctx context.Context, project *config.Project) ([]Result, error) {
	var stages []string
	for _, s := range config.Stages {
		if project.Enabled(s) {
			stages = append(stages, s)
		}
	}
	if err := project.Validate(stages...); err != nil {
		return nil, err
	}
	if err := fsutil.NewLayout(project.OutputRoot, project.Name).Ensure(); err != nil {
		return nil, err
	}

	var results []Result
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		job := NewJob(project, JobType(s))
		p.recordQueued(job)
		res := p.execute(ctx, job)
		results = append(results, res)
		if res.Error != nil {
			return results, fmt.Errorf("%s stage: %w", s, res.Error)
		}
	}
	return results, nil
}

func (p *Pipeline) recordQueued(job Job) {
	if p.store == nil {
		return
	}
	optsJSON, _ := json.Marshal(job.Project)
	_ = p.store.RecordJobQueued(storage.JobRecord{
		ID:          job.ID,
		Project:     job.Project.Name,
		Stage:       string(job.Type),
		Status:      "queued",
		InputPath:   job.InputPath,
		OutputPath:  job.Output,
		OptionsJSON: string(optsJSON),
	})
}

func (p *Pipeline) execute(ctx context.Context, job Job) Result {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.Project.Name, job.Options)
	if p.store != nil {
		_ = p.store.RecordJobStart(job.ID)
	}

	res := p.processor.Process(ctx, job)
	res.Job = job
	duration := time.Since(start)

	if res.Meta == nil {
		res.Meta = map[string]any{}
	}
	if len(res.Warnings) > 0 {
		res.Meta["warnings"] = res.Warnings
	}
	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
			"input":  job.InputPath,
			"output": job.Output,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
	}
	if p.store != nil {
		_ = p.store.RecordJobResult(job.ID, status, res.Meta, errString(res.Error))
	}

	p.broadcast(res)
	return res
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
