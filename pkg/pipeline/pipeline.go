// Package pipeline drives a generation job through its ordered steps.
//
// Each Run invocation is a stateless unit of work: all durable state lives
// in the store, so a crashed or interrupted run is recovered by invoking
// Run again with the same job id. Async video clips make the video_clips
// step a dispatch point rather than a blocking call; a follow-up Run after
// reconciliation advances the job into assembly.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/reelpipe/reelpipe/pkg/core"
	"github.com/reelpipe/reelpipe/pkg/provider"
)

// Orchestrator executes the script -> scene_plan -> voiceover ->
// video_clips -> assembly sequence for a job.
type Orchestrator struct {
	store     core.Store
	providers *provider.Registry
	logger    *slog.Logger
	emitter   core.Emitter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator on the given store and provider registry.
func New(store core.Store, providers *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Events returns a subscriber channel for in-process pipeline events.
func (o *Orchestrator) Events() <-chan core.Event {
	return o.emitter.Events()
}

// Run executes the pipeline for a job, starting at the step recorded in
// the job's current_step. A failed job is resumed: the error is cleared
// and execution re-enters at current_step without regenerating artifacts
// from earlier steps. A completed job is a no-op.
func (o *Orchestrator) Run(ctx context.Context, projectID, jobID string) error {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project == nil {
		return core.ErrProjectNotFound
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return core.ErrJobNotFound
	}
	if job.ProjectID != project.ID {
		return fmt.Errorf("reelpipe: job %s does not belong to project %s", jobID, projectID)
	}
	if job.Status == core.JobCompleted {
		return nil
	}

	running, err := o.store.HasRunningJob(ctx, projectID, jobID)
	if err != nil {
		return err
	}
	if running {
		return core.ErrJobAlreadyRunning
	}

	resumed := job.Status == core.JobFailed

	now := time.Now()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	if job.CurrentStep == "" {
		job.CurrentStep = core.Steps[0]
	}
	job.Status = core.JobRunning
	job.ErrorMessage = ""
	if err := o.store.SaveJob(ctx, job); err != nil {
		return err
	}

	project.Status = core.ProjectGenerating
	project.CurrentStep = job.CurrentStep
	project.ErrorMessage = ""
	if err := o.store.SaveProject(ctx, project); err != nil {
		return err
	}

	o.emitter.Emit(&core.PipelineStarted{Job: job, Resumed: resumed, Timestamp: now})
	o.logger.Info("pipeline run started",
		"project_id", project.ID, "job_id", job.ID,
		"step", job.CurrentStep, "resumed", resumed)

	start := core.StepIndex(job.CurrentStep)
	if start < 0 {
		return o.failStep(ctx, project, job, job.CurrentStep, core.ErrUnknownStep)
	}

	for i := start; i < len(core.Steps); i++ {
		step := core.Steps[i]
		done, err := o.runStep(ctx, project, job, step)
		if err != nil {
			return o.failStep(ctx, project, job, step, err)
		}
		if !done {
			// Async clips are still in flight. The job stays running at
			// video_clips; a follow-up invocation after reconciliation
			// re-checks the pending count and advances into assembly.
			o.logger.Info("pipeline run suspended on pending clips",
				"project_id", project.ID, "job_id", job.ID)
			return nil
		}
	}

	return o.complete(ctx, project, job)
}

func (o *Orchestrator) runStep(ctx context.Context, project *core.Project, job *core.Job, step core.Step) (bool, error) {
	job.CurrentStep = step
	project.CurrentStep = step

	o.appendEvent(ctx, job, core.LevelInfo, step, core.EventStepStarted,
		fmt.Sprintf("step %s started", step), nil)

	var err error
	done := true
	switch step {
	case core.StepScript:
		err = o.runScript(ctx, project, job)
	case core.StepScenePlan:
		err = o.runScenePlan(ctx, project, job)
	case core.StepVoiceover:
		err = o.runVoiceover(ctx, project, job)
	case core.StepVideoClips:
		done, err = o.runVideoClips(ctx, project, job)
	case core.StepAssembly:
		err = o.runAssembly(ctx, project, job)
	default:
		err = core.ErrUnknownStep
	}
	if err != nil {
		return false, err
	}
	if !done {
		if err := o.store.SaveJob(ctx, job); err != nil {
			return false, err
		}
		if err := o.store.SaveProject(ctx, project); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, o.advance(ctx, project, job, step)
}

// advance records a finished step: progress moves to the cumulative weight
// through the step (never backwards) and current_step moves to the next
// step in the sequence.
func (o *Orchestrator) advance(ctx context.Context, project *core.Project, job *core.Job, step core.Step) error {
	if p := cumulativeWeight(step); p > job.Progress {
		job.Progress = p
	}

	o.appendEvent(ctx, job, core.LevelSuccess, step, core.EventStepFinished,
		fmt.Sprintf("step %s finished", step), nil)
	o.emitter.Emit(&core.StepFinished{Job: job, Step: step, Timestamp: time.Now()})

	if next, ok := core.NextStep(step); ok {
		job.CurrentStep = next
		project.CurrentStep = next
	}
	project.Progress = job.Progress

	if err := o.store.SaveJob(ctx, job); err != nil {
		return err
	}
	return o.store.SaveProject(ctx, project)
}

func (o *Orchestrator) complete(ctx context.Context, project *core.Project, job *core.Job) error {
	now := time.Now()
	job.Status = core.JobCompleted
	job.Progress = 100
	job.FinishedAt = &now
	if err := o.store.SaveJob(ctx, job); err != nil {
		return err
	}

	project.Status = core.ProjectCompleted
	project.Progress = 100
	if err := o.store.SaveProject(ctx, project); err != nil {
		return err
	}

	var duration time.Duration
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt)
	}
	o.emitter.Emit(&core.PipelineCompleted{Job: job, Duration: duration, Timestamp: now})
	o.logger.Info("pipeline run completed",
		"project_id", project.ID, "job_id", job.ID, "duration", duration)
	return nil
}

// failStep persists the failure on both job and project and halts. The
// pipeline itself never retries; a user-triggered resume re-enters at the
// recorded current_step.
func (o *Orchestrator) failStep(ctx context.Context, project *core.Project, job *core.Job, step core.Step, stepErr error) error {
	now := time.Now()
	job.Status = core.JobFailed
	job.ErrorMessage = stepErr.Error()
	job.FinishedAt = &now
	if err := o.store.SaveJob(ctx, job); err != nil {
		o.logger.Error("failed to persist job failure", "job_id", job.ID, "error", err)
	}

	project.Status = core.ProjectFailed
	project.ErrorMessage = stepErr.Error()
	if err := o.store.SaveProject(ctx, project); err != nil {
		o.logger.Error("failed to persist project failure", "project_id", project.ID, "error", err)
	}

	o.appendEvent(ctx, job, core.LevelError, step, core.EventStepFailed,
		stepErr.Error(), nil)
	o.emitter.Emit(&core.PipelineFailed{Job: job, Step: step, Error: stepErr, Timestamp: now})
	o.logger.Error("pipeline step failed",
		"project_id", project.ID, "job_id", job.ID, "step", step, "error", stepErr)
	return stepErr
}

// appendEvent writes a JobEvent row. Event write failures are logged, not
// propagated: the timeline is diagnostic, not load-bearing.
func (o *Orchestrator) appendEvent(ctx context.Context, job *core.Job, level core.EventLevel, step core.Step, typ core.EventType, message string, data datatypes.JSONMap) {
	e := &core.JobEvent{
		JobID:    job.ID,
		Level:    level,
		Step:     step,
		Type:     typ,
		Message:  message,
		Progress: job.Progress,
		Data:     data,
	}
	if err := o.store.AppendEvent(ctx, e); err != nil {
		o.logger.Error("failed to append job event", "job_id", job.ID, "error", err)
	}
}

// cumulativeWeight returns the progress value after step has finished.
func cumulativeWeight(step core.Step) int {
	total := 0
	for _, s := range core.Steps {
		total += core.StepWeights[s]
		if s == step {
			return total
		}
	}
	return total
}

// providerID resolves the project's selected provider for a role.
func providerID(project *core.Project, role provider.Role) (string, error) {
	v, ok := project.Providers[string(role)]
	if !ok {
		return "", fmt.Errorf("reelpipe: project %s has no provider selected for role %s", project.ID, role)
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", fmt.Errorf("reelpipe: project %s has an invalid provider selection for role %s", project.ID, role)
	}
	return id, nil
}
