// Package reconcile resolves pending video-clip artifacts once their
// asynchronous provider jobs finish, via webhook delivery or a poll
// fallback.
//
// Reconciliation is an inbound message path, never a continuation of the
// orchestrator's call stack: every entry point is independently invocable,
// and duplicate deliveries for the same provider job id are no-ops once
// the artifact has left the pending state.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/reelpipe/reelpipe/pkg/core"
	"github.com/reelpipe/reelpipe/pkg/provider"
)

// ResumeFunc is invoked for each running job left with no pending clip
// dispatches after a resolution, so the host can re-enter the orchestrator
// to dispatch deferred scenes or advance into assembly.
type ResumeFunc func(ctx context.Context, projectID, jobID string) error

// Reconciler resolves pending clip artifacts into terminal states.
type Reconciler struct {
	store     core.Store
	providers *provider.Registry
	logger    *slog.Logger
	resume    ResumeFunc
	emitter   core.Emitter
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithResume registers a callback fired for each running job that a
// resolution leaves with no pending clip dispatches.
func WithResume(fn ResumeFunc) Option {
	return func(r *Reconciler) { r.resume = fn }
}

// New creates a Reconciler.
func New(store core.Store, providers *provider.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events returns a subscriber channel for reconciliation events.
func (r *Reconciler) Events() <-chan core.Event {
	return r.emitter.Events()
}

// Completion is a terminal report for an async clip job, from either a
// webhook delivery or a status poll.
type Completion struct {
	ProviderJobID   string
	Failed          bool
	FileURL         string
	Reason          string
	DurationSeconds float64
	Metadata        datatypes.JSONMap
}

// Resolve applies a terminal completion to the matching pending artifact.
// The update happens in place; once the artifact is no longer pending,
// further deliveries for the same provider job id do nothing. Unknown
// provider job ids are logged and ignored so a replayed foreign webhook
// cannot fail the endpoint.
func (r *Reconciler) Resolve(ctx context.Context, c Completion) error {
	artifact, err := r.store.FindClipByProviderJobID(ctx, c.ProviderJobID)
	if err != nil {
		return err
	}
	if artifact == nil {
		r.logger.Warn("completion for unknown provider job", "provider_job_id", c.ProviderJobID)
		return nil
	}
	if artifact.Type != core.ArtifactVideoClipPending {
		// Already resolved; duplicate delivery or a webhook racing the
		// poller. Nothing to apply.
		return nil
	}

	if c.Failed {
		return r.resolveFailure(ctx, artifact, c)
	}
	return r.resolveSuccess(ctx, artifact, c)
}

func (r *Reconciler) resolveSuccess(ctx context.Context, artifact *core.Artifact, c Completion) error {
	duration := c.DurationSeconds
	if duration <= 0 {
		duration = artifact.DurationSeconds
	}

	won, err := r.store.ResolvePendingClip(ctx, artifact.ID, c.FileURL, duration, c.Metadata)
	if err != nil {
		return err
	}
	if !won {
		// Lost the race against a concurrent delivery.
		return nil
	}

	r.appendEvent(ctx, artifact, core.LevelSuccess, core.EventStepProgress,
		fmt.Sprintf("scene %s clip resolved", sceneLabel(artifact)),
		datatypes.JSONMap{"provider_job_id": c.ProviderJobID})
	r.emitter.Emit(&core.ClipResolved{Artifact: artifact, Timestamp: time.Now()})
	r.logger.Info("pending clip resolved",
		"job_id", artifact.JobID, "provider_job_id", c.ProviderJobID)

	r.resumeStalled(ctx)
	return nil
}

// resumeStalled re-enters every running job parked at the clip step with
// nothing left pending: the job whose last clip just resolved, and jobs
// whose dispatches were all deferred by an in-flight ceiling that this
// resolution may have freed. Only running jobs qualify; a job a sibling
// clip already failed stays failed until the user retries it.
func (r *Reconciler) resumeStalled(ctx context.Context) {
	if r.resume == nil {
		return
	}
	jobs, err := r.store.ListStalledClipJobs(ctx)
	if err != nil {
		r.logger.Error("listing stalled clip jobs failed", "error", err)
		return
	}
	for _, job := range jobs {
		if err := r.resume(ctx, job.ProjectID, job.ID); err != nil {
			r.logger.Error("pipeline resume after reconciliation failed",
				"job_id", job.ID, "error", err)
		}
	}
}

// resolveFailure marks the clip failed and fails the owning job: a failed
// async generation is terminal for its scene.
func (r *Reconciler) resolveFailure(ctx context.Context, artifact *core.Artifact, c Completion) error {
	reason := c.Reason
	if reason == "" {
		reason = "provider reported clip generation failure"
	}

	won, err := r.store.FailPendingClip(ctx, artifact.ID, reason)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	message := fmt.Sprintf("clip generation failed for scene %s: %s", sceneLabel(artifact), reason)
	r.appendEvent(ctx, artifact, core.LevelError, core.EventStepFailed, message,
		datatypes.JSONMap{"provider_job_id": c.ProviderJobID})
	r.emitter.Emit(&core.ClipResolved{Artifact: artifact, Failed: true, Timestamp: time.Now()})

	job, err := r.store.GetJob(ctx, artifact.JobID)
	if err != nil {
		return err
	}
	if job != nil && job.Status != core.JobFailed && job.Status != core.JobCompleted {
		now := time.Now()
		job.Status = core.JobFailed
		job.ErrorMessage = message
		job.FinishedAt = &now
		if err := r.store.SaveJob(ctx, job); err != nil {
			return err
		}
	}

	project, err := r.store.GetProject(ctx, artifact.ProjectID)
	if err != nil {
		return err
	}
	if project != nil && project.Status != core.ProjectCompleted {
		project.Status = core.ProjectFailed
		project.ErrorMessage = message
		if err := r.store.SaveProject(ctx, project); err != nil {
			return err
		}
	}

	r.logger.Error("pending clip failed",
		"job_id", artifact.JobID, "provider_job_id", c.ProviderJobID, "reason", reason)

	// The failed dispatch still freed an in-flight slot.
	r.resumeStalled(ctx)
	return nil
}

// PollPending is the fallback validator for webhook deliveries that never
// arrived: it queries provider status for pending clips last touched
// before maxAge and applies any terminal results. Returns how many clips
// reached a terminal state.
func (r *Reconciler) PollPending(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	artifacts, err := r.store.ListPendingClips(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, artifact := range artifacts {
		gen, err := r.providers.Video(artifact.ProviderID)
		if err != nil {
			r.logger.Warn("pending clip references unknown provider",
				"artifact_id", artifact.ID, "provider_id", artifact.ProviderID)
			continue
		}
		poller, ok := gen.(provider.ClipStatusPoller)
		if !ok {
			continue
		}

		status, err := poller.ClipStatus(ctx, artifact.ProviderJobID)
		if err != nil {
			r.logger.Warn("clip status poll failed",
				"provider_job_id", artifact.ProviderJobID, "error", err)
			continue
		}
		if !status.Done {
			continue
		}

		err = r.Resolve(ctx, Completion{
			ProviderJobID: artifact.ProviderJobID,
			Failed:        status.Failed,
			FileURL:       status.FileURL,
			Reason:        status.Reason,
		})
		if err != nil {
			r.logger.Error("poll reconciliation failed",
				"provider_job_id", artifact.ProviderJobID, "error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (r *Reconciler) appendEvent(ctx context.Context, artifact *core.Artifact, level core.EventLevel, typ core.EventType, message string, data datatypes.JSONMap) {
	e := &core.JobEvent{
		JobID:   artifact.JobID,
		Level:   level,
		Step:    core.StepVideoClips,
		Type:    typ,
		Message: message,
		Data:    data,
	}
	if err := r.store.AppendEvent(ctx, e); err != nil {
		r.logger.Error("failed to append job event", "job_id", artifact.JobID, "error", err)
	}
}

func sceneLabel(artifact *core.Artifact) string {
	if artifact.SceneIndex == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *artifact.SceneIndex)
}
