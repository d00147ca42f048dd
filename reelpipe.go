// Package reelpipe coordinates a multi-stage media-generation pipeline:
// script generation, scene planning, voice synthesis, per-scene video
// clips (sync or async providers), final assembly, and scheduled
// publishing to social platforms.
//
// This is the main package users should import. It re-exports the public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("reelpipe.db"), &gorm.Config{})
//	store := reelpipe.NewGormStorage(db)
//	store.Migrate(context.Background())
//
//	providers := reelpipe.NewProviderRegistry()
//	providers.RegisterLLM("openai", myLLM)
//	// ... register voice, video, assembly providers
//
//	orch := reelpipe.NewOrchestrator(store, providers)
//	jobID, _ := reelpipe.StartVideoGeneration(ctx, store, orch, projectID)
package reelpipe

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/reelpipe/reelpipe/pkg/core"
	"github.com/reelpipe/reelpipe/pkg/pipeline"
	"github.com/reelpipe/reelpipe/pkg/provider"
	"github.com/reelpipe/reelpipe/pkg/publish"
	"github.com/reelpipe/reelpipe/pkg/reconcile"
	"github.com/reelpipe/reelpipe/pkg/schedule"
	"github.com/reelpipe/reelpipe/pkg/security"
	"github.com/reelpipe/reelpipe/pkg/storage"
	"github.com/reelpipe/reelpipe/pkg/sweep"
)

// Type aliases for the public surface
type (
	// Project is a user's generation request.
	Project = core.Project

	// Job is one execution attempt of a project's pipeline.
	Job = core.Job

	// Artifact is a persisted pipeline output.
	Artifact = core.Artifact

	// JobEvent is an append-only timeline entry for a job.
	JobEvent = core.JobEvent

	// ScheduledPost is a publish intent with its own retry state machine.
	ScheduledPost = core.ScheduledPost

	// PublishAuditLog is an append-only record of post transitions.
	PublishAuditLog = core.PublishAuditLog

	// Scene is one planned segment of the final video.
	Scene = core.Scene

	// Store defines the persistence layer for pipeline records.
	Store = core.Store

	// Event is the interface for in-process notifications.
	Event = core.Event

	// Event payloads delivered on Events() channels.
	PipelineStartedEvent   = core.PipelineStarted
	StepFinishedEvent      = core.StepFinished
	PipelineCompletedEvent = core.PipelineCompleted
	PipelineFailedEvent    = core.PipelineFailed
	ClipResolvedEvent      = core.ClipResolved
	PostPublishedEvent     = core.PostPublishedEvent
	PostFailedEvent        = core.PostFailedEvent

	// Step identifies one stage of the generation pipeline.
	Step = core.Step

	// Orchestrator executes the pipeline step sequence for a job.
	Orchestrator = pipeline.Orchestrator

	// Reconciler resolves pending clip artifacts into terminal states.
	Reconciler = reconcile.Reconciler

	// Completion is a terminal report for an async clip job.
	Completion = reconcile.Completion

	// WebhookPayload is the provider completion notification body.
	WebhookPayload = reconcile.WebhookPayload

	// ProviderRegistry resolves generation providers by id.
	ProviderRegistry = provider.Registry

	// CredentialStore resolves opaque access tokens by identifier.
	CredentialStore = provider.CredentialStore

	// Publisher is the per-platform publish contract.
	Publisher = publish.Publisher

	// PublishResult is the uniform outcome of a publish attempt.
	PublishResult = publish.Result

	// PublisherRegistry resolves publishers by platform identifier.
	PublisherRegistry = publish.Registry

	// SweepWorker dispatches due and retry-eligible scheduled posts.
	SweepWorker = sweep.Worker

	// SweepStats summarizes one sweep.
	SweepStats = sweep.Stats

	// Schedule defines when a recurring task should run next.
	Schedule = schedule.Schedule

	// GormStorage implements Store using GORM.
	GormStorage = storage.GormStorage
)

// Status constants
const (
	ProjectDraft      = core.ProjectDraft
	ProjectGenerating = core.ProjectGenerating
	ProjectCompleted  = core.ProjectCompleted
	ProjectFailed     = core.ProjectFailed

	JobPending   = core.JobPending
	JobQueued    = core.JobQueued
	JobRunning   = core.JobRunning
	JobCompleted = core.JobCompleted
	JobFailed    = core.JobFailed

	PostDraft      = core.PostDraft
	PostScheduled  = core.PostScheduled
	PostPublishing = core.PostPublishing
	PostPublished  = core.PostPublished
	PostFailed     = core.PostFailed
)

// Pipeline steps
const (
	StepScript     = core.StepScript
	StepScenePlan  = core.StepScenePlan
	StepVoiceover  = core.StepVoiceover
	StepVideoClips = core.StepVideoClips
	StepAssembly   = core.StepAssembly
)

// Artifact types
const (
	ArtifactScript           = core.ArtifactScript
	ArtifactScenePlan        = core.ArtifactScenePlan
	ArtifactVoiceover        = core.ArtifactVoiceover
	ArtifactVideoClip        = core.ArtifactVideoClip
	ArtifactVideoClipPending = core.ArtifactVideoClipPending
	ArtifactFinalVideo       = core.ArtifactFinalVideo
)

// Platform limits
const (
	MaxCaptionLength = security.MaxCaptionLength
	MaxHashtagCount  = security.MaxHashtagCount
)

// Error variables
var (
	ErrProjectNotFound   = core.ErrProjectNotFound
	ErrJobNotFound       = core.ErrJobNotFound
	ErrPostNotFound      = core.ErrPostNotFound
	ErrJobNotResumable   = core.ErrJobNotResumable
	ErrJobAlreadyRunning = core.ErrJobAlreadyRunning
	ErrPostNotClaimable  = core.ErrPostNotClaimable
)

// NewGormStorage creates a new GORM-backed store.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return provider.NewRegistry()
}

// NewPublisherRegistry creates an empty publisher registry.
func NewPublisherRegistry() *PublisherRegistry {
	return publish.NewRegistry()
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(store Store, providers *ProviderRegistry, opts ...pipeline.Option) *Orchestrator {
	return pipeline.New(store, providers, opts...)
}

// NewReconciler creates an async completion reconciler.
func NewReconciler(store Store, providers *ProviderRegistry, opts ...reconcile.Option) *Reconciler {
	return reconcile.New(store, providers, opts...)
}

// WithResume registers a callback fired for each running job that a clip
// resolution leaves with no pending dispatches.
func WithResume(fn reconcile.ResumeFunc) reconcile.Option {
	return reconcile.WithResume(fn)
}

// NewSweepWorker creates a scheduled publish queue worker.
func NewSweepWorker(store Store, publishers *PublisherRegistry, creds CredentialStore, opts ...sweep.Option) *SweepWorker {
	return sweep.NewWorker(store, publishers, creds, opts...)
}

// NewTikTok creates the TikTok Direct Post publisher.
func NewTikTok(opts ...publish.TikTokOption) *publish.TikTok {
	return publish.NewTikTok(opts...)
}

// NewEnvCredentials creates an env-backed credential store.
func NewEnvCredentials(prefix string) CredentialStore {
	return provider.NewEnvCredentials(prefix)
}

// StartVideoGeneration creates a job for the project and runs the
// pipeline. Invoked on project creation; use RetryVideoGeneration for a
// user-triggered retry of an existing job.
func StartVideoGeneration(ctx context.Context, store Store, orch *Orchestrator, projectID string) (string, error) {
	job := &core.Job{ProjectID: projectID, Status: core.JobPending}
	if err := store.CreateJob(ctx, job); err != nil {
		return "", err
	}
	return job.ID, orch.Run(ctx, projectID, job.ID)
}

// RetryVideoGeneration resumes a failed job at its recorded current step,
// reusing artifacts from earlier steps. Only failed jobs are resumable
// this way; anything else returns ErrJobNotResumable.
func RetryVideoGeneration(ctx context.Context, store Store, orch *Orchestrator, projectID, jobID string) error {
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return core.ErrJobNotFound
	}
	if job.Status != core.JobFailed {
		return core.ErrJobNotResumable
	}
	return orch.Run(ctx, projectID, jobID)
}

// Schedule helpers

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// NewSweepRunner creates an in-process runner invoking Sweep on the given
// schedule.
func NewSweepRunner(worker *SweepWorker, s Schedule, opts ...sweep.RunnerOption) *sweep.Runner {
	return sweep.NewRunner(worker, s, opts...)
}

// PlanScenes subdivides a script into scenes within the duration window.
func PlanScenes(script string, targetSeconds int) []Scene {
	return pipeline.PlanScenes(script, targetSeconds)
}
