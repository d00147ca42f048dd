package core

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

// Store defines the persistence layer for pipeline records. All durable
// state lives here; orchestrator, reconciler, and sweep invocations are
// stateless between calls.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Projects
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	SaveProject(ctx context.Context, p *Project) error

	// Jobs
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	SaveJob(ctx context.Context, j *Job) error
	HasRunningJob(ctx context.Context, projectID, exceptJobID string) (bool, error)

	// ListStalledClipJobs returns running jobs parked at the video_clips
	// step with no pending clip dispatches. These jobs are waiting on
	// reconciliation to re-enter the pipeline, either because their last
	// pending clip just resolved or because every dispatch was deferred
	// by a provider's in-flight ceiling.
	ListStalledClipJobs(ctx context.Context) ([]*Job, error)

	// Artifacts
	CreateArtifact(ctx context.Context, a *Artifact) error
	SaveArtifact(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, id string) (*Artifact, error)
	GetArtifactByType(ctx context.Context, jobID string, t ArtifactType) (*Artifact, error)
	ListArtifacts(ctx context.Context, jobID string, types ...ArtifactType) ([]*Artifact, error)

	// Pending-clip reconciliation. Resolve and Fail are conditional
	// updates: they apply only while the artifact is still pending and
	// report whether this caller won the transition.
	FindClipByProviderJobID(ctx context.Context, providerJobID string) (*Artifact, error)
	ResolvePendingClip(ctx context.Context, artifactID, fileURL string, duration float64, metadata datatypes.JSONMap) (bool, error)
	FailPendingClip(ctx context.Context, artifactID, reason string) (bool, error)
	CountPendingClips(ctx context.Context, jobID string) (int64, error)
	CountInFlightClips(ctx context.Context, providerID string) (int64, error)
	ListPendingClips(ctx context.Context, olderThan time.Time, limit int) ([]*Artifact, error)

	// Job events (append-only)
	AppendEvent(ctx context.Context, e *JobEvent) error
	ListEvents(ctx context.Context, jobID string) ([]*JobEvent, error)

	// Scheduled posts
	CreatePost(ctx context.Context, p *ScheduledPost) error
	GetPost(ctx context.Context, id string) (*ScheduledPost, error)
	SavePost(ctx context.Context, p *ScheduledPost) error
	GetDuePosts(ctx context.Context, now time.Time, limit int) ([]*ScheduledPost, error)
	GetRetryablePosts(ctx context.Context, limit int) ([]*ScheduledPost, error)

	// TransitionPost is the exclusive claim primitive: the update applies
	// only when the post's current status equals from.
	TransitionPost(ctx context.Context, id string, from, to PostStatus) (bool, error)
	MarkPostPublished(ctx context.Context, id, platformPostID, platformURL string, at time.Time) error
	MarkPostFailed(ctx context.Context, id, errMsg, errCode string) (*ScheduledPost, error)

	// Audit log (append-only)
	AppendAudit(ctx context.Context, entry *PublishAuditLog) error
	ListAudit(ctx context.Context, postID string) ([]*PublishAuditLog, error)
}
