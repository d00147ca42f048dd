// Package core provides the domain records and interfaces for the reelpipe package.
package core

import (
	"time"

	"gorm.io/datatypes"
)

// ProjectStatus represents the current state of a project.
type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectGenerating ProjectStatus = "generating"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectFailed     ProjectStatus = "failed"
)

// JobStatus represents the current state of a generation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Step identifies one stage of the generation pipeline.
type Step string

const (
	StepScript     Step = "script"
	StepScenePlan  Step = "scene_plan"
	StepVoiceover  Step = "voiceover"
	StepVideoClips Step = "video_clips"
	StepAssembly   Step = "assembly"
)

// Steps is the ordered pipeline step sequence.
var Steps = []Step{StepScript, StepScenePlan, StepVoiceover, StepVideoClips, StepAssembly}

// StepWeights maps each step to its share of overall progress.
// Weights sum to 100 across the step list.
var StepWeights = map[Step]int{
	StepScript:     15,
	StepScenePlan:  10,
	StepVoiceover:  20,
	StepVideoClips: 40,
	StepAssembly:   15,
}

// ArtifactType identifies what a persisted pipeline output is.
type ArtifactType string

const (
	ArtifactScript           ArtifactType = "script"
	ArtifactScenePlan        ArtifactType = "scene_plan"
	ArtifactVoiceover        ArtifactType = "voiceover"
	ArtifactVideoClip        ArtifactType = "video_clip"
	ArtifactVideoClipPending ArtifactType = "video_clip_pending"
	ArtifactFinalVideo       ArtifactType = "final_video"
)

// EventLevel classifies a job event for timeline rendering.
type EventLevel string

const (
	LevelInfo    EventLevel = "info"
	LevelSuccess EventLevel = "success"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// EventType identifies the kind of job event.
type EventType string

const (
	EventStepStarted  EventType = "step_started"
	EventStepProgress EventType = "step_progress"
	EventStepFinished EventType = "step_finished"
	EventStepFailed   EventType = "step_failed"
)

// PostStatus represents the current state of a scheduled post.
type PostStatus string

const (
	PostDraft      PostStatus = "draft"
	PostScheduled  PostStatus = "scheduled"
	PostPublishing PostStatus = "publishing"
	PostPublished  PostStatus = "published"
	PostFailed     PostStatus = "failed"
)

// AuditAction identifies a scheduled-post lifecycle transition.
type AuditAction string

const (
	AuditCreated   AuditAction = "created"
	AuditScheduled AuditAction = "scheduled"
	AuditPublished AuditAction = "published"
	AuditFailed    AuditAction = "failed"
	AuditRetried   AuditAction = "retried"
)

// Project is a user's generation request.
type Project struct {
	ID              string            `gorm:"primaryKey;size:36"`
	Title           string            `gorm:"size:255"`
	Topic           string            `gorm:"type:text"`
	Style           string            `gorm:"size:64"`
	DurationSeconds int               `gorm:"default:30"`
	Language        string            `gorm:"size:16;default:'en'"`
	AspectRatio     string            `gorm:"size:16;default:'9:16'"`
	Status          ProjectStatus     `gorm:"index;size:20;default:'draft'"`
	Providers       datatypes.JSONMap `gorm:"type:json"` // role -> provider id
	Progress        int               `gorm:"default:0"`
	CurrentStep     Step              `gorm:"size:32"`
	ErrorMessage    string            `gorm:"type:text"`
	CreatedAt       time.Time         `gorm:"autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime"`
}

// Job is one execution attempt of a project's pipeline.
// At most one job is running per project at a time; resume reuses the
// same job id rather than creating a new row.
type Job struct {
	ID           string    `gorm:"primaryKey;size:36"`
	ProjectID    string    `gorm:"index;size:36;not null"`
	Status       JobStatus `gorm:"index;size:20;default:'pending'"`
	CurrentStep  Step      `gorm:"size:32"`
	Progress     int       `gorm:"default:0"`
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// Artifact is a persisted pipeline output. A video_clip_pending artifact
// transitions in place to video_clip once the provider completes; it is
// never duplicated for the same scene and provider job id.
type Artifact struct {
	ID              string       `gorm:"primaryKey;size:36"`
	JobID           string       `gorm:"index;size:36;not null"`
	ProjectID       string       `gorm:"index;size:36;not null"`
	Type            ArtifactType `gorm:"column:artifact_type;index;size:32;not null"`
	FileURL         *string      `gorm:"size:2048"`
	SceneIndex      *int
	DurationSeconds float64           `gorm:"default:0"`
	ProviderID      string            `gorm:"size:64"`
	ProviderJobID   string            `gorm:"index;size:128"` // set for async clip generation
	ErrorMessage    string            `gorm:"type:text"`
	Metadata        datatypes.JSONMap `gorm:"type:json"`
	CreatedAt       time.Time         `gorm:"autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime"`
}

// JobEvent is an append-only timeline entry for a job. Rows are immutable
// once written and ordered by creation time.
type JobEvent struct {
	ID        string            `gorm:"primaryKey;size:36"`
	JobID     string            `gorm:"index;size:36;not null"`
	Level     EventLevel        `gorm:"size:16;default:'info'"`
	Step      Step              `gorm:"size:32"`
	Type      EventType         `gorm:"column:event_type;size:32;not null"`
	Message   string            `gorm:"type:text"`
	Progress  int               `gorm:"default:0"`
	Data      datatypes.JSONMap `gorm:"type:json"`
	CreatedAt time.Time         `gorm:"autoCreateTime;index"`
}

// ScheduledPost is a publish intent with its own retry state machine.
// Valid transitions: scheduled -> publishing -> {published | failed},
// failed -> scheduled (retry). Never scheduled -> published directly.
type ScheduledPost struct {
	ID             string                      `gorm:"primaryKey;size:36"`
	Platform       string                      `gorm:"index;size:32;not null"`
	Status         PostStatus                  `gorm:"index;size:20;default:'draft'"`
	Caption        string                      `gorm:"type:text"`
	Hashtags       datatypes.JSONSlice[string] `gorm:"type:json"`
	VideoURL       string                      `gorm:"size:2048"`
	ScheduledAt    *time.Time                  `gorm:"index"`
	PublishedAt    *time.Time
	PlatformPostID string    `gorm:"size:128"`
	PlatformURL    string    `gorm:"size:2048"`
	ErrorMessage   string    `gorm:"type:text"`
	ErrorCode      string    `gorm:"size:64"`
	RetryCount     int       `gorm:"default:0"`
	MaxRetries     int       `gorm:"default:3"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// PublishAuditLog is an append-only record of scheduled-post transitions.
type PublishAuditLog struct {
	ID        string            `gorm:"primaryKey;size:36"`
	PostID    string            `gorm:"index;size:36;not null"`
	Action    AuditAction       `gorm:"size:20;not null"`
	Actor     string            `gorm:"size:128"`
	Metadata  datatypes.JSONMap `gorm:"type:json"`
	CreatedAt time.Time         `gorm:"autoCreateTime;index"`
}
