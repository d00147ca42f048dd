// Package storage provides storage implementations for the reelpipe package.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/reelpipe/reelpipe/pkg/core"
	"github.com/reelpipe/reelpipe/pkg/security"
)

// GormStorage implements core.Store using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed store.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying gorm handle.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Project{},
		&core.Job{},
		&core.Artifact{},
		&core.JobEvent{},
		&core.ScheduledPost{},
		&core.PublishAuditLog{},
	)
}

// Projects

func (s *GormStorage) CreateProject(ctx context.Context, p *core.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = core.ProjectDraft
	}
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStorage) GetProject(ctx context.Context, id string) (*core.Project, error) {
	var p core.Project
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &p, err
}

func (s *GormStorage) SaveProject(ctx context.Context, p *core.Project) error {
	p.ErrorMessage = security.SanitizeErrorMessage(p.ErrorMessage)
	return s.db.WithContext(ctx).Save(p).Error
}

// Jobs

func (s *GormStorage) CreateJob(ctx context.Context, j *core.Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = core.JobPending
	}
	if j.CurrentStep == "" {
		j.CurrentStep = core.Steps[0]
	}
	return s.db.WithContext(ctx).Create(j).Error
}

func (s *GormStorage) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var j core.Job
	err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &j, err
}

func (s *GormStorage) SaveJob(ctx context.Context, j *core.Job) error {
	j.ErrorMessage = security.SanitizeErrorMessage(j.ErrorMessage)
	return s.db.WithContext(ctx).Save(j).Error
}

// HasRunningJob reports whether another job is currently running for the
// project. The caller's own job id is excluded so resume can re-check.
func (s *GormStorage) HasRunningJob(ctx context.Context, projectID, exceptJobID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("project_id = ?", projectID).
		Where("status = ?", core.JobRunning).
		Where("id <> ?", exceptJobID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStorage) ListStalledClipJobs(ctx context.Context) ([]*core.Job, error) {
	var jobs []*core.Job
	pending := s.db.Model(&core.Artifact{}).
		Select("1").
		Where("artifacts.job_id = jobs.id").
		Where("artifact_type = ?", core.ArtifactVideoClipPending)
	err := s.db.WithContext(ctx).
		Where("status = ?", core.JobRunning).
		Where("current_step = ?", core.StepVideoClips).
		Where("NOT EXISTS (?)", pending).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// Artifacts

func (s *GormStorage) CreateArtifact(ctx context.Context, a *core.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *GormStorage) SaveArtifact(ctx context.Context, a *core.Artifact) error {
	a.ErrorMessage = security.SanitizeErrorMessage(a.ErrorMessage)
	return s.db.WithContext(ctx).Save(a).Error
}

func (s *GormStorage) GetArtifact(ctx context.Context, id string) (*core.Artifact, error) {
	var a core.Artifact
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

// GetArtifactByType returns the first artifact of the given type for a
// job, or nil when none exists. Used by resume to skip completed steps.
func (s *GormStorage) GetArtifactByType(ctx context.Context, jobID string, t core.ArtifactType) (*core.Artifact, error) {
	var a core.Artifact
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Where("artifact_type = ?", t).
		Order("created_at ASC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

func (s *GormStorage) ListArtifacts(ctx context.Context, jobID string, types ...core.ArtifactType) ([]*core.Artifact, error) {
	var artifacts []*core.Artifact
	q := s.db.WithContext(ctx).Where("job_id = ?", jobID)
	if len(types) > 0 {
		q = q.Where("artifact_type IN ?", types)
	}
	err := q.Order("scene_index ASC, created_at ASC").Find(&artifacts).Error
	return artifacts, err
}

// FindClipByProviderJobID returns the clip artifact dispatched under the
// given provider job id, in whatever state it currently is. Returns nil
// when no artifact was ever dispatched under that id.
func (s *GormStorage) FindClipByProviderJobID(ctx context.Context, providerJobID string) (*core.Artifact, error) {
	var a core.Artifact
	err := s.db.WithContext(ctx).
		Where("provider_job_id = ?", providerJobID).
		Where("artifact_type IN ?", []core.ArtifactType{core.ArtifactVideoClipPending, core.ArtifactVideoClip}).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

// ResolvePendingClip promotes a pending clip to a completed video_clip.
// The update is conditional on the artifact still being pending; a second
// delivery for the same provider job id affects zero rows and returns
// false.
func (s *GormStorage) ResolvePendingClip(ctx context.Context, artifactID, fileURL string, duration float64, metadata datatypes.JSONMap) (bool, error) {
	updates := map[string]any{
		"artifact_type":    core.ArtifactVideoClip,
		"file_url":         fileURL,
		"duration_seconds": duration,
		"error_message":    "",
	}
	if metadata != nil {
		updates["metadata"] = metadata
	}
	result := s.db.WithContext(ctx).
		Model(&core.Artifact{}).
		Where("id = ?", artifactID).
		Where("artifact_type = ?", core.ArtifactVideoClipPending).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// FailPendingClip marks a pending clip as failed. Conditional like
// ResolvePendingClip; the losing side of a race is a no-op.
func (s *GormStorage) FailPendingClip(ctx context.Context, artifactID, reason string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Artifact{}).
		Where("id = ?", artifactID).
		Where("artifact_type = ?", core.ArtifactVideoClipPending).
		Updates(map[string]any{
			"artifact_type": core.ArtifactVideoClip,
			"error_message": security.SanitizeErrorMessage(reason),
		})
	return result.RowsAffected > 0, result.Error
}

func (s *GormStorage) CountPendingClips(ctx context.Context, jobID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Artifact{}).
		Where("job_id = ?", jobID).
		Where("artifact_type = ?", core.ArtifactVideoClipPending).
		Count(&count).Error
	return count, err
}

// CountInFlightClips counts pending clips dispatched to a provider across
// all jobs. Used for admission control on constrained provider plans.
func (s *GormStorage) CountInFlightClips(ctx context.Context, providerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Artifact{}).
		Where("provider_id = ?", providerID).
		Where("artifact_type = ?", core.ArtifactVideoClipPending).
		Count(&count).Error
	return count, err
}

// ListPendingClips returns pending clips last touched before olderThan,
// oldest first. The poll-fallback validator uses this to find deliveries
// the webhook never made.
func (s *GormStorage) ListPendingClips(ctx context.Context, olderThan time.Time, limit int) ([]*core.Artifact, error) {
	var artifacts []*core.Artifact
	err := s.db.WithContext(ctx).
		Where("artifact_type = ?", core.ArtifactVideoClipPending).
		Where("updated_at < ?", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&artifacts).Error
	return artifacts, err
}

// Job events

func (s *GormStorage) AppendEvent(ctx context.Context, e *core.JobEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Level == "" {
		e.Level = core.LevelInfo
	}
	e.Message = security.SanitizeErrorMessage(e.Message)
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *GormStorage) ListEvents(ctx context.Context, jobID string) ([]*core.JobEvent, error) {
	var events []*core.JobEvent
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

// Scheduled posts

func (s *GormStorage) CreatePost(ctx context.Context, p *core.ScheduledPost) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = core.PostDraft
	}
	p.MaxRetries = security.ClampRetries(p.MaxRetries)
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStorage) GetPost(ctx context.Context, id string) (*core.ScheduledPost, error) {
	var p core.ScheduledPost
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &p, err
}

func (s *GormStorage) SavePost(ctx context.Context, p *core.ScheduledPost) error {
	p.ErrorMessage = security.SanitizeErrorMessage(p.ErrorMessage)
	return s.db.WithContext(ctx).Save(p).Error
}

// GetDuePosts returns scheduled posts whose publish time has arrived.
func (s *GormStorage) GetDuePosts(ctx context.Context, now time.Time, limit int) ([]*core.ScheduledPost, error) {
	var posts []*core.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ?", core.PostScheduled).
		Where("scheduled_at IS NOT NULL AND scheduled_at <= ?", now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// GetRetryablePosts returns failed posts with retry budget remaining.
func (s *GormStorage) GetRetryablePosts(ctx context.Context, limit int) ([]*core.ScheduledPost, error) {
	var posts []*core.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ?", core.PostFailed).
		Where("retry_count < max_retries").
		Order("updated_at ASC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// TransitionPost conditionally moves a post from one status to another.
// Returns false when the post was not in the expected status, which is how
// concurrent sweeps lose a claim race.
func (s *GormStorage) TransitionPost(ctx context.Context, id string, from, to core.PostStatus) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.ScheduledPost{}).
		Where("id = ?", id).
		Where("status = ?", from).
		Update("status", to)
	return result.RowsAffected > 0, result.Error
}

func (s *GormStorage) MarkPostPublished(ctx context.Context, id, platformPostID, platformURL string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&core.ScheduledPost{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           core.PostPublished,
			"published_at":     at,
			"platform_post_id": platformPostID,
			"platform_url":     platformURL,
			"error_message":    "",
			"error_code":       "",
		}).Error
}

// MarkPostFailed records a failed attempt: the retry counter is bumped and
// the post parks in failed, where the next sweep picks it up again if
// budget remains. Returns the updated post so callers can tell whether the
// failure was terminal.
func (s *GormStorage) MarkPostFailed(ctx context.Context, id, errMsg, errCode string) (*core.ScheduledPost, error) {
	err := s.db.WithContext(ctx).
		Model(&core.ScheduledPost{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        core.PostFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": security.SanitizeErrorMessage(errMsg),
			"error_code":    errCode,
		}).Error
	if err != nil {
		return nil, err
	}
	return s.GetPost(ctx, id)
}

// Audit log

func (s *GormStorage) AppendAudit(ctx context.Context, entry *core.PublishAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStorage) ListAudit(ctx context.Context, postID string) ([]*core.PublishAuditLog, error) {
	var entries []*core.PublishAuditLog
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
