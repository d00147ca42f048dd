package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/reelpipe/reelpipe/pkg/core"
)

// newTestStorage creates a fresh in-memory SQLite store for each test.
// The database is fully migrated and ready for use.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

func newTestProject(t *testing.T, s *GormStorage) *core.Project {
	t.Helper()
	p := &core.Project{
		Title:           "Ocean facts",
		Topic:           "five surprising facts about the deep sea",
		Style:           "documentary",
		DurationSeconds: 30,
		Language:        "en",
		Providers: datatypes.JSONMap{
			"llm": "openai", "voice": "elevenlabs", "video": "kling", "assembly": "shotstack",
		},
	}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func newTestJob(t *testing.T, s *GormStorage, projectID string) *core.Job {
	t.Helper()
	j := &core.Job{ProjectID: projectID}
	require.NoError(t, s.CreateJob(context.Background(), j))
	return j
}

func TestCreateProject_Defaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	p := newTestProject(t, s)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, core.ProjectDraft, p.Status)

	loaded, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Ocean facts", loaded.Title)
	assert.Equal(t, "openai", loaded.Providers["llm"])
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStorage(t)

	p, err := s.GetProject(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCreateJob_Defaults(t *testing.T) {
	s := newTestStorage(t)
	p := newTestProject(t, s)
	j := newTestJob(t, s, p.ID)

	assert.Equal(t, core.JobPending, j.Status)
	assert.Equal(t, core.StepScript, j.CurrentStep)
}

func TestHasRunningJob_ExcludesOwnID(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	p := newTestProject(t, s)

	j := newTestJob(t, s, p.ID)
	j.Status = core.JobRunning
	require.NoError(t, s.SaveJob(ctx, j))

	running, err := s.HasRunningJob(ctx, p.ID, j.ID)
	require.NoError(t, err)
	assert.False(t, running, "own job must not count")

	running, err = s.HasRunningJob(ctx, p.ID, "some-other-job")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestListStalledClipJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	p := newTestProject(t, s)

	setJob := func(j *core.Job, status core.JobStatus, step core.Step) {
		j.Status = status
		j.CurrentStep = step
		require.NoError(t, s.SaveJob(ctx, j))
	}

	stalled := newTestJob(t, s, p.ID)
	setJob(stalled, core.JobRunning, core.StepVideoClips)

	withPending := newTestJob(t, s, p.ID)
	setJob(withPending, core.JobRunning, core.StepVideoClips)
	scene := 0
	require.NoError(t, s.CreateArtifact(ctx, &core.Artifact{
		JobID:      withPending.ID,
		ProjectID:  p.ID,
		Type:       core.ArtifactVideoClipPending,
		SceneIndex: &scene,
	}))

	failed := newTestJob(t, s, p.ID)
	setJob(failed, core.JobFailed, core.StepVideoClips)

	earlierStep := newTestJob(t, s, p.ID)
	setJob(earlierStep, core.JobRunning, core.StepScript)

	jobs, err := s.ListStalledClipJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stalled.ID, jobs[0].ID)
}

func TestResolvePendingClip_ConditionalOnPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	p := newTestProject(t, s)
	j := newTestJob(t, s, p.ID)

	sceneIndex := 0
	a := &core.Artifact{
		JobID:         j.ID,
		ProjectID:     p.ID,
		Type:          core.ArtifactVideoClipPending,
		ProviderID:    "kling",
		ProviderJobID: "kling-job-1",
		SceneIndex:    &sceneIndex,
	}
	require.NoError(t, s.CreateArtifact(ctx, a))

	won, err := s.ResolvePendingClip(ctx, a.ID, "https://cdn.example.com/clip0.mp4", 6, nil)
	require.NoError(t, err)
	assert.True(t, won, "first resolve wins the transition")

	// Second application is a no-op: the artifact is no longer pending.
	won, err = s.ResolvePendingClip(ctx, a.ID, "https://cdn.example.com/other.mp4", 6, nil)
	require.NoError(t, err)
	assert.False(t, won)

	loaded, err := s.GetArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ArtifactVideoClip, loaded.Type)
	require.NotNil(t, loaded.FileURL)
	assert.Equal(t, "https://cdn.example.com/clip0.mp4", *loaded.FileURL)
}

func TestFailPendingClip_LosesRaceAgainstResolve(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	p := newTestProject(t, s)
	j := newTestJob(t, s, p.ID)

	a := &core.Artifact{
		JobID: j.ID, ProjectID: p.ID,
		Type:          core.ArtifactVideoClipPending,
		ProviderJobID: "kling-job-2",
	}
	require.NoError(t, s.CreateArtifact(ctx, a))

	won, err := s.ResolvePendingClip(ctx, a.ID, "https://cdn.example.com/clip.mp4", 5, nil)
	require.NoError(t, err)
	require.True(t, won)

	won, err = s.FailPendingClip(ctx, a.ID, "render error")
	require.NoError(t, err)
	assert.False(t, won, "fail must not apply after resolve")

	loaded, err := s.GetArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.ErrorMessage)
	require.NotNil(t, loaded.FileURL)
}

func TestFindClipByProviderJobID(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	p := newTestProject(t, s)
	j := newTestJob(t, s, p.ID)

	require.NoError(t, s.CreateArtifact(ctx, &core.Artifact{
		JobID: j.ID, ProjectID: p.ID,
		Type:          core.ArtifactVideoClipPending,
		ProviderJobID: "prov-42",
	}))

	found, err := s.FindClipByProviderJobID(ctx, "prov-42")
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := s.FindClipByProviderJobID(ctx, "prov-never")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCountInFlightClips_PerProvider(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	p := newTestProject(t, s)
	j := newTestJob(t, s, p.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateArtifact(ctx, &core.Artifact{
			JobID: j.ID, ProjectID: p.ID,
			Type:       core.ArtifactVideoClipPending,
			ProviderID: "kling",
		}))
	}
	require.NoError(t, s.CreateArtifact(ctx, &core.Artifact{
		JobID: j.ID, ProjectID: p.ID,
		Type:       core.ArtifactVideoClipPending,
		ProviderID: "runway",
	}))

	count, err := s.CountInFlightClips(ctx, "kling")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestListPendingClips_HonorsCutoff(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	p := newTestProject(t, s)
	j := newTestJob(t, s, p.ID)

	require.NoError(t, s.CreateArtifact(ctx, &core.Artifact{
		JobID: j.ID, ProjectID: p.ID,
		Type:          core.ArtifactVideoClipPending,
		ProviderJobID: "stale-1",
	}))

	stale, err := s.ListPendingClips(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	fresh, err := s.ListPendingClips(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, fresh, "recently touched clips are left for the webhook")
}

func TestTransitionPost_ExclusiveClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	scheduledAt := time.Now().Add(-time.Minute)
	post := &core.ScheduledPost{
		Platform:    "tiktok",
		Status:      core.PostScheduled,
		Caption:     "new video",
		VideoURL:    "https://cdn.example.com/final.mp4",
		ScheduledAt: &scheduledAt,
	}
	require.NoError(t, s.CreatePost(ctx, post))

	claimed, err := s.TransitionPost(ctx, post.ID, core.PostScheduled, core.PostPublishing)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A concurrent sweep in the same window loses the claim.
	claimed, err = s.TransitionPost(ctx, post.ID, core.PostScheduled, core.PostPublishing)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestGetDuePosts_OnlyDueScheduled(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := &core.ScheduledPost{Platform: "tiktok", Status: core.PostScheduled, ScheduledAt: &past}
	notYet := &core.ScheduledPost{Platform: "tiktok", Status: core.PostScheduled, ScheduledAt: &future}
	draft := &core.ScheduledPost{Platform: "tiktok", Status: core.PostDraft, ScheduledAt: &past}
	require.NoError(t, s.CreatePost(ctx, due))
	require.NoError(t, s.CreatePost(ctx, notYet))
	require.NoError(t, s.CreatePost(ctx, draft))

	posts, err := s.GetDuePosts(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, due.ID, posts[0].ID)
}

func TestGetRetryablePosts_RespectsBudget(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	eligible := &core.ScheduledPost{Platform: "tiktok", Status: core.PostFailed, RetryCount: 1, MaxRetries: 3}
	exhausted := &core.ScheduledPost{Platform: "tiktok", Status: core.PostFailed, RetryCount: 3, MaxRetries: 3}
	require.NoError(t, s.CreatePost(ctx, eligible))
	require.NoError(t, s.CreatePost(ctx, exhausted))

	posts, err := s.GetRetryablePosts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, eligible.ID, posts[0].ID)
}

func TestMarkPostFailed_IncrementsRetryCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	post := &core.ScheduledPost{Platform: "tiktok", Status: core.PostPublishing, MaxRetries: 3}
	require.NoError(t, s.CreatePost(ctx, post))

	updated, err := s.MarkPostFailed(ctx, post.ID, "rate limited by platform", "RATE_LIMITED")
	require.NoError(t, err)
	assert.Equal(t, core.PostFailed, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, "RATE_LIMITED", updated.ErrorCode)

	updated, err = s.MarkPostFailed(ctx, post.ID, "rate limited by platform", "RATE_LIMITED")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.RetryCount)
}

func TestMarkPostPublished_ClearsErrorState(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	post := &core.ScheduledPost{
		Platform: "tiktok", Status: core.PostPublishing,
		ErrorMessage: "previous failure", ErrorCode: "PLATFORM_ERROR",
	}
	require.NoError(t, s.CreatePost(ctx, post))

	at := time.Now()
	require.NoError(t, s.MarkPostPublished(ctx, post.ID, "7301", "https://www.tiktok.com/@/video/7301", at))

	loaded, err := s.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PostPublished, loaded.Status)
	assert.Equal(t, "7301", loaded.PlatformPostID)
	assert.Empty(t, loaded.ErrorMessage)
	assert.Empty(t, loaded.ErrorCode)
	require.NotNil(t, loaded.PublishedAt)
}

func TestAppendEvent_OrderedTimeline(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	p := newTestProject(t, s)
	j := newTestJob(t, s, p.ID)

	for _, typ := range []core.EventType{core.EventStepStarted, core.EventStepProgress, core.EventStepFinished} {
		require.NoError(t, s.AppendEvent(ctx, &core.JobEvent{
			JobID: j.ID, Step: core.StepScript, Type: typ,
		}))
	}

	events, err := s.ListEvents(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, core.EventStepStarted, events[0].Type)
	assert.Equal(t, core.EventStepFinished, events[2].Type)
}

func TestAppendAudit(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	post := &core.ScheduledPost{Platform: "tiktok", Status: core.PostScheduled}
	require.NoError(t, s.CreatePost(ctx, post))

	require.NoError(t, s.AppendAudit(ctx, &core.PublishAuditLog{
		PostID: post.ID, Action: core.AuditPublished, Actor: "queue-worker",
		Metadata: datatypes.JSONMap{"platform_post_id": "7301"},
	}))

	entries, err := s.ListAudit(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.AuditPublished, entries[0].Action)
	assert.Equal(t, "queue-worker", entries[0].Actor)
}
