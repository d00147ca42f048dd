package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reelpipe/reelpipe/pkg/core"
	"github.com/reelpipe/reelpipe/pkg/provider"
	"github.com/reelpipe/reelpipe/pkg/storage"
)

// ── test fixtures ────────────────────────────────────────────────────────────

type fakeLLM struct {
	calls int
	err   error
}

func (f *fakeLLM) GenerateScript(ctx context.Context, req provider.ScriptRequest) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "The ocean covers seventy percent of the planet. Its deepest point is eleven kilometers down. " +
		"Sunlight never touches most of it. Strange creatures glow in the dark there. " +
		"We have mapped less of it than the surface of Mars.", nil
}

type fakeVoice struct {
	calls    int
	failOnce bool
}

func (f *fakeVoice) Synthesize(ctx context.Context, script, language string) (string, error) {
	f.calls++
	if f.failOnce && f.calls == 1 {
		return "", errors.New("voice service unavailable")
	}
	return "https://cdn.example.com/voiceover.mp3", nil
}

// syncClips completes every clip inline.
type syncClips struct{ calls int }

func (f *syncClips) GenerateClip(ctx context.Context, prompt string, durationSeconds float64) (*provider.ClipResult, error) {
	f.calls++
	return &provider.ClipResult{
		Mode:            provider.ClipSync,
		FileURL:         fmt.Sprintf("https://cdn.example.com/clip-%d.mp4", f.calls),
		DurationSeconds: durationSeconds,
	}, nil
}

// asyncClips returns a provider job id per dispatch; the clip resolves
// out-of-band.
type asyncClips struct{ calls int }

func (f *asyncClips) GenerateClip(ctx context.Context, prompt string, durationSeconds float64) (*provider.ClipResult, error) {
	f.calls++
	return &provider.ClipResult{
		Mode:          provider.ClipAsync,
		ProviderJobID: fmt.Sprintf("async-job-%d", f.calls),
	}, nil
}

type fakeAssembler struct{ calls int }

func (f *fakeAssembler) Assemble(ctx context.Context, clipURLs []string, audioURL string) (string, error) {
	f.calls++
	return "https://cdn.example.com/final.mp4", nil
}

type fixture struct {
	store     *storage.GormStorage
	registry  *provider.Registry
	orch      *Orchestrator
	llm       *fakeLLM
	voice     *fakeVoice
	assembler *fakeAssembler
	project   *core.Project
	job       *core.Job
}

func newFixture(t *testing.T, video provider.ClipGenerator, inFlightLimit int) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(ctx))

	f := &fixture{
		store:     store,
		registry:  provider.NewRegistry(),
		llm:       &fakeLLM{},
		voice:     &fakeVoice{},
		assembler: &fakeAssembler{},
	}
	f.registry.RegisterLLM("fake-llm", f.llm)
	f.registry.RegisterVoice("fake-voice", f.voice)
	f.registry.RegisterVideo("fake-video", video, inFlightLimit)
	f.registry.RegisterAssembly("fake-assembly", f.assembler)
	f.orch = New(store, f.registry)

	f.project = &core.Project{
		Title:           "Deep sea facts",
		Topic:           "surprising facts about the deep sea",
		Style:           "documentary",
		DurationSeconds: 30,
		Language:        "en",
		Providers: datatypes.JSONMap{
			"llm": "fake-llm", "voice": "fake-voice",
			"video": "fake-video", "assembly": "fake-assembly",
		},
	}
	require.NoError(t, store.CreateProject(ctx, f.project))

	f.job = &core.Job{ProjectID: f.project.ID}
	require.NoError(t, store.CreateJob(ctx, f.job))
	return f
}

func (f *fixture) reloadJob(t *testing.T) *core.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

// ── full run ─────────────────────────────────────────────────────────────────

func TestRun_SyncProviders_Completes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &syncClips{}, 0)

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	job := f.reloadJob(t)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.FinishedAt)

	project, err := f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProjectCompleted, project.Status)
	assert.Equal(t, 100, project.Progress)

	for _, typ := range []core.ArtifactType{
		core.ArtifactScript, core.ArtifactScenePlan,
		core.ArtifactVoiceover, core.ArtifactFinalVideo,
	} {
		a, err := f.store.GetArtifactByType(ctx, f.job.ID, typ)
		require.NoError(t, err)
		assert.NotNil(t, a, "artifact %s", typ)
	}

	clips, err := f.store.ListArtifacts(ctx, f.job.ID, core.ArtifactVideoClip)
	require.NoError(t, err)
	assert.Len(t, clips, 5, "one clip per planned scene at 30s")
}

func TestRun_EventTimeline_ProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &syncClips{}, 0)

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	events, err := f.store.ListEvents(ctx, f.job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	last := 0
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Progress, last, "event %s/%s", e.Step, e.Type)
		last = e.Progress
	}
}

func TestRun_CompletedJob_IsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &syncClips{}, 0)

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))
	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	assert.Equal(t, 1, f.llm.calls, "no regeneration on a completed job")
	assert.Equal(t, 1, f.assembler.calls)
}

func TestRun_ConcurrentJobForProject_Rejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &syncClips{}, 0)

	other := &core.Job{ProjectID: f.project.ID, Status: core.JobRunning}
	require.NoError(t, f.store.CreateJob(ctx, other))

	err := f.orch.Run(ctx, f.project.ID, f.job.ID)
	assert.ErrorIs(t, err, core.ErrJobAlreadyRunning)
}

func TestRun_UnknownProject(t *testing.T) {
	f := newFixture(t, &syncClips{}, 0)

	err := f.orch.Run(context.Background(), "missing", f.job.ID)
	assert.ErrorIs(t, err, core.ErrProjectNotFound)
}

// ── failure and resume ───────────────────────────────────────────────────────

func TestRun_StepFailure_PersistsErrorOnJobAndProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &syncClips{}, 0)
	f.llm.err = errors.New("model overloaded")

	err := f.orch.Run(ctx, f.project.ID, f.job.ID)
	require.Error(t, err)

	job := f.reloadJob(t)
	assert.Equal(t, core.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "model overloaded")
	assert.Equal(t, core.StepScript, job.CurrentStep)

	project, err := f.store.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ProjectFailed, project.Status)
	assert.Contains(t, project.ErrorMessage, "model overloaded")
}

func TestRun_Resume_DoesNotRegenerateEarlierArtifacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &syncClips{}, 0)
	f.voice.failOnce = true

	require.Error(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	job := f.reloadJob(t)
	require.Equal(t, core.JobFailed, job.Status)
	require.Equal(t, core.StepVoiceover, job.CurrentStep)

	// Resume re-enters at voiceover. Script and scene plan are reused.
	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	job = f.reloadJob(t)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Empty(t, job.ErrorMessage)
	assert.Equal(t, 1, f.llm.calls, "script must not be regenerated on resume")
	assert.Equal(t, 2, f.voice.calls)
}

// ── async clips ──────────────────────────────────────────────────────────────

func TestRun_AsyncClips_SuspendsThenResumesAfterResolution(t *testing.T) {
	ctx := context.Background()
	gen := &asyncClips{}
	f := newFixture(t, gen, 10)

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	job := f.reloadJob(t)
	assert.Equal(t, core.JobRunning, job.Status, "job stays running while clips are in flight")
	assert.Equal(t, core.StepVideoClips, job.CurrentStep)

	pending, err := f.store.ListArtifacts(ctx, f.job.ID, core.ArtifactVideoClipPending)
	require.NoError(t, err)
	require.Len(t, pending, 5)

	for i, clip := range pending {
		url := fmt.Sprintf("https://cdn.example.com/async-clip-%d.mp4", i)
		won, err := f.store.ResolvePendingClip(ctx, clip.ID, url, 6, nil)
		require.NoError(t, err)
		require.True(t, won)
	}

	// A follow-up run sees every scene resolved and finishes the pipeline.
	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	job = f.reloadJob(t)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, 5, gen.calls, "no clip is dispatched twice")
	assert.Equal(t, 1, f.assembler.calls)
}

func TestRun_AsyncClips_InFlightLimitDefersDispatch(t *testing.T) {
	ctx := context.Background()
	gen := &asyncClips{}
	f := newFixture(t, gen, 2)

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	pending, err := f.store.ListArtifacts(ctx, f.job.ID, core.ArtifactVideoClipPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "dispatch stops at the provider's in-flight ceiling")
	assert.Equal(t, 2, gen.calls)

	// Resolving one frees a slot for the next invocation.
	won, err := f.store.ResolvePendingClip(ctx, pending[0].ID, "https://cdn.example.com/c0.mp4", 6, nil)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))
	assert.Equal(t, 3, gen.calls)
}

func TestRun_FailedClip_RedispatchedInPlaceOnResume(t *testing.T) {
	ctx := context.Background()
	gen := &asyncClips{}
	f := newFixture(t, gen, 10)

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	pending, err := f.store.ListArtifacts(ctx, f.job.ID, core.ArtifactVideoClipPending)
	require.NoError(t, err)
	require.Len(t, pending, 5)

	won, err := f.store.FailPendingClip(ctx, pending[0].ID, "render failed")
	require.NoError(t, err)
	require.True(t, won)
	for _, clip := range pending[1:] {
		won, err := f.store.ResolvePendingClip(ctx, clip.ID, "https://cdn.example.com/clip.mp4", 6, nil)
		require.NoError(t, err)
		require.True(t, won)
	}

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	// The failed scene got a fresh dispatch, not a duplicate row.
	assert.Equal(t, 6, gen.calls)
	clips, err := f.store.ListArtifacts(ctx, f.job.ID, core.ArtifactVideoClip, core.ArtifactVideoClipPending)
	require.NoError(t, err)
	assert.Len(t, clips, 5)

	redone, err := f.store.FindClipByProviderJobID(ctx, "async-job-6")
	require.NoError(t, err)
	require.NotNil(t, redone)
	assert.Equal(t, core.ArtifactVideoClipPending, redone.Type)
	assert.Empty(t, redone.ErrorMessage)
}

// ── assembly guard ───────────────────────────────────────────────────────────

func TestRunAssembly_RefusesWhilePendingClipsExist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &asyncClips{}, 10)

	require.NoError(t, f.orch.Run(ctx, f.project.ID, f.job.ID))

	err := f.orch.runAssembly(ctx, f.project, f.reloadJob(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending")
	assert.Equal(t, 0, f.assembler.calls)
}
