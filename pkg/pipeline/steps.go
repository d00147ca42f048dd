package pipeline

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/reelpipe/reelpipe/pkg/core"
	"github.com/reelpipe/reelpipe/pkg/provider"
)

func (o *Orchestrator) runScript(ctx context.Context, project *core.Project, job *core.Job) error {
	existing, err := o.store.GetArtifactByType(ctx, job.ID, core.ArtifactScript)
	if err != nil {
		return err
	}
	if existing != nil {
		// Resume: the script from the prior attempt is reused as-is.
		return nil
	}

	id, err := providerID(project, provider.RoleLLM)
	if err != nil {
		return err
	}
	llm, err := o.providers.LLM(id)
	if err != nil {
		return err
	}

	text, err := llm.GenerateScript(ctx, provider.ScriptRequest{
		Topic:           project.Topic,
		Style:           project.Style,
		DurationSeconds: project.DurationSeconds,
		Language:        project.Language,
	})
	if err != nil {
		return err
	}

	return o.store.CreateArtifact(ctx, &core.Artifact{
		JobID:           job.ID,
		ProjectID:       project.ID,
		Type:            core.ArtifactScript,
		ProviderID:      id,
		DurationSeconds: float64(project.DurationSeconds),
		Metadata:        datatypes.JSONMap{"text": text},
	})
}

func (o *Orchestrator) runScenePlan(ctx context.Context, project *core.Project, job *core.Job) error {
	existing, err := o.store.GetArtifactByType(ctx, job.ID, core.ArtifactScenePlan)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	script, err := o.scriptText(ctx, job)
	if err != nil {
		return err
	}

	scenes := PlanScenes(script, project.DurationSeconds)
	metadata, err := core.ScenePlanMetadata(scenes)
	if err != nil {
		return err
	}

	var total float64
	for _, s := range scenes {
		total += s.DurationSeconds
	}

	return o.store.CreateArtifact(ctx, &core.Artifact{
		JobID:           job.ID,
		ProjectID:       project.ID,
		Type:            core.ArtifactScenePlan,
		DurationSeconds: total,
		Metadata:        metadata,
	})
}

func (o *Orchestrator) runVoiceover(ctx context.Context, project *core.Project, job *core.Job) error {
	existing, err := o.store.GetArtifactByType(ctx, job.ID, core.ArtifactVoiceover)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	script, err := o.scriptText(ctx, job)
	if err != nil {
		return err
	}

	id, err := providerID(project, provider.RoleVoice)
	if err != nil {
		return err
	}
	voice, err := o.providers.Voice(id)
	if err != nil {
		return err
	}

	audioURL, err := voice.Synthesize(ctx, script, project.Language)
	if err != nil {
		return err
	}

	return o.store.CreateArtifact(ctx, &core.Artifact{
		JobID:      job.ID,
		ProjectID:  project.ID,
		Type:       core.ArtifactVoiceover,
		ProviderID: id,
		FileURL:    &audioURL,
	})
}

// runVideoClips dispatches one clip per planned scene. Sync providers
// complete inline; async providers get a video_clip_pending placeholder
// resolved out-of-band. The step reports done only when every scene has a
// completed clip. Dispatches beyond the provider's in-flight ceiling are
// deferred to a later invocation rather than submitted.
func (o *Orchestrator) runVideoClips(ctx context.Context, project *core.Project, job *core.Job) (bool, error) {
	scenes, err := o.scenePlan(ctx, job)
	if err != nil {
		return false, err
	}

	id, err := providerID(project, provider.RoleVideo)
	if err != nil {
		return false, err
	}
	gen, err := o.providers.Video(id)
	if err != nil {
		return false, err
	}
	limit := o.providers.InFlightLimit(id)

	clips, err := o.store.ListArtifacts(ctx, job.ID, core.ArtifactVideoClip, core.ArtifactVideoClipPending)
	if err != nil {
		return false, err
	}
	byScene := make(map[int]*core.Artifact, len(clips))
	for _, c := range clips {
		if c.SceneIndex != nil {
			byScene[*c.SceneIndex] = c
		}
	}

	resolved := 0
	pending := 0
	deferred := 0

	for _, scene := range scenes {
		existing := byScene[scene.Index]
		if existing != nil {
			switch {
			case existing.Type == core.ArtifactVideoClipPending:
				pending++
				continue
			case existing.FileURL != nil:
				resolved++
				continue
			}
			// A clip that failed on a prior attempt: fall through and
			// re-dispatch in place under a fresh provider job id.
		}

		inFlight, err := o.store.CountInFlightClips(ctx, id)
		if err != nil {
			return false, err
		}
		if inFlight >= int64(limit) {
			deferred++
			continue
		}

		result, err := gen.GenerateClip(ctx, scene.Text, scene.DurationSeconds)
		if err != nil {
			return false, err
		}

		switch result.Mode {
		case provider.ClipSync:
			fileURL := result.FileURL
			if existing != nil {
				existing.Type = core.ArtifactVideoClip
				existing.FileURL = &fileURL
				existing.ProviderJobID = ""
				existing.ErrorMessage = ""
				existing.DurationSeconds = result.DurationSeconds
				err = o.store.SaveArtifact(ctx, existing)
			} else {
				sceneIndex := scene.Index
				err = o.store.CreateArtifact(ctx, &core.Artifact{
					JobID:           job.ID,
					ProjectID:       project.ID,
					Type:            core.ArtifactVideoClip,
					ProviderID:      id,
					FileURL:         &fileURL,
					SceneIndex:      &sceneIndex,
					DurationSeconds: result.DurationSeconds,
				})
			}
			if err != nil {
				return false, err
			}
			resolved++

		case provider.ClipAsync:
			if existing != nil {
				existing.Type = core.ArtifactVideoClipPending
				existing.ProviderJobID = result.ProviderJobID
				existing.FileURL = nil
				existing.ErrorMessage = ""
				err = o.store.SaveArtifact(ctx, existing)
			} else {
				sceneIndex := scene.Index
				err = o.store.CreateArtifact(ctx, &core.Artifact{
					JobID:           job.ID,
					ProjectID:       project.ID,
					Type:            core.ArtifactVideoClipPending,
					ProviderID:      id,
					ProviderJobID:   result.ProviderJobID,
					SceneIndex:      &sceneIndex,
					DurationSeconds: scene.DurationSeconds,
				})
			}
			if err != nil {
				return false, err
			}
			pending++
			o.appendEvent(ctx, job, core.LevelInfo, core.StepVideoClips, core.EventStepProgress,
				fmt.Sprintf("scene %d dispatched for async generation", scene.Index),
				datatypes.JSONMap{"provider_job_id": result.ProviderJobID, "provider_id": id})

		default:
			return false, fmt.Errorf("reelpipe: provider %s returned unknown clip mode %q", id, result.Mode)
		}
	}

	// Partial credit for the step keeps progress moving while clips
	// resolve, without ever decreasing.
	if len(scenes) > 0 {
		partial := cumulativeWeight(core.StepVoiceover) +
			core.StepWeights[core.StepVideoClips]*resolved/len(scenes)
		if partial > job.Progress {
			job.Progress = partial
			project.Progress = job.Progress
		}
	}

	if resolved == len(scenes) {
		return true, nil
	}

	o.appendEvent(ctx, job, core.LevelInfo, core.StepVideoClips, core.EventStepProgress,
		fmt.Sprintf("%d/%d clips ready, %d pending, %d deferred", resolved, len(scenes), pending, deferred),
		nil)
	return false, nil
}

func (o *Orchestrator) runAssembly(ctx context.Context, project *core.Project, job *core.Job) error {
	existing, err := o.store.GetArtifactByType(ctx, job.ID, core.ArtifactFinalVideo)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	// Assembly must never run ahead of reconciliation.
	pendingCount, err := o.store.CountPendingClips(ctx, job.ID)
	if err != nil {
		return err
	}
	if pendingCount > 0 {
		return fmt.Errorf("reelpipe: %d clips still pending, assembly is not ready", pendingCount)
	}

	clips, err := o.store.ListArtifacts(ctx, job.ID, core.ArtifactVideoClip)
	if err != nil {
		return err
	}
	clipURLs := make([]string, 0, len(clips))
	for _, c := range clips {
		if c.FileURL == nil {
			return fmt.Errorf("reelpipe: clip for scene %v has no file url", c.SceneIndex)
		}
		clipURLs = append(clipURLs, *c.FileURL)
	}
	if len(clipURLs) == 0 {
		return fmt.Errorf("reelpipe: no clips available for assembly")
	}

	voiceover, err := o.store.GetArtifactByType(ctx, job.ID, core.ArtifactVoiceover)
	if err != nil {
		return err
	}
	if voiceover == nil || voiceover.FileURL == nil {
		return fmt.Errorf("reelpipe: voiceover artifact missing")
	}

	id, err := providerID(project, provider.RoleAssembly)
	if err != nil {
		return err
	}
	assembler, err := o.providers.Assembly(id)
	if err != nil {
		return err
	}

	started := time.Now()
	videoURL, err := assembler.Assemble(ctx, clipURLs, *voiceover.FileURL)
	if err != nil {
		return err
	}

	return o.store.CreateArtifact(ctx, &core.Artifact{
		JobID:      job.ID,
		ProjectID:  project.ID,
		Type:       core.ArtifactFinalVideo,
		ProviderID: id,
		FileURL:    &videoURL,
		Metadata: datatypes.JSONMap{
			"clip_count":       len(clipURLs),
			"assembly_seconds": time.Since(started).Seconds(),
		},
	})
}

// scriptText loads the script artifact's text, failing when the pipeline
// reaches a step whose input artifact is missing.
func (o *Orchestrator) scriptText(ctx context.Context, job *core.Job) (string, error) {
	artifact, err := o.store.GetArtifactByType(ctx, job.ID, core.ArtifactScript)
	if err != nil {
		return "", err
	}
	if artifact == nil {
		return "", fmt.Errorf("reelpipe: script artifact missing for job %s", job.ID)
	}
	text, ok := artifact.Metadata["text"].(string)
	if !ok || text == "" {
		return "", fmt.Errorf("reelpipe: script artifact for job %s has no text", job.ID)
	}
	return text, nil
}

func (o *Orchestrator) scenePlan(ctx context.Context, job *core.Job) ([]core.Scene, error) {
	artifact, err := o.store.GetArtifactByType(ctx, job.ID, core.ArtifactScenePlan)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, fmt.Errorf("reelpipe: scene plan artifact missing for job %s", job.ID)
	}
	return core.ScenesFromMetadata(artifact.Metadata)
}
