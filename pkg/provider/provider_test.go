package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelpipe/reelpipe/pkg/security"
)

type nullClips struct{}

func (nullClips) GenerateClip(ctx context.Context, prompt string, durationSeconds float64) (*ClipResult, error) {
	return &ClipResult{Mode: ClipSync, FileURL: "https://cdn.example.com/clip.mp4"}, nil
}

func TestRegistry_LookupByRole(t *testing.T) {
	r := NewRegistry()
	r.RegisterVideo("kling", nullClips{}, 5)

	got, err := r.Video("kling")
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = r.Video("runway")
	assert.Error(t, err)
	_, err = r.LLM("kling")
	assert.Error(t, err, "roles are separate namespaces")
}

func TestRegistry_InFlightLimit(t *testing.T) {
	r := NewRegistry()
	r.RegisterVideo("capped", nullClips{}, 7)
	r.RegisterVideo("defaulted", nullClips{}, 0)
	r.RegisterVideo("excessive", nullClips{}, security.MaxInFlightClips+500)

	assert.Equal(t, 7, r.InFlightLimit("capped"))
	assert.Equal(t, DefaultInFlightLimit, r.InFlightLimit("defaulted"))
	assert.Equal(t, security.MaxInFlightClips, r.InFlightLimit("excessive"))
	assert.Equal(t, DefaultInFlightLimit, r.InFlightLimit("unregistered"))
}

func TestStaticCredentials(t *testing.T) {
	creds := StaticCredentials{"tiktok": "tok-1"}

	token, err := creds.Credential("tiktok")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	_, err = creds.Credential("youtube")
	assert.Error(t, err)
}

func TestEnvCredentials_KeyShape(t *testing.T) {
	t.Setenv("REELPIPE_TOKEN_MY_PROVIDER", "env-tok")

	creds := NewEnvCredentials("")
	token, err := creds.Credential("my-provider")
	require.NoError(t, err)
	assert.Equal(t, "env-tok", token)

	_, err = creds.Credential("absent")
	assert.Error(t, err)
}

func TestClassifyStatus(t *testing.T) {
	e := classifyStatus(http.StatusUnauthorized, "bad token")
	assert.Equal(t, CodeAuthError, e.Code)
	assert.False(t, e.Retryable)

	e = classifyStatus(http.StatusTooManyRequests, "slow down")
	assert.Equal(t, CodeRateLimited, e.Code)
	assert.True(t, e.Retryable)

	e = classifyStatus(http.StatusServiceUnavailable, "down")
	assert.Equal(t, CodeProviderError, e.Code)
	assert.True(t, e.Retryable)

	e = classifyStatus(http.StatusUnprocessableEntity, "bad prompt")
	assert.Equal(t, CodeAPIError, e.Code)
	assert.True(t, e.Retryable)
}

func TestHTTPClip_SyncAndAsyncResponses(t *testing.T) {
	ctx := context.Background()
	var response map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer clip-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)

	clip, err := NewHTTPClip(srv.URL, "clips", StaticCredentials{"clips": "clip-token"})
	require.NoError(t, err)

	response = map[string]any{
		"status": "completed", "file_url": "https://cdn.example.com/c.mp4", "duration_seconds": 6.0,
	}
	res, err := clip.GenerateClip(ctx, "a crab walking", 6)
	require.NoError(t, err)
	assert.Equal(t, ClipSync, res.Mode)
	assert.Equal(t, "https://cdn.example.com/c.mp4", res.FileURL)

	response = map[string]any{"status": "queued", "job_id": "job-9"}
	res, err = clip.GenerateClip(ctx, "a crab walking", 6)
	require.NoError(t, err)
	assert.Equal(t, ClipAsync, res.Mode)
	assert.Equal(t, "job-9", res.ProviderJobID)

	response = map[string]any{"status": "queued"}
	_, err = clip.GenerateClip(ctx, "a crab walking", 6)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeAPIError, perr.Code)
}

func TestHTTPClip_StatusPoll(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/clips/done":
			json.NewEncoder(w).Encode(map[string]any{"status": "completed", "file_url": "https://cdn.example.com/d.mp4"})
		case "/v1/clips/bad":
			json.NewEncoder(w).Encode(map[string]any{"status": "failed", "error": "render error"})
		default:
			json.NewEncoder(w).Encode(map[string]any{"status": "processing"})
		}
	}))
	t.Cleanup(srv.Close)

	clip, err := NewHTTPClip(srv.URL, "clips", StaticCredentials{"clips": "tok"})
	require.NoError(t, err)

	status, err := clip.ClipStatus(ctx, "done")
	require.NoError(t, err)
	assert.True(t, status.Done)
	assert.False(t, status.Failed)

	status, err = clip.ClipStatus(ctx, "bad")
	require.NoError(t, err)
	assert.True(t, status.Failed)
	assert.Equal(t, "render error", status.Reason)

	status, err = clip.ClipStatus(ctx, "pending")
	require.NoError(t, err)
	assert.False(t, status.Done)
}

func TestHTTPScript_AuthFailureClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	gen, err := NewHTTPScript(srv.URL, "llm", StaticCredentials{"llm": "expired"})
	require.NoError(t, err)

	_, err = gen.GenerateScript(context.Background(), ScriptRequest{Topic: "sharks"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeAuthError, perr.Code)
	assert.False(t, perr.Retryable)
}
