// Package provider defines the capability contracts for generation
// providers and a flat registry for resolving them by id.
package provider

import (
	"context"
	"fmt"
)

// Role identifies which pipeline capability a provider fills.
type Role string

const (
	RoleLLM      Role = "llm"
	RoleVoice    Role = "voice"
	RoleVideo    Role = "video"
	RoleAssembly Role = "assembly"
)

// Error is the normalized failure shape every adapter returns. Provider
// SDK and transport failures never cross the adapter boundary raw.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s: %s", e.Code, e.Message)
}

// Common error codes
const (
	CodeAuthError     = "AUTH_ERROR"
	CodeRateLimited   = "RATE_LIMITED"
	CodeProviderError = "PROVIDER_ERROR"
	CodeAPIError      = "API_ERROR"
	CodeUnexpected    = "UNEXPECTED_ERROR"
)

// ScriptRequest carries the inputs for script generation.
type ScriptRequest struct {
	Topic           string
	Style           string
	DurationSeconds int
	Language        string
}

// ScriptGenerator produces a narration script from a request.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, req ScriptRequest) (string, error)
}

// VoiceSynthesizer converts a script into an audio file URL.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, script, language string) (string, error)
}

// ClipMode distinguishes providers that return a clip inline from those
// that complete later via webhook or polling.
type ClipMode string

const (
	ClipSync  ClipMode = "sync"
	ClipAsync ClipMode = "async"
)

// ClipResult is the outcome of dispatching one scene to a video provider.
// Sync results carry FileURL; async results carry ProviderJobID and the
// clip resolves out-of-band.
type ClipResult struct {
	Mode            ClipMode
	FileURL         string
	ProviderJobID   string
	DurationSeconds float64
}

// ClipGenerator turns a scene prompt into a video clip.
type ClipGenerator interface {
	GenerateClip(ctx context.Context, prompt string, durationSeconds float64) (*ClipResult, error)
}

// ClipStatus is a point-in-time view of an async clip job.
type ClipStatus struct {
	Done    bool
	Failed  bool
	FileURL string
	Reason  string
}

// ClipStatusPoller is implemented by async video providers whose jobs can
// be queried directly. The reconciler's poll fallback uses it when the
// completion webhook never arrives.
type ClipStatusPoller interface {
	ClipStatus(ctx context.Context, providerJobID string) (*ClipStatus, error)
}

// Assembler combines scene clips and a voiceover into the final video.
type Assembler interface {
	Assemble(ctx context.Context, clipURLs []string, audioURL string) (string, error)
}
