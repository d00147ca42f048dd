// Package publish defines the per-platform publisher contract and its
// uniform result shape. A publisher runs a validate -> submit ->
// poll(bounded) state machine per attempt and never lets an error escape
// its boundary; every failure path comes back as a structured Result.
package publish

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/datatypes"
)

// Error codes returned in Result.ErrorCode.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeAuth          = "AUTH_ERROR"
	CodeRateLimited   = "RATE_LIMITED"
	CodePlatform      = "PLATFORM_ERROR"
	CodeAPI           = "API_ERROR"
	CodePublishFailed = "PUBLISH_FAILED"
	CodeTimeout       = "TIMEOUT"
	CodeUnexpected    = "UNEXPECTED_ERROR"
)

// Request carries one publish attempt's inputs. The access token is an
// opaque credential; it is never logged or inspected.
type Request struct {
	VideoURL    string
	Caption     string
	AccessToken string
}

// Result is the uniform outcome of a publish attempt.
type Result struct {
	Success        bool
	PlatformPostID string
	PlatformURL    string
	ErrorMessage   string
	ErrorCode      string
	Retryable      bool
	Metadata       datatypes.JSONMap
}

// Failure builds a failed Result.
func Failure(code, message string, retryable bool) *Result {
	return &Result{
		ErrorMessage: message,
		ErrorCode:    code,
		Retryable:    retryable,
	}
}

// Publisher is the per-platform publish contract.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, req Request) *Result
}

// Registry resolves publishers by platform identifier.
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
}

// NewRegistry creates an empty publisher registry.
func NewRegistry() *Registry {
	return &Registry{publishers: make(map[string]Publisher)}
}

// Register adds a publisher under its platform id.
func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p.Platform()] = p
}

// Get resolves a publisher by platform id.
func (r *Registry) Get(platform string) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[platform]
	if !ok {
		return nil, fmt.Errorf("publish: no publisher registered for platform %q", platform)
	}
	return p, nil
}
