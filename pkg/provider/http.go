package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is a minimal JSON-over-HTTP client shared by the bundled
// provider adapters. Non-2xx responses are classified into the normalized
// Error shape; nothing else escapes.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// classifyStatus maps an HTTP status code onto an error code and
// retryability: 401 is an auth failure and never retried, 429 and 5xx are
// transient, everything else is a generic API error retried by default.
func classifyStatus(code int, message string) *Error {
	switch {
	case code == http.StatusUnauthorized:
		return &Error{Code: CodeAuthError, Message: message, Retryable: false}
	case code == http.StatusTooManyRequests:
		return &Error{Code: CodeRateLimited, Message: message, Retryable: true}
	case code >= 500:
		return &Error{Code: CodeProviderError, Message: message, Retryable: true}
	default:
		return &Error{Code: CodeAPIError, Message: message, Retryable: true}
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return &Error{Code: CodeUnexpected, Message: err.Error(), Retryable: true}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Code: CodeUnexpected, Message: err.Error(), Retryable: true}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Code: CodeUnexpected, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Code: CodeUnexpected, Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Code: CodeUnexpected, Message: err.Error(), Retryable: true}
		}
	}
	return nil
}

// HTTPScript is a ScriptGenerator backed by a JSON completion endpoint.
type HTTPScript struct {
	client *apiClient
}

// NewHTTPScript creates a script provider against baseURL, resolving its
// token from creds under id.
func NewHTTPScript(baseURL, id string, creds CredentialStore) (*HTTPScript, error) {
	token, err := creds.Credential(id)
	if err != nil {
		return nil, err
	}
	return &HTTPScript{client: newAPIClient(baseURL, token)}, nil
}

func (p *HTTPScript) GenerateScript(ctx context.Context, req ScriptRequest) (string, error) {
	var out struct {
		Script string `json:"script"`
	}
	err := p.client.do(ctx, http.MethodPost, "/v1/scripts", map[string]any{
		"topic":            req.Topic,
		"style":            req.Style,
		"duration_seconds": req.DurationSeconds,
		"language":         req.Language,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Script, nil
}

// HTTPVoice is a VoiceSynthesizer backed by a text-to-speech endpoint.
type HTTPVoice struct {
	client *apiClient
}

func NewHTTPVoice(baseURL, id string, creds CredentialStore) (*HTTPVoice, error) {
	token, err := creds.Credential(id)
	if err != nil {
		return nil, err
	}
	return &HTTPVoice{client: newAPIClient(baseURL, token)}, nil
}

func (p *HTTPVoice) Synthesize(ctx context.Context, script, language string) (string, error) {
	var out struct {
		AudioURL string `json:"audio_url"`
	}
	err := p.client.do(ctx, http.MethodPost, "/v1/speech", map[string]any{
		"script":   script,
		"language": language,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.AudioURL, nil
}

// HTTPClip is a ClipGenerator backed by a video generation endpoint.
// Providers that render inline return a completed status with a file URL;
// queue-based providers return a job id and resolve via webhook or the
// ClipStatus poll fallback.
type HTTPClip struct {
	client *apiClient
}

func NewHTTPClip(baseURL, id string, creds CredentialStore) (*HTTPClip, error) {
	token, err := creds.Credential(id)
	if err != nil {
		return nil, err
	}
	return &HTTPClip{client: newAPIClient(baseURL, token)}, nil
}

func (p *HTTPClip) GenerateClip(ctx context.Context, prompt string, durationSeconds float64) (*ClipResult, error) {
	var out struct {
		Status          string  `json:"status"`
		JobID           string  `json:"job_id"`
		FileURL         string  `json:"file_url"`
		DurationSeconds float64 `json:"duration_seconds"`
	}
	err := p.client.do(ctx, http.MethodPost, "/v1/clips", map[string]any{
		"prompt":           prompt,
		"duration_seconds": durationSeconds,
	}, &out)
	if err != nil {
		return nil, err
	}

	if out.Status == "completed" && out.FileURL != "" {
		return &ClipResult{Mode: ClipSync, FileURL: out.FileURL, DurationSeconds: out.DurationSeconds}, nil
	}
	if out.JobID == "" {
		return nil, &Error{Code: CodeAPIError, Message: "clip response carried neither file_url nor job_id", Retryable: true}
	}
	return &ClipResult{Mode: ClipAsync, ProviderJobID: out.JobID, DurationSeconds: durationSeconds}, nil
}

func (p *HTTPClip) ClipStatus(ctx context.Context, providerJobID string) (*ClipStatus, error) {
	var out struct {
		Status  string `json:"status"`
		FileURL string `json:"file_url"`
		Error   string `json:"error"`
	}
	err := p.client.do(ctx, http.MethodGet, "/v1/clips/"+providerJobID, nil, &out)
	if err != nil {
		return nil, err
	}

	switch out.Status {
	case "completed":
		return &ClipStatus{Done: true, FileURL: out.FileURL}, nil
	case "failed":
		return &ClipStatus{Done: true, Failed: true, Reason: out.Error}, nil
	default:
		return &ClipStatus{}, nil
	}
}

// HTTPAssembly is an Assembler backed by a render/stitching endpoint.
type HTTPAssembly struct {
	client *apiClient
}

func NewHTTPAssembly(baseURL, id string, creds CredentialStore) (*HTTPAssembly, error) {
	token, err := creds.Credential(id)
	if err != nil {
		return nil, err
	}
	return &HTTPAssembly{client: newAPIClient(baseURL, token)}, nil
}

func (p *HTTPAssembly) Assemble(ctx context.Context, clipURLs []string, audioURL string) (string, error) {
	var out struct {
		VideoURL string `json:"video_url"`
	}
	err := p.client.do(ctx, http.MethodPost, "/v1/assemble", map[string]any{
		"clip_urls": clipURLs,
		"audio_url": audioURL,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.VideoURL, nil
}
