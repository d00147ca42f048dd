package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"

	"github.com/reelpipe/reelpipe/pkg/security"
)

// TikTok Direct Post constants.
const (
	DefaultTikTokBaseURL = "https://open.tiktokapis.com"

	// Poll bounds: 30 attempts at 5 second spacing, 150 seconds total.
	PollInterval    = 5 * time.Second
	MaxPollAttempts = 30
)

// TikTok publishes videos through the TikTok Direct Post API.
type TikTok struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	// sleep is swapped out by tests to avoid real poll delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// TikTokOption configures the TikTok publisher.
type TikTokOption func(*TikTok)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) TikTokOption {
	return func(t *TikTok) { t.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) TikTokOption {
	return func(t *TikTok) { t.client = c }
}

// WithTikTokLogger sets the logger.
func WithTikTokLogger(l *slog.Logger) TikTokOption {
	return func(t *TikTok) { t.logger = l }
}

// WithSleep replaces the poll delay function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) TikTokOption {
	return func(t *TikTok) { t.sleep = fn }
}

// NewTikTok creates the TikTok publisher.
func NewTikTok(opts ...TikTokOption) *TikTok {
	t := &TikTok{
		baseURL: DefaultTikTokBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TikTok) Platform() string { return "tiktok" }

// Publish runs the validate -> submit -> poll state machine for one
// attempt. All outcomes, including panics, come back as a Result.
func (t *TikTok) Publish(ctx context.Context, req Request) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Failure(CodeUnexpected, fmt.Sprintf("panic: %v", r), true)
		}
	}()

	if res := t.validate(req); res != nil {
		return res
	}

	publishID, res := t.submit(ctx, req)
	if res != nil {
		return res
	}

	return t.poll(ctx, req.AccessToken, publishID)
}

// validate rejects malformed requests before any network traffic. These
// failures are terminal and never retried.
func (t *TikTok) validate(req Request) *Result {
	if req.VideoURL == "" {
		return Failure(CodeValidation, "video url is required", false)
	}
	if req.AccessToken == "" {
		return Failure(CodeValidation, "access token is required", false)
	}
	if n := utf8.RuneCountInString(req.Caption); n > security.MaxCaptionLength {
		return Failure(CodeValidation,
			fmt.Sprintf("caption is %d characters, platform maximum is %d", n, security.MaxCaptionLength), false)
	}
	if n := len(security.ExtractHashtags(req.Caption)); n > security.MaxHashtagCount {
		return Failure(CodeValidation,
			fmt.Sprintf("caption has %d hashtags, platform maximum is %d", n, security.MaxHashtagCount), false)
	}
	return nil
}

// submit initializes the Direct Post upload and returns the publish id.
func (t *TikTok) submit(ctx context.Context, req Request) (string, *Result) {
	body := map[string]any{
		"post_info": map[string]any{
			"title":         req.Caption,
			"privacy_level": "SELF_ONLY",
		},
		"source_info": map[string]any{
			"source":    "PULL_FROM_URL",
			"video_url": req.VideoURL,
		},
	}

	var out struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	status, err := t.postJSON(ctx, "/v2/post/publish/video/init/", req.AccessToken, body, &out)
	if err != nil {
		return "", Failure(CodeUnexpected, err.Error(), true)
	}
	if res := classifySubmitStatus(status, out.Error.Message); res != nil {
		return "", res
	}
	if out.Data.PublishID == "" {
		return "", Failure(CodeAPI, "submit response carried no publish_id", true)
	}
	return out.Data.PublishID, nil
}

// classifySubmitStatus maps a non-2xx submit response onto an error code
// and retryability.
func classifySubmitStatus(status int, message string) *Result {
	if status >= 200 && status < 300 {
		return nil
	}
	if message == "" {
		message = fmt.Sprintf("platform returned status %d", status)
	}
	switch {
	case status == http.StatusUnauthorized:
		return Failure(CodeAuth, message, false)
	case status == http.StatusTooManyRequests:
		return Failure(CodeRateLimited, message, true)
	case status >= 500:
		return Failure(CodePlatform, message, true)
	default:
		return Failure(CodeAPI, message, true)
	}
}

// poll queries publish status until a terminal state or the attempt
// ceiling. Exhausting the ceiling yields a retryable TIMEOUT.
func (t *TikTok) poll(ctx context.Context, token, publishID string) *Result {
	for attempt := 1; attempt <= MaxPollAttempts; attempt++ {
		var out struct {
			Data struct {
				Status     string   `json:"status"`
				PostIDs    []string `json:"publicaly_available_post_id"`
				FailReason string   `json:"fail_reason"`
			} `json:"data"`
		}

		status, err := t.postJSON(ctx, "/v2/post/publish/status/fetch/", token,
			map[string]any{"publish_id": publishID}, &out)
		if err != nil {
			return Failure(CodeUnexpected, err.Error(), true)
		}
		if status == http.StatusUnauthorized {
			return Failure(CodeAuth, "access token rejected during status poll", false)
		}

		switch out.Data.Status {
		case "PUBLISH_COMPLETE":
			postID := ""
			if len(out.Data.PostIDs) > 0 {
				postID = out.Data.PostIDs[0]
			}
			return &Result{
				Success:        true,
				PlatformPostID: postID,
				PlatformURL:    tiktokPostURL(postID),
				Metadata:       datatypes.JSONMap{"publish_id": publishID, "attempts": attempt},
			}
		case "FAILED":
			reason := out.Data.FailReason
			if reason == "" {
				reason = "platform reported publish failure"
			}
			return Failure(CodePublishFailed, reason, true)
		}

		if err := t.sleep(ctx, PollInterval); err != nil {
			return Failure(CodeUnexpected, err.Error(), true)
		}
	}

	return Failure(CodeTimeout,
		fmt.Sprintf("publish status not terminal after %d attempts", MaxPollAttempts), true)
}

func (t *TikTok) postJSON(ctx context.Context, path, token string, body, out any) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(respBody) > 0 {
		// Tolerate non-JSON error bodies; status classification handles
		// those responses.
		_ = json.Unmarshal(respBody, out)
	}
	return resp.StatusCode, nil
}

func tiktokPostURL(postID string) string {
	if postID == "" {
		return ""
	}
	return "https://www.tiktok.com/@/video/" + postID
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
