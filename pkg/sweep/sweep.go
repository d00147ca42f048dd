// Package sweep implements the scheduled publish queue worker.
//
// A sweep is a stateless pass over the scheduled-post table: due posts and
// retry-eligible failures are claimed one at a time through an exclusive
// conditional status transition, then dispatched through the matching
// publisher. The trigger is external (cron or the bundled Runner); the
// worker assumes nothing beyond being invoked at least once per target
// interval.
package sweep

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/reelpipe/reelpipe/pkg/core"
	"github.com/reelpipe/reelpipe/pkg/provider"
	"github.com/reelpipe/reelpipe/pkg/publish"
)

// DefaultBatchSize bounds how many posts one sweep picks up per pool.
const DefaultBatchSize = 50

// DefaultActor is the audit identity recorded for unattended sweeps.
const DefaultActor = "queue-worker"

// Worker dispatches due and retry-eligible scheduled posts.
type Worker struct {
	store      core.Store
	publishers *publish.Registry
	creds      provider.CredentialStore
	logger     *slog.Logger
	emitter    core.Emitter

	actor        string
	batchSize    int
	storageRetry RetryConfig
	now          func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithActor sets the audit actor identity.
func WithActor(actor string) Option {
	return func(w *Worker) { w.actor = actor }
}

// WithBatchSize bounds posts picked up per pool per sweep.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithStorageRetry overrides backoff behavior for transient storage
// failures.
func WithStorageRetry(cfg RetryConfig) Option {
	return func(w *Worker) { w.storageRetry = cfg }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// NewWorker creates a sweep worker.
func NewWorker(store core.Store, publishers *publish.Registry, creds provider.CredentialStore, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		publishers:   publishers,
		creds:        creds,
		logger:       slog.Default(),
		actor:        DefaultActor,
		batchSize:    DefaultBatchSize,
		storageRetry: DefaultRetryConfig(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns a subscriber channel for publish outcome events.
func (w *Worker) Events() <-chan core.Event {
	return w.emitter.Events()
}

// Stats summarizes one sweep.
type Stats struct {
	Due       int
	Retries   int
	Published int
	Failed    int
	Skipped   int
}

// Sweep selects due scheduled posts and retry-eligible failed posts, then
// dispatches each through its platform publisher. Posts another concurrent
// sweep already claimed are skipped.
func (w *Worker) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	now := w.now()

	due, err := w.store.GetDuePosts(ctx, now, w.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Due = len(due)

	retries, err := w.store.GetRetryablePosts(ctx, w.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Retries = len(retries)

	for _, post := range due {
		w.tally(&stats, w.dispatch(ctx, post))
	}

	for _, post := range retries {
		// Automatic retry re-enters the normal path: failed -> scheduled,
		// then the exclusive scheduled -> publishing claim.
		moved, err := w.store.TransitionPost(ctx, post.ID, core.PostFailed, core.PostScheduled)
		if err != nil {
			w.logger.Error("retry transition failed", "post_id", post.ID, "error", err)
			continue
		}
		if !moved {
			stats.Skipped++
			continue
		}
		w.audit(ctx, post.ID, core.AuditRetried, datatypes.JSONMap{"retry_count": post.RetryCount})
		w.tally(&stats, w.dispatch(ctx, post))
	}

	w.logger.Info("sweep finished",
		"due", stats.Due, "retries", stats.Retries,
		"published", stats.Published, "failed", stats.Failed, "skipped", stats.Skipped)
	return stats, nil
}

// PublishScheduledPost publishes a single post immediately. Used when a
// newly created post's scheduled time is already due, and for manual
// retry of a failed post.
func (w *Worker) PublishScheduledPost(ctx context.Context, postID string) error {
	post, err := w.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return core.ErrPostNotFound
	}

	if post.Status == core.PostFailed {
		if post.RetryCount >= post.MaxRetries {
			return core.ErrPostNotClaimable
		}
		moved, err := w.store.TransitionPost(ctx, post.ID, core.PostFailed, core.PostScheduled)
		if err != nil {
			return err
		}
		if !moved {
			return core.ErrPostNotClaimable
		}
		w.audit(ctx, post.ID, core.AuditRetried, datatypes.JSONMap{"retry_count": post.RetryCount})
	}

	outcome := w.dispatch(ctx, post)
	if outcome == outcomeSkipped {
		return core.ErrPostNotClaimable
	}
	return nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomePublished
	outcomeFailed
)

func (w *Worker) tally(stats *Stats, o outcome) {
	switch o {
	case outcomePublished:
		stats.Published++
	case outcomeFailed:
		stats.Failed++
	case outcomeSkipped:
		stats.Skipped++
	}
}

// dispatch claims a post and runs one publish attempt. The claim is the
// exclusive scheduled -> publishing transition; losing it means another
// invocation owns the post.
func (w *Worker) dispatch(ctx context.Context, post *core.ScheduledPost) outcome {
	claimed, err := w.store.TransitionPost(ctx, post.ID, core.PostScheduled, core.PostPublishing)
	if err != nil {
		w.logger.Error("claim transition failed", "post_id", post.ID, "error", err)
		return outcomeSkipped
	}
	if !claimed {
		return outcomeSkipped
	}

	publisher, err := w.publishers.Get(post.Platform)
	if err != nil {
		return w.recordFailure(ctx, post, publish.Failure(publish.CodeValidation, err.Error(), false))
	}

	token, err := w.creds.Credential(post.Platform)
	if err != nil {
		return w.recordFailure(ctx, post, publish.Failure(publish.CodeAuth, err.Error(), false))
	}

	result := publisher.Publish(ctx, publish.Request{
		VideoURL:    post.VideoURL,
		Caption:     captionWithHashtags(post),
		AccessToken: token,
	})
	if result.Success {
		return w.recordSuccess(ctx, post, result)
	}
	return w.recordFailure(ctx, post, result)
}

func (w *Worker) recordSuccess(ctx context.Context, post *core.ScheduledPost, result *publish.Result) outcome {
	publishedAt := w.now()
	err := retryWithBackoff(ctx, w.storageRetry, func() error {
		return w.store.MarkPostPublished(ctx, post.ID, result.PlatformPostID, result.PlatformURL, publishedAt)
	})
	if err != nil {
		w.logger.Error("failed to mark post published after retries", "post_id", post.ID, "error", err)
		return outcomeSkipped
	}

	metadata := datatypes.JSONMap{
		"platform_post_id": result.PlatformPostID,
		"platform_url":     result.PlatformURL,
	}
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	w.audit(ctx, post.ID, core.AuditPublished, metadata)

	post.Status = core.PostPublished
	post.PublishedAt = &publishedAt
	post.PlatformPostID = result.PlatformPostID
	post.PlatformURL = result.PlatformURL
	w.emitter.Emit(&core.PostPublishedEvent{Post: post, Timestamp: publishedAt})
	w.logger.Info("post published", "post_id", post.ID, "platform", post.Platform)
	return outcomePublished
}

func (w *Worker) recordFailure(ctx context.Context, post *core.ScheduledPost, result *publish.Result) outcome {
	var updated *core.ScheduledPost
	err := retryWithBackoff(ctx, w.storageRetry, func() error {
		var markErr error
		updated, markErr = w.store.MarkPostFailed(ctx, post.ID, result.ErrorMessage, result.ErrorCode)
		return markErr
	})
	if err != nil || updated == nil {
		w.logger.Error("failed to mark post failed after retries", "post_id", post.ID, "error", err)
		return outcomeSkipped
	}

	// Non-retryable failures burn the remaining budget so the next sweep
	// does not pick the post up again.
	if !result.Retryable && updated.RetryCount < updated.MaxRetries {
		updated.RetryCount = updated.MaxRetries
		if err := w.store.SavePost(ctx, updated); err != nil {
			w.logger.Error("failed to exhaust retry budget", "post_id", post.ID, "error", err)
		}
	}

	terminal := updated.RetryCount >= updated.MaxRetries
	w.audit(ctx, post.ID, core.AuditFailed, datatypes.JSONMap{
		"error_code":  result.ErrorCode,
		"retryable":   result.Retryable,
		"retry_count": updated.RetryCount,
		"terminal":    terminal,
	})

	w.emitter.Emit(&core.PostFailedEvent{Post: updated, Terminal: terminal, Timestamp: w.now()})
	w.logger.Warn("post publish failed",
		"post_id", post.ID, "platform", post.Platform,
		"error_code", result.ErrorCode, "terminal", terminal)
	return outcomeFailed
}

// audit appends a PublishAuditLog entry. Audit write failures are logged,
// never propagated.
func (w *Worker) audit(ctx context.Context, postID string, action core.AuditAction, metadata datatypes.JSONMap) {
	entry := &core.PublishAuditLog{
		PostID:   postID,
		Action:   action,
		Actor:    w.actor,
		Metadata: metadata,
	}
	if err := w.store.AppendAudit(ctx, entry); err != nil {
		w.logger.Error("failed to append audit entry", "post_id", postID, "error", err)
	}
}

// captionWithHashtags appends any stored hashtags missing from the
// caption text.
func captionWithHashtags(post *core.ScheduledPost) string {
	caption := post.Caption
	for _, tag := range post.Hashtags {
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		if !strings.Contains(caption, tag) {
			caption = strings.TrimSpace(caption + " " + tag)
		}
	}
	return caption
}
