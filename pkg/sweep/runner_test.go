package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelpipe/reelpipe/pkg/core"
	"github.com/reelpipe/reelpipe/pkg/schedule"
)

func TestRunner_SweepsOnSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, successResult())
	post := f.newDuePost(t)

	runner := NewRunner(f.worker, schedule.Every(5*time.Millisecond), WithTick(time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- runner.Start(ctx) }()

	require.Eventually(t, func() bool {
		loaded, err := f.store.GetPost(context.Background(), post.ID)
		return err == nil && loaded != nil && loaded.Status == core.PostPublished
	}, 2*time.Second, 5*time.Millisecond, "runner never published the due post")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
