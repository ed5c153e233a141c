package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/junction/internal/models"
)

func TestConsumer_ProcessesSubmissions(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s1", "security", "performance", "architecture")

	c := NewConsumer(h.capturer, 2, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for _, r := range []string{"security", "performance"} {
		out, err := c.SubmitWait(context.Background(), completion("s1", r, models.ResultSuccess))
		require.NoError(t, err)
		assert.Equal(t, Recorded, out.Disposition)
	}

	_, err := c.SubmitWait(context.Background(), Completion{SessionID: "s1"})
	assert.Error(t, err, "invalid completion is reported, not fatal")

	out, err := c.SubmitWait(context.Background(), completion("s1", "architecture", models.ResultSuccess))
	require.NoError(t, err)
	assert.True(t, out.Finalized)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.finalizations())
}

func TestConsumer_DrainsOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "s1", "security", "testing")

	c := NewConsumer(h.capturer, 1, 4, nil)
	for _, r := range []string{"security", "testing"} {
		require.NoError(t, c.Submit(context.Background(), Submission{Completion: completion("s1", r, models.ResultSuccess)}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	s, err := h.tracker.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionComplete, s.Status)
}

func TestConsumer_SubmitHonorsContext(t *testing.T) {
	h := newHarness(t)
	c := NewConsumer(h.capturer, 1, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Submit(ctx, Submission{Completion: completion("s1", "security", models.ResultSuccess)})
	assert.ErrorIs(t, err, context.Canceled)
}
