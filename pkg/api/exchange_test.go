package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charter-works/charterd/pkg/conversation"
	"github.com/charter-works/charterd/pkg/orchestrator"
)

func TestExchange_AskAndDeliver(t *testing.T) {
	e := NewExchange()
	prompt := conversation.Prompt{
		SessionID:  "sess-1",
		Stage:      1,
		QuestionID: "s1_objective",
		Question:   "What business objective should this project serve?",
		Attempt:    1,
	}

	got := make(chan string, 1)
	go func() {
		answer, err := e.Ask(context.Background(), prompt)
		if err == nil {
			got <- answer
		}
	}()

	require.Eventually(t, func() bool {
		_, ok := e.Pending("sess-1")
		return ok
	}, time.Second, time.Millisecond, "the prompt must be published before the loop blocks")

	pending, ok := e.Pending("sess-1")
	require.True(t, ok)
	assert.Equal(t, "s1_objective", pending.QuestionID)

	require.NoError(t, e.Deliver("sess-1", "Reduce churn from 4% to 3%."))

	select {
	case answer := <-got:
		assert.Equal(t, "Reduce churn from 4% to 3%.", answer)
	case <-time.After(time.Second):
		t.Fatal("Ask did not return after the answer was delivered")
	}

	_, ok = e.Pending("sess-1")
	assert.False(t, ok, "a delivered prompt is no longer pending")
}

func TestExchange_DeliverWithoutPrompt(t *testing.T) {
	e := NewExchange()
	err := e.Deliver("sess-1", "hello")

	var coded *orchestrator.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, orchestrator.CodeNotFound, coded.Code)
}

func TestExchange_AskHonorsCancellation(t *testing.T) {
	e := NewExchange()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Ask(ctx, conversation.Prompt{SessionID: "sess-1", Question: "q"})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := e.Pending("sess-1")
		return ok
	}, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Ask did not unblock on cancellation")
	}

	_, ok := e.Pending("sess-1")
	assert.False(t, ok, "a cancelled prompt is cleared")
}

func TestRunTracker(t *testing.T) {
	t.Run("refuses a second concurrent run", func(t *testing.T) {
		tracker := newRunTracker()
		require.NoError(t, tracker.start("sess-1", 1))

		err := tracker.start("sess-1", 2)
		var coded *orchestrator.Error
		require.ErrorAs(t, err, &coded)
		assert.Equal(t, orchestrator.CodeInvalidRequest, coded.Code)
	})

	t.Run("a finished run can be restarted", func(t *testing.T) {
		tracker := newRunTracker()
		require.NoError(t, tracker.start("sess-1", 1))
		tracker.finish("sess-1", &orchestrator.StageResult{Stage: 1}, nil)

		run, ok := tracker.get("sess-1")
		require.True(t, ok)
		assert.Equal(t, "done", run.Status)

		require.NoError(t, tracker.start("sess-1", 2))
	})

	t.Run("records the failure", func(t *testing.T) {
		tracker := newRunTracker()
		require.NoError(t, tracker.start("sess-1", 3))
		tracker.finish("sess-1", nil,
			orchestrator.NewError(orchestrator.CodeProviderExhausted, "all providers failed", nil))

		run, ok := tracker.get("sess-1")
		require.True(t, ok)
		assert.Equal(t, "error", run.Status)
		assert.Equal(t, orchestrator.CodeProviderExhausted, run.Err.Code)
	})
}
