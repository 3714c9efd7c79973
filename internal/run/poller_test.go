package run

import (
	"context"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/queue"
)

func (f *fixture) poller() *Poller {
	return NewPoller(f.store, f.api, f.jobs, f.notifier, nil, PollerConfig{RecheckDelay: 2 * time.Second}, zap.NewNop())
}

// drain claims every scheduled job.
func (f *fixture) drain(t *testing.T) []queue.Job {
	t.Helper()
	jobs, err := f.jobs.Claim(context.Background(), time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	return jobs
}

func TestPoller_EmptyThenInProgressThenCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.newMessage(t, models.FormatJSON, "run_1")
	p := f.poller()

	steps := assistantapi.ListOptions{Limit: 10}
	f.api.On("ListRunSteps", mock.Anything, "thread_1", "run_1", steps).Return([]openai.RunStep{}, nil).Once()
	f.api.On("ListRunSteps", mock.Anything, "thread_1", "run_1", steps).
		Return([]openai.RunStep{{Status: openai.RunStepStatusInProgress}}, nil).Once()
	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil).Once()
	f.api.On("ListRunSteps", mock.Anything, "thread_1", "run_1", steps).
		Return([]openai.RunStep{{Status: openai.RunStepStatusCompleted}}, nil).Once()
	f.api.On("ListMessages", mock.Anything, "thread_1", assistantapi.ListOptions{Limit: 10, Order: "desc"}).
		Return([]openai.Message{assistantMessage("```json\n{\"answer\":42}\n```")}, nil).Once()

	// not observable yet
	require.NoError(t, p.Check(ctx, msg.ID))
	assert.Equal(t, models.RunPending, f.reload(t, msg.ID).RunStatus)
	require.Len(t, f.drain(t), 1)

	require.NoError(t, p.Check(ctx, msg.ID))
	assert.Equal(t, models.RunInProgress, f.reload(t, msg.ID).RunStatus)
	require.Len(t, f.drain(t), 1)

	require.NoError(t, p.Check(ctx, msg.ID))
	stored := f.reload(t, msg.ID)
	assert.Equal(t, models.RunCompleted, stored.RunStatus)
	assert.Equal(t, "\n{\"answer\":42}\n", stored.Response)
	assert.Empty(t, f.drain(t))

	// a late duplicate check does nothing
	require.NoError(t, p.Check(ctx, msg.ID))
	assert.Empty(t, f.drain(t))

	terminal := f.pub.Terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, models.CheckmarkSuccess, terminal[0].Payload.Steps["processed_ai"])
	assert.Equal(t, stored.Response, terminal[0].Payload.Content)
}

func TestPoller_RequiresActionSubmitsOutputsAndRechecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.newMessage(t, models.FormatText, "run_1")
	p := f.poller()

	call := openai.ToolCall{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "weather"}}
	f.api.On("ListRunSteps", mock.Anything, "thread_1", "run_1", mock.Anything).
		Return([]openai.RunStep{{Status: openai.RunStepStatusInProgress}}, nil)
	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").Return(openai.Run{
		ID:     "run_1",
		Status: openai.RunStatusRequiresAction,
		RequiredAction: &openai.RunRequiredAction{
			SubmitToolOutputs: &openai.SubmitToolOutputs{ToolCalls: []openai.ToolCall{call}},
		},
	}, nil)
	f.api.On("SubmitToolOutputs", mock.Anything, "thread_1", "run_1", mock.MatchedBy(func(out []openai.ToolOutput) bool {
		return len(out) == 1 && out[0].ToolCallID == "call_1"
	})).Return(openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil)

	require.NoError(t, p.Check(ctx, msg.ID))
	assert.Equal(t, models.RunRequiresAction, f.reload(t, msg.ID).RunStatus)
	assert.Len(t, f.drain(t), 1)
	assert.Empty(t, f.pub.Terminal())
}

func TestPoller_FailedStepPublishesFailureOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.newMessage(t, models.FormatText, "run_1")
	p := f.poller()

	f.api.On("ListRunSteps", mock.Anything, "thread_1", "run_1", mock.Anything).
		Return([]openai.RunStep{{Status: openai.RunStepStatus("expired")}}, nil).Once()

	require.NoError(t, p.Check(ctx, msg.ID))
	require.NoError(t, p.Check(ctx, msg.ID))

	stored := f.reload(t, msg.ID)
	assert.Equal(t, models.RunExpired, stored.RunStatus)
	assert.Empty(t, stored.Response)
	assert.Empty(t, f.drain(t))

	terminal := f.pub.Terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, models.CheckmarkFailed, terminal[0].Payload.Steps["processed_ai"])
	assert.Equal(t, "expired", terminal[0].Payload.Error)
}

func TestPoller_CompletedWithoutAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.newMessage(t, models.FormatText, "run_1")

	f.api.On("ListRunSteps", mock.Anything, "thread_1", "run_1", mock.Anything).
		Return([]openai.RunStep{{Status: openai.RunStepStatusCompleted}}, nil)
	f.api.On("ListMessages", mock.Anything, "thread_1", mock.Anything).
		Return([]openai.Message{{ID: "msg_1", Role: openai.ChatMessageRoleUser}}, nil)

	require.NoError(t, f.poller().Check(ctx, msg.ID))
	assert.Equal(t, models.RunCompletedNoResponse, f.reload(t, msg.ID).RunStatus)
	assert.Len(t, f.pub.Terminal(), 1)
}

func TestPoller_RecheckDelayHasFloor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.newMessage(t, models.FormatText, "run_1")
	p := NewPoller(f.store, f.api, f.jobs, f.notifier, nil, PollerConfig{}, zap.NewNop())

	f.api.On("ListRunSteps", mock.Anything, "thread_1", "run_1", mock.Anything).Return([]openai.RunStep{}, nil)

	before := time.Now()
	require.NoError(t, p.HandleJob(ctx, queue.Job{Kind: queue.KindCheckRun, MessageID: msg.ID}))

	pending := f.jobs.Pending()
	require.Len(t, pending, 1)
	assert.False(t, pending[0].Due.Before(before.Add(MinRecheckDelay)))
}
