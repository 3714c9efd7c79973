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
)

func (f *fixture) syncDriver() *SyncDriver {
	return NewSyncDriver(f.store, f.api, nil, WaitOptions{Interval: time.Millisecond}, zap.NewNop())
}

func TestSyncDriver_AskAnswersToolCallsAndReturnsAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.api.On("ListRuns", mock.Anything, "thread_1", assistantapi.ListOptions{Limit: 1, Order: "desc"}).
		Return([]openai.Run{{ID: "run_0", Status: openai.RunStatusCompleted}}, nil)
	f.api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{ID: "msg_5"}, nil)
	f.api.On("CreateRun", mock.Anything, "thread_1", openai.RunRequest{AssistantID: "asst_1"}).
		Return(openai.Run{ID: "run_5", Status: openai.RunStatusQueued}, nil)
	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_5").Return(openai.Run{
		ID:     "run_5",
		Status: openai.RunStatusRequiresAction,
		RequiredAction: &openai.RunRequiredAction{SubmitToolOutputs: &openai.SubmitToolOutputs{
			ToolCalls: []openai.ToolCall{{ID: "call_1", Function: openai.FunctionCall{Name: "lookup"}}},
		}},
	}, nil).Once()
	f.api.On("SubmitToolOutputs", mock.Anything, "thread_1", "run_5", mock.Anything).
		Return(openai.Run{ID: "run_5", Status: openai.RunStatusQueued}, nil).Once()
	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_5").
		Return(openai.Run{ID: "run_5", Status: openai.RunStatusInProgress}, nil).Once()
	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_5").
		Return(openai.Run{ID: "run_5", Status: openai.RunStatusCompleted}, nil).Once()
	f.api.On("ListMessages", mock.Anything, "thread_1", assistantapi.ListOptions{Limit: 20, Order: "asc", After: "msg_5"}).
		Return([]openai.Message{assistantMessage("42")}, nil)

	msg, err := f.syncDriver().Ask(ctx, f.thread, "answer?", models.FormatText, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", msg.Response)
	assert.Equal(t, models.RunCompleted, msg.RunStatus)

	stored := f.reload(t, msg.ID)
	assert.Equal(t, "run_5", stored.RemoteRunID)
	assert.Equal(t, "msg_5", stored.RemoteMessageID)
	assert.Equal(t, "42", stored.Response)
}

func TestSyncDriver_WaitsForActiveRunFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.newMessage(t, models.FormatText, "")

	f.api.On("ListRuns", mock.Anything, "thread_1", mock.Anything).
		Return([]openai.Run{{ID: "run_0", Status: openai.RunStatusInProgress}}, nil)
	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_0").
		Return(openai.Run{ID: "run_0", Status: openai.RunStatusCompleted}, nil).Once()
	f.api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil)
	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusCompleted}, nil)
	f.api.On("ListMessages", mock.Anything, "thread_1", mock.Anything).Return([]openai.Message{}, nil)

	out, err := f.syncDriver().Run(ctx, f.thread, msg)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompletedNoResponse, out.RunStatus)
	f.api.AssertNumberOfCalls(t, "RetrieveRun", 2)
	f.api.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncDriver_RunFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.newMessage(t, models.FormatText, "")

	f.api.On("ListRuns", mock.Anything, "thread_1", mock.Anything).Return([]openai.Run{}, nil)
	f.api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil)
	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusCancelled}, nil)

	out, err := f.syncDriver().Run(ctx, f.thread, msg)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, models.RunCancelled, out.RunStatus)
	assert.Equal(t, models.RunCancelled, f.reload(t, msg.ID).RunStatus)
}

func TestSyncDriver_WaitForRunStopsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)

	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil).Times(3)

	r, err := f.syncDriver().WaitForRun(context.Background(), "thread_1", "run_1", WaitOptions{Interval: time.Millisecond, MaxAttempts: 3})
	assert.ErrorIs(t, err, ErrWaitExhausted)
	assert.Equal(t, openai.RunStatusInProgress, r.Status)
}

func TestSyncDriver_WaitForRunDoesNotSleepAfterLastAttempt(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil).Once()

	start := time.Now()
	_, err := f.syncDriver().WaitForRun(ctx, "thread_1", "run_1", WaitOptions{Interval: time.Hour, MaxAttempts: 1})
	assert.ErrorIs(t, err, ErrWaitExhausted)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSyncDriver_WaitForRunHonoursContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Run(func(mock.Arguments) { cancel() }).
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil).Once()

	_, err := f.syncDriver().WaitForRun(ctx, "thread_1", "run_1", WaitOptions{Interval: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}
