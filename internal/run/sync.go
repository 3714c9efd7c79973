package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/postprocess"
	"github.com/da-sie/openai-assistant/internal/storage"
)

var (
	// ErrWaitExhausted means the run was still active after the last allowed attempt.
	ErrWaitExhausted = errors.New("run did not finish in time")
	ErrRunFailed     = errors.New("run did not complete")
)

// WaitOptions bounds a blocking wait. MaxAttempts <= 0 waits until ctx is done.
type WaitOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

// SyncDriver runs a message to completion in the caller's goroutine.
type SyncDriver struct {
	store  storage.Storage
	api    assistantapi.API
	tools  ToolExecutor
	opts   WaitOptions
	logger *zap.Logger
}

func NewSyncDriver(store storage.Storage, api assistantapi.API, tools ToolExecutor, opts WaitOptions, logger *zap.Logger) *SyncDriver {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if tools == nil {
		tools = PlaceholderExecutor{}
	}
	return &SyncDriver{store: store, api: api, tools: tools, opts: opts, logger: logger.Named("sync")}
}

// Ask stores a prompt on the thread and runs it to completion.
func (d *SyncDriver) Ask(ctx context.Context, thread *models.Thread, prompt string, format models.ResponseFormat, author *models.Owner) (*models.Message, error) {
	if !thread.Provisioned() {
		return nil, fmt.Errorf("thread %d: %w", thread.ID, models.ErrNotProvisioned)
	}
	msg := &models.Message{
		ThreadID:       thread.ID,
		AssistantID:    thread.AssistantID,
		Role:           openai.ChatMessageRoleUser,
		Prompt:         prompt,
		ResponseFormat: format,
		RunStatus:      models.RunPending,
		Author:         author,
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return d.Run(ctx, thread, msg)
}

// Run waits for any active run on the thread, starts a new one for msg and blocks
// until it is terminal. The returned message carries the final status.
func (d *SyncDriver) Run(ctx context.Context, thread *models.Thread, msg *models.Message) (*models.Message, error) {
	if !thread.Provisioned() {
		return nil, fmt.Errorf("thread %d: %w", thread.ID, models.ErrNotProvisioned)
	}
	assistant, err := d.store.GetAssistant(ctx, thread.AssistantID)
	if err != nil {
		return nil, fmt.Errorf("get assistant: %w", err)
	}
	if !assistant.Provisioned() {
		return nil, fmt.Errorf("assistant %d: %w", assistant.ID, models.ErrNotProvisioned)
	}

	logger := d.logger.With(zap.Int64("message_id", msg.ID), zap.String("thread_id", thread.RemoteID))

	if err := d.waitForActiveRun(ctx, thread.RemoteID); err != nil {
		return d.abort(ctx, msg, models.RunFailed, err)
	}
	if msg.RemoteMessageID == "" {
		if err := mirrorMessage(ctx, d.api, d.store, thread, msg); err != nil {
			return d.abort(ctx, msg, models.RunFailed, err)
		}
	}

	r, err := d.api.CreateRun(ctx, thread.RemoteID, openai.RunRequest{AssistantID: assistant.RemoteID})
	if err != nil {
		logger.Error("Failed to create run", zap.Error(err))
		return d.abort(ctx, msg, models.RunFailed, fmt.Errorf("create run: %w", err))
	}
	msg.RemoteRunID = r.ID
	msg.RunStatus = models.RunStatus(r.Status)
	if err := d.store.UpdateMessage(ctx, msg); err != nil {
		return msg, fmt.Errorf("save run id: %w", err)
	}

	r, err = d.WaitForRun(ctx, thread.RemoteID, r.ID, d.opts)
	if err != nil {
		return d.abort(ctx, msg, models.RunFailed, err)
	}
	if r.Status != openai.RunStatusCompleted {
		logger.Warn("Run ended without completing", zap.String("status", string(r.Status)))
		return d.abort(ctx, msg, models.RunStatus(r.Status), fmt.Errorf("%w: %s", ErrRunFailed, r.Status))
	}

	text, found, err := d.answerAfter(ctx, thread.RemoteID, msg.RemoteMessageID)
	switch {
	case err != nil:
		logger.Error("Failed to fetch answer", zap.Error(err))
		msg.RunStatus = models.RunCompletedWithError
	case !found:
		msg.RunStatus = models.RunCompletedNoResponse
	default:
		msg.Response = postprocess.Clean(msg.ResponseFormat, text)
		msg.RunStatus = models.RunCompleted
	}
	if err := d.store.UpdateMessage(ctx, msg); err != nil {
		return msg, fmt.Errorf("save response: %w", err)
	}
	return msg, nil
}

// WaitForRun polls a run until it is terminal, answering tool calls on the way.
// When MaxAttempts runs out it returns the last observed run and ErrWaitExhausted.
func (d *SyncDriver) WaitForRun(ctx context.Context, threadID, runID string, opts WaitOptions) (openai.Run, error) {
	if opts.Interval <= 0 {
		opts.Interval = d.opts.Interval
	}

	var last openai.Run
	for attempt := 1; opts.MaxAttempts <= 0 || attempt <= opts.MaxAttempts; attempt++ {
		r, err := d.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return last, fmt.Errorf("retrieve run: %w", err)
		}
		last = r

		switch r.Status {
		case openai.RunStatusCompleted, openai.RunStatusFailed, openai.RunStatusCancelled,
			openai.RunStatusExpired, openai.RunStatusIncomplete:
			return r, nil
		case openai.RunStatusRequiresAction:
			outputs, err := toolOutputs(ctx, d.tools, requiredToolCalls(r))
			if err != nil {
				return r, err
			}
			if _, err := d.api.SubmitToolOutputs(ctx, threadID, runID, outputs); err != nil {
				return r, fmt.Errorf("submit tool outputs: %w", err)
			}
			continue
		}

		if attempt == opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
	return last, ErrWaitExhausted
}

func (d *SyncDriver) waitForActiveRun(ctx context.Context, threadID string) error {
	runs, err := d.api.ListRuns(ctx, threadID, assistantapi.ListOptions{Limit: 1, Order: "desc"})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}
	switch runs[0].Status {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusRequiresAction, openai.RunStatusCancelling:
		d.logger.Info("Waiting for active run", zap.String("thread_id", threadID), zap.String("run_id", runs[0].ID))
		_, err := d.WaitForRun(ctx, threadID, runs[0].ID, d.opts)
		return err
	}
	return nil
}

// answerAfter returns the first assistant message posted after the prompt.
func (d *SyncDriver) answerAfter(ctx context.Context, threadID, promptID string) (string, bool, error) {
	msgs, err := d.api.ListMessages(ctx, threadID, assistantapi.ListOptions{Limit: 20, Order: "asc", After: promptID})
	if err != nil {
		return "", false, err
	}
	for _, m := range msgs {
		if m.Role == openai.ChatMessageRoleAssistant {
			if text := assistantapi.MessageText(m); text != "" {
				return text, true, nil
			}
		}
	}
	return "", false, nil
}

func (d *SyncDriver) abort(ctx context.Context, msg *models.Message, status models.RunStatus, cause error) (*models.Message, error) {
	msg.RunStatus = status
	if err := d.store.UpdateMessage(context.WithoutCancel(ctx), msg); err != nil {
		d.logger.Error("Failed to save message status", zap.Error(err), zap.Int64("message_id", msg.ID))
	}
	return msg, cause
}
