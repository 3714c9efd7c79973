package run

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/queue"
	"github.com/da-sie/openai-assistant/internal/storage"
)

// Strategy selects how runs are driven. Exactly one is active per process.
type Strategy string

const (
	StrategyPolling   Strategy = "polling"
	StrategyStreaming Strategy = "streaming"
)

// Dispatcher accepts new prompts and hands them to the configured strategy.
type Dispatcher struct {
	store    storage.Storage
	api      assistantapi.API
	jobs     queue.Scheduler
	notifier Notifier
	strategy Strategy
	logger   *zap.Logger
}

func NewDispatcher(store storage.Storage, api assistantapi.API, jobs queue.Scheduler, notifier Notifier, strategy Strategy, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		api:      api,
		jobs:     jobs,
		notifier: notifier,
		strategy: strategy,
		logger:   logger.Named("dispatcher"),
	}
}

// SendMessage stores the prompt, mirrors it remotely and starts a run. It returns
// as soon as the run is scheduled; the outcome arrives through notifications.
func (d *Dispatcher) SendMessage(ctx context.Context, thread *models.Thread, prompt string, format models.ResponseFormat, author *models.Owner) (*models.Message, error) {
	if d.strategy != StrategyPolling && d.strategy != StrategyStreaming {
		return nil, fmt.Errorf("unknown run strategy %q", d.strategy)
	}
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

	msg := &models.Message{
		ThreadID:       thread.ID,
		AssistantID:    assistant.ID,
		Role:           openai.ChatMessageRoleUser,
		Prompt:         prompt,
		ResponseFormat: format,
		RunStatus:      models.RunPending,
		Author:         author,
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	logger := d.logger.With(zap.Int64("message_id", msg.ID), zap.String("thread_id", thread.RemoteID))

	if err := mirrorMessage(ctx, d.api, d.store, thread, msg); err != nil {
		logger.Error("Failed to mirror message", zap.Error(err))
		d.fail(ctx, thread, msg)
		return msg, err
	}
	d.notifier.Processing(ctx, thread, msg.ID)

	switch d.strategy {
	case StrategyStreaming:
		if err := d.jobs.Schedule(ctx, queue.Job{Kind: queue.KindStreamRun, MessageID: msg.ID}, 0); err != nil {
			d.fail(ctx, thread, msg)
			return msg, fmt.Errorf("schedule stream: %w", err)
		}
	case StrategyPolling:
		r, err := d.api.CreateRun(ctx, thread.RemoteID, openai.RunRequest{AssistantID: assistant.RemoteID})
		if err != nil {
			logger.Error("Failed to create run", zap.Error(err))
			d.fail(ctx, thread, msg)
			return msg, fmt.Errorf("create run: %w", err)
		}
		msg.RemoteRunID = r.ID
		if err := d.store.UpdateMessage(ctx, msg); err != nil {
			return msg, fmt.Errorf("save run id: %w", err)
		}
		if err := d.jobs.Schedule(ctx, queue.Job{Kind: queue.KindCheckRun, MessageID: msg.ID}, 0); err != nil {
			d.fail(ctx, thread, msg)
			return msg, fmt.Errorf("schedule check: %w", err)
		}
		logger.Info("Run created", zap.String("run_id", r.ID))
	}
	return msg, nil
}

func (d *Dispatcher) fail(ctx context.Context, thread *models.Thread, msg *models.Message) {
	msg.RunStatus = models.RunFailed
	if err := d.store.UpdateMessage(context.WithoutCancel(ctx), msg); err != nil {
		d.logger.Error("Failed to save message status", zap.Error(err), zap.Int64("message_id", msg.ID))
	}
	d.notifier.Failed(ctx, thread, msg.ID, string(msg.RunStatus))
}
