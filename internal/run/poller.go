package run

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/postprocess"
	"github.com/da-sie/openai-assistant/internal/queue"
	"github.com/da-sie/openai-assistant/internal/storage"
)

// MinRecheckDelay is the floor between two checks of the same run.
const MinRecheckDelay = 2 * time.Second

type PollerConfig struct {
	RecheckDelay time.Duration
	StepPageSize int
}

// Poller advances one message per check. It never blocks for the run's duration:
// an unfinished run schedules another check and returns.
type Poller struct {
	store    storage.Storage
	api      assistantapi.API
	jobs     queue.Scheduler
	notifier Notifier
	tools    ToolExecutor
	cfg      PollerConfig
	logger   *zap.Logger
}

func NewPoller(store storage.Storage, api assistantapi.API, jobs queue.Scheduler, notifier Notifier, tools ToolExecutor, cfg PollerConfig, logger *zap.Logger) *Poller {
	if cfg.RecheckDelay < MinRecheckDelay {
		cfg.RecheckDelay = MinRecheckDelay
	}
	if cfg.StepPageSize <= 0 {
		cfg.StepPageSize = 10
	}
	if tools == nil {
		tools = PlaceholderExecutor{}
	}
	return &Poller{
		store:    store,
		api:      api,
		jobs:     jobs,
		notifier: notifier,
		tools:    tools,
		cfg:      cfg,
		logger:   logger.Named("poller"),
	}
}

// HandleJob is the queue handler for check_run jobs.
func (p *Poller) HandleJob(ctx context.Context, job queue.Job) error {
	return p.Check(ctx, job.MessageID)
}

// Check inspects the run behind a message once. Terminal messages are left alone.
func (p *Poller) Check(ctx context.Context, messageID int64) error {
	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message %d: %w", messageID, err)
	}
	if msg.RunStatus.IsTerminal() {
		p.logger.Debug("Message already terminal", zap.Int64("message_id", msg.ID), zap.String("status", string(msg.RunStatus)))
		return nil
	}
	thread, err := p.store.GetThread(ctx, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("get thread %d: %w", msg.ThreadID, err)
	}

	logger := p.logger.With(
		zap.Int64("message_id", msg.ID),
		zap.String("thread_id", thread.RemoteID),
		zap.String("run_id", msg.RemoteRunID))

	if msg.RemoteRunID == "" {
		logger.Error("Message has no run")
		p.finish(ctx, thread, msg, models.RunFailed)
		return nil
	}

	steps, err := p.api.ListRunSteps(ctx, thread.RemoteID, msg.RemoteRunID, assistantapi.ListOptions{Limit: p.cfg.StepPageSize})
	if err != nil {
		logger.Error("Failed to list run steps", zap.Error(err))
		p.finish(ctx, thread, msg, models.RunFailed)
		return fmt.Errorf("list run steps: %w", err)
	}
	if len(steps) == 0 {
		return p.recheck(ctx, msg)
	}

	switch steps[0].Status {
	case openai.RunStepStatusCompleted:
		return p.complete(ctx, thread, msg, logger)
	case openai.RunStepStatusInProgress:
		if err := p.answerToolCalls(ctx, thread, msg, logger); err != nil {
			p.finish(ctx, thread, msg, models.RunFailed)
			return err
		}
		return p.recheck(ctx, msg)
	default:
		logger.Warn("Run step did not complete", zap.String("step_status", string(steps[0].Status)))
		p.finish(ctx, thread, msg, stepFailureStatus(steps[0].Status))
		return nil
	}
}

// answerToolCalls submits tool outputs when the run is waiting on them, and
// records in_progress or requires_action on the message.
func (p *Poller) answerToolCalls(ctx context.Context, thread *models.Thread, msg *models.Message, logger *zap.Logger) error {
	r, err := p.api.RetrieveRun(ctx, thread.RemoteID, msg.RemoteRunID)
	if err != nil {
		logger.Error("Failed to retrieve run", zap.Error(err))
		return fmt.Errorf("retrieve run: %w", err)
	}

	status := models.RunInProgress
	if r.Status == openai.RunStatusRequiresAction {
		status = models.RunRequiresAction
		outputs, err := toolOutputs(ctx, p.tools, requiredToolCalls(r))
		if err != nil {
			logger.Error("Failed to execute tools", zap.Error(err))
			return err
		}
		if _, err := p.api.SubmitToolOutputs(ctx, thread.RemoteID, r.ID, outputs); err != nil {
			logger.Error("Failed to submit tool outputs", zap.Error(err))
			return fmt.Errorf("submit tool outputs: %w", err)
		}
		logger.Info("Submitted tool outputs", zap.Int("count", len(outputs)))
	}

	if msg.RunStatus != status {
		msg.RunStatus = status
		if err := p.store.UpdateMessage(ctx, msg); err != nil {
			return fmt.Errorf("save status: %w", err)
		}
	}
	return nil
}

func (p *Poller) complete(ctx context.Context, thread *models.Thread, msg *models.Message, logger *zap.Logger) error {
	text, found, err := latestAssistantText(ctx, p.api, thread.RemoteID)
	if err != nil {
		logger.Error("Failed to fetch answer", zap.Error(err))
		p.finish(ctx, thread, msg, models.RunCompletedWithError)
		return fmt.Errorf("list messages: %w", err)
	}
	if !found {
		logger.Warn("Run completed without an answer")
		p.finish(ctx, thread, msg, models.RunCompletedNoResponse)
		return nil
	}

	msg.Response = postprocess.Clean(msg.ResponseFormat, text)
	msg.RunStatus = models.RunCompleted
	if err := p.store.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("save response: %w", err)
	}
	p.notifier.Success(ctx, thread, msg.ID, msg.Response)
	logger.Info("Run completed")
	return nil
}

func (p *Poller) recheck(ctx context.Context, msg *models.Message) error {
	job := queue.Job{Kind: queue.KindCheckRun, MessageID: msg.ID}
	if err := p.jobs.Schedule(ctx, job, p.cfg.RecheckDelay); err != nil {
		return fmt.Errorf("schedule recheck: %w", err)
	}
	return nil
}

// finish persists a terminal failure status and publishes it.
func (p *Poller) finish(ctx context.Context, thread *models.Thread, msg *models.Message, status models.RunStatus) {
	msg.RunStatus = status
	if err := p.store.UpdateMessage(context.WithoutCancel(ctx), msg); err != nil {
		p.logger.Error("Failed to save message status", zap.Error(err), zap.Int64("message_id", msg.ID))
	}
	p.notifier.Failed(ctx, thread, msg.ID, string(status))
}

func stepFailureStatus(s openai.RunStepStatus) models.RunStatus {
	switch models.RunStatus(s) {
	case models.RunCancelled:
		return models.RunCancelled
	case models.RunExpired:
		return models.RunExpired
	default:
		return models.RunFailed
	}
}
