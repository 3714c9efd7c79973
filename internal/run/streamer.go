package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/postprocess"
	"github.com/da-sie/openai-assistant/internal/queue"
	"github.com/da-sie/openai-assistant/internal/storage"
)

// ErrStreamInterrupted means the stream ended before the run reached a terminal event.
var ErrStreamInterrupted = errors.New("stream ended before the run finished")

// ChunkFunc receives every text delta, then one final call with completed set.
// err is non-nil only on that final call when the run failed.
type ChunkFunc func(text string, msg *models.Message, completed bool, err error)

type StreamerConfig struct {
	Timeout time.Duration
}

// Streamer consumes a streamed run to completion within one unit of work.
type Streamer struct {
	store    storage.Storage
	api      assistantapi.API
	notifier Notifier
	tools    ToolExecutor
	cfg      StreamerConfig
	logger   *zap.Logger
}

func NewStreamer(store storage.Storage, api assistantapi.API, notifier Notifier, tools ToolExecutor, cfg StreamerConfig, logger *zap.Logger) *Streamer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if tools == nil {
		tools = PlaceholderExecutor{}
	}
	return &Streamer{
		store:    store,
		api:      api,
		notifier: notifier,
		tools:    tools,
		cfg:      cfg,
		logger:   logger.Named("streamer"),
	}
}

// HandleJob is the queue handler for stream_run jobs.
func (s *Streamer) HandleJob(ctx context.Context, job queue.Job) error {
	msg, err := s.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		return fmt.Errorf("get message %d: %w", job.MessageID, err)
	}
	thread, err := s.store.GetThread(ctx, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("get thread %d: %w", msg.ThreadID, err)
	}
	return s.RunWithStreaming(ctx, thread, msg, nil)
}

// RunWithStreaming opens a streamed run for msg and consumes it. Any error while
// consuming marks the message failed and is returned to the caller.
func (s *Streamer) RunWithStreaming(ctx context.Context, thread *models.Thread, msg *models.Message, onChunk ChunkFunc) error {
	if msg.RunStatus.IsTerminal() {
		s.logger.Debug("Message already terminal", zap.Int64("message_id", msg.ID))
		return nil
	}
	if !thread.Provisioned() {
		return fmt.Errorf("thread %d: %w", thread.ID, models.ErrNotProvisioned)
	}
	assistant, err := s.store.GetAssistant(ctx, thread.AssistantID)
	if err != nil {
		return fmt.Errorf("get assistant: %w", err)
	}
	if !assistant.Provisioned() {
		return fmt.Errorf("assistant %d: %w", assistant.ID, models.ErrNotProvisioned)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	c := &consumer{
		Streamer: s,
		thread:   thread,
		msg:      msg,
		onChunk:  onChunk,
		logger:   s.logger.With(zap.Int64("message_id", msg.ID), zap.String("thread_id", thread.RemoteID)),
	}

	if msg.RemoteMessageID == "" {
		if err := mirrorMessage(ctx, s.api, s.store, thread, msg); err != nil {
			return c.fail(ctx, err)
		}
	}

	stream, err := s.api.StreamRun(ctx, thread.RemoteID, assistantapi.StreamRunRequest{AssistantID: assistant.RemoteID})
	if err != nil {
		c.logger.Error("Failed to open stream", zap.Error(err))
		return c.fail(ctx, fmt.Errorf("open stream: %w", err))
	}
	return c.consume(ctx, newCursor(stream))
}

// consumer holds the state of one streamed run.
type consumer struct {
	*Streamer
	thread  *models.Thread
	msg     *models.Message
	onChunk ChunkFunc
	logger  *zap.Logger

	text     strings.Builder
	terminal bool
}

func (c *consumer) consume(ctx context.Context, cur *cursor) error {
	defer cur.Close()

	for cur.Next() {
		ev := cur.Current()
		done, err := c.handle(ctx, cur, ev)
		if err != nil {
			return c.fail(ctx, err)
		}
		if done {
			return nil
		}
	}
	if err := cur.Err(); err != nil {
		c.logger.Error("Stream failed", zap.Error(err))
		return c.fail(ctx, err)
	}
	return c.fail(ctx, ErrStreamInterrupted)
}

// handle applies one event. done reports that the run reached a terminal event.
func (c *consumer) handle(ctx context.Context, cur *cursor, ev assistantapi.Event) (bool, error) {
	switch ev.Kind {
	case assistantapi.EventRunCreated:
		c.msg.RemoteRunID = ev.RunID
		if err := c.setStatus(ctx, models.RunQueued); err != nil {
			return false, err
		}
		c.notifier.Processing(ctx, c.thread, c.msg.ID)

	case assistantapi.EventRunQueued:
		return false, c.setStatus(ctx, models.RunQueued)

	case assistantapi.EventRunInProgress:
		return false, c.setStatus(ctx, models.RunInProgress)

	case assistantapi.EventRunRequiresAction:
		if err := c.setStatus(ctx, models.RunRequiresAction); err != nil {
			return false, err
		}
		outputs, err := toolOutputs(ctx, c.tools, ev.ToolCalls)
		if err != nil {
			return false, err
		}
		next, err := c.api.SubmitToolOutputsStream(ctx, c.thread.RemoteID, ev.RunID, outputs)
		if err != nil {
			return false, fmt.Errorf("submit tool outputs: %w", err)
		}
		cur.Redirect(next)

	case assistantapi.EventMessageDelta:
		if ev.Delta == "" {
			return false, nil
		}
		c.text.WriteString(ev.Delta)
		if c.onChunk != nil {
			c.onChunk(ev.Delta, c.msg, false, nil)
		}
		c.notifier.Partial(ctx, c.thread, c.msg.ID, ev.Delta)

	case assistantapi.EventMessageCompleted:
		return false, c.saveResponse(ctx, ev.Text)

	case assistantapi.EventRunCompleted:
		if c.msg.RunStatus != models.RunCompleted {
			if err := c.saveResponse(ctx, ""); err != nil {
				return false, err
			}
		}
		c.succeed(ctx)
		return true, nil

	case assistantapi.EventRunFailed, assistantapi.EventRunCancelled,
		assistantapi.EventRunExpired, assistantapi.EventRunIncomplete:
		status := terminalStatus(ev.Kind)
		c.logger.Warn("Run ended without completing", zap.String("status", string(status)), zap.String("reason", ev.Error))
		if err := c.setStatus(ctx, status); err != nil {
			return false, err
		}
		c.publishFailure(ctx, status, fmt.Errorf("%w: %s", ErrRunFailed, status))
		return true, nil

	case assistantapi.EventError:
		return false, fmt.Errorf("stream error: %s", ev.Error)

	case assistantapi.EventRedirect:
		c.logger.Debug("Continuing on tool output stream")

	case assistantapi.EventMessageCreated, assistantapi.EventMessageInProgress, assistantapi.EventUnknown:
		c.logger.Debug("Ignoring event", zap.String("event", ev.Name))
	}
	return false, nil
}

func (c *consumer) saveResponse(ctx context.Context, fallback string) error {
	text := c.text.String()
	if text == "" {
		text = fallback
	}
	c.msg.Response = postprocess.Clean(c.msg.ResponseFormat, text)
	c.msg.RunStatus = models.RunCompleted
	if err := c.store.UpdateMessage(ctx, c.msg); err != nil {
		return fmt.Errorf("save response: %w", err)
	}
	return nil
}

func (c *consumer) setStatus(ctx context.Context, status models.RunStatus) error {
	c.msg.RunStatus = status
	if err := c.store.UpdateMessage(ctx, c.msg); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

func (c *consumer) succeed(ctx context.Context) {
	if c.terminal {
		return
	}
	c.terminal = true
	c.notifier.Success(ctx, c.thread, c.msg.ID, c.msg.Response)
	if c.onChunk != nil {
		c.onChunk("", c.msg, true, nil)
	}
}

func (c *consumer) publishFailure(ctx context.Context, status models.RunStatus, cause error) {
	if c.terminal {
		return
	}
	c.terminal = true
	c.notifier.Failed(context.WithoutCancel(ctx), c.thread, c.msg.ID, string(status))
	if c.onChunk != nil {
		c.onChunk("", c.msg, true, cause)
	}
}

// fail marks the message failed, publishes once and returns cause.
func (c *consumer) fail(ctx context.Context, cause error) error {
	c.msg.RunStatus = models.RunFailed
	c.msg.Response = ""
	if err := c.store.UpdateMessage(context.WithoutCancel(ctx), c.msg); err != nil {
		c.logger.Error("Failed to save message status", zap.Error(err))
	}
	c.publishFailure(ctx, models.RunFailed, cause)
	return cause
}

func terminalStatus(k assistantapi.EventKind) models.RunStatus {
	switch k {
	case assistantapi.EventRunCancelled:
		return models.RunCancelled
	case assistantapi.EventRunExpired:
		return models.RunExpired
	case assistantapi.EventRunIncomplete:
		return models.RunIncomplete
	default:
		return models.RunFailed
	}
}
