// Package notify publishes run progress to front-end observers.
package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/models"
)

const (
	channelPrefix = "ai_assistant_update."
	stepProcessed = "processed_ai"
)

// Publisher delivers a payload on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// Payload is the wire shape observers receive.
type Payload struct {
	Steps     map[string]models.CheckmarkStatus `json:"steps"`
	Completed bool                              `json:"completed"`
	MessageID int64                             `json:"message_id"`
	Content   string                            `json:"content,omitempty"`
	Error     string                            `json:"error,omitempty"`
}

// Channel returns the channel key observers of a thread subscribe to.
func Channel(threadUUID string) string {
	return channelPrefix + threadUUID
}

// Notifier maps run lifecycle transitions to published status payloads.
// Publishing is best effort: failures are logged and never fail the run.
type Notifier struct {
	pub    Publisher
	logger *zap.Logger
}

func NewNotifier(pub Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{pub: pub, logger: logger.Named("notify")}
}

func (n *Notifier) Processing(ctx context.Context, thread *models.Thread, messageID int64) {
	n.publish(ctx, thread, Payload{
		Steps:     map[string]models.CheckmarkStatus{stepProcessed: models.CheckmarkProcessing},
		MessageID: messageID,
	})
}

// Partial carries one streamed chunk, never the accumulated text.
func (n *Notifier) Partial(ctx context.Context, thread *models.Thread, messageID int64, chunk string) {
	n.publish(ctx, thread, Payload{
		Steps:     map[string]models.CheckmarkStatus{stepProcessed: models.CheckmarkProcessing},
		MessageID: messageID,
		Content:   chunk,
	})
}

func (n *Notifier) Success(ctx context.Context, thread *models.Thread, messageID int64, content string) {
	n.publish(ctx, thread, Payload{
		Steps:     map[string]models.CheckmarkStatus{stepProcessed: models.CheckmarkSuccess},
		Completed: true,
		MessageID: messageID,
		Content:   content,
	})
}

func (n *Notifier) Failed(ctx context.Context, thread *models.Thread, messageID int64, reason string) {
	n.publish(ctx, thread, Payload{
		Steps:     map[string]models.CheckmarkStatus{stepProcessed: models.CheckmarkFailed},
		Completed: true,
		MessageID: messageID,
		Error:     reason,
	})
}

func (n *Notifier) publish(ctx context.Context, thread *models.Thread, p Payload) {
	data, err := json.Marshal(p)
	if err != nil {
		n.logger.Error("Failed to encode notification", zap.Error(err), zap.Int64("message_id", p.MessageID))
		return
	}
	channel := Channel(thread.UUID)
	if err := n.pub.Publish(ctx, channel, data); err != nil {
		n.logger.Error("Failed to publish notification",
			zap.Error(err),
			zap.String("channel", channel),
			zap.Int64("message_id", p.MessageID))
	}
}
