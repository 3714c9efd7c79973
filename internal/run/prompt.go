// Package run drives remote runs from message submission to a terminal state.
package run

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/storage"
)

// Notifier publishes run progress for a thread.
type Notifier interface {
	Processing(ctx context.Context, thread *models.Thread, messageID int64)
	Partial(ctx context.Context, thread *models.Thread, messageID int64, chunk string)
	Success(ctx context.Context, thread *models.Thread, messageID int64, content string)
	Failed(ctx context.Context, thread *models.Thread, messageID int64, reason string)
}

// BuildPrompt appends the format directive, and the grounding directive when the
// thread has documents attached.
func BuildPrompt(prompt string, format models.ResponseFormat, hasFiles bool) string {
	parts := []string{prompt, format.Instruction()}
	if hasFiles {
		parts = append(parts, models.FilesInstruction)
	}
	return strings.Join(parts, "\n\n")
}

// mirrorMessage posts a local message to its remote thread and records the remote id.
func mirrorMessage(ctx context.Context, api assistantapi.API, store storage.Storage, thread *models.Thread, msg *models.Message) error {
	files, err := store.ListFilesByThread(ctx, thread.ID)
	if err != nil {
		return fmt.Errorf("list thread files: %w", err)
	}

	remote, err := api.CreateMessage(ctx, thread.RemoteID, openai.MessageRequest{
		Role:        openai.ChatMessageRoleUser,
		Content:     BuildPrompt(msg.Prompt, msg.ResponseFormat, len(files) > 0 || len(msg.FileIDs) > 0),
		Attachments: attachments(msg.FileIDs),
	})
	if err != nil {
		return fmt.Errorf("create remote message: %w", err)
	}

	msg.RemoteMessageID = remote.ID
	msg.RunStatus = models.RunPending
	if err := store.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// attachments exposes uploaded files to file_search for one message.
func attachments(fileIDs []string) []openai.ThreadAttachment {
	if len(fileIDs) == 0 {
		return nil
	}
	out := make([]openai.ThreadAttachment, 0, len(fileIDs))
	for _, id := range fileIDs {
		out = append(out, openai.ThreadAttachment{
			FileID: id,
			Tools:  []openai.ThreadAttachmentTool{{Type: string(models.ToolFileSearch)}},
		})
	}
	return out
}

// latestAssistantText returns the newest assistant message text on a thread.
func latestAssistantText(ctx context.Context, api assistantapi.API, threadID string) (string, bool, error) {
	msgs, err := api.ListMessages(ctx, threadID, assistantapi.ListOptions{Limit: 10, Order: "desc"})
	if err != nil {
		return "", false, err
	}
	for _, m := range msgs {
		if m.Role == openai.ChatMessageRoleAssistant {
			return assistantapi.MessageText(m), true, nil
		}
	}
	return "", false, nil
}
