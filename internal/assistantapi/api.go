// Package assistantapi is the remote Assistants API client used by every component.
// CRUD calls go through go-openai; streamed runs go through openai-go, which is the
// only one of the two SDKs with assistant run streaming.
package assistantapi

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// PurposeAssistants is the upload purpose for knowledge documents.
const PurposeAssistants = string(openai.PurposeAssistants)

// ListOptions narrows list calls. Zero values mean API defaults.
type ListOptions struct {
	Limit int
	Order string
	After string
}

// StreamRunRequest starts a streamed run.
type StreamRunRequest struct {
	AssistantID            string
	Instructions           string
	AdditionalInstructions string
}

// API is the set of remote calls the orchestrator consumes.
type API interface {
	CreateAssistant(ctx context.Context, req openai.AssistantRequest) (openai.Assistant, error)
	RetrieveAssistant(ctx context.Context, id string) (openai.Assistant, error)
	ModifyAssistant(ctx context.Context, id string, req openai.AssistantRequest) (openai.Assistant, error)
	DeleteAssistant(ctx context.Context, id string) error
	ListAssistants(ctx context.Context) ([]openai.Assistant, error)

	CreateThread(ctx context.Context, req openai.ThreadRequest) (openai.Thread, error)
	DeleteThread(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, threadID string, req openai.MessageRequest) (openai.Message, error)
	ListMessages(ctx context.Context, threadID string, opts ListOptions) ([]openai.Message, error)

	CreateRun(ctx context.Context, threadID string, req openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error)
	ListRuns(ctx context.Context, threadID string, opts ListOptions) ([]openai.Run, error)
	ListRunSteps(ctx context.Context, threadID, runID string, opts ListOptions) ([]openai.RunStep, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (openai.Run, error)

	UploadFile(ctx context.Context, path string) (openai.File, error)
	GetFile(ctx context.Context, id string) (openai.File, error)
	DeleteFile(ctx context.Context, id string) error

	CreateVectorStore(ctx context.Context, req openai.VectorStoreRequest) (openai.VectorStore, error)
	RetrieveVectorStore(ctx context.Context, id string) (openai.VectorStore, error)
	DeleteVectorStore(ctx context.Context, id string) error
	ListVectorStores(ctx context.Context) ([]openai.VectorStore, error)
	AddVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error
	RemoveVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error

	StreamRun(ctx context.Context, threadID string, req StreamRunRequest) (EventStream, error)
	SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (EventStream, error)
}

// MessageText concatenates the text parts of a message.
func MessageText(m openai.Message) string {
	var text string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			text += c.Text.Value
		}
	}
	return text
}
