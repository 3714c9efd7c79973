package storage

import (
	"context"
	"errors"
	"time"

	"github.com/da-sie/openai-assistant/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Storage persists assistants, threads, messages and files. Updates are silent:
// they never call the remote API.
type Storage interface {
	AssistantStorage
	ThreadStorage
	MessageStorage
	FileStorage
	Close() error
}

type AssistantStorage interface {
	CreateAssistant(ctx context.Context, a *models.Assistant) error
	GetAssistant(ctx context.Context, id int64) (*models.Assistant, error)
	UpdateAssistant(ctx context.Context, a *models.Assistant) error
	DeleteAssistant(ctx context.Context, id int64) error
	ListAssistants(ctx context.Context) ([]*models.Assistant, error)
	ListAssistantsCreatedBefore(ctx context.Context, t time.Time) ([]*models.Assistant, error)
	ListAssistantsWithoutThreads(ctx context.Context) ([]*models.Assistant, error)
}

type ThreadStorage interface {
	CreateThread(ctx context.Context, t *models.Thread) error
	GetThread(ctx context.Context, id int64) (*models.Thread, error)
	GetThreadByUUID(ctx context.Context, uuid string) (*models.Thread, error)
	UpdateThread(ctx context.Context, t *models.Thread) error
	// DeleteThread removes the thread with its messages and files.
	DeleteThread(ctx context.Context, id int64) error
	ListThreadsByAssistant(ctx context.Context, assistantID int64) ([]*models.Thread, error)
	GetSystemThread(ctx context.Context, assistantID int64) (*models.Thread, error)
}

type MessageStorage interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	UpdateMessage(ctx context.Context, m *models.Message) error
	ListMessagesByThread(ctx context.Context, threadID int64) ([]*models.Message, error)
}

type FileStorage interface {
	CreateFile(ctx context.Context, f *models.File) error
	GetFile(ctx context.Context, id int64) (*models.File, error)
	GetFileByRemoteID(ctx context.Context, remoteID string) (*models.File, error)
	DeleteFile(ctx context.Context, id int64) error
	ListFilesByThread(ctx context.Context, threadID int64) ([]*models.File, error)
	ListFilesByAssistant(ctx context.Context, assistantID int64) ([]*models.File, error)
}
