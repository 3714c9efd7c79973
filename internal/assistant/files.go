package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
)

var ErrFileNotInThread = errors.New("file does not belong to thread")

// AttachPrompt is posted with a file attached to a thread.
const AttachPrompt = "Use the attached file as context for the rest of this conversation."

// AddFile uploads a document and records it against the thread.
func (s *Service) AddFile(ctx context.Context, threadID int64, path string) (*models.File, error) {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	remote, err := s.api.UploadFile(ctx, path)
	if err != nil {
		s.logger.Error("Failed to upload file", zap.Error(err), zap.String("path", path))
		return nil, fmt.Errorf("upload file: %w", err)
	}
	f := &models.File{
		RemoteFileID: remote.ID,
		AssistantID:  t.AssistantID,
		ThreadID:     t.ID,
		Name:         filepath.Base(path),
	}
	if err := s.store.CreateFile(ctx, f); err != nil {
		if derr := assistantapi.IgnoreNotFound(s.api.DeleteFile(context.WithoutCancel(ctx), remote.ID)); derr != nil {
			s.logger.Warn("Failed to roll back upload", zap.Error(derr), zap.String("file_id", remote.ID))
		}
		return nil, fmt.Errorf("save file: %w", err)
	}
	return f, nil
}

func (s *Service) Files(ctx context.Context, threadID int64) ([]*models.File, error) {
	return s.store.ListFilesByThread(ctx, threadID)
}

// RemoveFile deletes a thread file remotely and locally. A remote failure other
// than 404 keeps the local record.
func (s *Service) RemoveFile(ctx context.Context, threadID, fileID int64) error {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("get file: %w", err)
	}
	if f.ThreadID != threadID {
		return ErrFileNotInThread
	}
	if err := assistantapi.IgnoreNotFound(s.api.DeleteFile(ctx, f.RemoteFileID)); err != nil {
		s.logger.Error("Failed to delete remote file", zap.Error(err), zap.String("file_id", f.RemoteFileID))
		return fmt.Errorf("delete remote file: %w", err)
	}
	return s.store.DeleteFile(ctx, f.ID)
}

// AttachFileToThread posts a message carrying the file for file_search and runs it
// synchronously.
func (s *Service) AttachFileToThread(ctx context.Context, threadID int64, remoteFileID string) (*models.Message, error) {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	if !t.Provisioned() {
		return nil, fmt.Errorf("thread %d: %w", t.ID, ErrNotProvisioned)
	}

	msg := &models.Message{
		ThreadID:       t.ID,
		AssistantID:    t.AssistantID,
		Role:           openai.ChatMessageRoleUser,
		Prompt:         AttachPrompt,
		ResponseFormat: models.FormatText,
		RunStatus:      models.RunPending,
		FileIDs:        []string{remoteFileID},
		Author:         &models.Owner{Kind: models.OwnerSystem, ID: "attach"},
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return s.runner.Run(ctx, t, msg)
}

// FileDetails describes a remote file.
type FileDetails struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Purpose   string `json:"purpose"`
	CreatedAt int64  `json:"created_at"`
	Bytes     int    `json:"bytes"`
	Status    string `json:"status"`
}

// FileDetails returns nil when the remote lookup fails.
func (s *Service) FileDetails(ctx context.Context, remoteFileID string) *FileDetails {
	f, err := s.api.GetFile(ctx, remoteFileID)
	if err != nil {
		s.logger.Warn("Failed to get file", zap.Error(err), zap.String("file_id", remoteFileID))
		return nil
	}
	return &FileDetails{
		ID:        f.ID,
		Name:      f.FileName,
		Purpose:   f.Purpose,
		CreatedAt: f.CreatedAt,
		Bytes:     f.Bytes,
		Status:    f.Status,
	}
}

// DeleteRemoteFile reports whether the file is gone remotely.
func (s *Service) DeleteRemoteFile(ctx context.Context, remoteFileID string) bool {
	if err := assistantapi.IgnoreNotFound(s.api.DeleteFile(ctx, remoteFileID)); err != nil {
		s.logger.Warn("Failed to delete file", zap.Error(err), zap.String("file_id", remoteFileID))
		return false
	}
	return true
}
