package assistant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/queue"
)

// Cleanup deletes assistants older than the configured maximum age.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	stale, err := s.store.ListAssistantsCreatedBefore(ctx, s.now().Add(-s.cfg.MaxAssistantAge))
	if err != nil {
		return 0, fmt.Errorf("list stale assistants: %w", err)
	}
	return s.deleteAll(ctx, stale), nil
}

// ClearEmpty deletes assistants that have no threads.
func (s *Service) ClearEmpty(ctx context.Context) (int, error) {
	empty, err := s.store.ListAssistantsWithoutThreads(ctx)
	if err != nil {
		return 0, fmt.Errorf("list empty assistants: %w", err)
	}
	return s.deleteAll(ctx, empty), nil
}

func (s *Service) deleteAll(ctx context.Context, assistants []*models.Assistant) int {
	deleted := 0
	for _, a := range assistants {
		if err := s.DeleteAssistant(ctx, a.ID); err != nil {
			s.logger.Warn("Failed to delete assistant", zap.Error(err), zap.Int64("id", a.ID))
			continue
		}
		deleted++
	}
	return deleted
}

// DeleteRemoteAssistants deletes one remote assistant by id, or every remote
// assistant when remoteID is empty. Local records are not touched.
func (s *Service) DeleteRemoteAssistants(ctx context.Context, remoteID string) (int, error) {
	ids := []string{remoteID}
	if remoteID == "" {
		remote, err := s.api.ListAssistants(ctx)
		if err != nil {
			return 0, fmt.Errorf("list remote assistants: %w", err)
		}
		ids = ids[:0]
		for _, a := range remote {
			ids = append(ids, a.ID)
		}
	}

	deleted := 0
	for _, id := range ids {
		if err := assistantapi.IgnoreNotFound(s.api.DeleteAssistant(ctx, id)); err != nil {
			s.logger.Warn("Failed to delete remote assistant", zap.Error(err), zap.String("assistant_id", id))
			continue
		}
		s.logger.Info("Remote assistant deleted", zap.String("assistant_id", id))
		deleted++
	}
	return deleted, nil
}

// RegisterMaintenance routes the maintenance job kinds to the service.
func (s *Service) RegisterMaintenance(w *queue.Worker, timeout time.Duration) {
	w.Handle(queue.KindCleanup, func(ctx context.Context, _ queue.Job) error {
		n, err := s.Cleanup(ctx)
		s.logger.Info("Cleanup finished", zap.Int("deleted", n))
		return err
	}, timeout)
	w.Handle(queue.KindClearEmpty, func(ctx context.Context, _ queue.Job) error {
		n, err := s.ClearEmpty(ctx)
		s.logger.Info("Empty assistants cleared", zap.Int("deleted", n))
		return err
	}, timeout)
	w.Handle(queue.KindDeleteAssistant, func(ctx context.Context, job queue.Job) error {
		_, err := s.DeleteRemoteAssistants(ctx, job.RemoteAssistantID)
		return err
	}, timeout)
}
