// Package assistant keeps local assistants and threads in step with their remote counterparts.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/storage"
)

// ErrNotProvisioned is returned for assistants or threads without a remote id.
var ErrNotProvisioned = models.ErrNotProvisioned

var ErrValidation = errors.New("validation failed")

const (
	DefaultEngine         = "gpt-3.5-turbo-0125"
	DefaultInitialMessage = "Give me detailed answers to my questions, don't change the subject."
)

type Config struct {
	Engine          string
	InitialMessage  string
	MaxAssistantAge time.Duration
}

// ThreadRunner runs one message to completion.
type ThreadRunner interface {
	Run(ctx context.Context, thread *models.Thread, msg *models.Message) (*models.Message, error)
}

type Service struct {
	store  storage.Storage
	api    assistantapi.API
	runner ThreadRunner
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

func NewService(store storage.Storage, api assistantapi.API, runner ThreadRunner, cfg Config, logger *zap.Logger) *Service {
	if cfg.Engine == "" {
		cfg.Engine = DefaultEngine
	}
	if cfg.InitialMessage == "" {
		cfg.InitialMessage = DefaultInitialMessage
	}
	if cfg.MaxAssistantAge <= 0 {
		cfg.MaxAssistantAge = 6 * time.Hour
	}
	return &Service{store: store, api: api, runner: runner, cfg: cfg, now: time.Now, logger: logger.Named("assistant")}
}

// AssistantInput is the editable part of an assistant.
type AssistantInput struct {
	Name         string            `validate:"required,max=256"`
	Instructions string            `validate:"max=256000"`
	Model        string            `validate:"omitempty,max=64"`
	Tools        []models.ToolType `validate:"dive,oneof=file_search code_interpreter"`
	Owner        *models.Owner
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validateInput(in any) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// CreateAssistant provisions the assistant remotely and stores it only when that worked.
func (s *Service) CreateAssistant(ctx context.Context, in AssistantInput) (*models.Assistant, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	a := &models.Assistant{
		Name:         in.Name,
		Instructions: in.Instructions,
		Model:        in.Model,
		Owner:        in.Owner,
	}
	if a.Model == "" {
		a.Model = s.cfg.Engine
	}
	for _, t := range in.Tools {
		a.Tools = append(a.Tools, models.Tool{Type: t})
	}

	remote, err := s.api.CreateAssistant(ctx, s.assistantRequest(a))
	if err != nil {
		s.logger.Error("Failed to create remote assistant", zap.Error(err), zap.String("name", a.Name))
		return nil, fmt.Errorf("create remote assistant: %w", err)
	}
	a.RemoteID = remote.ID

	if err := s.store.CreateAssistant(ctx, a); err != nil {
		if derr := assistantapi.IgnoreNotFound(s.api.DeleteAssistant(context.WithoutCancel(ctx), remote.ID)); derr != nil {
			s.logger.Warn("Failed to roll back remote assistant", zap.Error(derr), zap.String("assistant_id", remote.ID))
		}
		return nil, fmt.Errorf("save assistant: %w", err)
	}
	s.logger.Info("Assistant created", zap.Int64("id", a.ID), zap.String("assistant_id", a.RemoteID))
	return a, nil
}

// UpdateAssistant pushes the new settings remotely, then saves them locally.
// Vector stores already linked to file_search are kept.
func (s *Service) UpdateAssistant(ctx context.Context, id int64, in AssistantInput) (*models.Assistant, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	a, err := s.store.GetAssistant(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get assistant: %w", err)
	}
	if !a.Provisioned() {
		return nil, fmt.Errorf("assistant %d: %w", a.ID, ErrNotProvisioned)
	}

	linked := map[models.ToolType][]string{}
	for _, t := range a.Tools {
		linked[t.Type] = t.VectorStoreIDs
	}
	a.Name = in.Name
	a.Instructions = in.Instructions
	if in.Model != "" {
		a.Model = in.Model
	}
	a.Tools = a.Tools[:0]
	for _, t := range in.Tools {
		a.Tools = append(a.Tools, models.Tool{Type: t, VectorStoreIDs: linked[t]})
	}

	if _, err := s.api.ModifyAssistant(ctx, a.RemoteID, s.assistantRequest(a)); err != nil {
		s.logger.Error("Failed to update remote assistant", zap.Error(err), zap.String("assistant_id", a.RemoteID))
		return nil, fmt.Errorf("modify remote assistant: %w", err)
	}
	if err := s.store.UpdateAssistant(ctx, a); err != nil {
		return nil, fmt.Errorf("save assistant: %w", err)
	}
	return a, nil
}

// DeleteAssistant removes the remote assistant and, best effort, its vector store and
// threads, then deletes everything local that belongs to it.
func (s *Service) DeleteAssistant(ctx context.Context, id int64) error {
	a, err := s.store.GetAssistant(ctx, id)
	if err != nil {
		return fmt.Errorf("get assistant: %w", err)
	}
	logger := s.logger.With(zap.Int64("id", a.ID), zap.String("assistant_id", a.RemoteID))

	if a.Provisioned() {
		if err := assistantapi.IgnoreNotFound(s.api.DeleteAssistant(ctx, a.RemoteID)); err != nil {
			logger.Warn("Failed to delete remote assistant", zap.Error(err))
		}
	}
	if a.VectorStoreID != "" {
		if err := assistantapi.IgnoreNotFound(s.api.DeleteVectorStore(ctx, a.VectorStoreID)); err != nil {
			logger.Warn("Failed to delete vector store", zap.Error(err), zap.String("vector_store_id", a.VectorStoreID))
		}
	}

	threads, err := s.store.ListThreadsByAssistant(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}
	for _, t := range threads {
		s.deleteRemoteThread(ctx, t)
	}

	if err := s.store.DeleteAssistant(ctx, a.ID); err != nil {
		return fmt.Errorf("delete assistant: %w", err)
	}
	logger.Info("Assistant deleted")
	return nil
}

// CreateThread opens a remote thread for a provisioned assistant. seed posts the
// configured initial message as the first user message.
func (s *Service) CreateThread(ctx context.Context, assistantID int64, owner *models.Owner, metadata map[string]any, seed bool) (*models.Thread, error) {
	a, err := s.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, fmt.Errorf("get assistant: %w", err)
	}
	if !a.Provisioned() {
		return nil, fmt.Errorf("assistant %d: %w", a.ID, ErrNotProvisioned)
	}

	req := openai.ThreadRequest{Metadata: metadata}
	if seed {
		req.Messages = []openai.ThreadMessage{{Role: openai.ThreadMessageRoleUser, Content: s.cfg.InitialMessage}}
	}
	remote, err := s.api.CreateThread(ctx, req)
	if err != nil {
		s.logger.Error("Failed to create remote thread", zap.Error(err), zap.String("assistant_id", a.RemoteID))
		return nil, fmt.Errorf("create remote thread: %w", err)
	}

	t := &models.Thread{
		UUID:        uuid.NewString(),
		AssistantID: a.ID,
		RemoteID:    remote.ID,
		Owner:       owner,
		Metadata:    metadata,
		Status:      models.ThreadCreated,
	}
	if err := s.store.CreateThread(ctx, t); err != nil {
		s.deleteRemoteThread(context.WithoutCancel(ctx), t)
		return nil, fmt.Errorf("save thread: %w", err)
	}
	return t, nil
}

// DeleteThread deletes the remote thread best effort and the local one with its
// messages and files.
func (s *Service) DeleteThread(ctx context.Context, id int64) error {
	t, err := s.store.GetThread(ctx, id)
	if err != nil {
		return fmt.Errorf("get thread: %w", err)
	}
	s.deleteRemoteThread(ctx, t)
	if err := s.store.DeleteThread(ctx, t.ID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

func (s *Service) deleteRemoteThread(ctx context.Context, t *models.Thread) {
	if !t.Provisioned() {
		return
	}
	if err := assistantapi.IgnoreNotFound(s.api.DeleteThread(ctx, t.RemoteID)); err != nil {
		s.logger.Warn("Failed to delete remote thread", zap.Error(err), zap.String("thread_id", t.RemoteID))
	}
}

func (s *Service) assistantRequest(a *models.Assistant) openai.AssistantRequest {
	tools, resources := assistantapi.ToolsRequest(a.Tools)
	name, instructions := a.Name, a.Instructions
	return openai.AssistantRequest{
		Model:         a.Model,
		Name:          &name,
		Instructions:  &instructions,
		Tools:         tools,
		ToolResources: resources,
	}
}
