// Package search answers one-off questions against an assistant's vector store.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/run"
	"github.com/da-sie/openai-assistant/internal/storage"
)

var ErrNoVectorStore = errors.New("assistant has no vector store")

// RunWaiter blocks until a run is terminal or the attempts run out.
type RunWaiter interface {
	WaitForRun(ctx context.Context, threadID, runID string, opts run.WaitOptions) (openai.Run, error)
}

type Config struct {
	MaxAttempts int
	Interval    time.Duration
}

// Result is the raw message list of the query thread. Callers extract what they need.
type Result struct {
	Query         string           `json:"query"`
	VectorStoreID string           `json:"vector_store_id"`
	Results       []openai.Message `json:"results"`
}

type Searcher struct {
	store  storage.AssistantStorage
	api    assistantapi.API
	waiter RunWaiter
	cfg    Config
	logger *zap.Logger
}

func NewSearcher(store storage.AssistantStorage, api assistantapi.API, waiter RunWaiter, cfg Config, logger *zap.Logger) *Searcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 15
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Searcher{store: store, api: api, waiter: waiter, cfg: cfg, logger: logger.Named("search")}
}

// SearchVectorStore runs query on a throwaway thread bound to the vector store.
// vectorStoreID defaults to the assistant's own store. A run that does not complete
// within the attempt cap yields a nil result and no error.
func (s *Searcher) SearchVectorStore(ctx context.Context, assistantID int64, query string, limit int, vectorStoreID string) (*Result, error) {
	assistant, err := s.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, fmt.Errorf("get assistant: %w", err)
	}
	if !assistant.Provisioned() {
		return nil, fmt.Errorf("assistant %d: %w", assistant.ID, models.ErrNotProvisioned)
	}
	if vectorStoreID == "" {
		vectorStoreID = assistant.VectorStoreID
	}
	if vectorStoreID == "" {
		return nil, ErrNoVectorStore
	}
	if limit <= 0 {
		limit = 5
	}

	logger := s.logger.With(zap.Int64("assistant_id", assistant.ID), zap.String("vector_store_id", vectorStoreID))

	thread, err := s.api.CreateThread(ctx, openai.ThreadRequest{
		ToolResources: &openai.ToolResourcesRequest{
			FileSearch: &openai.FileSearchToolResourcesRequest{VectorStoreIDs: []string{vectorStoreID}},
		},
		Metadata: map[string]any{"purpose": "vector_store_search"},
	})
	if err != nil {
		return nil, fmt.Errorf("create search thread: %w", err)
	}
	defer func() {
		if err := assistantapi.IgnoreNotFound(s.api.DeleteThread(context.WithoutCancel(ctx), thread.ID)); err != nil {
			logger.Warn("Failed to delete search thread", zap.Error(err), zap.String("thread_id", thread.ID))
		}
	}()

	if _, err := s.api.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: searchPrompt(query, limit),
	}); err != nil {
		return nil, fmt.Errorf("post query: %w", err)
	}

	r, err := s.api.CreateRun(ctx, thread.ID, openai.RunRequest{AssistantID: assistant.RemoteID})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	r, err = s.waiter.WaitForRun(ctx, thread.ID, r.ID, run.WaitOptions{Interval: s.cfg.Interval, MaxAttempts: s.cfg.MaxAttempts})
	if errors.Is(err, run.ErrWaitExhausted) {
		logger.Warn("Search timed out", zap.Int("attempts", s.cfg.MaxAttempts))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wait for run: %w", err)
	}
	if r.Status != openai.RunStatusCompleted {
		logger.Warn("Search run did not complete", zap.String("status", string(r.Status)))
		return nil, nil
	}

	msgs, err := s.api.ListMessages(ctx, thread.ID, assistantapi.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &Result{Query: query, VectorStoreID: vectorStoreID, Results: msgs}, nil
}

func searchPrompt(query string, limit int) string {
	return fmt.Sprintf(
		"Search the attached documents and answer strictly from them. Return at most %d relevant passages. "+
			"If the documents do not contain the answer, say so.\n\nQuery: %s", limit, query)
}
