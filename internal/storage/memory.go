package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/da-sie/openai-assistant/internal/models"
)

// MemoryStorage keeps everything in maps. Records are copied on the way in and out
// so callers never share state with the store.
type MemoryStorage struct {
	mu         sync.RWMutex
	nextID     int64
	assistants map[int64]*models.Assistant
	threads    map[int64]*models.Thread
	messages   map[int64]*models.Message
	files      map[int64]*models.File
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		assistants: make(map[int64]*models.Assistant),
		threads:    make(map[int64]*models.Thread),
		messages:   make(map[int64]*models.Message),
		files:      make(map[int64]*models.File),
	}
}

func (s *MemoryStorage) id() int64 {
	s.nextID++
	return s.nextID
}

// Assistant methods

func (s *MemoryStorage) CreateAssistant(ctx context.Context, a *models.Assistant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	a.ID = s.id()
	a.CreatedAt, a.UpdatedAt = now, now
	s.assistants[a.ID] = cloneAssistant(a)
	return nil
}

func (s *MemoryStorage) GetAssistant(ctx context.Context, id int64) (*models.Assistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, exists := s.assistants[id]; exists {
		return cloneAssistant(a), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateAssistant(ctx context.Context, a *models.Assistant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assistants[a.ID]; !exists {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	s.assistants[a.ID] = cloneAssistant(a)
	return nil
}

func (s *MemoryStorage) DeleteAssistant(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assistants[id]; !exists {
		return ErrNotFound
	}
	delete(s.assistants, id)
	for tid, t := range s.threads {
		if t.AssistantID == id {
			s.deleteThreadLocked(tid)
		}
	}
	for fid, f := range s.files {
		if f.AssistantID == id {
			delete(s.files, fid)
		}
	}
	return nil
}

func (s *MemoryStorage) ListAssistants(ctx context.Context) ([]*models.Assistant, error) {
	return s.filterAssistants(func(*models.Assistant) bool { return true }), nil
}

func (s *MemoryStorage) ListAssistantsCreatedBefore(ctx context.Context, t time.Time) ([]*models.Assistant, error) {
	return s.filterAssistants(func(a *models.Assistant) bool { return a.CreatedAt.Before(t) }), nil
}

func (s *MemoryStorage) ListAssistantsWithoutThreads(ctx context.Context) ([]*models.Assistant, error) {
	s.mu.RLock()
	used := make(map[int64]bool)
	for _, t := range s.threads {
		used[t.AssistantID] = true
	}
	s.mu.RUnlock()

	return s.filterAssistants(func(a *models.Assistant) bool { return !used[a.ID] }), nil
}

func (s *MemoryStorage) filterAssistants(keep func(*models.Assistant) bool) []*models.Assistant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Assistant
	for _, a := range s.assistants {
		if keep(a) {
			out = append(out, cloneAssistant(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Thread methods

func (s *MemoryStorage) CreateThread(ctx context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assistants[t.AssistantID]; !exists {
		return ErrNotFound
	}
	now := time.Now()
	t.ID = s.id()
	t.CreatedAt, t.UpdatedAt = now, now
	s.threads[t.ID] = cloneThread(t)
	return nil
}

func (s *MemoryStorage) GetThread(ctx context.Context, id int64) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, exists := s.threads[id]; exists {
		return cloneThread(t), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetThreadByUUID(ctx context.Context, uuid string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.threads {
		if t.UUID == uuid {
			return cloneThread(t), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateThread(ctx context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[t.ID]; !exists {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now()
	s.threads[t.ID] = cloneThread(t)
	return nil
}

func (s *MemoryStorage) DeleteThread(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[id]; !exists {
		return ErrNotFound
	}
	s.deleteThreadLocked(id)
	return nil
}

func (s *MemoryStorage) deleteThreadLocked(id int64) {
	delete(s.threads, id)
	for mid, m := range s.messages {
		if m.ThreadID == id {
			delete(s.messages, mid)
		}
	}
	for fid, f := range s.files {
		if f.ThreadID == id {
			delete(s.files, fid)
		}
	}
}

func (s *MemoryStorage) ListThreadsByAssistant(ctx context.Context, assistantID int64) ([]*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Thread
	for _, t := range s.threads {
		if t.AssistantID == assistantID {
			out = append(out, cloneThread(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) GetSystemThread(ctx context.Context, assistantID int64) (*models.Thread, error) {
	threads, _ := s.ListThreadsByAssistant(ctx, assistantID)
	for _, t := range threads {
		if t.System {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

// Message methods

func (s *MemoryStorage) CreateMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[m.ThreadID]; !exists {
		return ErrNotFound
	}
	now := time.Now()
	m.ID = s.id()
	m.CreatedAt, m.UpdatedAt = now, now
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *MemoryStorage) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, exists := s.messages[id]; exists {
		return cloneMessage(m), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[m.ID]; !exists {
		return ErrNotFound
	}
	m.UpdatedAt = time.Now()
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *MemoryStorage) ListMessagesByThread(ctx context.Context, threadID int64) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Message
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// File methods

func (s *MemoryStorage) CreateFile(ctx context.Context, f *models.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.ID = s.id()
	f.CreatedAt = time.Now()
	c := *f
	s.files[f.ID] = &c
	return nil
}

func (s *MemoryStorage) GetFile(ctx context.Context, id int64) (*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f, exists := s.files[id]; exists {
		c := *f
		return &c, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetFileByRemoteID(ctx context.Context, remoteID string) (*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.files {
		if f.RemoteFileID == remoteID {
			c := *f
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) DeleteFile(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[id]; !exists {
		return ErrNotFound
	}
	delete(s.files, id)
	return nil
}

func (s *MemoryStorage) ListFilesByThread(ctx context.Context, threadID int64) ([]*models.File, error) {
	return s.filterFiles(func(f *models.File) bool { return f.ThreadID == threadID }), nil
}

func (s *MemoryStorage) ListFilesByAssistant(ctx context.Context, assistantID int64) ([]*models.File, error) {
	return s.filterFiles(func(f *models.File) bool { return f.AssistantID == assistantID }), nil
}

func (s *MemoryStorage) filterFiles(keep func(*models.File) bool) []*models.File {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.File
	for _, f := range s.files {
		if keep(f) {
			c := *f
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func cloneAssistant(a *models.Assistant) *models.Assistant {
	c := *a
	c.Tools = nil
	for _, t := range a.Tools {
		c.Tools = append(c.Tools, models.Tool{Type: t.Type, VectorStoreIDs: append([]string(nil), t.VectorStoreIDs...)})
	}
	if a.Owner != nil {
		o := *a.Owner
		c.Owner = &o
	}
	return &c
}

func cloneThread(t *models.Thread) *models.Thread {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.Owner != nil {
		o := *t.Owner
		c.Owner = &o
	}
	return &c
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	c.FileIDs = append([]string(nil), m.FileIDs...)
	if m.Author != nil {
		o := *m.Author
		c.Author = &o
	}
	return &c
}
