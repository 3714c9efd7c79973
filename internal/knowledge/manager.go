// Package knowledge keeps an assistant's document index in step with its uploaded files.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
	"github.com/da-sie/openai-assistant/internal/models"
	"github.com/da-sie/openai-assistant/internal/storage"
)

// MetadataAssistantKey tags a vector store with the remote id of the assistant it serves.
const MetadataAssistantKey = "assistant_id"

var (
	ErrNoUploads           = errors.New("no document could be uploaded")
	ErrNoValidVectorStores = errors.New("none of the vector stores exist")
	ErrVectorStoreNotFound = errors.New("vector store not found")
	ErrFileNotFound        = errors.New("file not found")
)

type Config struct {
	UploadConcurrency int64
}

// Manager owns the upload, index, link lifecycle of assistant documents.
// Updates to one assistant must be serialized by the caller.
type Manager struct {
	store  storage.Storage
	api    assistantapi.API
	cfg    Config
	logger *zap.Logger
}

func NewManager(store storage.Storage, api assistantapi.API, cfg Config, logger *zap.Logger) *Manager {
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 5
	}
	return &Manager{store: store, api: api, cfg: cfg, logger: logger.Named("knowledge")}
}

// FileError reports one document that could not be processed.
type FileError struct {
	Path    string `json:"path"`
	Message string `json:"error"`
}

// Result is the outcome of a knowledge update. Per-file errors do not make it fail.
type Result struct {
	Success       bool        `json:"success"`
	FilesAdded    int         `json:"files_added"`
	VectorStoreID string      `json:"vector_store_id,omitempty"`
	Errors        []FileError `json:"errors,omitempty"`
}

type upload struct {
	path   string
	fileID string
}

// UpdateKnowledge uploads paths, replaces the assistant's vector store with a new one
// holding them and points the assistant's file_search tool at it. threadID 0 attributes
// the files to the assistant's system thread.
func (m *Manager) UpdateKnowledge(ctx context.Context, assistantID int64, paths []string, threadID int64) (*Result, error) {
	assistant, err := m.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return &Result{}, fmt.Errorf("get assistant: %w", err)
	}
	if !assistant.Provisioned() {
		return &Result{}, fmt.Errorf("assistant %d: %w", assistant.ID, models.ErrNotProvisioned)
	}

	logger := m.logger.With(zap.Int64("assistant_id", assistant.ID), zap.String("remote_assistant_id", assistant.RemoteID))
	result := &Result{}

	// Resolved first so a bad thread id fails before anything is created remotely.
	owner, err := m.ownerThread(ctx, assistant, threadID)
	if err != nil {
		return result, err
	}

	uploads, failures := m.uploadAll(ctx, paths)
	result.Errors = failures
	if len(uploads) == 0 {
		logger.Warn("No documents uploaded", zap.Int("paths", len(paths)))
		return result, ErrNoUploads
	}

	if _, err := m.ResetVectorStore(ctx, assistant); err != nil {
		logger.Warn("Failed to reset vector store", zap.Error(err))
	}

	store, err := m.api.CreateVectorStore(ctx, openai.VectorStoreRequest{
		Name:     fmt.Sprintf("Knowledge base for %s", assistant.Name),
		Metadata: map[string]any{MetadataAssistantKey: assistant.RemoteID},
	})
	if err != nil {
		logger.Error("Failed to create vector store", zap.Error(err))
		m.compensate(ctx, uploads)
		return result, fmt.Errorf("create vector store: %w", err)
	}
	assistant.VectorStoreID = store.ID
	if err := m.store.UpdateAssistant(ctx, assistant); err != nil {
		m.compensate(ctx, uploads)
		return result, fmt.Errorf("save vector store id: %w", err)
	}
	result.VectorStoreID = store.ID

	for _, u := range uploads {
		if err := m.api.AddVectorStoreFile(ctx, store.ID, u.fileID); err != nil {
			logger.Error("Failed to attach file to vector store", zap.Error(err), zap.String("file_id", u.fileID))
			m.compensate(ctx, uploads)
			return result, fmt.Errorf("attach %s: %w", u.path, err)
		}
	}

	assistant.Tools = assistantapi.WithFileSearch(assistant.Tools, store.ID)
	if err := m.pushTools(ctx, assistant); err != nil {
		logger.Error("Failed to reconfigure assistant", zap.Error(err))
		m.compensate(ctx, uploads)
		return result, err
	}

	for _, u := range uploads {
		f := &models.File{
			RemoteFileID: u.fileID,
			AssistantID:  assistant.ID,
			ThreadID:     owner.ID,
			Name:         filepath.Base(u.path),
		}
		if err := m.store.CreateFile(ctx, f); err != nil {
			logger.Error("Failed to save file record", zap.Error(err), zap.String("file_id", u.fileID))
			result.Errors = append(result.Errors, FileError{Path: u.path, Message: err.Error()})
			continue
		}
		result.FilesAdded++
	}

	result.Success = true
	logger.Info("Knowledge updated",
		zap.String("vector_store_id", store.ID),
		zap.Int("files_added", result.FilesAdded),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// uploadAll uploads in parallel. Results keep the order of paths.
func (m *Manager) uploadAll(ctx context.Context, paths []string) ([]upload, []FileError) {
	slots := make([]upload, len(paths))
	errs := make([]error, len(paths))
	sem := semaphore.NewWeighted(m.cfg.UploadConcurrency)
	var wg sync.WaitGroup

	for i, path := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer sem.Release(1)
			slots[i].path = path
			file, err := m.uploadOne(ctx, path)
			if err != nil {
				errs[i] = err
				return
			}
			slots[i].fileID = file.ID
		}(i, path)
	}
	wg.Wait()

	var uploads []upload
	var failures []FileError
	for i, path := range paths {
		if errs[i] != nil {
			m.logger.Warn("Failed to upload document", zap.String("path", path), zap.Error(errs[i]))
			failures = append(failures, FileError{Path: path, Message: errs[i].Error()})
			continue
		}
		uploads = append(uploads, slots[i])
	}
	return uploads, failures
}

func (m *Manager) uploadOne(ctx context.Context, path string) (openai.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return openai.File{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if info.IsDir() {
		return openai.File{}, fmt.Errorf("%s is a directory", path)
	}
	return m.api.UploadFile(ctx, path)
}

// compensate deletes uploaded remote files after a failed update.
func (m *Manager) compensate(ctx context.Context, uploads []upload) {
	ctx = context.WithoutCancel(ctx)
	for _, u := range uploads {
		if err := assistantapi.IgnoreNotFound(m.api.DeleteFile(ctx, u.fileID)); err != nil {
			m.logger.Error("Failed to delete uploaded file", zap.Error(err), zap.String("file_id", u.fileID))
		}
	}
}

// ResetVectorStore deletes the assistant's current vector store. Without a local id
// it looks for a remote store tagged with the assistant. It reports whether a store
// was deleted; nothing to delete is not an error.
func (m *Manager) ResetVectorStore(ctx context.Context, assistant *models.Assistant) (bool, error) {
	id := assistant.VectorStoreID
	if id == "" {
		id = m.findTaggedStore(ctx, assistant.RemoteID)
	}
	if id == "" {
		return false, nil
	}

	err := m.api.DeleteVectorStore(ctx, id)
	if err != nil && !assistantapi.IsNotFound(err) {
		return false, fmt.Errorf("delete vector store %s: %w", id, err)
	}

	if assistant.VectorStoreID != "" {
		assistant.VectorStoreID = ""
		if err := m.store.UpdateAssistant(ctx, assistant); err != nil {
			return false, fmt.Errorf("clear vector store id: %w", err)
		}
	}
	m.logger.Info("Vector store reset", zap.String("vector_store_id", id), zap.Bool("existed", err == nil))
	return err == nil, nil
}

func (m *Manager) findTaggedStore(ctx context.Context, remoteAssistantID string) string {
	stores, err := m.api.ListVectorStores(ctx)
	if err != nil {
		m.logger.Warn("Failed to list vector stores", zap.Error(err))
		return ""
	}
	for _, s := range stores {
		if v, ok := s.Metadata[MetadataAssistantKey].(string); ok && v == remoteAssistantID {
			return s.ID
		}
	}
	return ""
}

// LinkVectorStore points the assistant's file_search tool at an existing store.
// A different previously linked store is deleted.
func (m *Manager) LinkVectorStore(ctx context.Context, assistantID int64, vectorStoreID string) error {
	assistant, err := m.provisioned(ctx, assistantID)
	if err != nil {
		return err
	}
	if _, err := m.api.RetrieveVectorStore(ctx, vectorStoreID); err != nil {
		if assistantapi.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrVectorStoreNotFound, vectorStoreID)
		}
		return fmt.Errorf("retrieve vector store: %w", err)
	}

	previous := assistant.VectorStoreID
	assistant.Tools = assistantapi.WithFileSearch(assistant.Tools, vectorStoreID)
	assistant.VectorStoreID = vectorStoreID
	if err := m.pushTools(ctx, assistant); err != nil {
		return err
	}

	if previous != "" && previous != vectorStoreID {
		if err := assistantapi.IgnoreNotFound(m.api.DeleteVectorStore(ctx, previous)); err != nil {
			m.logger.Warn("Failed to delete superseded vector store", zap.Error(err), zap.String("vector_store_id", previous))
		}
	}
	return nil
}

// LinkResult lists which requested stores were linked.
type LinkResult struct {
	Linked   []string `json:"linked"`
	Rejected []string `json:"rejected,omitempty"`
}

// LinkMultipleVectorStores links every store that exists. It fails without changing
// anything when none do. The first linked store becomes the authoritative one.
func (m *Manager) LinkMultipleVectorStores(ctx context.Context, assistantID int64, ids []string) (*LinkResult, error) {
	assistant, err := m.provisioned(ctx, assistantID)
	if err != nil {
		return nil, err
	}

	res := &LinkResult{}
	for _, id := range ids {
		if _, err := m.api.RetrieveVectorStore(ctx, id); err != nil {
			m.logger.Warn("Skipping vector store", zap.String("vector_store_id", id), zap.Error(err))
			res.Rejected = append(res.Rejected, id)
			continue
		}
		res.Linked = append(res.Linked, id)
	}
	if len(res.Linked) == 0 {
		return res, ErrNoValidVectorStores
	}

	previous := assistant.VectorStoreID
	assistant.Tools = assistantapi.WithFileSearch(assistant.Tools, res.Linked...)
	assistant.VectorStoreID = res.Linked[0]
	if err := m.pushTools(ctx, assistant); err != nil {
		return res, err
	}

	if previous != "" && !slices.Contains(res.Linked, previous) {
		if err := assistantapi.IgnoreNotFound(m.api.DeleteVectorStore(ctx, previous)); err != nil {
			m.logger.Warn("Failed to delete superseded vector store", zap.Error(err), zap.String("vector_store_id", previous))
		}
	}
	return res, nil
}

// AttachFile uploads one document and adds it to the current vector store.
func (m *Manager) AttachFile(ctx context.Context, assistantID int64, path string, threadID int64) (*models.File, error) {
	assistant, err := m.provisioned(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	file, err := m.uploadOne(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}

	if assistant.VectorStoreID != "" {
		if err := m.api.AddVectorStoreFile(ctx, assistant.VectorStoreID, file.ID); err != nil {
			m.compensate(ctx, []upload{{path: path, fileID: file.ID}})
			return nil, fmt.Errorf("attach to vector store: %w", err)
		}
	}

	owner, err := m.ownerThread(ctx, assistant, threadID)
	if err != nil {
		return nil, err
	}
	rec := &models.File{
		RemoteFileID: file.ID,
		AssistantID:  assistant.ID,
		ThreadID:     owner.ID,
		Name:         filepath.Base(path),
	}
	if err := m.store.CreateFile(ctx, rec); err != nil {
		return nil, fmt.Errorf("save file record: %w", err)
	}
	return rec, nil
}

// RemoveFile detaches a document from the vector store, deletes it remotely and then
// drops the local record. A remote failure leaves the local record in place.
func (m *Manager) RemoveFile(ctx context.Context, assistantID int64, remoteFileID string) error {
	assistant, err := m.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return fmt.Errorf("get assistant: %w", err)
	}
	rec, err := m.store.GetFileByRemoteID(ctx, remoteFileID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get file: %w", err)
	}

	if assistant.VectorStoreID != "" {
		if err := assistantapi.IgnoreNotFound(m.api.RemoveVectorStoreFile(ctx, assistant.VectorStoreID, remoteFileID)); err != nil {
			m.logger.Warn("Failed to detach file from vector store", zap.Error(err), zap.String("file_id", remoteFileID))
		}
	}
	if err := assistantapi.IgnoreNotFound(m.api.DeleteFile(ctx, remoteFileID)); err != nil {
		return fmt.Errorf("delete remote file: %w", err)
	}

	if rec != nil {
		if err := m.store.DeleteFile(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete file record: %w", err)
		}
	}
	return nil
}

// VectorStoreStatus is a read-only view of how the assistant's index is wired.
// The three facts can disagree.
type VectorStoreStatus struct {
	HasFileSearch   bool     `json:"has_file_search"`
	LocalID         string   `json:"local_vector_store_id,omitempty"`
	RemoteIDs       []string `json:"remote_vector_store_ids,omitempty"`
	LocalIDIsLinked bool     `json:"local_id_is_linked"`
}

func (m *Manager) CheckVectorStoreStatus(ctx context.Context, assistantID int64) (*VectorStoreStatus, error) {
	assistant, err := m.provisioned(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	remote, err := m.api.RetrieveAssistant(ctx, assistant.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("retrieve assistant: %w", err)
	}

	status := &VectorStoreStatus{LocalID: assistant.VectorStoreID}
	for _, t := range assistantapi.ToolsFromRemote(remote) {
		if t.Type != models.ToolFileSearch {
			continue
		}
		status.HasFileSearch = true
		status.RemoteIDs = append(status.RemoteIDs, t.VectorStoreIDs...)
	}
	for _, id := range status.RemoteIDs {
		if id == status.LocalID && id != "" {
			status.LocalIDIsLinked = true
		}
	}
	return status, nil
}

func (m *Manager) provisioned(ctx context.Context, assistantID int64) (*models.Assistant, error) {
	assistant, err := m.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, fmt.Errorf("get assistant: %w", err)
	}
	if !assistant.Provisioned() {
		return nil, fmt.Errorf("assistant %d: %w", assistant.ID, models.ErrNotProvisioned)
	}
	return assistant, nil
}

// pushTools writes the tool list remotely, then saves the assistant locally.
func (m *Manager) pushTools(ctx context.Context, assistant *models.Assistant) error {
	tools, resources := assistantapi.ToolsRequest(assistant.Tools)
	if _, err := m.api.ModifyAssistant(ctx, assistant.RemoteID, openai.AssistantRequest{
		Model:         assistant.Model,
		Tools:         tools,
		ToolResources: resources,
	}); err != nil {
		return fmt.Errorf("modify assistant tools: %w", err)
	}
	if err := m.store.UpdateAssistant(ctx, assistant); err != nil {
		return fmt.Errorf("save assistant: %w", err)
	}
	return nil
}

// ownerThread returns the thread files are attributed to, creating the assistant's
// system thread on first use.
func (m *Manager) ownerThread(ctx context.Context, assistant *models.Assistant, threadID int64) (*models.Thread, error) {
	if threadID != 0 {
		t, err := m.store.GetThread(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("get thread %d: %w", threadID, err)
		}
		return t, nil
	}

	t, err := m.store.GetSystemThread(ctx, assistant.ID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get system thread: %w", err)
	}
	t = &models.Thread{
		UUID:        uuid.NewString(),
		AssistantID: assistant.ID,
		Owner:       &models.Owner{Kind: models.OwnerSystem, ID: "knowledge"},
		Status:      models.ThreadPending,
		System:      true,
	}
	if err := m.store.CreateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("create system thread: %w", err)
	}
	return t, nil
}
