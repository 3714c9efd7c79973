package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/da-sie/openai-assistant/internal/models"
)

func seed(t *testing.T, s *MemoryStorage) (*models.Assistant, *models.Thread) {
	t.Helper()
	ctx := context.Background()

	a := &models.Assistant{RemoteID: "asst_1", Name: "Helper", Model: "gpt-3.5-turbo-0125"}
	require.NoError(t, s.CreateAssistant(ctx, a))

	th := &models.Thread{UUID: "uuid-1", AssistantID: a.ID, RemoteID: "thread_1", Status: models.ThreadCreated}
	require.NoError(t, s.CreateThread(ctx, th))
	return a, th
}

func TestMemoryStorage_AssistantCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	a, _ := seed(t, s)

	got, err := s.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "asst_1", got.RemoteID)

	got.VectorStoreID = "vs_1"
	got.Tools = []models.Tool{{Type: models.ToolFileSearch, VectorStoreIDs: []string{"vs_1"}}}
	require.NoError(t, s.UpdateAssistant(ctx, got))

	// mutating the returned copy must not leak into the store
	got.Tools[0].VectorStoreIDs[0] = "changed"

	again, err := s.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "vs_1", again.VectorStoreID)
	assert.Equal(t, []string{"vs_1"}, again.Tools[0].VectorStoreIDs)

	_, err = s.GetAssistant(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateAssistant(ctx, &models.Assistant{ID: 999}), ErrNotFound)
}

func TestMemoryStorage_DeleteAssistantCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	a, th := seed(t, s)

	m := &models.Message{ThreadID: th.ID, AssistantID: a.ID, Prompt: "hi", RunStatus: models.RunPending}
	require.NoError(t, s.CreateMessage(ctx, m))
	f := &models.File{RemoteFileID: "file_1", AssistantID: a.ID, ThreadID: th.ID}
	require.NoError(t, s.CreateFile(ctx, f))

	require.NoError(t, s.DeleteAssistant(ctx, a.ID))

	_, err := s.GetThread(ctx, th.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetFile(ctx, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteAssistant(ctx, a.ID), ErrNotFound)
}

func TestMemoryStorage_AssistantQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	withThread, _ := seed(t, s)

	lonely := &models.Assistant{RemoteID: "asst_2", Model: "gpt"}
	require.NoError(t, s.CreateAssistant(ctx, lonely))

	empty, err := s.ListAssistantsWithoutThreads(ctx)
	require.NoError(t, err)
	require.Len(t, empty, 1)
	assert.Equal(t, lonely.ID, empty[0].ID)

	old, err := s.ListAssistantsCreatedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, old, 2)

	old, err = s.ListAssistantsCreatedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, old)

	all, err := s.ListAssistants(ctx)
	require.NoError(t, err)
	assert.Equal(t, withThread.ID, all[0].ID)
}

func TestMemoryStorage_Threads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	a, th := seed(t, s)

	got, err := s.GetThreadByUUID(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, th.ID, got.ID)

	_, err = s.GetSystemThread(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	sys := &models.Thread{UUID: "uuid-sys", AssistantID: a.ID, RemoteID: "thread_sys", System: true}
	require.NoError(t, s.CreateThread(ctx, sys))
	got, err = s.GetSystemThread(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, sys.ID, got.ID)

	threads, err := s.ListThreadsByAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, threads, 2)

	err = s.CreateThread(ctx, &models.Thread{UUID: "x", AssistantID: 12345})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_Messages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	a, th := seed(t, s)

	m := &models.Message{ThreadID: th.ID, AssistantID: a.ID, Prompt: "hello", ResponseFormat: models.FormatJSON,
		Author: &models.Owner{Kind: models.OwnerUser, ID: "7"}}
	require.NoError(t, s.CreateMessage(ctx, m))

	m.RunStatus = models.RunCompleted
	m.Response = `{"ok":true}`
	require.NoError(t, s.UpdateMessage(ctx, m))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.RunStatus)
	assert.Equal(t, `{"ok":true}`, got.Response)
	assert.Equal(t, "7", got.Author.ID)

	list, err := s.ListMessagesByThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteThread(ctx, th.ID))
	_, err = s.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_Files(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	a, th := seed(t, s)

	f := &models.File{RemoteFileID: "file_1", AssistantID: a.ID, ThreadID: th.ID, Name: "doc.pdf"}
	require.NoError(t, s.CreateFile(ctx, f))

	got, err := s.GetFileByRemoteID(ctx, "file_1")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	byThread, err := s.ListFilesByThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Len(t, byThread, 1)
	byAssistant, err := s.ListFilesByAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, byAssistant, 1)

	require.NoError(t, s.DeleteFile(ctx, f.ID))
	assert.ErrorIs(t, s.DeleteFile(ctx, f.ID), ErrNotFound)
}
