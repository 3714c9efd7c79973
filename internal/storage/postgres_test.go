package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/models"
)

func setupPostgres(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return newPostgresStorage(db, zap.NewNop()), mock
}

func TestPostgresStorage_CreateAssistant(t *testing.T) {
	s, mock := setupPostgres(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO ai_assistants").
		WithArgs("asst_1", "Helper", "Be nice", "gpt-4o", "", []byte(`[{"type":"file_search"}]`), "user", "9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(5, now, now))

	a := &models.Assistant{
		RemoteID:     "asst_1",
		Name:         "Helper",
		Instructions: "Be nice",
		Model:        "gpt-4o",
		Tools:        []models.Tool{{Type: models.ToolFileSearch}},
		Owner:        &models.Owner{Kind: models.OwnerUser, ID: "9"},
	}
	require.NoError(t, s.CreateAssistant(context.Background(), a))
	assert.Equal(t, int64(5), a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_GetAssistant(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		s, mock := setupPostgres(t)
		now := time.Now()
		rows := sqlmock.NewRows([]string{"id", "openai_assistant_id", "name", "instructions", "engine",
			"vector_store_id", "tools", "owner_kind", "owner_id", "created_at", "updated_at"}).
			AddRow(1, "asst_1", "Helper", "", "gpt-4o", "vs_1",
				[]byte(`[{"type":"file_search","vector_store_ids":["vs_1"]}]`), nil, nil, now, now)
		mock.ExpectQuery("SELECT (.+) FROM ai_assistants WHERE id = \\$1").WithArgs(int64(1)).WillReturnRows(rows)

		a, err := s.GetAssistant(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "vs_1", a.VectorStoreID)
		assert.Nil(t, a.Owner)
		require.Len(t, a.Tools, 1)
		assert.Equal(t, []string{"vs_1"}, a.Tools[0].VectorStoreIDs)
	})

	t.Run("Not found", func(t *testing.T) {
		s, mock := setupPostgres(t)
		mock.ExpectQuery("SELECT (.+) FROM ai_assistants").WithArgs(int64(2)).WillReturnError(sql.ErrNoRows)

		_, err := s.GetAssistant(ctx, 2)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStorage_UpdateMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		s, mock := setupPostgres(t)
		mock.ExpectExec("UPDATE ai_messages").
			WithArgs("msg_1", "run_1", "completed", "answer", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		m := &models.Message{ID: 3, RemoteMessageID: "msg_1", RemoteRunID: "run_1", RunStatus: models.RunCompleted, Response: "answer"}
		require.NoError(t, s.UpdateMessage(ctx, m))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing row", func(t *testing.T) {
		s, mock := setupPostgres(t)
		mock.ExpectExec("UPDATE ai_messages").WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.UpdateMessage(ctx, &models.Message{ID: 4})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStorage_ListAssistantsWithoutThreads(t *testing.T) {
	s, mock := setupPostgres(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "openai_assistant_id", "name", "instructions", "engine",
		"vector_store_id", "tools", "owner_kind", "owner_id", "created_at", "updated_at"}).
		AddRow(1, "asst_1", "", "", "gpt", "", []byte(`[]`), "team", "t1", now, now).
		AddRow(2, "asst_2", "", "", "gpt", "", []byte(`[]`), nil, nil, now, now)
	mock.ExpectQuery("NOT EXISTS").WillReturnRows(rows)

	list, err := s.ListAssistantsWithoutThreads(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.OwnerTeam, list[0].Owner.Kind)
	assert.Nil(t, list[1].Owner)
}

func TestPostgresStorage_DeleteThread(t *testing.T) {
	s, mock := setupPostgres(t)
	mock.ExpectExec("DELETE FROM ai_threads WHERE id = \\$1").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.DeleteThread(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
