package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/da-sie/openai-assistant/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := newPostgresStorage(db, logger)

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL", zap.String("host", config.Host), zap.String("db", config.DBName))
	return storage, nil
}

func newPostgresStorage(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger.Named("postgres")}
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func ownerArgs(o *models.Owner) (sql.NullString, sql.NullString) {
	if o == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: string(o.Kind), Valid: true}, sql.NullString{String: o.ID, Valid: true}
}

func ownerFrom(kind, id sql.NullString) *models.Owner {
	if !kind.Valid || !id.Valid {
		return nil
	}
	return &models.Owner{Kind: models.OwnerKind(kind.String), ID: id.String}
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Assistants

const assistantColumns = `id, openai_assistant_id, name, instructions, engine, vector_store_id, tools, owner_kind, owner_id, created_at, updated_at`

func scanAssistant(row rowScanner) (*models.Assistant, error) {
	a := &models.Assistant{}
	var tools []byte
	var kind, id sql.NullString
	if err := row.Scan(&a.ID, &a.RemoteID, &a.Name, &a.Instructions, &a.Model, &a.VectorStoreID,
		&tools, &kind, &id, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error scanning assistant: %w", err)
	}
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &a.Tools); err != nil {
			return nil, fmt.Errorf("error decoding assistant tools: %w", err)
		}
	}
	a.Owner = ownerFrom(kind, id)
	return a, nil
}

func encodeTools(tools []models.Tool) ([]byte, error) {
	if tools == nil {
		tools = []models.Tool{}
	}
	return json.Marshal(tools)
}

func (s *PostgresStorage) CreateAssistant(ctx context.Context, a *models.Assistant) error {
	tools, err := encodeTools(a.Tools)
	if err != nil {
		return fmt.Errorf("error encoding assistant tools: %w", err)
	}
	kind, ownerID := ownerArgs(a.Owner)

	query := `
		INSERT INTO ai_assistants (openai_assistant_id, name, instructions, engine, vector_store_id, tools, owner_kind, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		a.RemoteID, a.Name, a.Instructions, a.Model, a.VectorStoreID, tools, kind, ownerID,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating assistant: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetAssistant(ctx context.Context, id int64) (*models.Assistant, error) {
	query := `SELECT ` + assistantColumns + ` FROM ai_assistants WHERE id = $1`
	return scanAssistant(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStorage) UpdateAssistant(ctx context.Context, a *models.Assistant) error {
	tools, err := encodeTools(a.Tools)
	if err != nil {
		return fmt.Errorf("error encoding assistant tools: %w", err)
	}
	kind, ownerID := ownerArgs(a.Owner)
	a.UpdatedAt = time.Now()

	query := `
		UPDATE ai_assistants
		SET openai_assistant_id = $1, name = $2, instructions = $3, engine = $4, vector_store_id = $5,
			tools = $6, owner_kind = $7, owner_id = $8, updated_at = $9
		WHERE id = $10`

	result, err := s.db.ExecContext(ctx, query,
		a.RemoteID, a.Name, a.Instructions, a.Model, a.VectorStoreID, tools, kind, ownerID, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("error updating assistant: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) DeleteAssistant(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ai_assistants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting assistant: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) queryAssistants(ctx context.Context, query string, args ...any) ([]*models.Assistant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying assistants: %w", err)
	}
	defer rows.Close()

	var out []*models.Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) ListAssistants(ctx context.Context) ([]*models.Assistant, error) {
	return s.queryAssistants(ctx, `SELECT `+assistantColumns+` FROM ai_assistants ORDER BY id`)
}

func (s *PostgresStorage) ListAssistantsCreatedBefore(ctx context.Context, t time.Time) ([]*models.Assistant, error) {
	return s.queryAssistants(ctx, `SELECT `+assistantColumns+` FROM ai_assistants WHERE created_at < $1 ORDER BY id`, t)
}

func (s *PostgresStorage) ListAssistantsWithoutThreads(ctx context.Context) ([]*models.Assistant, error) {
	return s.queryAssistants(ctx, `
		SELECT `+assistantColumns+` FROM ai_assistants a
		WHERE NOT EXISTS (SELECT 1 FROM ai_threads t WHERE t.assistant_id = a.id)
		ORDER BY id`)
}

// Threads

const threadColumns = `id, uuid, assistant_id, openai_thread_id, owner_kind, owner_id, metadata, status, system, created_at, updated_at`

func scanThread(row rowScanner) (*models.Thread, error) {
	t := &models.Thread{}
	var metadata []byte
	var kind, id sql.NullString
	if err := row.Scan(&t.ID, &t.UUID, &t.AssistantID, &t.RemoteID, &kind, &id, &metadata,
		&t.Status, &t.System, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error scanning thread: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("error decoding thread metadata: %w", err)
		}
	}
	t.Owner = ownerFrom(kind, id)
	return t, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (s *PostgresStorage) CreateThread(ctx context.Context, t *models.Thread) error {
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return fmt.Errorf("error encoding thread metadata: %w", err)
	}
	kind, ownerID := ownerArgs(t.Owner)

	query := `
		INSERT INTO ai_threads (uuid, assistant_id, openai_thread_id, owner_kind, owner_id, metadata, status, system)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		t.UUID, t.AssistantID, t.RemoteID, kind, ownerID, metadata, t.Status, t.System,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating thread: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetThread(ctx context.Context, id int64) (*models.Thread, error) {
	return scanThread(s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM ai_threads WHERE id = $1`, id))
}

func (s *PostgresStorage) GetThreadByUUID(ctx context.Context, uuid string) (*models.Thread, error) {
	return scanThread(s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM ai_threads WHERE uuid = $1`, uuid))
}

func (s *PostgresStorage) UpdateThread(ctx context.Context, t *models.Thread) error {
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return fmt.Errorf("error encoding thread metadata: %w", err)
	}
	t.UpdatedAt = time.Now()

	query := `
		UPDATE ai_threads
		SET openai_thread_id = $1, metadata = $2, status = $3, updated_at = $4
		WHERE id = $5`

	result, err := s.db.ExecContext(ctx, query, t.RemoteID, metadata, t.Status, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("error updating thread: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) DeleteThread(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ai_threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting thread: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) ListThreadsByAssistant(ctx context.Context, assistantID int64) ([]*models.Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM ai_threads WHERE assistant_id = $1 ORDER BY id`, assistantID)
	if err != nil {
		return nil, fmt.Errorf("error querying threads: %w", err)
	}
	defer rows.Close()

	var out []*models.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) GetSystemThread(ctx context.Context, assistantID int64) (*models.Thread, error) {
	return scanThread(s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM ai_threads WHERE assistant_id = $1 AND system ORDER BY id LIMIT 1`, assistantID))
}

// Messages

const messageColumns = `id, thread_id, assistant_id, role, prompt, response_type, openai_message_id, openai_run_id, run_status, response, file_ids, author_kind, author_id, created_at, updated_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	var kind, id sql.NullString
	if err := row.Scan(&m.ID, &m.ThreadID, &m.AssistantID, &m.Role, &m.Prompt, &m.ResponseFormat,
		&m.RemoteMessageID, &m.RemoteRunID, &m.RunStatus, &m.Response, pq.Array(&m.FileIDs),
		&kind, &id, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error scanning message: %w", err)
	}
	m.Author = ownerFrom(kind, id)
	return m, nil
}

func (s *PostgresStorage) CreateMessage(ctx context.Context, m *models.Message) error {
	kind, authorID := ownerArgs(m.Author)
	if m.Role == "" {
		m.Role = "user"
	}

	query := `
		INSERT INTO ai_messages (thread_id, assistant_id, role, prompt, response_type, openai_message_id,
			openai_run_id, run_status, response, file_ids, author_kind, author_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		m.ThreadID, m.AssistantID, m.Role, m.Prompt, m.ResponseFormat, m.RemoteMessageID,
		m.RemoteRunID, m.RunStatus, m.Response, pq.Array(m.FileIDs), kind, authorID,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating message: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM ai_messages WHERE id = $1`, id))
}

func (s *PostgresStorage) UpdateMessage(ctx context.Context, m *models.Message) error {
	m.UpdatedAt = time.Now()

	query := `
		UPDATE ai_messages
		SET openai_message_id = $1, openai_run_id = $2, run_status = $3, response = $4, file_ids = $5, updated_at = $6
		WHERE id = $7`

	result, err := s.db.ExecContext(ctx, query,
		m.RemoteMessageID, m.RemoteRunID, m.RunStatus, m.Response, pq.Array(m.FileIDs), m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("error updating message: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) ListMessagesByThread(ctx context.Context, threadID int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM ai_messages WHERE thread_id = $1 ORDER BY id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Files

const fileColumns = `id, openai_file_id, assistant_id, thread_id, name, created_at`

func scanFile(row rowScanner) (*models.File, error) {
	f := &models.File{}
	if err := row.Scan(&f.ID, &f.RemoteFileID, &f.AssistantID, &f.ThreadID, &f.Name, &f.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error scanning file: %w", err)
	}
	return f, nil
}

func (s *PostgresStorage) CreateFile(ctx context.Context, f *models.File) error {
	query := `
		INSERT INTO ai_files (openai_file_id, assistant_id, thread_id, name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query, f.RemoteFileID, f.AssistantID, f.ThreadID, f.Name).
		Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating file: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetFile(ctx context.Context, id int64) (*models.File, error) {
	return scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM ai_files WHERE id = $1`, id))
}

func (s *PostgresStorage) GetFileByRemoteID(ctx context.Context, remoteID string) (*models.File, error) {
	return scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM ai_files WHERE openai_file_id = $1 ORDER BY id LIMIT 1`, remoteID))
}

func (s *PostgresStorage) DeleteFile(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ai_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting file: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) queryFiles(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying files: %w", err)
	}
	defer rows.Close()

	var out []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) ListFilesByThread(ctx context.Context, threadID int64) ([]*models.File, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM ai_files WHERE thread_id = $1 ORDER BY id`, threadID)
}

func (s *PostgresStorage) ListFilesByAssistant(ctx context.Context, assistantID int64) ([]*models.File, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM ai_files WHERE assistant_id = $1 ORDER BY id`, assistantID)
}
