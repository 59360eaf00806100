// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling and JSONB for structured payloads.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

const userColumns = `id, COALESCE(name, ''), COALESCE(email, ''), COALESCE(login_method, ''), role, created_at, last_signed_in`

// UpsertUser inserts a user or refreshes its profile and sign-in time.
func (s *Store) UpsertUser(ctx context.Context, u *api.User) (*api.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, login_method, role)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), COALESCE(NULLIF($5::text, ''), 'user'))
		ON CONFLICT (id) DO UPDATE SET
			name           = COALESCE(EXCLUDED.name, users.name),
			email          = COALESCE(EXCLUDED.email, users.email),
			login_method   = COALESCE(EXCLUDED.login_method, users.login_method),
			role           = COALESCE(NULLIF($5::text, ''), users.role),
			last_signed_in = now()
		RETURNING `+userColumns,
		u.ID, u.Name, u.Email, u.LoginMethod, string(u.Role),
	)
	out, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return out, nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*api.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFound(err, "querying user")
	}
	return u, nil
}

func scanUser(row pgx.Row) (*api.User, error) {
	var u api.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.LoginMethod, &role, &u.CreatedAt, &u.LastSignedIn); err != nil {
		return nil, err
	}
	u.Role = api.UserRole(role)
	return &u, nil
}

// CreateConversation inserts a conversation.
func (s *Store) CreateConversation(ctx context.Context, c *api.Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	return insertErr(err, "inserting conversation")
}

const conversationColumns = `id, user_id, title, created_at, updated_at`

// GetConversation returns a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*api.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFound(err, "querying conversation")
	}
	return c, nil
}

// ListConversations returns a user's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*api.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return collect(rows, scanConversation)
}

func scanConversation(row pgx.Row) (*api.Conversation, error) {
	var c api.Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateConversation stores the title and update time.
func (s *Store) UpdateConversation(ctx context.Context, c *api.Conversation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = $3 WHERE id = $1`,
		c.ID, c.Title, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateMessage inserts a message.
func (s *Store) CreateMessage(ctx context.Context, m *api.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.ConversationID, string(m.Role), m.Content, nullJSON(m.Metadata), m.CreatedAt)
	return insertErr(err, "inserting message")
}

// ListMessages returns a conversation's messages in creation order. The
// serial column orders rows written within the same timestamp.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*api.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, seq
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*api.Message, error) {
		var m api.Message
		var role string
		var metadata []byte
		if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = api.MessageRole(role)
		m.Metadata = rawJSON(metadata)
		return &m, nil
	})
}

const taskColumns = `id, COALESCE(conversation_id, ''), user_id, status, task_type, input, output, COALESCE(error, ''), created_at, completed_at`

// CreateTask inserts a task.
func (s *Store) CreateTask(ctx context.Context, t *api.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, conversation_id, user_id, status, task_type, input, output, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, nullString(t.ConversationID), t.UserID, string(t.Status), t.TaskType,
		nullJSON(t.Input), nullJSON(t.Output), nullString(t.Error), t.CreatedAt, t.CompletedAt)
	return insertErr(err, "inserting task")
}

// GetTask returns a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*api.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFound(err, "querying task")
	}
	return t, nil
}

// UpdateTask stores status, output, error and completion time.
func (s *Store) UpdateTask(ctx context.Context, t *api.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, output = $3, error = $4, completed_at = $5
		WHERE id = $1
	`, t.ID, string(t.Status), nullJSON(t.Output), nullString(t.Error), t.CompletedAt)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListTasks returns a user's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]*api.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return collect(rows, scanTask)
}

func scanTask(row pgx.Row) (*api.Task, error) {
	var t api.Task
	var status string
	var input, output []byte
	if err := row.Scan(&t.ID, &t.ConversationID, &t.UserID, &status, &t.TaskType,
		&input, &output, &t.Error, &t.CreatedAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	t.Status = api.TaskStatus(status)
	t.Input = rawJSON(input)
	t.Output = rawJSON(output)
	return &t, nil
}

// CreateArtifact inserts an artifact.
func (s *Store) CreateArtifact(ctx context.Context, a *api.Artifact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO artifacts (id, conversation_id, user_id, name, type, content, storage_url, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.ConversationID, a.UserID, a.Name, a.Type,
		nullString(a.Content), nullString(a.StorageURL), nullJSON(a.Metadata), a.CreatedAt)
	return insertErr(err, "inserting artifact")
}

const artifactSelect = `
	SELECT id, conversation_id, user_id, name, type, COALESCE(content, ''), COALESCE(storage_url, ''), metadata, created_at
	FROM artifacts`

// ListArtifactsByConversation returns a conversation's artifacts, newest first.
func (s *Store) ListArtifactsByConversation(ctx context.Context, conversationID string) ([]*api.Artifact, error) {
	return s.listArtifacts(ctx, artifactSelect+` WHERE conversation_id = $1 ORDER BY created_at DESC, seq DESC`, conversationID)
}

// ListArtifactsByUser returns a user's artifacts, newest first.
func (s *Store) ListArtifactsByUser(ctx context.Context, userID string) ([]*api.Artifact, error) {
	return s.listArtifacts(ctx, artifactSelect+` WHERE user_id = $1 ORDER BY created_at DESC, seq DESC`, userID)
}

func (s *Store) listArtifacts(ctx context.Context, query, arg string) ([]*api.Artifact, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*api.Artifact, error) {
		var a api.Artifact
		var metadata []byte
		if err := row.Scan(&a.ID, &a.ConversationID, &a.UserID, &a.Name, &a.Type,
			&a.Content, &a.StorageURL, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = rawJSON(metadata)
		return &a, nil
	})
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// collect scans every row with scan and closes rows.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func insertErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if isDuplicateKey(err) {
		return storage.ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON converts an empty payload to nil for nullable JSONB columns.
func nullJSON(b json.RawMessage) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// isDuplicateKey reports whether err is a unique violation (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

