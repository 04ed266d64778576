package storage

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/helmsman-ai/helmsman/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresConfig holds connection and pool settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the pgx-compatible connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type postgresStore struct {
	db       *stdsql.DB
	sessions *pgSessionStore
	agents   *pgAgentStore
	memories *pgMemoryStore
}

// NewPostgresStore opens a pooled connection, applies pending migrations,
// and returns the store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (Store, error) {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &postgresStore{
		db:       db,
		sessions: &pgSessionStore{db: db},
		agents:   &pgAgentStore{db: db},
		memories: &pgMemoryStore{db: db},
	}, nil
}

func (s *postgresStore) Sessions() SessionStore { return s.sessions }
func (s *postgresStore) Agents() AgentStore     { return s.agents }
func (s *postgresStore) Memories() MemoryStore  { return s.memories }
func (s *postgresStore) Close() error           { return s.db.Close() }

// runMigrations applies embedded SQL migrations with golang-migrate.
func runMigrations(db *stdsql.DB, database string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, database, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	// Closing m would also close the shared *sql.DB, so only close the
	// source driver.
	if err := source.Close(); err != nil {
		return fmt.Errorf("closing migration source: %w", err)
	}
	return nil
}

type pgSessionStore struct {
	db *stdsql.DB
}

const sessionColumns = `id, agent_id, sandbox_id, task_id, title, latest_message,
	latest_message_at, unread_message_count, status, created_at, updated_at`

func (s *pgSessionStore) Create(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.ID, sess.AgentID, sess.SandboxID, sess.TaskID, sess.Title,
		sess.LatestMessage, sess.LatestMessageAt, sess.UnreadMessageCount,
		sess.Status, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *pgSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM session_events WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading events for session %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e, err := models.DecodeEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding event for session %s: %w", id, err)
		}
		sess.Events = append(sess.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events for session %s: %w", id, err)
	}
	return sess, nil
}

func (s *pgSessionStore) List(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		ORDER BY latest_message_at DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return out, nil
}

func (s *pgSessionStore) Update(ctx context.Context, sess *models.Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			sandbox_id = $2, task_id = $3, title = $4, latest_message = $5,
			latest_message_at = $6, unread_message_count = $7, status = $8,
			updated_at = now()
		WHERE id = $1`,
		sess.ID, sess.SandboxID, sess.TaskID, sess.Title, sess.LatestMessage,
		sess.LatestMessageAt, sess.UnreadMessageCount, sess.Status,
	)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating session %s: %w", sess.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sess.ID)
	}
	return nil
}

func (s *pgSessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func (s *pgSessionStore) UpdateTitle(ctx context.Context, id, title string) error {
	return s.exec(ctx, id,
		`UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`, id, title)
}

func (s *pgSessionStore) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	return s.exec(ctx, id,
		`UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1`, id, status)
}

func (s *pgSessionStore) RecordMessage(ctx context.Context, id, message string, at int64) error {
	return s.exec(ctx, id, `
		UPDATE sessions SET
			latest_message = $2, latest_message_at = $3,
			unread_message_count = unread_message_count + 1,
			updated_at = now()
		WHERE id = $1`, id, message, at)
}

func (s *pgSessionStore) ClearUnread(ctx context.Context, id string) error {
	return s.exec(ctx, id,
		`UPDATE sessions SET unread_message_count = 0, updated_at = now() WHERE id = $1`, id)
}

func (s *pgSessionStore) ClearTask(ctx context.Context, id string) error {
	return s.exec(ctx, id,
		`UPDATE sessions SET task_id = '', updated_at = now() WHERE id = $1`, id)
}

// exec runs a single-row UPDATE and translates zero affected rows into
// ErrSessionNotFound.
func (s *pgSessionStore) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func (s *pgSessionStore) AppendEvent(ctx context.Context, sessionID string, e models.Event) error {
	payload, err := models.EncodeEvent(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, event_id, payload)
		VALUES ($1, $2, $3)`,
		sessionID, e.Meta().ID, payload,
	)
	if err != nil {
		return fmt.Errorf("appending event to session %s: %w", sessionID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	sess := &models.Session{}
	err := row.Scan(
		&sess.ID, &sess.AgentID, &sess.SandboxID, &sess.TaskID, &sess.Title,
		&sess.LatestMessage, &sess.LatestMessageAt, &sess.UnreadMessageCount,
		&sess.Status, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

type pgAgentStore struct {
	db *stdsql.DB
}

func (s *pgAgentStore) Create(ctx context.Context, a *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, model_name, temperature, max_tokens, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ModelName, a.Temperature, a.MaxTokens, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting agent %s: %w", a.ID, err)
	}
	return nil
}

func (s *pgAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	a := &models.Agent{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model_name, temperature, max_tokens, created_at, updated_at
		FROM agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.ModelName, &a.Temperature, &a.MaxTokens, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		return nil, fmt.Errorf("loading agent %s: %w", id, err)
	}
	return a, nil
}

func (s *pgAgentStore) Update(ctx context.Context, a *models.Agent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET model_name = $2, temperature = $3, max_tokens = $4, updated_at = now()
		WHERE id = $1`,
		a.ID, a.ModelName, a.Temperature, a.MaxTokens,
	)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, a.ID)
	}
	return nil
}

type pgMemoryStore struct {
	db *stdsql.DB
}

func (s *pgMemoryStore) Get(ctx context.Context, sessionID, role string) (*models.Memory, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT messages FROM memories WHERE session_id = $1 AND role = $2`,
		sessionID, role,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return models.NewMemory(), nil
		}
		return nil, fmt.Errorf("loading memory %s/%s: %w", sessionID, role, err)
	}
	m := models.NewMemory()
	if err := json.Unmarshal(raw, &m.Messages); err != nil {
		return nil, fmt.Errorf("decoding memory %s/%s: %w", sessionID, role, err)
	}
	return m, nil
}

func (s *pgMemoryStore) Save(ctx context.Context, sessionID, role string, m *models.Memory) error {
	raw, err := json.Marshal(m.Messages)
	if err != nil {
		return fmt.Errorf("encoding memory %s/%s: %w", sessionID, role, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (session_id, role, messages, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, role)
		DO UPDATE SET messages = EXCLUDED.messages, updated_at = now()`,
		sessionID, role, raw,
	)
	if err != nil {
		return fmt.Errorf("saving memory %s/%s: %w", sessionID, role, err)
	}
	return nil
}
