// Package messagestore mirrors conversation messages into PostgreSQL for
// durable retrieval beyond the session TTL.
package messagestore

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
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/codeready-toolchain/stride/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Store appends messages to the session_messages table. It implements
// agent.MessageMirror; writes are best-effort from the caller's point of
// view, so the store itself just reports errors.
type Store struct {
	db *stdsql.DB
}

// Open connects to PostgreSQL, applies pending migrations, and returns a
// ready Store. The URL is a pgx-compatible DSN or connection URL.
func Open(ctx context.Context, url string) (*Store, error) {
	db, err := stdsql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping message store: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run message store migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// runMigrations applies embedded SQL migrations with golang-migrate.
func runMigrations(db *stdsql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "messagestore", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Closing the migrate instance would also close the shared *sql.DB, so
	// only the source driver is closed here.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// Mirror inserts one message row.
func (s *Store) Mirror(ctx context.Context, sessionID string, stepIndex int, msg models.Message) error {
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		encoded, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to encode tool calls: %w", err)
		}
		toolCalls = encoded
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, step_index, role, content, tool_calls, tool_call_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, stepIndex, string(msg.Role), msg.Content, toolCalls, msg.ToolCallID)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// StoredMessage is one mirrored row.
type StoredMessage struct {
	SessionID string         `json:"sessionId"`
	StepIndex int            `json:"stepIndex"`
	Message   models.Message `json:"message"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Messages returns the mirrored messages for a session in insertion order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, step_index, role, content, tool_calls, tool_call_id, created_at
		 FROM session_messages WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var (
			m         StoredMessage
			role      string
			toolCalls stdsql.NullString
		)
		if err := rows.Scan(&m.SessionID, &m.StepIndex, &role, &m.Message.Content,
			&toolCalls, &m.Message.ToolCallID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Message.Role = models.Role(role)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.Message.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Ping reports connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
