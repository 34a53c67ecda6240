// Package store provides storage backends for FlowReply.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/flowreply/flowreply/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum connection reuse time.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetFlow(accountID, flowID string) (*models.Flow, error) {
	row := s.db.QueryRow(
		`SELECT account_id, flow_id, title, active, prevent_list, ai_list FROM flows WHERE account_id = $1 AND flow_id = $2`,
		accountID, flowID,
	)
	var f models.Flow
	err := row.Scan(&f.AccountID, &f.FlowID, &f.Title, &f.Active, &f.PreventList, &f.AIList)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlow failed", "error", err, "account_id", accountID, "flow_id", flowID)
		return nil, fmt.Errorf("failed to query flow %s/%s: %w", accountID, flowID, err)
	}
	return &f, nil
}

func (s *PostgresStore) SaveFlow(f models.Flow) error {
	_, err := s.db.Exec(
		`INSERT INTO flows (account_id, flow_id, title, active, prevent_list, ai_list) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (account_id, flow_id) DO UPDATE SET title = $3, active = $4, prevent_list = $5, ai_list = $6`,
		f.AccountID, f.FlowID, f.Title, f.Active, f.PreventList, f.AIList,
	)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "account_id", f.AccountID, "flow_id", f.FlowID)
		return fmt.Errorf("failed to save flow %s/%s: %w", f.AccountID, f.FlowID, err)
	}
	return nil
}

func (s *PostgresStore) SavePreventList(accountID, flowID, encoded string) error {
	_, err := s.db.Exec(
		`UPDATE flows SET prevent_list = $1 WHERE account_id = $2 AND flow_id = $3`,
		encoded, accountID, flowID,
	)
	if err != nil {
		slog.Error("PostgresStore SavePreventList failed", "error", err, "account_id", accountID, "flow_id", flowID)
		return fmt.Errorf("failed to save prevent list for %s/%s: %w", accountID, flowID, err)
	}
	return nil
}

func (s *PostgresStore) SaveAIList(accountID, flowID, encoded string) error {
	_, err := s.db.Exec(
		`UPDATE flows SET ai_list = $1 WHERE account_id = $2 AND flow_id = $3`,
		encoded, accountID, flowID,
	)
	if err != nil {
		slog.Error("PostgresStore SaveAIList failed", "error", err, "account_id", accountID, "flow_id", flowID)
		return fmt.Errorf("failed to save ai list for %s/%s: %w", accountID, flowID, err)
	}
	return nil
}

func (s *PostgresStore) GetSession(key string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT session_key, account_id, inputs, pending, updated_at FROM sessions WHERE session_key = $1`,
		key,
	)
	var sess models.Session
	err := row.Scan(&sess.Key, &sess.AccountID, &sess.Inputs, &sess.Pending, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to query session %s: %w", key, err)
	}
	return &sess, nil
}

func (s *PostgresStore) SaveSession(sess models.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_key, account_id, inputs, pending, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_key) DO UPDATE SET inputs = $3, pending = $4, updated_at = $5`,
		sess.Key, sess.AccountID, sess.Inputs, sess.Pending, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "key", sess.Key)
		return fmt.Errorf("failed to save session %s: %w", sess.Key, err)
	}
	return nil
}

func (s *PostgresStore) GetAgentAssignment(ownerID, agentID, chatID string) (*models.AgentAssignment, error) {
	row := s.db.QueryRow(
		`SELECT owner_id, agent_id, chat_id, created_at FROM agent_chats WHERE owner_id = $1 AND agent_id = $2 AND chat_id = $3`,
		ownerID, agentID, chatID,
	)
	var a models.AgentAssignment
	err := row.Scan(&a.OwnerID, &a.AgentID, &a.ChatID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetAgentAssignment failed", "error", err, "owner_id", ownerID, "agent_id", agentID)
		return nil, fmt.Errorf("failed to query agent assignment: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) AddAgentAssignment(a models.AgentAssignment) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_chats (owner_id, agent_id, chat_id, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		a.OwnerID, a.AgentID, a.ChatID, a.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddAgentAssignment failed", "error", err, "owner_id", a.OwnerID, "agent_id", a.AgentID)
		return fmt.Errorf("failed to insert agent assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddHistory(h models.HistoryRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, account_id, chat_id, kind, payload, sender_name, sender_mobile, direction, status, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.ID, h.AccountID, h.ChatID, h.Kind, encodePayload(h.Payload), h.SenderName, h.SenderMobile, h.Direction, h.Status, h.Timestamp,
	)
	if err != nil {
		slog.Error("PostgresStore AddHistory failed", "error", err, "id", h.ID)
		return fmt.Errorf("failed to insert history record %s: %w", h.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetHistory(accountID, chatID string) ([]models.HistoryRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, chat_id, kind, payload, sender_name, sender_mobile, direction, status, timestamp
		 FROM messages WHERE account_id = $1 AND chat_id = $2 ORDER BY timestamp`,
		accountID, chatID,
	)
	if err != nil {
		slog.Error("PostgresStore GetHistory query failed", "error", err)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryRecord
	for rows.Next() {
		var h models.HistoryRecord
		var payload string
		if err := rows.Scan(&h.ID, &h.AccountID, &h.ChatID, &h.Kind, &payload, &h.SenderName, &h.SenderMobile, &h.Direction, &h.Status, &h.Timestamp); err != nil {
			slog.Error("PostgresStore GetHistory scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.Payload = decodePayload(payload)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetHistory rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
