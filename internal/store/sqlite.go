// Package store provides storage backends for FlowReply.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/flowreply/flowreply/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path to the database file; the directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetFlow(accountID, flowID string) (*models.Flow, error) {
	row := s.db.QueryRow(
		`SELECT account_id, flow_id, title, active, prevent_list, ai_list FROM flows WHERE account_id = ? AND flow_id = ?`,
		accountID, flowID,
	)
	var f models.Flow
	err := row.Scan(&f.AccountID, &f.FlowID, &f.Title, &f.Active, &f.PreventList, &f.AIList)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlow failed", "error", err, "account_id", accountID, "flow_id", flowID)
		return nil, fmt.Errorf("failed to query flow %s/%s: %w", accountID, flowID, err)
	}
	return &f, nil
}

func (s *SQLiteStore) SaveFlow(f models.Flow) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO flows (account_id, flow_id, title, active, prevent_list, ai_list) VALUES (?, ?, ?, ?, ?, ?)`,
		f.AccountID, f.FlowID, f.Title, f.Active, f.PreventList, f.AIList,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "account_id", f.AccountID, "flow_id", f.FlowID)
		return fmt.Errorf("failed to save flow %s/%s: %w", f.AccountID, f.FlowID, err)
	}
	return nil
}

func (s *SQLiteStore) SavePreventList(accountID, flowID, encoded string) error {
	_, err := s.db.Exec(
		`UPDATE flows SET prevent_list = ? WHERE account_id = ? AND flow_id = ?`,
		encoded, accountID, flowID,
	)
	if err != nil {
		slog.Error("SQLiteStore SavePreventList failed", "error", err, "account_id", accountID, "flow_id", flowID)
		return fmt.Errorf("failed to save prevent list for %s/%s: %w", accountID, flowID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveAIList(accountID, flowID, encoded string) error {
	_, err := s.db.Exec(
		`UPDATE flows SET ai_list = ? WHERE account_id = ? AND flow_id = ?`,
		encoded, accountID, flowID,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveAIList failed", "error", err, "account_id", accountID, "flow_id", flowID)
		return fmt.Errorf("failed to save ai list for %s/%s: %w", accountID, flowID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(key string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT session_key, account_id, inputs, pending, updated_at FROM sessions WHERE session_key = ?`,
		key,
	)
	var sess models.Session
	err := row.Scan(&sess.Key, &sess.AccountID, &sess.Inputs, &sess.Pending, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to query session %s: %w", key, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) SaveSession(sess models.Session) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions (session_key, account_id, inputs, pending, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.Key, sess.AccountID, sess.Inputs, sess.Pending, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "key", sess.Key)
		return fmt.Errorf("failed to save session %s: %w", sess.Key, err)
	}
	return nil
}

func (s *SQLiteStore) GetAgentAssignment(ownerID, agentID, chatID string) (*models.AgentAssignment, error) {
	row := s.db.QueryRow(
		`SELECT owner_id, agent_id, chat_id, created_at FROM agent_chats WHERE owner_id = ? AND agent_id = ? AND chat_id = ?`,
		ownerID, agentID, chatID,
	)
	var a models.AgentAssignment
	err := row.Scan(&a.OwnerID, &a.AgentID, &a.ChatID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetAgentAssignment failed", "error", err, "owner_id", ownerID, "agent_id", agentID)
		return nil, fmt.Errorf("failed to query agent assignment: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) AddAgentAssignment(a models.AgentAssignment) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO agent_chats (owner_id, agent_id, chat_id, created_at) VALUES (?, ?, ?, ?)`,
		a.OwnerID, a.AgentID, a.ChatID, a.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddAgentAssignment failed", "error", err, "owner_id", a.OwnerID, "agent_id", a.AgentID)
		return fmt.Errorf("failed to insert agent assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddHistory(h models.HistoryRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, account_id, chat_id, kind, payload, sender_name, sender_mobile, direction, status, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.AccountID, h.ChatID, h.Kind, encodePayload(h.Payload), h.SenderName, h.SenderMobile, h.Direction, h.Status, h.Timestamp,
	)
	if err != nil {
		slog.Error("SQLiteStore AddHistory failed", "error", err, "id", h.ID)
		return fmt.Errorf("failed to insert history record %s: %w", h.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetHistory(accountID, chatID string) ([]models.HistoryRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, chat_id, kind, payload, sender_name, sender_mobile, direction, status, timestamp
		 FROM messages WHERE account_id = ? AND chat_id = ? ORDER BY timestamp`,
		accountID, chatID,
	)
	if err != nil {
		slog.Error("SQLiteStore GetHistory query failed", "error", err)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryRecord
	for rows.Next() {
		var h models.HistoryRecord
		var payload string
		if err := rows.Scan(&h.ID, &h.AccountID, &h.ChatID, &h.Kind, &payload, &h.SenderName, &h.SenderMobile, &h.Direction, &h.Status, &h.Timestamp); err != nil {
			slog.Error("SQLiteStore GetHistory scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.Payload = decodePayload(payload)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetHistory rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
