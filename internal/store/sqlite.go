// ABOUTME: SQLite implementation of the Ledger interface using modernc.org/sqlite
// ABOUTME: Stores one row per finalized commit plus its ordered message snapshot

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Ledger using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Ledger = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the ledger database at path.
// Parent directories and the schema are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS commits (
			commit_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			committed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commits_conversation
			ON commits(conversation_id, committed_at);

		CREATE TABLE IF NOT EXISTS commit_messages (
			commit_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (commit_id, seq),
			FOREIGN KEY (commit_id) REFERENCES commits(commit_id) ON DELETE CASCADE
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordCommit writes the commit and its messages in a single transaction.
func (s *SQLiteStore) RecordCommit(ctx context.Context, commit *Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO commits (commit_id, conversation_id, committed_at) VALUES (?, ?, ?)`,
		commit.ID, commit.ConversationID, commit.CommittedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting commit: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commit_messages (commit_id, seq, message_id, sender_id, text, timestamp, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range commit.Messages {
		_, err := stmt.ExecContext(ctx,
			commit.ID, i, m.ID, m.SenderID, m.Text, m.Timestamp, string(m.Status),
			m.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("recorded commit",
		"commit_id", commit.ID,
		"conversation_id", commit.ConversationID,
		"messages", len(commit.Messages),
	)
	return nil
}

// ListCommits returns the newest commits for a conversation, newest first.
// A limit of zero or less returns every commit.
func (s *SQLiteStore) ListCommits(ctx context.Context, conversationID string, limit int) ([]*Commit, error) {
	query := `
		SELECT commit_id, conversation_id, committed_at
		FROM commits
		WHERE conversation_id = ?
		ORDER BY committed_at DESC, rowid DESC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}

	var commits []*Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating commits: %w", err)
	}
	rows.Close()

	for _, c := range commits {
		msgs, err := s.loadMessages(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Messages = msgs
	}
	return commits, nil
}

// LatestCommit returns the most recent commit for a conversation.
// Returns ErrNotFound if the conversation has never been committed.
func (s *SQLiteStore) LatestCommit(ctx context.Context, conversationID string) (*Commit, error) {
	commits, err := s.ListCommits(ctx, conversationID, 1)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, ErrNotFound
	}
	return commits[0], nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, commitID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, sender_id, text, timestamp, status, created_at
		FROM commit_messages
		WHERE commit_id = ?
		ORDER BY seq ASC
	`, commitID)
	if err != nil {
		return nil, fmt.Errorf("querying commit messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			m         Message
			status    string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Text, &m.Timestamp, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning commit message: %w", err)
		}
		m.Status = Status(status)
		m.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanCommit(rows *sql.Rows) (*Commit, error) {
	var (
		c           Commit
		committedAt string
	)
	if err := rows.Scan(&c.ID, &c.ConversationID, &committedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning commit: %w", err)
	}
	t, err := time.Parse(timeLayout, committedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing committed_at: %w", err)
	}
	c.CommittedAt = t
	return &c, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
