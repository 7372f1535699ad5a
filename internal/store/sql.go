package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sindi-homes/assistant/internal/model"
)

const conversationColumns = `id, profile_id, title, status, messages, is_shared, share_token,
	share_created_at, share_expires_at, message_count, last_activity, created_at, updated_at, version`

// SQLStore stores conversations in a relational database. Messages are kept
// as a JSON column so a conversation is written in a single statement.
// Timestamps are unix milliseconds.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL connects to the database for driver (sqlite3, mysql or postgres).
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn must be provided", driver)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// A single connection keeps :memory: databases coherent.
		db.SetMaxOpenConns(1)
	case "mysql":
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres", "postgresql":
		driver = "postgres"
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Migrate ensures the conversations table exists.
func (s *SQLStore) Migrate(ctx context.Context) error {
	var stmts []string
	switch s.driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				profile_id TEXT NOT NULL,
				title TEXT NOT NULL,
				status TEXT NOT NULL,
				messages TEXT NOT NULL,
				is_shared INTEGER NOT NULL DEFAULT 0,
				share_token TEXT,
				share_created_at INTEGER,
				share_expires_at INTEGER,
				message_count INTEGER NOT NULL DEFAULT 0,
				last_activity INTEGER NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				version INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_profile ON conversations(profile_id, last_activity DESC)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_share_token ON conversations(share_token)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id VARCHAR(64) NOT NULL,
				profile_id VARCHAR(128) NOT NULL,
				title VARCHAR(255) NOT NULL,
				status VARCHAR(16) NOT NULL,
				messages LONGTEXT NOT NULL,
				is_shared TINYINT(1) NOT NULL DEFAULT 0,
				share_token VARCHAR(128) NULL,
				share_created_at BIGINT NULL,
				share_expires_at BIGINT NULL,
				message_count INT NOT NULL DEFAULT 0,
				last_activity BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				version BIGINT NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_conversations_profile (profile_id, last_activity),
				UNIQUE KEY idx_conversations_share_token (share_token)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				profile_id TEXT NOT NULL,
				title TEXT NOT NULL,
				status TEXT NOT NULL,
				messages TEXT NOT NULL,
				is_shared BOOLEAN NOT NULL DEFAULT FALSE,
				share_token TEXT UNIQUE,
				share_created_at BIGINT,
				share_expires_at BIGINT,
				message_count INTEGER NOT NULL DEFAULT 0,
				last_activity BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL,
				version BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_profile ON conversations(profile_id, last_activity DESC)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", s.driver)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", s.driver, err)
		}
	}
	return nil
}

// Create implements ConversationStore.
func (s *SQLStore) Create(ctx context.Context, conv *model.Conversation) error {
	conv.Version = 1
	r, err := toRow(conv)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), r.args()...)
	if err != nil {
		if _, getErr := s.Get(ctx, conv.ID, conv.ProfileID); getErr == nil {
			return ErrExists
		}
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

// Get implements ConversationStore.
func (s *SQLStore) Get(ctx context.Context, id, profileID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+conversationColumns+`
		FROM conversations WHERE id = ? AND profile_id = ?
	`), id, profileID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return conv, nil
}

// List implements ConversationStore.
func (s *SQLStore) List(ctx context.Context, profileID string, q model.ListQuery) ([]*model.Conversation, int, error) {
	where := `profile_id = ? AND status <> ?`
	args := []any{profileID, string(model.StatusDeleted)}
	if q.Status != "" {
		where = `profile_id = ? AND status = ?`
		args = []any{profileID, string(q.Status)}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM conversations WHERE `+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting conversations: %w", err)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE ` + where +
		` ORDER BY last_activity DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = total
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, total, nil
}

// Update implements ConversationStore.
func (s *SQLStore) Update(ctx context.Context, conv *model.Conversation) error {
	next := conv.Clone()
	next.Version = conv.Version + 1
	r, err := toRow(next)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE conversations SET
			title = ?, status = ?, messages = ?, is_shared = ?, share_token = ?,
			share_created_at = ?, share_expires_at = ?, message_count = ?,
			last_activity = ?, updated_at = ?, version = ?
		WHERE id = ? AND profile_id = ? AND version = ?
	`),
		r.title, r.status, r.messages, r.isShared, r.shareToken,
		r.shareCreatedAt, r.shareExpiresAt, r.messageCount,
		r.lastActivity, r.updatedAt, r.version,
		r.id, r.profileID, conv.Version,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, conv.ID, conv.ProfileID); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	conv.Version = next.Version
	return nil
}

// FindByShareToken implements ConversationStore.
func (s *SQLStore) FindByShareToken(ctx context.Context, token string, now time.Time) (*model.Conversation, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE share_token = ? AND is_shared = ? AND share_expires_at > ? AND status <> ?
	`), token, true, now.UnixMilli(), string(model.StatusDeleted))

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding shared conversation: %w", err)
	}
	return conv, nil
}

// Ping implements ConversationStore.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements ConversationStore.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type row struct {
	id             string
	profileID      string
	title          string
	status         string
	messages       string
	isShared       bool
	shareToken     sql.NullString
	shareCreatedAt sql.NullInt64
	shareExpiresAt sql.NullInt64
	messageCount   int
	lastActivity   int64
	createdAt      int64
	updatedAt      int64
	version        int64
}

func (r *row) args() []any {
	return []any{
		r.id, r.profileID, r.title, r.status, r.messages, r.isShared, r.shareToken,
		r.shareCreatedAt, r.shareExpiresAt, r.messageCount, r.lastActivity,
		r.createdAt, r.updatedAt, r.version,
	}
}

func toRow(conv *model.Conversation) (*row, error) {
	msgs := conv.Messages
	if msgs == nil {
		msgs = []model.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encoding messages: %w", err)
	}

	r := &row{
		id:           conv.ID,
		profileID:    conv.ProfileID,
		title:        conv.Title,
		status:       string(conv.Status),
		messages:     string(data),
		isShared:     conv.Sharing.IsShared,
		messageCount: conv.Analytics.MessageCount,
		lastActivity: conv.Analytics.LastActivity.UnixMilli(),
		createdAt:    conv.CreatedAt.UnixMilli(),
		updatedAt:    conv.UpdatedAt.UnixMilli(),
		version:      conv.Version,
	}
	if conv.Sharing.Token != "" {
		r.shareToken = sql.NullString{String: conv.Sharing.Token, Valid: true}
	}
	if conv.Sharing.CreatedAt != nil {
		r.shareCreatedAt = sql.NullInt64{Int64: conv.Sharing.CreatedAt.UnixMilli(), Valid: true}
	}
	if conv.Sharing.ExpiresAt != nil {
		r.shareExpiresAt = sql.NullInt64{Int64: conv.Sharing.ExpiresAt.UnixMilli(), Valid: true}
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(sc scanner) (*model.Conversation, error) {
	var r row
	if err := sc.Scan(
		&r.id, &r.profileID, &r.title, &r.status, &r.messages, &r.isShared, &r.shareToken,
		&r.shareCreatedAt, &r.shareExpiresAt, &r.messageCount, &r.lastActivity,
		&r.createdAt, &r.updatedAt, &r.version,
	); err != nil {
		return nil, err
	}

	conv := &model.Conversation{
		ID:        r.id,
		ProfileID: r.profileID,
		Title:     r.title,
		Status:    model.Status(r.status),
		Sharing: model.Sharing{
			IsShared: r.isShared,
			Token:    r.shareToken.String,
		},
		Analytics: model.Analytics{
			MessageCount: r.messageCount,
			LastActivity: time.UnixMilli(r.lastActivity).UTC(),
		},
		CreatedAt: time.UnixMilli(r.createdAt).UTC(),
		UpdatedAt: time.UnixMilli(r.updatedAt).UTC(),
		Version:   r.version,
	}
	if r.shareCreatedAt.Valid {
		t := time.UnixMilli(r.shareCreatedAt.Int64).UTC()
		conv.Sharing.CreatedAt = &t
	}
	if r.shareExpiresAt.Valid {
		t := time.UnixMilli(r.shareExpiresAt.Int64).UTC()
		conv.Sharing.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(r.messages), &conv.Messages); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return conv, nil
}
