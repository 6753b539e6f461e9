package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure-Go SQLite driver, registered as "sqlite"
)

// Driver names accepted by SQLConfig.Driver.
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	// Driver selects the database/sql driver.
	// Default: "sqlite"
	Driver string

	// Path is the database file.
	Path string

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often the WAL is folded into the main file.
	// Default: 5 minutes
	CheckpointInterval time.Duration
}

// SQLStore is a Store backed by a SQLite database.
type SQLStore struct {
	db     *sql.DB
	config SQLConfig
	logger *slog.Logger

	incrementUsageStmt *sql.Stmt
	getUserStmt        *sql.Stmt

	done      chan struct{}
	closeOnce sync.Once
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	is_admin INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	quota INTEGER NOT NULL DEFAULT 100,
	usage_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_login INTEGER
);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL UNIQUE,
	value TEXT NOT NULL,
	user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blocked_keywords (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	keyword TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	created_by INTEGER REFERENCES users(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS models (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	api_endpoint TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	added_by INTEGER REFERENCES users(id) ON DELETE SET NULL
);
`

// NewSQLStore opens (creating if needed) the database at cfg.Path.
func NewSQLStore(cfg SQLConfig) (*SQLStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection also keeps per-connection
	// pragmas in force.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLStore{
		db:     db,
		config: cfg,
		logger: slog.Default().With("component", "storage.sqlite", "driver", cfg.Driver),
		done:   make(chan struct{}),
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	go s.checkpointLoop()

	s.logger.Info("sqlite store opened", "path", cfg.Path)
	return s, nil
}

func (s *SQLStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", s.config.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var err error
	s.incrementUsageStmt, err = s.db.Prepare(`UPDATE users SET usage_count = usage_count + 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare usage statement: %w", err)
	}
	s.getUserStmt, err = s.db.Prepare(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare user statement: %w", err)
	}
	return nil
}

func (s *SQLStore) checkpointLoop() {
	ticker := time.NewTicker(s.config.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				s.logger.Warn("wal checkpoint failed", "error", err)
			}
		}
	}
}

const userColumns = `id, username, password, is_admin, is_active, quota, usage_count, created_at, last_login`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		createdAt int64
		lastLogin sql.NullInt64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.IsActive,
		&u.Quota, &u.UsageCount, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	if lastLogin.Valid {
		t := fromMillis(lastLogin.Int64)
		u.LastLogin = &t
	}
	return &u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, password, is_admin, is_active, quota, usage_count, created_at)
		 VALUES (?, ?, ?, 1, ?, 0, ?)`,
		username, passwordHash, count == 0, DefaultQuota, millis(time.Now()))
	if err != nil {
		return nil, mapConstraint(err, "failed to create user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.getUserStmt.QueryRowContext(ctx, id))
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateUser(ctx context.Context, id int64, update UserUpdate) (*User, error) {
	var (
		sets []string
		args []any
	)
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *update.IsActive)
	}
	if update.Quota != nil {
		sets = append(sets, "quota = ?")
		args = append(args, *update.Quota)
	}
	if update.IsAdmin != nil {
		sets = append(sets, "is_admin = ?")
		args = append(args, *update.IsAdmin)
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrNotFound
		}
	}
	return s.GetUser(ctx, id)
}

func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *SQLStore) IncrementUsage(ctx context.Context, id int64) (*User, error) {
	res, err := s.incrementUsageStmt.ExecContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *SQLStore) ResetUsage(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET usage_count = 0 WHERE usage_count != 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) TouchLogin(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c         Conversation
		createdAt int64
	)
	err := row.Scan(&c.ID, &c.Title, &c.UserID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func (s *SQLStore) ListConversations(ctx context.Context, userID int64) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, user_id, created_at FROM conversations WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]*Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateConversation(ctx context.Context, userID int64, title string) (*Conversation, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (title, user_id, created_at) VALUES (?, ?, ?)`,
		title, userID, millis(time.Now()))
	if err != nil {
		return nil, mapConstraint(err, "failed to create conversation")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, title, user_id, created_at FROM conversations WHERE id = ?`, id))
}

func (s *SQLStore) UpdateConversation(ctx context.Context, id int64, title string) (*Conversation, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLStore) DeleteConversation(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Explicit so the behaviour does not depend on foreign_keys being on.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		var (
			m         Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateMessage(ctx context.Context, conversationID int64, role, content string) (*Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, role, content, millis(now))
	if err != nil {
		return nil, mapConstraint(err, "failed to create message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, ConversationID: conversationID, Role: role, Content: content, CreatedAt: fromMillis(millis(now))}, nil
}

func (s *SQLStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var (
		st                   Setting
		userID               sql.NullInt64
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, value, user_id, created_at, updated_at FROM settings WHERE key = ?`, key).
		Scan(&st.ID, &st.Key, &st.Value, &userID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load setting: %w", err)
	}
	st.UserID = nullableID(userID)
	st.CreatedAt = fromMillis(createdAt)
	st.UpdatedAt = fromMillis(updatedAt)
	return &st, nil
}

func (s *SQLStore) PutSetting(ctx context.Context, key, value string, userID *int64) (*Setting, error) {
	now := millis(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nullable(userID), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save setting: %w", err)
	}
	return s.GetSetting(ctx, key)
}

func (s *SQLStore) ListKeywords(ctx context.Context) ([]*BlockedKeyword, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, keyword, created_at, created_by FROM blocked_keywords ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	out := make([]*BlockedKeyword, 0)
	for rows.Next() {
		var (
			k         BlockedKeyword
			createdAt int64
			createdBy sql.NullInt64
		)
		if err := rows.Scan(&k.ID, &k.Keyword, &createdAt, &createdBy); err != nil {
			return nil, err
		}
		k.CreatedAt = fromMillis(createdAt)
		k.CreatedBy = nullableID(createdBy)
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateKeyword(ctx context.Context, keyword string, createdBy *int64) (*BlockedKeyword, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO blocked_keywords (keyword, created_at, created_by) VALUES (?, ?, ?)`,
		keyword, millis(now), nullable(createdBy))
	if err != nil {
		return nil, mapConstraint(err, "failed to create keyword")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &BlockedKeyword{ID: id, Keyword: keyword, CreatedAt: fromMillis(millis(now)), CreatedBy: createdBy}, nil
}

func (s *SQLStore) DeleteKeyword(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocked_keywords WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete keyword: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const modelColumns = `id, name, display_name, api_endpoint, is_default, is_active, created_at, added_by`

func scanModel(row rowScanner) (*Model, error) {
	var (
		m         Model
		createdAt int64
		addedBy   sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.Name, &m.DisplayName, &m.APIEndpoint, &m.IsDefault, &m.IsActive, &createdAt, &addedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(createdAt)
	m.AddedBy = nullableID(addedBy)
	return &m, nil
}

func (s *SQLStore) ListModels(ctx context.Context) ([]*Model, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+modelColumns+` FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	out := make([]*Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetModel(ctx context.Context, id int64) (*Model, error) {
	return scanModel(s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = ?`, id))
}

func (s *SQLStore) GetModelByName(ctx context.Context, name string) (*Model, error) {
	return scanModel(s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE name = ?`, name))
}

func (s *SQLStore) GetDefaultModel(ctx context.Context) (*Model, error) {
	return scanModel(s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE is_default = 1 LIMIT 1`))
}

func (s *SQLStore) CreateModel(ctx context.Context, in *Model) (*Model, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM models`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count models: %w", err)
	}

	isDefault := in.IsDefault || count == 0
	if isDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE models SET is_default = 0`); err != nil {
			return nil, fmt.Errorf("failed to clear default model: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO models (name, display_name, api_endpoint, is_default, is_active, created_at, added_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.DisplayName, in.APIEndpoint, isDefault, in.IsActive, millis(time.Now()), nullable(in.AddedBy))
	if err != nil {
		return nil, mapConstraint(err, "failed to create model")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	m, err := scanModel(tx.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit model: %w", err)
	}
	return m, nil
}

func (s *SQLStore) SetDefaultModel(ctx context.Context, id int64) (*Model, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := scanModel(tx.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = ?`, id)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE models SET is_default = (id = ?)`, id); err != nil {
		return nil, fmt.Errorf("failed to set default model: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit default model: %w", err)
	}
	return s.GetModel(ctx, id)
}

func (s *SQLStore) DeleteModel(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	m, err := scanModel(tx.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = ?`, id))
	if err != nil {
		return err
	}
	if m.IsDefault {
		return ErrDefaultModel
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM models`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count models: %w", err)
	}
	if count <= 1 {
		return ErrLastModel
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the checkpoint loop and closes the database. Safe to call twice.
func (s *SQLStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.incrementUsageStmt != nil {
			s.incrementUsageStmt.Close()
		}
		if s.getUserStmt != nil {
			s.getUserStmt.Close()
		}
		err = s.db.Close()
	})
	return err
}

// mapConstraint turns a uniqueness violation into ErrConflict. Both
// drivers report it with SQLite's own message text.
func mapConstraint(err error, msg string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrConflict
	}
	if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullable(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
