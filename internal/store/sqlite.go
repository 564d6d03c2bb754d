package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alex-trdst/gemini-image-chat/internal/domain"
	"github.com/alex-trdst/gemini-image-chat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	appendMu sync.Mutex // serializes message appends to keep seq assignment race-free
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS image_chat_sessions (
		id TEXT PRIMARY KEY,
		title TEXT,
		image_purpose TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		style_preset TEXT,
		brand_guidelines TEXT,
		final_image_url TEXT,
		messages_count INTEGER NOT NULL DEFAULT 0,
		images_generated INTEGER NOT NULL DEFAULT 0,
		total_tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON image_chat_sessions(created_at);

	CREATE TABLE IF NOT EXISTS image_chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES image_chat_sessions(id),
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content_type TEXT NOT NULL,
		text_content TEXT,
		image_url TEXT,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		generation_time_ms INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON image_chat_messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS generated_images (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES image_chat_sessions(id),
		message_id TEXT NOT NULL REFERENCES image_chat_messages(id),
		image_url TEXT NOT NULL,
		width INTEGER,
		height INTEGER,
		format TEXT NOT NULL DEFAULT 'png',
		prompt_used TEXT NOT NULL,
		model_used TEXT NOT NULL,
		image_purpose TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_images_session ON generated_images(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession persists a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO image_chat_sessions
		(id, title, image_purpose, status, style_preset, brand_guidelines,
		 final_image_url, messages_count, images_generated, total_tokens_used,
		 created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, nullable(session.Title), string(session.ImagePurpose),
		string(session.Status), nullable(string(session.StylePreset)),
		nullable(session.BrandGuidelines), nullable(session.FinalImageURL),
		session.MessagesCount, session.ImagesGenerated, session.TotalTokensUsed,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
	SELECT id, title, image_purpose, status, style_preset, brand_guidelines,
	       final_image_url, messages_count, images_generated, total_tokens_used,
	       created_at, updated_at
	FROM image_chat_sessions WHERE id = ?`

	return scanSession(s.db.QueryRowContext(ctx, query, id))
}

// ListSessions returns a page of sessions plus the total count.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int, status domain.SessionStatus) ([]*domain.Session, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	countQuery := `SELECT COUNT(*) FROM image_chat_sessions`
	listQuery := `
	SELECT id, title, image_purpose, status, style_preset, brand_guidelines,
	       final_image_url, messages_count, images_generated, total_tokens_used,
	       created_at, updated_at
	FROM image_chat_sessions`

	args := []any{}
	if status != "" {
		countQuery += ` WHERE status = ?`
		listQuery += ` WHERE status = ?`
		args = append(args, string(status))
	}
	listQuery += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, listQuery, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, total, nil
}

// DeleteSession removes a session and cascades to its messages and images.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, `DELETE FROM generated_images WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete images: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM image_chat_messages WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM image_chat_sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return rows > 0, nil
}

// AppendMessage appends a message, assigning the next sequence number.
// SQLite conflict errors are retried a few times; the append mutex keeps
// seq assignment serial within this process.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		if err = s.appendMessageOnce(ctx, msg); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflict(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

const appendRetries = 3

func (s *SQLiteStore) appendMessageOnce(ctx context.Context, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM image_chat_messages WHERE session_id = ?`,
		msg.SessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	query := `
	INSERT INTO image_chat_messages
		(id, session_id, seq, role, content_type, text_content, image_url,
		 tokens_used, generation_time_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var genTime any
	if msg.GenerationTimeMs > 0 {
		genTime = msg.GenerationTimeMs
	}

	_, err = tx.ExecContext(ctx, query,
		msg.ID, msg.SessionID, seq, string(msg.Role), string(msg.ContentType),
		nullable(msg.TextContent), nullable(msg.ImageURL),
		msg.TokensUsed, genTime, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	msg.Seq = seq
	return nil
}

// ListMessages returns all messages of a session in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	query := `
	SELECT id, session_id, seq, role, content_type, text_content, image_url,
	       tokens_used, generation_time_ms, created_at
	FROM image_chat_messages WHERE session_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var text, imageURL sql.NullString
		var genTime sql.NullInt64
		var role, contentType string
		var createdAt int64

		err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Seq, &role, &contentType,
			&text, &imageURL, &msg.TokensUsed, &genTime, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Role = domain.MessageRole(role)
		msg.ContentType = domain.ContentType(contentType)
		msg.TextContent = text.String
		msg.ImageURL = imageURL.String
		msg.GenerationTimeMs = genTime.Int64
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// SaveGeneratedImage records a successfully generated image.
func (s *SQLiteStore) SaveGeneratedImage(ctx context.Context, img *domain.GeneratedImage) error {
	query := `
	INSERT INTO generated_images
		(id, session_id, message_id, image_url, width, height, format,
		 prompt_used, model_used, image_purpose, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		img.ID, img.SessionID, img.MessageID, img.ImageURL,
		zeroNull(img.Width), zeroNull(img.Height), img.Format,
		img.PromptUsed, img.ModelUsed, string(img.ImagePurpose),
		img.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert generated image: %w", err)
	}
	return nil
}

// GetGeneratedImage retrieves an image by id.
func (s *SQLiteStore) GetGeneratedImage(ctx context.Context, id string) (*domain.GeneratedImage, error) {
	query := `
	SELECT id, session_id, message_id, image_url, width, height, format,
	       prompt_used, model_used, image_purpose, created_at
	FROM generated_images WHERE id = ?`

	return scanImage(s.db.QueryRowContext(ctx, query, id))
}

// LatestGeneratedImage returns a session's most recent image.
func (s *SQLiteStore) LatestGeneratedImage(ctx context.Context, sessionID string) (*domain.GeneratedImage, error) {
	query := `
	SELECT id, session_id, message_id, image_url, width, height, format,
	       prompt_used, model_used, image_purpose, created_at
	FROM generated_images WHERE session_id = ?
	ORDER BY created_at DESC, rowid DESC LIMIT 1`

	return scanImage(s.db.QueryRowContext(ctx, query, sessionID))
}

// BumpSessionCounters applies per-turn accounting to a session.
func (s *SQLiteStore) BumpSessionCounters(ctx context.Context, sessionID string, messages, images, tokens int, finalImageURL string) error {
	query := `
	UPDATE image_chat_sessions SET
		messages_count = messages_count + ?,
		images_generated = images_generated + ?,
		total_tokens_used = total_tokens_used + ?,
		final_image_url = COALESCE(NULLIF(?, ''), final_image_url),
		updated_at = ?
	WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		messages, images, tokens, finalImageURL, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("bump session counters: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var title, style, brand, finalURL sql.NullString
	var purpose, status string
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.ID, &title, &purpose, &status, &style, &brand,
		&finalURL, &session.MessagesCount, &session.ImagesGenerated,
		&session.TotalTokensUsed, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Title = title.String
	session.ImagePurpose = domain.ImagePurpose(purpose)
	session.Status = domain.SessionStatus(status)
	session.StylePreset = domain.StylePreset(style.String)
	session.BrandGuidelines = brand.String
	session.FinalImageURL = finalURL.String
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

func scanImage(row rowScanner) (*domain.GeneratedImage, error) {
	var img domain.GeneratedImage
	var width, height sql.NullInt64
	var purpose string
	var createdAt int64

	err := row.Scan(
		&img.ID, &img.SessionID, &img.MessageID, &img.ImageURL,
		&width, &height, &img.Format, &img.PromptUsed, &img.ModelUsed,
		&purpose, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan image row: %w", err)
	}

	img.Width = int(width.Int64)
	img.Height = int(height.Int64)
	img.ImagePurpose = domain.ImagePurpose(purpose)
	img.CreatedAt = time.Unix(createdAt, 0)
	return &img, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func zeroNull(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
