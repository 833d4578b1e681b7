package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"frontdesk/internal/domain"
)

// SQLiteStore implements domain.ConversationStore and domain.DecisionLog
// on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

const conversationColumns = `id, key, channel, status, handoff_confirm_pending, uncertain_count,
	last_agent_activity_at, last_meaningful_user_text, last_user_question_text,
	last_reply_fingerprint, last_reply_at, first_name, language,
	created_at, updated_at, last_message_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		c                           domain.Conversation
		status                      string
		pending                     int
		agentAt, replyAt, messageAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Key, &c.Channel, &status, &pending, &c.UncertainCount,
		&agentAt, &c.LastMeaningfulUserText, &c.LastUserQuestionText,
		&c.LastReplyFingerprint, &replyAt, &c.FirstName, &c.Language,
		&c.CreatedAt, &c.UpdatedAt, &messageAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.Status(status)
	c.HandoffConfirmPending = pending != 0
	c.LastAgentActivityAt = timePtr(agentAt)
	c.LastReplyAt = timePtr(replyAt)
	c.LastMessageAt = timePtr(messageAt)
	return &c, nil
}

func (s *SQLiteStore) FindOrCreate(ctx context.Context, key string) (*domain.Conversation, error) {
	if key == "" {
		return nil, errors.New("empty conversation key")
	}
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, key, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), key, string(domain.StatusAuto), now, now,
	); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE key = ?`, key))
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", key, err)
	}
	return conv, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return conv, nil
}

func (s *SQLiteStore) Append(ctx context.Context, conversationID string, role domain.Role, text, externalID string) (*domain.Message, error) {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if role == domain.RoleAgent {
		res, err = tx.ExecContext(ctx,
			`UPDATE conversations SET status = ?, last_agent_activity_at = ?, uncertain_count = 0,
			 handoff_confirm_pending = 0, updated_at = ?, last_message_at = ? WHERE id = ?`,
			string(domain.StatusHuman), now, now, now, conversationID)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ?, last_message_at = ? WHERE id = ?`,
			now, now, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, text, external_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(role), text, externalID, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return &domain.Message{
		ID:             strconv.FormatInt(id, 10),
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		ExternalID:     externalID,
		CreatedAt:      now,
	}, nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	now := s.now().UTC()
	var (
		res sql.Result
		err error
	)
	if status == domain.StatusHuman {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET status = ?, last_agent_activity_at = ?, uncertain_count = 0,
			 handoff_confirm_pending = 0, updated_at = ? WHERE id = ?`,
			string(status), now, now, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET status = ?, uncertain_count = 0, handoff_confirm_pending = 0, updated_at = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, c *domain.Conversation) error {
	c.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET channel=?, status=?, handoff_confirm_pending=?, uncertain_count=?,
		 last_agent_activity_at=?, last_meaningful_user_text=?, last_user_question_text=?,
		 last_reply_fingerprint=?, last_reply_at=?, first_name=?, language=?, updated_at=?
		 WHERE id=?`,
		c.Channel, string(c.Status), boolInt(c.HandoffConfirmPending), c.UncertainCount,
		nullTime(c.LastAgentActivityAt), c.LastMeaningfulUserText, c.LastUserQuestionText,
		c.LastReplyFingerprint, nullTime(c.LastReplyAt), c.FirstName, c.Language, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, f domain.ConversationFilter) ([]domain.Conversation, error) {
	limit, offset := clampPage(f)
	query := `SELECT ` + conversationColumns + ` FROM conversations`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY COALESCE(last_message_at, created_at) DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Messages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > maxMessages {
		limit = maxMessages
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, external_id, created_at FROM (
			SELECT id, role, text, external_id, created_at FROM messages
			WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m    domain.Message
			id   int64
			role string
		)
		if err := rows.Scan(&id, &role, &m.Text, &m.ExternalID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID = strconv.FormatInt(id, 10)
		m.ConversationID = conversationID
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LogDecision(ctx context.Context, e domain.DecisionLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_log (conversation_id, path, outcome, reason, faq_ids, confidence, model, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ConversationID, e.Path, e.Outcome, e.Reason, strings.Join(e.FAQIDs, ","),
		e.Confidence, e.Model, e.LatencyMs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
