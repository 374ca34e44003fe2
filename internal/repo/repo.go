package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"khidma/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) EnsureUser(ctx context.Context, id, name, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,created_at) VALUES (?,?,?)
ON CONFLICT(id) DO NOTHING`, id, nullable(name), now)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if name.Valid {
		u.Name = name.String
	}
	return u, err
}

func (r Repo) InsertConversation(ctx context.Context, c domain.Conversation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO conversations(id,user_id,title,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,title,created_at,updated_at FROM conversations WHERE id=?`, id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,title,created_at,updated_at FROM conversations WHERE user_id=? ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) TouchConversation(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at=? WHERE id=?`, now, id)
	return err
}

// InsertMessage appends a message. Messages are never updated afterwards.
func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	attJSON, err := marshalOrNil(m.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	callsJSON, err := marshalOrNil(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO messages(id,conversation_id,role,content,kind,attachments_json,tool_calls_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.ConversationID, m.Role, m.Content, nullable(m.Kind), attJSON, callsJSON, m.CreatedAt)
	return err
}

// ListMessages returns the full history of a conversation ordered by creation time.
func (r Repo) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,conversation_id,role,content,kind,attachments_json,tool_calls_json,created_at FROM messages WHERE conversation_id=? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, nil
}

func scanMessage(rows *sql.Rows) (domain.Message, error) {
	var m domain.Message
	var kind, attJSON, callsJSON sql.NullString
	if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &kind, &attJSON, &callsJSON, &m.CreatedAt); err != nil {
		return m, err
	}
	if kind.Valid {
		m.Kind = kind.String
	}
	if attJSON.Valid && attJSON.String != "" {
		if err := json.Unmarshal([]byte(attJSON.String), &m.Attachments); err != nil {
			return m, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if callsJSON.Valid && callsJSON.String != "" {
		if err := json.Unmarshal([]byte(callsJSON.String), &m.ToolCalls); err != nil {
			return m, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	return m, nil
}

func marshalOrNil(v any) (any, error) {
	switch t := v.(type) {
	case []domain.Attachment:
		if len(t) == 0 {
			return nil, nil
		}
	case []domain.ToolInvocation:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func buildWhere(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}
