package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
)

// CreateTemplate inserts a new message template and returns it with its id
// set. Titles are unique routing keys, e.g. "G1-PRIVATE-DOWN".
func (s *Store) CreateTemplate(ctx context.Context, t domain.Template) (domain.Template, error) {
	t.Title = strings.TrimSpace(t.Title)
	res, err := s.db.ExecContext(ctx, `INSERT INTO templates(title, content) VALUES(?, ?)`, t.Title, t.Content)
	if err != nil {
		return domain.Template{}, err
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

// ListTemplates returns all templates ordered by title.
func (s *Store) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, content FROM templates ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.ID, &t.Title, &t.Content); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTemplateByTitle resolves a routing key to its template. Matching is
// case-insensitive.
func (s *Store) GetTemplateByTitle(ctx context.Context, title string) (domain.Template, error) {
	var t domain.Template
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, content FROM templates WHERE title = ? COLLATE NOCASE`, strings.TrimSpace(title)).
		Scan(&t.ID, &t.Title, &t.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	return t, err
}

// UpdateTemplate overwrites an existing template.
func (s *Store) UpdateTemplate(ctx context.Context, t domain.Template) error {
	res, err := s.db.ExecContext(ctx, `UPDATE templates SET title = ?, content = ? WHERE id = ?`,
		strings.TrimSpace(t.Title), t.Content, t.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrTemplateNotFound
	}
	return nil
}

// InsertMessageLog records one delivery attempt.
func (s *Store) InsertMessageLog(ctx context.Context, m domain.MessageLog) (domain.MessageLog, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var sentAt any
	if m.SentAt != nil {
		sentAt = m.SentAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO message_logs(client_id, template_id, title, message, status, created_at, sent_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		m.ClientID, m.TemplateID, m.Title, m.Message, m.Status, m.CreatedAt, sentAt)
	if err != nil {
		return domain.MessageLog{}, err
	}
	m.ID, err = res.LastInsertId()
	return m, err
}

// SetMessageLogStatus finalizes a delivery attempt. A sent status also stamps
// sent_at.
func (s *Store) SetMessageLogStatus(ctx context.Context, id int64, status string) error {
	var sentAt any
	if status == domain.MessageStatusSent {
		sentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE message_logs SET status = ?, sent_at = ? WHERE id = ?`, status, sentAt, id)
	return err
}

// ListMessageLogs returns the most recent delivery attempts, newest first.
func (s *Store) ListMessageLogs(ctx context.Context, limit int) ([]domain.MessageLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, client_id, template_id, title, message, status, created_at, sent_at
FROM message_logs
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.MessageLog
	for rows.Next() {
		var m domain.MessageLog
		var sentAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ClientID, &m.TemplateID, &m.Title, &m.Message, &m.Status, &m.CreatedAt, &sentAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
