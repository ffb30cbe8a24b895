package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/garnizeh/expertfeed/pkg/models"
	"github.com/garnizeh/expertfeed/pkg/repository"
)

const questionColumns = `id, seeker_id, title, description, category, tags, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepo) CreateQuestion(ctx context.Context, q *models.Question) error {
	if q == nil {
		return fmt.Errorf("question is nil")
	}
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrInvalid, err)
	}

	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Status == "" {
		q.Status = models.QuestionPending
	}
	ts := now()
	q.CreatedAt = fromMillis(ts)
	q.UpdatedAt = q.CreatedAt

	tags, err := encodeList(q.Tags)
	if err != nil {
		return err
	}
	_, err = r.conn.Exec(ctx, `INSERT INTO questions (`+questionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, nullableID(q.SeekerID), q.Title, q.Description, q.Category, tags, string(q.Status), ts, ts)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	r.logger.Debug("question created", "id", q.ID, "category", q.Category, "tags", len(q.Tags))
	return nil
}

func (r *SQLiteRepo) UpdateQuestion(ctx context.Context, q *models.Question) (*models.Question, error) {
	if q == nil {
		return nil, fmt.Errorf("question is nil")
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrInvalid, err)
	}
	tags, err := encodeList(q.Tags)
	if err != nil {
		return nil, err
	}

	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := scanQuestion(tx.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, q.ID))
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, fmt.Errorf("question %s: %w", q.ID, repository.ErrNotFound)
	}

	if q.Status == "" {
		q.Status = prev.Status
	}
	q.SeekerID = prev.SeekerID
	q.CreatedAt = prev.CreatedAt
	ts := max(now(), prev.CreatedAt.UnixMilli())
	q.UpdatedAt = fromMillis(ts)

	if _, err := tx.ExecContext(ctx, `UPDATE questions SET title = ?, description = ?, category = ?, tags = ?, status = ?, updated_at = ? WHERE id = ?`,
		q.Title, q.Description, q.Category, tags, string(q.Status), ts, q.ID); err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	r.logger.Debug("question updated", "id", q.ID, "status", q.Status)
	return prev, nil
}

func (r *SQLiteRepo) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	return scanQuestion(r.conn.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
}

func (r *SQLiteRepo) ListQuestions(ctx context.Context) ([]models.Question, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+questionColumns+` FROM questions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}

	return out, rows.Err()
}

func scanQuestion(s scanner) (*models.Question, error) {
	var (
		q                models.Question
		seeker           sql.NullInt64
		tags, status     string
		created, updated int64
	)
	if err := s.Scan(&q.ID, &seeker, &q.Title, &q.Description, &q.Category, &tags, &status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	var err error
	if q.Tags, err = decodeList[string](tags); err != nil {
		return nil, err
	}
	if seeker.Valid {
		q.SeekerID = seeker.Int64
	}
	q.Status = models.QuestionStatus(status)
	q.CreatedAt = fromMillis(created)
	q.UpdatedAt = fromMillis(updated)

	return &q, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
