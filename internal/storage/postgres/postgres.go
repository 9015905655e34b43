package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/letsssgooo/examSession/internal/domain/models"
	"github.com/letsssgooo/examSession/internal/storage"
)

const schema = `
	CREATE TABLE IF NOT EXISTS assessment_results (
		submission_id TEXT PRIMARY KEY,
		assessment_id TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		question_ids  TEXT[] NOT NULL,
		answers       TEXT[] NOT NULL,
		correct       BOOLEAN[] NOT NULL,
		points        DOUBLE PRECISION NOT NULL,
		max_points    DOUBLE PRECISION NOT NULL,
		percentage    DOUBLE PRECISION NOT NULL,
		graded_at     TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS assessment_results_user_idx ON assessment_results (user_id, graded_at);
	`

// Storage реализует storage.Storage поверх PostgreSQL.
type Storage struct {
	pool *pgxpool.Pool
}

var _ storage.Storage = (*Storage)(nil)

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Storage{pool: pool}, nil
}

// EnsureSchema создает таблицу результатов, если ее еще нет.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) SaveResult(ctx context.Context, rec *models.ResultRecord) error {
	query := `
	INSERT INTO assessment_results (
		submission_id, assessment_id, user_id, question_ids, answers, correct,
		points, max_points, percentage, graded_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (submission_id) DO UPDATE SET
		question_ids = EXCLUDED.question_ids,
		answers = EXCLUDED.answers,
		correct = EXCLUDED.correct,
		points = EXCLUDED.points,
		max_points = EXCLUDED.max_points,
		percentage = EXCLUDED.percentage,
		graded_at = EXCLUDED.graded_at
	`

	_, err := s.pool.Exec(ctx, query,
		rec.SubmissionID,
		rec.AssessmentID,
		rec.UserID,
		nonNil(rec.QuestionIDs),
		nonNil(rec.Answers),
		nonNil(rec.Correct),
		rec.Points,
		rec.MaxPoints,
		rec.Percentage,
		rec.GradedAt,
	)

	return err
}

func (s *Storage) GetResult(ctx context.Context, submissionID string) (*models.ResultRecord, error) {
	query := `
	SELECT submission_id, assessment_id, user_id, question_ids, answers, correct,
		points, max_points, percentage, graded_at
	FROM assessment_results WHERE submission_id = $1
	`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, submissionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *Storage) ListResults(ctx context.Context, userID string) ([]*models.ResultRecord, error) {
	query := `
	SELECT submission_id, assessment_id, user_id, question_ids, answers, correct,
		points, max_points, percentage, graded_at
	FROM assessment_results WHERE user_id = $1 ORDER BY graded_at
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*models.ResultRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}

	return list, rows.Err()
}

func scanRecord(row pgx.Row) (*models.ResultRecord, error) {
	var rec models.ResultRecord

	err := row.Scan(
		&rec.SubmissionID,
		&rec.AssessmentID,
		&rec.UserID,
		&rec.QuestionIDs,
		&rec.Answers,
		&rec.Correct,
		&rec.Points,
		&rec.MaxPoints,
		&rec.Percentage,
		&rec.GradedAt,
	)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// nonNil заменяет nil на пустой срез, колонки массивов объявлены NOT NULL.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
