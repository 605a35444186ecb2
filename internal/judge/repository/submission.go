package repository

import (
	"context"
	"errors"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSubmissionExists   = errors.New("submission already exists")
)

// SubmissionRepository persists submissions and their per-case results. The
// store is the authoritative record; queue mirrors only exist for latency.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Submission, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Submission, error)
	MarkQueued(ctx context.Context, id string) error
	MarkRunning(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, message string) error
	Complete(ctx context.Context, result *model.ExecutionResult) error
	Delete(ctx context.Context, tx db.Transaction, id string) error
}

type PostgresSubmissionRepository struct {
	db db.Database
}

func NewSubmissionRepository(database db.Database) SubmissionRepository {
	return &PostgresSubmissionRepository{db: database}
}

func (r *PostgresSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	now := time.Now().UTC()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now

	query := `
		INSERT INTO submissions (id, user_id, challenge_id, language, code, status, score, time_ms_total, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		submission.ID,
		submission.UserID,
		submission.ChallengeID,
		string(submission.Language),
		submission.Code,
		string(submission.Status),
		submission.Score,
		submission.TimeMSTotal,
		submission.ErrorMessage,
		submission.CreatedAt,
		submission.UpdatedAt,
	)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrSubmissionExists
	}
	return err
}

func (r *PostgresSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Submission, error) {
	query := `
		SELECT id, user_id, challenge_id, language, code, status, score, time_ms_total, error_message, created_at, updated_at
		FROM submissions
		WHERE id = $1`
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, id)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}

	cases, err := r.listCases(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	submission.Cases = cases
	return submission, nil
}

func (r *PostgresSubmissionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, user_id, challenge_id, language, code, status, score, time_ms_total, error_message, created_at, updated_at
		FROM submissions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	submissions := make([]*model.Submission, 0, limit)
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}

// MarkQueued resets a submission to QUEUED, clearing any stale error, so a
// requeued row matches its queue mirror while it waits again.
func (r *PostgresSubmissionRepository) MarkQueued(ctx context.Context, id string) error {
	return r.updateStatus(ctx, id, model.StatusQueued, "")
}

func (r *PostgresSubmissionRepository) MarkRunning(ctx context.Context, id string) error {
	return r.updateStatus(ctx, id, model.StatusRunning, "")
}

func (r *PostgresSubmissionRepository) MarkFailed(ctx context.Context, id string, message string) error {
	return r.updateStatus(ctx, id, model.StatusRuntimeError, message)
}

func (r *PostgresSubmissionRepository) updateStatus(ctx context.Context, id string, status model.Status, message string) error {
	query := `
		UPDATE submissions
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4`
	result, err := r.db.Exec(ctx, query, string(status), message, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// Complete applies a terminal result atomically: the aggregate row and the
// full per-case list are written in one transaction, replacing any cases
// from a previous judging pass.
func (r *PostgresSubmissionRepository) Complete(ctx context.Context, result *model.ExecutionResult) error {
	if result == nil || result.SubmissionID == "" {
		return errors.New("result is nil")
	}
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		query := `
			UPDATE submissions
			SET status = $1, score = $2, time_ms_total = $3, error_message = $4, updated_at = $5
			WHERE id = $6`
		res, err := tx.Exec(ctx, query,
			string(result.Status),
			result.Score,
			result.TimeMSTotal,
			result.ErrorMessage,
			time.Now().UTC(),
			result.SubmissionID,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrSubmissionNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM submission_cases WHERE submission_id = $1`, result.SubmissionID); err != nil {
			return err
		}
		insert := `
			INSERT INTO submission_cases (submission_id, case_id, status, time_ms, memory_mb, output, expected_output, error_message, order_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		for _, c := range result.Cases {
			if _, err := tx.Exec(ctx, insert,
				result.SubmissionID,
				c.CaseID,
				string(c.Status),
				c.TimeMS,
				c.MemoryMB,
				c.Output,
				c.ExpectedOutput,
				c.ErrorMessage,
				c.OrderIndex,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresSubmissionRepository) Delete(ctx context.Context, tx db.Transaction, id string) error {
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (r *PostgresSubmissionRepository) listCases(ctx context.Context, tx db.Transaction, submissionID string) ([]model.CaseRow, error) {
	query := `
		SELECT case_id, status, time_ms, memory_mb, output, expected_output, error_message, order_index
		FROM submission_cases
		WHERE submission_id = $1
		ORDER BY order_index ASC`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []model.CaseRow
	for rows.Next() {
		var c model.CaseRow
		var status string
		if err := rows.Scan(&c.CaseID, &status, &c.TimeMS, &c.MemoryMB, &c.Output, &c.ExpectedOutput, &c.ErrorMessage, &c.OrderIndex); err != nil {
			return nil, err
		}
		c.Status = model.Status(status)
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func scanSubmission(scanner db.Scanner) (*model.Submission, error) {
	var s model.Submission
	var language, status string
	err := scanner.Scan(
		&s.ID,
		&s.UserID,
		&s.ChallengeID,
		&language,
		&s.Code,
		&status,
		&s.Score,
		&s.TimeMSTotal,
		&s.ErrorMessage,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Language = model.Language(language)
	s.Status = model.Status(status)
	return &s, nil
}
