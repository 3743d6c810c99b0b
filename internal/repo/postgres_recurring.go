package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
)

const runColumns = `id, task_name, scheduled_time, status, detail,
	       executed_at, error_message, created_at, updated_at`

type PostgresRecurringTaskRepo struct {
	db *sql.DB
}

func NewPostgresRecurringTaskRepo(db *sql.DB) *PostgresRecurringTaskRepo {
	return &PostgresRecurringTaskRepo{db: db}
}

func (r *PostgresRecurringTaskRepo) InsertRun(ctx context.Context, run *model.RecurringTaskRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = model.Pending
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO recurring_task_runs (id, task_name, scheduled_time, status, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, run.ID, run.TaskName, run.ScheduledTime.UTC(), string(run.Status), run.Detail)

	if err := row.Scan(&run.CreatedAt, &run.UpdatedAt); err != nil {
		return fmt.Errorf("insert recurring task run: %w", err)
	}
	return nil
}

func (r *PostgresRecurringTaskRepo) ListRuns(ctx context.Context, status *model.Status, limit int) ([]model.RecurringTaskRun, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+runColumns+`
			FROM recurring_task_runs
			WHERE status = $1
			ORDER BY scheduled_time ASC
			LIMIT $2
		`, string(*status), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+runColumns+`
			FROM recurring_task_runs
			ORDER BY scheduled_time ASC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func (r *PostgresRecurringTaskRepo) NextPendingByTask(ctx context.Context, taskName string) (*model.RecurringTaskRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM recurring_task_runs
		WHERE task_name = $1 AND status = 'pending'
		ORDER BY scheduled_time ASC
		LIMIT 1
	`, taskName)
	return scanRun(row)
}

func (r *PostgresRecurringTaskRepo) CancelPendingByTask(ctx context.Context, taskName string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_task_runs
		SET status = 'cancelled', updated_at = now()
		WHERE task_name = $1 AND status = 'pending'
	`, taskName)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRecurringTaskRepo) MarkRunCompleted(ctx context.Context, id uuid.UUID, detail string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_task_runs
		SET status = 'completed', executed_at = now(), detail = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, detail)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (r *PostgresRecurringTaskRepo) MarkRunFailed(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_task_runs
		SET status = 'failed', executed_at = now(), error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, errMsg)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func scanRun(row rowScanner) (*model.RecurringTaskRun, error) {
	var (
		run        model.RecurringTaskRun
		status     string
		executedAt sql.NullTime
		errMsg     sql.NullString
	)

	err := row.Scan(
		&run.ID,
		&run.TaskName,
		&run.ScheduledTime,
		&status,
		&run.Detail,
		&executedAt,
		&errMsg,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Status = model.Status(status)
	run.ScheduledTime = run.ScheduledTime.UTC()
	if executedAt.Valid {
		t := executedAt.Time.UTC()
		run.ExecutedAt = &t
	}
	if errMsg.Valid {
		s := errMsg.String
		run.ErrorMessage = &s
	}
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]model.RecurringTaskRun, error) {
	defer rows.Close()

	var out []model.RecurringTaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}
