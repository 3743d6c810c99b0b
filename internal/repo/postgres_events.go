package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/the16thpythonist/lukas-chat-bear-sub001/internal/model"
)

const eventColumns = `id, event_type, scheduled_time, target_channel_id, target_channel_name,
	       message, status, job_id, created_by_user_id, created_by_user_name,
	       created_at, updated_at, executed_at, error_message`

type PostgresEventRepo struct {
	db *sql.DB
}

func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

func (r *PostgresEventRepo) Create(ctx context.Context, ev *model.ScheduledEvent) (*model.ScheduledEvent, error) {
	if ev.EventType == "" {
		ev.EventType = model.EventTypeChannelMessage
	}
	if ev.Status == "" {
		ev.Status = model.Pending
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_events
			(event_type, scheduled_time, target_channel_id, target_channel_name,
			 message, status, created_by_user_id, created_by_user_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`,
		ev.EventType,
		ev.ScheduledTime.UTC(),
		ev.TargetChannelID,
		nullStr(ev.TargetChannelName),
		ev.Message,
		string(ev.Status),
		ev.CreatedByUserID,
		ev.CreatedByUserName,
	)

	out := *ev
	if err := row.Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert scheduled event: %w", err)
	}
	return &out, nil
}

func (r *PostgresEventRepo) GetByID(ctx context.Context, id int64) (*model.ScheduledEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM scheduled_events
		WHERE id = $1
	`, id)
	return scanEvent(row)
}

func (r *PostgresEventRepo) GetByJobID(ctx context.Context, jobID string) (*model.ScheduledEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM scheduled_events
		WHERE job_id = $1
	`, jobID)
	return scanEvent(row)
}

func (r *PostgresEventRepo) List(ctx context.Context, status *model.Status, limit, offset int) ([]model.ScheduledEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+eventColumns+`
			FROM scheduled_events
			WHERE status = $1
			ORDER BY scheduled_time ASC
			LIMIT $2 OFFSET $3
		`, string(*status), limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+eventColumns+`
			FROM scheduled_events
			ORDER BY scheduled_time ASC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r *PostgresEventRepo) ListPending(ctx context.Context) ([]model.ScheduledEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM scheduled_events
		WHERE status = 'pending'
		ORDER BY scheduled_time ASC
	`)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r *PostgresEventRepo) ListUpcoming(ctx context.Context, limit int) ([]model.ScheduledEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM scheduled_events
		WHERE status = 'pending' AND scheduled_time > now()
		ORDER BY scheduled_time ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r *PostgresEventRepo) ListByCreator(ctx context.Context, userID string) ([]model.ScheduledEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM scheduled_events
		WHERE created_by_user_id = $1
		ORDER BY scheduled_time ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// Update replaces the scheduled time and/or message of a pending event
// and bumps updated_at. Nil arguments leave the field untouched. The
// pending guard makes the write a no-op once the event left pending.
func (r *PostgresEventRepo) Update(ctx context.Context, id int64, scheduledTime *time.Time, message *string) (bool, error) {
	var ts any
	if scheduledTime != nil {
		utc := scheduledTime.UTC()
		ts = utc
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_events
		SET scheduled_time = COALESCE($2::timestamptz, scheduled_time),
		    message = COALESCE($3::text, message),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, ts, message)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (r *PostgresEventRepo) SetJobID(ctx context.Context, id int64, jobID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_events
		SET job_id = $2, updated_at = now()
		WHERE id = $1
	`, id, jobID)
	if err != nil {
		return err
	}
	changed, err := oneRow(res)
	if err != nil {
		return err
	}
	if !changed {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresEventRepo) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_events
		SET status = 'completed', executed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (r *PostgresEventRepo) MarkFailed(ctx context.Context, id int64, errMsg string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_events
		SET status = 'failed', executed_at = now(), error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, errMsg)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (r *PostgresEventRepo) Cancel(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_events
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (r *PostgresEventRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	deleted, err := oneRow(res)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresEventRepo) CountByStatus(ctx context.Context, status model.Status) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scheduled_events WHERE status = $1
	`, string(status)).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.ScheduledEvent, error) {
	var (
		ev          model.ScheduledEvent
		status      string
		channelName sql.NullString
		jobID       sql.NullString
		creatorID   sql.NullString
		creatorName sql.NullString
		executedAt  sql.NullTime
		errMsg      sql.NullString
	)

	err := row.Scan(
		&ev.ID,
		&ev.EventType,
		&ev.ScheduledTime,
		&ev.TargetChannelID,
		&channelName,
		&ev.Message,
		&status,
		&jobID,
		&creatorID,
		&creatorName,
		&ev.CreatedAt,
		&ev.UpdatedAt,
		&executedAt,
		&errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ev.Status = model.Status(status)
	ev.ScheduledTime = ev.ScheduledTime.UTC()
	if channelName.Valid {
		ev.TargetChannelName = channelName.String
	}
	if jobID.Valid {
		s := jobID.String
		ev.JobID = &s
	}
	if creatorID.Valid {
		s := creatorID.String
		ev.CreatedByUserID = &s
	}
	if creatorName.Valid {
		s := creatorName.String
		ev.CreatedByUserName = &s
	}
	if executedAt.Valid {
		t := executedAt.Time.UTC()
		ev.ExecutedAt = &t
	}
	if errMsg.Valid {
		s := errMsg.String
		ev.ErrorMessage = &s
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]model.ScheduledEvent, error) {
	defer rows.Close()

	var out []model.ScheduledEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
