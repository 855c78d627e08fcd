package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// A pending row is left alone so scheduling stays idempotent. A claimed row
// belongs to a tick that is running right now; that tick is asking for its
// successor, so the claim is replaced by a fresh pending row.
const insertSchedule = `
INSERT INTO import_schedule (record_id, initiator, run_at)
VALUES ($1, $2, $3)
ON CONFLICT (record_id, initiator) DO UPDATE
SET run_at = EXCLUDED.run_at,
    claimed_until = NULL,
    claim_token = NULL
WHERE import_schedule.claim_token IS NOT NULL
`

type InsertScheduleParams struct {
	RecordID  pgtype.UUID
	Initiator string
	RunAt     pgtype.Timestamptz
}

func (q *Queries) InsertSchedule(ctx context.Context, arg InsertScheduleParams) (int64, error) {
	result, err := q.db.Exec(ctx, insertSchedule, arg.RecordID, arg.Initiator, arg.RunAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteSchedule = `
DELETE FROM import_schedule
WHERE record_id = $1 AND initiator = $2 AND claim_token IS NULL
`

type DeleteScheduleParams struct {
	RecordID  pgtype.UUID
	Initiator string
}

// DeleteSchedule drops a pending tick. Claimed ticks are already running
// and are left to finish.
func (q *Queries) DeleteSchedule(ctx context.Context, arg DeleteScheduleParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteSchedule, arg.RecordID, arg.Initiator)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const claimDueSchedules = `
UPDATE import_schedule s
SET claimed_until = now() + make_interval(secs => $2),
    claim_token = $3
FROM (
    SELECT record_id, initiator
    FROM import_schedule
    WHERE run_at <= now()
      AND (claimed_until IS NULL OR claimed_until < now())
    ORDER BY run_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
) due
WHERE s.record_id = due.record_id AND s.initiator = due.initiator
RETURNING s.record_id, s.initiator, s.run_at
`

type ClaimDueSchedulesParams struct {
	Limit             int32
	VisibilitySeconds float64
	ClaimToken        pgtype.UUID
}

// ClaimDueSchedules marks up to Limit due ticks as claimed by ClaimToken.
// A claim that is never completed becomes due again once it expires.
func (q *Queries) ClaimDueSchedules(ctx context.Context, arg ClaimDueSchedulesParams) ([]ClaimedSchedule, error) {
	rows, err := q.db.Query(ctx, claimDueSchedules, arg.Limit, arg.VisibilitySeconds, arg.ClaimToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ClaimedSchedule
	for rows.Next() {
		var i ClaimedSchedule
		if err := rows.Scan(&i.RecordID, &i.Initiator, &i.RunAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const completeSchedule = `
DELETE FROM import_schedule
WHERE record_id = $1 AND initiator = $2 AND claim_token = $3
`

type CompleteScheduleParams struct {
	RecordID   pgtype.UUID
	Initiator  string
	ClaimToken pgtype.UUID
}

func (q *Queries) CompleteSchedule(ctx context.Context, arg CompleteScheduleParams) (int64, error) {
	result, err := q.db.Exec(ctx, completeSchedule, arg.RecordID, arg.Initiator, arg.ClaimToken)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const countPendingSchedules = `
SELECT count(*) FROM import_schedule WHERE claim_token IS NULL
`

func (q *Queries) CountPendingSchedules(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, countPendingSchedules)
	var count int64
	err := row.Scan(&count)
	return count, err
}
