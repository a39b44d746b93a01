package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/repository"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const activityColumns = `
	id, timestamp, source, source_ref, action, action_type, target,
	params, decision_reason, alternatives, parent_id, requires_approval,
	result, result_details, approved_by, approved_at, expires_at, resolved_at
`

// ActivityRepository implements activity.Repository for SQLite
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Insert stores a new activity and assigns its ID
func (r *ActivityRepository) Insert(ctx context.Context, a *activity.Activity) error {
	params, err := marshalObject(a.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	details, err := marshalObject(a.ResultDetails)
	if err != nil {
		return fmt.Errorf("encode result details: %w", err)
	}
	alternatives := "[]"
	if len(a.AlternativesConsidered) > 0 {
		data, err := json.Marshal(a.AlternativesConsidered)
		if err != nil {
			return fmt.Errorf("encode alternatives: %w", err)
		}
		alternatives = string(data)
	}

	query := `
		INSERT INTO activities (
			timestamp, source, source_ref, action, action_type, target,
			params, decision_reason, alternatives, parent_id, requires_approval,
			result, result_details, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return withBusyRetry(ctx, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx, query,
			formatTime(a.Timestamp),
			a.Source,
			a.SourceRef,
			a.Action,
			a.ActionType,
			a.Target,
			params,
			a.DecisionReason,
			alternatives,
			a.ParentID,
			a.RequiresApproval,
			a.Result,
			details,
			formatTimePtr(a.ExpiresAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read activity id: %w", err)
		}
		a.ID = id
		return nil
	})
}

// Get returns an activity by ID
func (r *ActivityRepository) Get(ctx context.Context, id int64) (*activity.Activity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// Exists reports whether an activity with the given ID is stored
func (r *ActivityRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM activities WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check activity: %w", err)
	}
	return true, nil
}

// List returns activities matching the filter, highest ID first
func (r *ActivityRepository) List(ctx context.Context, f activity.Filter) ([]activity.Activity, error) {
	var conditions []string
	var args []any

	if f.Source != nil {
		conditions = append(conditions, "source = ?")
		args = append(args, *f.Source)
	}
	if f.ActionType != nil {
		conditions = append(conditions, "action_type = ?")
		args = append(args, *f.ActionType)
	}
	if f.Result != nil {
		conditions = append(conditions, "result = ?")
		args = append(args, *f.Result)
	}
	if f.Target != nil {
		conditions = append(conditions, "target = ?")
		args = append(args, *f.Target)
	}
	if f.ParentID != nil {
		conditions = append(conditions, "parent_id = ?")
		args = append(args, *f.ParentID)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, formatTime(f.Until))
	}
	if !f.ResolvedSince.IsZero() {
		conditions = append(conditions, "resolved_at >= ?")
		args = append(args, formatTime(f.ResolvedSince))
	}
	if f.BeforeID > 0 {
		conditions = append(conditions, "id < ?")
		args = append(args, f.BeforeID)
	}

	query := `SELECT ` + activityColumns + ` FROM activities`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return r.query(ctx, query, args...)
}

// Resolve applies a terminal result to a pending, approval-gated activity
func (r *ActivityRepository) Resolve(ctx context.Context, id int64, res activity.Resolution, at time.Time) error {
	details, err := marshalObject(res.Details)
	if err != nil {
		return fmt.Errorf("encode result details: %w", err)
	}

	var approvedBy, approvedAt any
	if approver := strings.TrimSpace(res.Approver); approver != "" {
		approvedBy = approver
		approvedAt = formatTime(at)
	}

	query := `
		UPDATE activities
		SET result = ?, result_details = ?, approved_by = ?, approved_at = ?, resolved_at = ?
		WHERE id = ? AND result = 'pending' AND requires_approval = 1
	`

	return withBusyRetry(ctx, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx, query,
			res.Result, details, approvedBy, approvedAt, formatTime(at), id)
		if err != nil {
			return fmt.Errorf("failed to resolve activity: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return repository.ErrConflict
		}
		return nil
	})
}

// ListPending returns unexpired pending approvals ordered by expiry
func (r *ActivityRepository) ListPending(ctx context.Context, now time.Time) ([]activity.Activity, error) {
	return r.query(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE result = 'pending' AND requires_approval = 1 AND expires_at > ?
		ORDER BY expires_at ASC, id ASC
	`, formatTime(now))
}

// ListExpired returns pending approvals whose expiry has passed
func (r *ActivityRepository) ListExpired(ctx context.Context, now time.Time) ([]activity.Activity, error) {
	return r.query(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE result = 'pending' AND requires_approval = 1 AND expires_at <= ?
		ORDER BY expires_at ASC, id ASC
	`, formatTime(now))
}

// LatestTimestamp returns the timestamp of the newest activity, or zero
func (r *ActivityRepository) LatestTimestamp(ctx context.Context) (time.Time, error) {
	var ts string
	err := r.db.QueryRowContext(ctx, `SELECT timestamp FROM activities ORDER BY id DESC LIMIT 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	return parseTime(ts)
}

// DeleteBefore removes non-pending activities recorded before cutoff
func (r *ActivityRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := withBusyRetry(ctx, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx,
			`DELETE FROM activities WHERE timestamp < ? AND result != 'pending'`, formatTime(cutoff))
		if err != nil {
			return fmt.Errorf("failed to delete activities: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

func (r *ActivityRepository) query(ctx context.Context, query string, args ...any) ([]activity.Activity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	entries := []activity.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		entries = append(entries, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(s scanner) (*activity.Activity, error) {
	var (
		a                                             activity.Activity
		ts, params, alternatives, details             string
		parentID                                      sql.NullInt64
		approvedBy, approvedAt, expiresAt, resolvedAt sql.NullString
	)
	if err := s.Scan(
		&a.ID,
		&ts,
		&a.Source,
		&a.SourceRef,
		&a.Action,
		&a.ActionType,
		&a.Target,
		&params,
		&a.DecisionReason,
		&alternatives,
		&parentID,
		&a.RequiresApproval,
		&a.Result,
		&details,
		&approvedBy,
		&approvedAt,
		&expiresAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if a.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	if a.Params, err = unmarshalObject(params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if a.ResultDetails, err = unmarshalObject(details); err != nil {
		return nil, fmt.Errorf("decode result details: %w", err)
	}
	if alternatives != "" && alternatives != "[]" {
		if err := json.Unmarshal([]byte(alternatives), &a.AlternativesConsidered); err != nil {
			return nil, fmt.Errorf("decode alternatives: %w", err)
		}
	}
	if parentID.Valid {
		a.ParentID = &parentID.Int64
	}
	if approvedBy.Valid {
		a.ApprovedBy = &approvedBy.String
	}
	if a.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return nil, err
	}
	if a.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if a.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalObject(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalObject(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	// numbers stay json.Number so integers above 2^53 survive a round trip
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
