package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/rpggio/overseer/internal/repository"
)

// ModeRepository persists the single system mode row.
type ModeRepository struct {
	db *DB
}

// NewModeRepository creates a new ModeRepository
func NewModeRepository(db *DB) *ModeRepository {
	return &ModeRepository{db: db}
}

// Load returns the stored mode state, or repository.ErrNotFound before the
// first Save.
func (r *ModeRepository) Load(ctx context.Context) (*mode.State, error) {
	var (
		st       mode.State
		since    string
		revertAt sql.NullString
		previous sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT mode, since, revert_at, previous FROM system_mode WHERE id = 1`,
	).Scan(&st.Mode, &since, &revertAt, &previous)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mode: %w", err)
	}

	if st.Since, err = parseTime(since); err != nil {
		return nil, err
	}
	if st.RevertAt, err = parseNullTime(revertAt); err != nil {
		return nil, err
	}
	if previous.Valid {
		st.Previous = mode.Mode(previous.String)
	}
	return &st, nil
}

// Save upserts the mode state.
func (r *ModeRepository) Save(ctx context.Context, st mode.State) error {
	var previous any
	if st.Previous != "" {
		previous = string(st.Previous)
	}

	query := `
		INSERT INTO system_mode (id, mode, since, revert_at, previous)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			since = excluded.since,
			revert_at = excluded.revert_at,
			previous = excluded.previous
	`
	return withBusyRetry(ctx, func(ctx context.Context) error {
		if _, err := r.db.ExecContext(ctx, query,
			string(st.Mode), formatTime(st.Since), formatTimePtr(st.RevertAt), previous,
		); err != nil {
			return fmt.Errorf("failed to save mode: %w", err)
		}
		return nil
	})
}
