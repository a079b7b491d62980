package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore implements Store on a relational sessions table managed by
// the migrations in the migrations/ directory.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type sessionRow struct {
	ID             string         `db:"id"`
	ChatID         int64          `db:"chat_id"`
	UserID         int64          `db:"user_id"`
	ScenarioID     string         `db:"scenario_id"`
	StepID         string         `db:"step_id"`
	Variables      []byte         `db:"variables"`
	Suspended      bool           `db:"suspended"`
	SuspendedSince sql.NullTime   `db:"suspended_since"`
	Deadline       sql.NullTime   `db:"deadline"`
	Wait           []byte         `db:"wait"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func toRow(s *Session) (*sessionRow, error) {
	vars, err := json.Marshal(s.Variables)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}
	row := &sessionRow{
		ID:         s.ID,
		ChatID:     s.ChatID,
		UserID:     s.UserID,
		ScenarioID: s.ScenarioID,
		StepID:     s.StepID,
		Variables:  vars,
		Suspended:  s.Suspended,
		UpdatedAt:  s.UpdatedAt,
	}
	if !s.SuspendedSince.IsZero() {
		row.SuspendedSince = sql.NullTime{Time: s.SuspendedSince, Valid: true}
	}
	if !s.Deadline.IsZero() {
		row.Deadline = sql.NullTime{Time: s.Deadline, Valid: true}
	}
	if s.Wait != nil {
		wait, err := json.Marshal(s.Wait)
		if err != nil {
			return nil, fmt.Errorf("marshal wait: %w", err)
		}
		row.Wait = wait
	}
	return row, nil
}

func fromRow(row *sessionRow) (*Session, error) {
	s := &Session{
		ID:         row.ID,
		ChatID:     row.ChatID,
		UserID:     row.UserID,
		ScenarioID: row.ScenarioID,
		StepID:     row.StepID,
		Suspended:  row.Suspended,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.SuspendedSince.Valid {
		s.SuspendedSince = row.SuspendedSince.Time
	}
	if row.Deadline.Valid {
		s.Deadline = row.Deadline.Time
	}
	if len(row.Variables) > 0 {
		if err := json.Unmarshal(row.Variables, &s.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if s.Variables == nil {
		s.Variables = make(map[string]any)
	}
	if len(row.Wait) > 0 {
		var w Wait
		if err := json.Unmarshal(row.Wait, &w); err != nil {
			return nil, fmt.Errorf("unmarshal wait: %w", err)
		}
		s.Wait = &w
	}
	return s, nil
}

// Load returns the session for the (chat, user) pair.
func (p *PostgresStore) Load(ctx context.Context, chatID, userID int64) (*Session, error) {
	var row sessionRow
	err := p.db.GetContext(ctx, &row,
		`SELECT id, chat_id, user_id, scenario_id, step_id, variables,
		        suspended, suspended_since, deadline, wait, updated_at
		 FROM sessions WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return fromRow(&row)
}

// Save upserts the full session row.
func (p *PostgresStore) Save(ctx context.Context, s *Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	_, err = p.db.NamedExecContext(ctx, `
		INSERT INTO sessions (id, chat_id, user_id, scenario_id, step_id,
		                      variables, suspended, suspended_since, deadline, wait, updated_at)
		VALUES (:id, :chat_id, :user_id, :scenario_id, :step_id,
		        :variables, :suspended, :suspended_since, :deadline, :wait, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			scenario_id = EXCLUDED.scenario_id,
			step_id = EXCLUDED.step_id,
			variables = EXCLUDED.variables,
			suspended = EXCLUDED.suspended,
			suspended_since = EXCLUDED.suspended_since,
			deadline = EXCLUDED.deadline,
			wait = EXCLUDED.wait,
			updated_at = EXCLUDED.updated_at`,
		row,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes the session row.
func (p *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// ListExpired returns suspended sessions whose deadline passed.
func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]*Session, error) {
	var rows []sessionRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT id, chat_id, user_id, scenario_id, step_id, variables,
		        suspended, suspended_since, deadline, wait, updated_at
		 FROM sessions
		 WHERE suspended AND deadline IS NOT NULL AND deadline <= $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired sessions: %w", err)
	}
	out := make([]*Session, 0, len(rows))
	for i := range rows {
		s, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
