// Package journal keeps an append-only Postgres log of check-in attempts.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Attempt outcomes that count as a completed registration.
const (
	OutcomeRegistered   = "registered"
	OutcomeFirstArrival = "first_arrival"
)

// Attempt is one finished step of the check-in flow.
type Attempt struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	MeetingID     string    `json:"meeting_id"`
	ParticipantID string    `json:"participant_id"`
	Source        string    `json:"source"`
	Outcome       string    `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
	Distance      *float64  `json:"distance_meters,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Filter narrows ListAttempts.
type Filter struct {
	MeetingID     string
	ParticipantID string
	Limit         int
	Offset        int
}

const schema = `
CREATE TABLE IF NOT EXISTS checkin_attempts (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL DEFAULT '',
	meeting_id     TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	source         TEXT NOT NULL DEFAULT '',
	outcome        TEXT NOT NULL,
	detail         TEXT NOT NULL DEFAULT '',
	distance_m     DOUBLE PRECISION,
	occurred_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkin_attempts_member
	ON checkin_attempts (meeting_id, participant_id, occurred_at DESC);
`

// Repository persists attempts in Postgres.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Migrate creates the table when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Record writes a new attempt.
func (r *Repository) Record(ctx context.Context, a Attempt) (Attempt, error) {
	if a.MeetingID == "" || a.ParticipantID == "" {
		return Attempt{}, errors.New("meeting and participant id required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkin_attempts (id, session_id, meeting_id, participant_id, source, outcome, detail, distance_m, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.SessionID, a.MeetingID, a.ParticipantID, a.Source, a.Outcome, a.Detail, a.Distance, a.OccurredAt)
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// RecentRegistration returns the latest registration for the participant
// within window, or nil when there is none.
func (r *Repository) RecentRegistration(ctx context.Context, meetingID, participantID string, window time.Duration) (*Attempt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, meeting_id, participant_id, source, outcome, detail, distance_m, occurred_at
		FROM checkin_attempts
		WHERE meeting_id = $1 AND participant_id = $2 AND outcome IN ($3, $4)
		  AND occurred_at >= $5
		ORDER BY occurred_at DESC
		LIMIT 1
	`, meetingID, participantID, OutcomeRegistered, OutcomeFirstArrival, r.now().Add(-window).UTC())
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// ListAttempts returns attempts newest first.
func (r *Repository) ListAttempts(ctx context.Context, f Filter) ([]Attempt, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT id, session_id, meeting_id, participant_id, source, outcome, detail, distance_m, occurred_at FROM checkin_attempts`
	var (
		args    []any
		clauses []string
	)
	if f.MeetingID != "" {
		args = append(args, f.MeetingID)
		clauses = append(clauses, "meeting_id = $"+strconv.Itoa(len(args)))
	}
	if f.ParticipantID != "" {
		args = append(args, f.ParticipantID)
		clauses = append(clauses, "participant_id = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s scanner) (Attempt, error) {
	var (
		a    Attempt
		dist sql.NullFloat64
	)
	if err := s.Scan(&a.ID, &a.SessionID, &a.MeetingID, &a.ParticipantID, &a.Source, &a.Outcome, &a.Detail, &dist, &a.OccurredAt); err != nil {
		return Attempt{}, err
	}
	if dist.Valid {
		d := dist.Float64
		a.Distance = &d
	}
	a.OccurredAt = a.OccurredAt.UTC()
	return a, nil
}
