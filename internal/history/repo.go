package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one accepted presence mark.
type Event struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Division    string    `json:"division"`
	Subject     string    `json:"subject"`
	Year        int       `json:"year"`
	Month       int       `json:"month"`
	Day         int       `json:"day"`
	Distance    *float64  `json:"distance,omitempty"`
	MarkedBy    string    `json:"marked_by"`
	OccurredAt  time.Time `json:"occurred_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository persists mark events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new event.
func (r *Repository) Insert(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO mark_events (id, student_id, student_name, division, subject, year, month, day, distance, marked_by, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`, evt.ID, evt.StudentID, evt.StudentName, evt.Division, evt.Subject, evt.Year, evt.Month, evt.Day, evt.Distance, evt.MarkedBy, evt.OccurredAt)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// Get returns a single event by id.
func (r *Repository) Get(ctx context.Context, id string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, student_name, division, subject, year, month, day, distance, marked_by, occurred_at, created_at
		FROM mark_events WHERE id = $1
	`, id)
	var evt Event
	if err := row.Scan(&evt.ID, &evt.StudentID, &evt.StudentName, &evt.Division, &evt.Subject, &evt.Year, &evt.Month, &evt.Day, &evt.Distance, &evt.MarkedBy, &evt.OccurredAt, &evt.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// List returns events with basic filters, newest first.
func (r *Repository) List(ctx context.Context, studentID, subject string, day, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, student_id, student_name, division, subject, year, month, day, distance, marked_by, occurred_at, created_at FROM mark_events`
	args := []any{}
	clauses := []string{}
	if studentID != "" {
		clauses = append(clauses, "student_id = $"+itoa(len(args)+1))
		args = append(args, studentID)
	}
	if subject != "" {
		clauses = append(clauses, "subject = $"+itoa(len(args)+1))
		args = append(args, subject)
	}
	if day > 0 {
		clauses = append(clauses, "day = $"+itoa(len(args)+1))
		args = append(args, day)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.StudentID, &evt.StudentName, &evt.Division, &evt.Subject, &evt.Year, &evt.Month, &evt.Day, &evt.Distance, &evt.MarkedBy, &evt.OccurredAt, &evt.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
