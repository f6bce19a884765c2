// Package leave is the leave-application workflow: an independent CRUD module
// over the remote tree, sharing the division path layout with attendance.
package leave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"classmark/internal/division"
	"classmark/internal/teaching"
	"classmark/internal/tree"
)

// Status is the application state. Transitions are one-directional:
// pending → approved or pending → rejected.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

var (
	ErrNotFound    = errors.New("leave application not found")
	ErrNotPending  = errors.New("leave application already decided")
	ErrNotTerminal = errors.New("leave application still pending, cannot delete")
)

// Application is one leave request.
type Application struct {
	ID          string     `json:"id"`
	StudentID   string     `json:"studentId"`
	StudentName string     `json:"studentName"`
	FromDate    time.Time  `json:"fromDate"`
	ToDate      time.Time  `json:"toDate"`
	Days        []int      `json:"days"` // day-of-month ordinals spanned
	Reason      string     `json:"reason"`
	Status      Status     `json:"status"`
	SubmittedBy string     `json:"submittedBy"`
	SubmittedAt time.Time  `json:"submittedAt"`
	ApprovedBy  string     `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	RejectedBy  string     `json:"rejectedBy,omitempty"`
	RejectedAt  *time.Time `json:"rejectedAt,omitempty"`
}

// Service runs the workflow against the active division's subtree.
type Service struct {
	store   tree.Store
	tracker *teaching.Tracker
}

// NewService wires the workflow to the remote tree and context tracker.
func NewService(store tree.Store, tracker *teaching.Tracker) *Service {
	return &Service{store: store, tracker: tracker}
}

func (s *Service) path(id string) (string, error) {
	if s.store == nil {
		return "", tree.ErrUnavailable
	}
	tuple := s.tracker.Current().Tuple
	if err := tuple.Validate(); err != nil {
		return "", err
	}
	return division.LeavePath(tuple) + "/" + id, nil
}

// Submit files a new pending application spanning the days between the two
// dates inclusive.
func (s *Service) Submit(ctx context.Context, studentID, studentName string, from, to time.Time, reason, submittedBy string) (Application, error) {
	if studentID == "" {
		return Application{}, errors.New("student id required")
	}
	if to.Before(from) {
		return Application{}, fmt.Errorf("toDate %s precedes fromDate %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}
	app := Application{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		StudentName: studentName,
		FromDate:    from,
		ToDate:      to,
		Days:        daysSpanned(from, to),
		Reason:      reason,
		Status:      StatusPending,
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now().UTC(),
	}
	p, err := s.path(app.ID)
	if err != nil {
		return Application{}, err
	}
	return app, s.store.Set(ctx, p, app)
}

// Get fetches one application from the active division.
func (s *Service) Get(ctx context.Context, id string) (Application, error) {
	p, err := s.path(id)
	if err != nil {
		return Application{}, err
	}
	var app Application
	ok, err := s.store.Get(ctx, p, &app)
	if err != nil {
		return Application{}, err
	}
	if !ok {
		return Application{}, ErrNotFound
	}
	return app, nil
}

// List returns the division's applications, optionally filtered to a student.
func (s *Service) List(ctx context.Context, studentID string) ([]Application, error) {
	if s.store == nil {
		return nil, tree.ErrUnavailable
	}
	tuple := s.tracker.Current().Tuple
	if err := tuple.Validate(); err != nil {
		return nil, err
	}
	raws, err := s.store.List(ctx, division.LeavePath(tuple))
	if err != nil {
		return nil, err
	}
	var apps []Application
	for _, raw := range raws {
		var app Application
		if err := json.Unmarshal(raw, &app); err != nil {
			continue
		}
		if studentID != "" && app.StudentID != studentID {
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// Approve transitions pending → approved with the approver's identity.
func (s *Service) Approve(ctx context.Context, id, approver string) (Application, error) {
	return s.decide(ctx, id, StatusApproved, approver)
}

// Reject transitions pending → rejected with the decider's identity.
func (s *Service) Reject(ctx context.Context, id, decider string) (Application, error) {
	return s.decide(ctx, id, StatusRejected, decider)
}

func (s *Service) decide(ctx context.Context, id string, next Status, decider string) (Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if app.Status != StatusPending {
		return Application{}, fmt.Errorf("%w: %s is %s", ErrNotPending, id, app.Status)
	}
	now := time.Now().UTC()
	app.Status = next
	switch next {
	case StatusApproved:
		app.ApprovedBy = decider
		app.ApprovedAt = &now
	case StatusRejected:
		app.RejectedBy = decider
		app.RejectedAt = &now
	}
	p, err := s.path(id)
	if err != nil {
		return Application{}, err
	}
	return app, s.store.Set(ctx, p, app)
}

// Delete removes an application. Only allowed from a terminal status; a
// pending application must be decided first.
func (s *Service) Delete(ctx context.Context, id string) error {
	app, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !app.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, id)
	}
	p, err := s.path(id)
	if err != nil {
		return err
	}
	return s.store.Remove(ctx, p)
}

// daysSpanned lists the day-of-month ordinals between the two dates inclusive.
func daysSpanned(from, to time.Time) []int {
	var days []int
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Day())
	}
	return days
}
