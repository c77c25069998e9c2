package model

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a work order.
type Status string

const (
	StatusOpen       Status = "open"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
	StatusCanceled   Status = "canceled"
)

const (
	MaxOrderTitleLength = 128
	MaxOrderDescLength  = 4096
)

var (
	ErrOrderTitleEmpty   = errors.New("order title must not be empty")
	ErrOrderTitleTooLong = errors.New("order title too long")
	ErrOrderDescTooLong  = errors.New("order description too long")
	ErrInvalidStatus     = errors.New("unknown order status")

	ErrOrderNotOpen      = errors.New("order is not open")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrNotParticipant    = errors.New("only the creator or assignee may change this order")
	ErrCreatorOnly       = errors.New("only the creator may close or cancel this order")
)

// transitions lists the targets reachable through a status change request.
// open -> assigned happens only through Accept, assigned -> in_progress only
// through Start.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusClosed, StatusCanceled},
	StatusAssigned:   {StatusClosed, StatusCanceled},
	StatusInProgress: {StatusClosed, StatusCanceled},
}

// ParseStatus returns the Status for s or ErrInvalidStatus.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// Valid reports whether s is one of the five lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusClosed, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCanceled
}

// WorkOrder is a service ticket between a requester and a specialist.
// Its ID doubles as the room ID for the order's session.
type WorkOrder struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	AssignedTo  string    `json:"assigned_to"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewWorkOrder returns an open, unassigned order.
func NewWorkOrder(id, title, description, createdBy string, now time.Time) *WorkOrder {
	return &WorkOrder{
		ID:          id,
		Title:       strings.TrimSpace(title),
		Description: description,
		Status:      StatusOpen,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the user-supplied fields.
func (o *WorkOrder) Validate() error {
	if strings.TrimSpace(o.Title) == "" {
		return ErrOrderTitleEmpty
	} else if utf8.RuneCountInString(o.Title) > MaxOrderTitleLength {
		return ErrOrderTitleTooLong
	}
	if utf8.RuneCountInString(o.Description) > MaxOrderDescLength {
		return ErrOrderDescTooLong
	}
	return nil
}

// Accept assigns an open order to a specialist.
func (o *WorkOrder) Accept(specialist string, now time.Time) error {
	if o.Status != StatusOpen {
		return ErrOrderNotOpen
	}
	o.Status = StatusAssigned
	o.AssignedTo = specialist
	o.UpdatedAt = now
	return nil
}

// ChangeStatus applies a status change requested by actor.
func (o *WorkOrder) ChangeStatus(actor string, to Status, now time.Time) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if !o.IsParticipant(actor) {
		return ErrNotParticipant
	}
	if to.Terminal() && actor != o.CreatedBy {
		return ErrCreatorOnly
	}
	if !slices.Contains(transitions[o.Status], to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// Start moves an assigned order to in_progress. It reports whether the
// status changed; calling it in any other state is a no-op.
func (o *WorkOrder) Start(now time.Time) bool {
	if o.Status != StatusAssigned {
		return false
	}
	o.Status = StatusInProgress
	o.UpdatedAt = now
	return true
}

// IsParticipant reports whether username is the creator or the assignee.
func (o *WorkOrder) IsParticipant(username string) bool {
	if username == "" {
		return false
	}
	return username == o.CreatedBy || username == o.AssignedTo
}

// CanJoin reports whether a user may enter the order's room: the creating
// requester or the assigned specialist.
func (o *WorkOrder) CanJoin(username string, role Role) bool {
	switch role {
	case RoleRequester:
		return username != "" && username == o.CreatedBy
	case RoleSpecialist:
		return username != "" && username == o.AssignedTo
	default:
		return false
	}
}

// VisibleTo reports whether the order appears in username's list view: its
// own orders always, and every open order when includeOpen is set.
func (o *WorkOrder) VisibleTo(username string, includeOpen bool) bool {
	if o.IsParticipant(username) {
		return true
	}
	return includeOpen && o.Status == StatusOpen
}
