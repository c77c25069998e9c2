package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid mixed case", "Alice-B_3", nil},
		{"valid unicode", "ñoño", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"tab character", "user\tname", ErrUsernameInvalidChars},
		{"newline", "user\nname", ErrUsernameInvalidChars},
		{"null byte", "user\x00", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
	}{
		{"requester", RoleRequester},
		{"specialist", RoleSpecialist},
		{"Specialist", RoleSpecialist},
		{"factory", RoleRequester},
		{"expert", RoleSpecialist},
		{"", RoleNone},
		{"admin", RoleNone},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseRole(tt.input); got != tt.want {
				t.Errorf("ParseRole(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRoleText(t *testing.T) {
	data, err := RoleSpecialist.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(data) != "specialist" {
		t.Fatalf("MarshalText = %q, want specialist", data)
	}

	var r Role
	if err := r.UnmarshalText([]byte("requester")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if r != RoleRequester {
		t.Fatalf("UnmarshalText = %v, want requester", r)
	}
	if err := r.UnmarshalText([]byte("root")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("UnmarshalText(root) err = %v, want ErrInvalidRole", err)
	}
	if _, err := RoleNone.MarshalText(); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("MarshalText(none) err = %v, want ErrInvalidRole", err)
	}
}

func TestWorkOrderAccept(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := NewWorkOrder("o1", "  Pump repair ", "", "alice", now)
	if o.Title != "Pump repair" {
		t.Fatalf("title not trimmed: %q", o.Title)
	}
	if o.Status != StatusOpen || o.AssignedTo != "" {
		t.Fatalf("new order: status=%s assignee=%q", o.Status, o.AssignedTo)
	}

	later := now.Add(time.Minute)
	if err := o.Accept("bob", later); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if o.Status != StatusAssigned || o.AssignedTo != "bob" || !o.UpdatedAt.Equal(later) {
		t.Fatalf("after accept: %+v", o)
	}

	if err := o.Accept("carol", later); !errors.Is(err, ErrOrderNotOpen) {
		t.Fatalf("second Accept err = %v, want ErrOrderNotOpen", err)
	}
	if o.AssignedTo != "bob" {
		t.Fatalf("assignee changed to %q", o.AssignedTo)
	}
}

func TestWorkOrderChangeStatus(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		from    Status
		actor   string
		to      Status
		wantErr error
	}{
		{"creator closes open", StatusOpen, "alice", StatusClosed, nil},
		{"creator cancels open", StatusOpen, "alice", StatusCanceled, nil},
		{"creator closes assigned", StatusAssigned, "alice", StatusClosed, nil},
		{"creator cancels in progress", StatusInProgress, "alice", StatusCanceled, nil},
		{"no start via status", StatusAssigned, "bob", StatusInProgress, ErrInvalidTransition},
		{"creator cannot start either", StatusAssigned, "alice", StatusInProgress, ErrInvalidTransition},
		{"assignee cannot close", StatusInProgress, "bob", StatusClosed, ErrCreatorOnly},
		{"assignee cannot cancel", StatusAssigned, "bob", StatusCanceled, ErrCreatorOnly},
		{"stranger rejected", StatusAssigned, "mallory", StatusInProgress, ErrNotParticipant},
		{"empty actor rejected", StatusOpen, "", StatusClosed, ErrNotParticipant},
		{"no reopen", StatusAssigned, "alice", StatusOpen, ErrInvalidTransition},
		{"no assign via status", StatusOpen, "alice", StatusAssigned, ErrInvalidTransition},
		{"closed is terminal", StatusClosed, "alice", StatusCanceled, ErrInvalidTransition},
		{"canceled is terminal", StatusCanceled, "alice", StatusClosed, ErrInvalidTransition},
		{"in progress twice", StatusInProgress, "bob", StatusInProgress, ErrInvalidTransition},
		{"unknown status", StatusOpen, "alice", Status("done"), ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &WorkOrder{ID: "o1", Title: "t", Status: tt.from, CreatedBy: "alice"}
			if tt.from != StatusOpen {
				o.AssignedTo = "bob"
			}
			err := o.ChangeStatus(tt.actor, tt.to, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ChangeStatus err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && o.Status != tt.to {
				t.Fatalf("status = %s, want %s", o.Status, tt.to)
			}
			if tt.wantErr != nil && o.Status != tt.from {
				t.Fatalf("status mutated on error: %s", o.Status)
			}
		})
	}
}

func TestWorkOrderStartIdempotent(t *testing.T) {
	o := &WorkOrder{Status: StatusAssigned}
	if !o.Start(time.Now()) {
		t.Fatal("first Start should transition")
	}
	if o.Start(time.Now()) {
		t.Fatal("second Start should be a no-op")
	}
	if o.Status != StatusInProgress {
		t.Fatalf("status = %s", o.Status)
	}
}

func TestWorkOrderAccess(t *testing.T) {
	o := &WorkOrder{Status: StatusAssigned, CreatedBy: "alice", AssignedTo: "bob"}

	tests := []struct {
		user string
		role Role
		join bool
	}{
		{"alice", RoleRequester, true},
		{"bob", RoleSpecialist, true},
		{"alice", RoleSpecialist, false},
		{"bob", RoleRequester, false},
		{"dave", RoleSpecialist, false},
		{"dave", RoleRequester, false},
		{"alice", RoleNone, false},
	}
	for _, tt := range tests {
		if got := o.CanJoin(tt.user, tt.role); got != tt.join {
			t.Errorf("CanJoin(%s, %s) = %v, want %v", tt.user, tt.role, got, tt.join)
		}
	}

	unassigned := &WorkOrder{Status: StatusOpen, CreatedBy: "alice"}
	if unassigned.CanJoin("", RoleSpecialist) {
		t.Error("empty username must not match empty assignee")
	}
}

func TestWorkOrderVisibility(t *testing.T) {
	open := &WorkOrder{Status: StatusOpen, CreatedBy: "alice"}
	mine := &WorkOrder{Status: StatusAssigned, CreatedBy: "alice", AssignedTo: "bob"}
	theirs := &WorkOrder{Status: StatusAssigned, CreatedBy: "zoe", AssignedTo: "carol"}

	others := &WorkOrder{Status: StatusOpen, CreatedBy: "zoe"}

	if !open.VisibleTo("alice", false) || theirs.VisibleTo("alice", false) || others.VisibleTo("alice", false) {
		t.Error("without open orders only own orders are visible")
	}
	if !open.VisibleTo("bob", true) || !mine.VisibleTo("bob", true) || !others.VisibleTo("bob", true) {
		t.Error("open orders and assigned orders should be visible")
	}
	if theirs.VisibleTo("bob", true) {
		t.Error("orders assigned to others should not be visible")
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus(" closed "); err != nil || st != StatusClosed {
		t.Fatalf("ParseStatus(closed) = %v, %v", st, err)
	}
	if _, err := ParseStatus("finished"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("ParseStatus(finished) err = %v", err)
	}
}
