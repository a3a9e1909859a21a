// Package lifecycle holds the chat session state machine.
package lifecycle

import (
	"fmt"

	"retail-ops/support-chat/internal/models"
)

type Event string

const (
	RequestStaff Event = "request_staff"
	AcceptStaff  Event = "accept_staff"
	EndStaffChat Event = "end_staff_chat"
)

var transitions = map[models.SessionMode]map[Event]models.SessionMode{
	models.ModeAI: {
		RequestStaff: models.ModeWaitingStaff,
	},
	models.ModeWaitingStaff: {
		AcceptStaff: models.ModeStaffConnected,
	},
	models.ModeStaffConnected: {
		EndStaffChat: models.ModeAI,
	},
}

// Next returns the mode reached from `from` on event ev.
func Next(from models.SessionMode, ev Event) (models.SessionMode, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", models.ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// Apply moves the session through ev, keeping the assignee in step with the mode.
// staffID is only used by AcceptStaff and EndStaffChat.
func Apply(s *models.ChatSession, ev Event, staffID string) error {
	if ev == AcceptStaff && s.AssignedStaffID != nil {
		return &models.ConflictError{AssignedStaffID: *s.AssignedStaffID}
	}
	if ev == AcceptStaff && s.Mode == models.ModeStaffConnected {
		return &models.ConflictError{}
	}
	to, err := Next(s.Mode, ev)
	if err != nil {
		return err
	}
	switch ev {
	case AcceptStaff:
		s.AssignedStaffID = models.StringPtr(staffID)
	case EndStaffChat:
		if !s.AssignedTo(staffID) {
			return fmt.Errorf("%w: session is not connected to %s", models.ErrForbidden, staffID)
		}
		s.LastStaffID = staffID
		s.AssignedStaffID = nil
	}
	s.Mode = to
	return nil
}
