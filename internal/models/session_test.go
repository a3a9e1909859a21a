package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatSessionValidateAssignee(t *testing.T) {
	cases := []struct {
		name    string
		mode    SessionMode
		staff   *string
		wantErr bool
	}{
		{"ai without staff", ModeAI, nil, false},
		{"waiting without staff", ModeWaitingStaff, nil, false},
		{"connected with staff", ModeStaffConnected, StringPtr("s1"), false},
		{"connected without staff", ModeStaffConnected, nil, true},
		{"ai with staff", ModeAI, StringPtr("s1"), true},
		{"waiting with staff", ModeWaitingStaff, StringPtr("s1"), true},
		{"unknown mode", SessionMode("CLOSED"), nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := ChatSession{Mode: tc.mode, AssignedStaffID: tc.staff}
			err := s.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestChatSessionCloneIsDeep(t *testing.T) {
	s := ChatSession{
		Mode:            ModeStaffConnected,
		AssignedStaffID: StringPtr("s1"),
		LastMessage:     &LastMessage{Content: "hi"},
	}
	c := s.Clone()
	*c.AssignedStaffID = "s2"
	c.LastMessage.Content = "changed"

	assert.Equal(t, "s1", *s.AssignedStaffID)
	assert.Equal(t, "hi", s.LastMessage.Content)
}

func TestActivityFallsBackToUpdatedAt(t *testing.T) {
	updated := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s := ChatSession{UpdatedAt: updated}
	assert.Equal(t, updated, s.Activity())

	last := updated.Add(time.Hour)
	s.LastMessage = &LastMessage{CreatedAt: last}
	assert.Equal(t, last, s.Activity())
}

func TestConflictErrorMatchesSentinel(t *testing.T) {
	var err error = &ConflictError{AssignedStaffID: "staff-7"}
	wrapped := errors.Join(errors.New("accept"), err)

	require.ErrorIs(t, wrapped, ErrConflict)
	who, ok := AssigneeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, "staff-7", who)

	_, ok = AssigneeOf(ErrNotFound)
	assert.False(t, ok)
}

func TestMessageValidate(t *testing.T) {
	now := time.Now()
	require.ErrorIs(t, (&ChatMessage{Content: "  ", Type: MessageText}).Validate(), ErrValidation)
	require.ErrorIs(t, (&ChatMessage{Content: "x", Type: "VIDEO"}).Validate(), ErrValidation)
	require.ErrorIs(t, (&ChatMessage{Content: "x", Type: MessageText, IsEdited: true}).Validate(), ErrValidation)
	require.NoError(t, (&ChatMessage{Content: "x", Type: MessageText, IsEdited: true, UpdatedAt: &now}).Validate())
}
