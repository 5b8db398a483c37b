package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     TicketStatus
		to       TicketStatus
		expected bool
	}{
		{"pending to assigned", TicketPending, TicketAssigned, true},
		{"assigned to in progress", TicketAssigned, TicketInProgress, true},
		{"pending to resolved", TicketPending, TicketResolved, true},
		{"assigned to resolved", TicketAssigned, TicketResolved, true},
		{"in progress to resolved", TicketInProgress, TicketResolved, true},
		{"pending to in progress", TicketPending, TicketInProgress, false},
		{"resolved to pending", TicketResolved, TicketPending, false},
		{"resolved to resolved", TicketResolved, TicketResolved, false},
		{"in progress to assigned", TicketInProgress, TicketAssigned, false},
		{"unknown target", TicketPending, "closed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTicketStatus_IsOpen(t *testing.T) {
	for _, s := range OpenTicketStatuses {
		assert.True(t, s.IsOpen(), s)
	}
	assert.False(t, TicketResolved.IsOpen())
	assert.False(t, TicketStatus("bogus").IsOpen())
}

func TestTicket_HasEngineer(t *testing.T) {
	tk := &Ticket{}
	assert.False(t, tk.HasEngineer())

	empty := ""
	tk.EngineerID = &empty
	assert.False(t, tk.HasEngineer())

	id := "ENG-001"
	tk.EngineerID = &id
	assert.True(t, tk.HasEngineer())
}

func TestTicket_JSONNullEngineer(t *testing.T) {
	data, err := json.Marshal(Ticket{TicketID: "t1", Status: TicketPending})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	v, ok := raw["engineer_id"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.NotContains(t, raw, "resolved_at")
}
