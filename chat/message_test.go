package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryStateTransitions(t *testing.T) {
	cases := []struct {
		from, to DeliveryState
		ok       bool
	}{
		{StatePending, StateSent, true},
		{StatePending, StateFailed, true},
		{StatePending, StateDelivered, false},
		{StatePending, StateRead, false},
		{StateFailed, StatePending, true},
		{StateFailed, StateSent, false},
		{StateSent, StateDelivered, true},
		{StateSent, StateRead, true},
		{StateSent, StatePending, false},
		{StateDelivered, StateRead, true},
		{StateDelivered, StateSent, false},
		{StateRead, StateDelivered, false},
		{StateRead, StatePending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.canTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "read", StateRead.String())
	assert.Equal(t, "unknown", DeliveryState(99).String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConversationState(99).String())
}
