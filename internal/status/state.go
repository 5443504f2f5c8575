// Package status tracks the delivery state of an outgoing message.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/model"
)

// State is a step of the send pipeline for one message.
type State string

const (
	Composing  State = "COMPOSING"
	Pending    State = "PENDING"
	Uploading  State = "UPLOADING"
	Submitting State = "SUBMITTING"
	Sent       State = "SENT"
	Failed     State = "FAILED"
)

// validTransitions defines allowed state transitions. Failed re-enters
// Uploading (or Submitting when nothing is left to upload) on retry.
var validTransitions = map[State][]State{
	Composing:  {Pending},
	Pending:    {Uploading, Submitting, Failed},
	Uploading:  {Submitting, Failed},
	Submitting: {Sent, Failed},
	Failed:     {Uploading, Submitting},
	Sent:       {},
}

// Machine tracks and enforces the delivery state of one message.
type Machine struct {
	mu             sync.RWMutex
	current        State
	clientID       string
	conversationID string
	bus            *bus.Bus
	lastErr        error
}

// NewMachine creates a machine for a message being composed.
func NewMachine(clientID, conversationID string, b *bus.Bus) *Machine {
	return &Machine{
		current:        Composing,
		clientID:       clientID,
		conversationID: conversationID,
		bus:            b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Err returns the error recorded with the last transition to Failed.
func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	return m.transition(to, nil)
}

// Fail moves to Failed and records cause.
func (m *Machine) Fail(cause error) error {
	return m.transition(Failed, cause)
}

func (m *Machine) transition(to State, cause error) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	if to == Failed {
		m.lastErr = cause
	} else {
		m.lastErr = nil
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindSendState,
			Timestamp: time.Now(),
			Payload: Change{
				ClientID:       m.clientID,
				ConversationID: m.conversationID,
				From:           from,
				To:             to,
				Err:            cause,
			},
		})
	}
	return nil
}

// Terminal reports whether s ends the pipeline until a retry.
func (s State) Terminal() bool {
	return s == Sent || s == Failed
}

// MessageStatus maps a pipeline state to the delivery status shown on a message.
func (s State) MessageStatus() model.Status {
	switch s {
	case Sent:
		return model.StatusSent
	case Failed:
		return model.StatusFailed
	default:
		return model.StatusPending
	}
}

// Change is the payload for send state events.
type Change struct {
	ClientID       string
	ConversationID string
	From           State
	To             State
	Err            error
}
