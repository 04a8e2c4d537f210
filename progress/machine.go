package progress

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aluiziolira/scrapedesk/client"
	"github.com/aluiziolira/scrapedesk/models"
)

// Phase is the lifecycle of the push channel itself.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseRunning    Phase = "running"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// LostConnectionMessage is the message set on any transport failure.
const LostConnectionMessage = "Lost connection to progress stream"

// Event is one decoded progress payload. Counters missing from the payload
// are nil and leave the current value untouched.
type Event struct {
	TotalItems     *int               `json:"totalItems"`
	ProcessedItems *int               `json:"processedItems"`
	AITotal        *int               `json:"aiTotal"`
	AIProcessed    *int               `json:"aiProcessed"`
	Status         models.Status      `json:"status"`
	Message        *string            `json:"message"`
	ContentType    models.ContentType `json:"contentType"`
}

func (ev Event) empty() bool {
	return ev.TotalItems == nil && ev.ProcessedItems == nil &&
		ev.AITotal == nil && ev.AIProcessed == nil &&
		ev.Status == "" && ev.Message == nil && ev.ContentType == ""
}

// DecodeEvent parses a progress payload. Payloads with no known field,
// unknown statuses and negative counters are rejected like undecodable
// JSON.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, client.ParseError{What: "progress event", Err: err}
	}
	if ev.empty() {
		return Event{}, client.ParseError{What: "progress event", Err: errors.New("no progress fields")}
	}
	if ev.Status != "" && !ev.Status.Valid() {
		return Event{}, client.ParseError{What: "progress event", Err: fmt.Errorf("unknown status %q", ev.Status)}
	}
	for _, n := range []*int{ev.TotalItems, ev.ProcessedItems, ev.AITotal, ev.AIProcessed} {
		if n != nil && *n < 0 {
			return Event{}, client.ParseError{What: "progress event", Err: fmt.Errorf("negative counter %d", *n)}
		}
	}
	return ev, nil
}

// Machine turns events into ProgressState. Status only moves forward along
// idle -> starting -> running -> completed|error, and nothing is consumed
// once a terminal status is reached.
type Machine struct {
	phase Phase
	state models.ProgressState
}

// NewMachine returns a machine in the idle phase.
func NewMachine() *Machine {
	return &Machine{phase: PhaseIdle, state: models.IdleProgress()}
}

// Phase returns the channel phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// State returns the current progress snapshot.
func (m *Machine) State() models.ProgressState {
	return m.state
}

// Terminal reports whether the machine stopped consuming events.
func (m *Machine) Terminal() bool {
	return m.phase == PhaseCompleted || m.phase == PhaseError
}

// Connect marks the channel as opened.
func (m *Machine) Connect() {
	if m.phase == PhaseIdle {
		m.phase = PhaseConnecting
	}
}

// Apply folds ev into the state. It reports false when the event was not
// consumed because the machine is idle or already terminal.
func (m *Machine) Apply(ev Event) (models.ProgressState, bool) {
	if m.phase == PhaseIdle || m.Terminal() {
		return m.state, false
	}

	next := m.state
	if ev.TotalItems != nil {
		next.TotalItems = *ev.TotalItems
	}
	if ev.ProcessedItems != nil {
		next.ProcessedItems = *ev.ProcessedItems
	}
	if ev.AITotal != nil {
		next.AITotal = *ev.AITotal
	}
	if ev.AIProcessed != nil {
		next.AIProcessed = *ev.AIProcessed
	}
	if ev.Message != nil {
		next.Message = *ev.Message
	}
	if ev.ContentType != "" {
		next.ContentType = ev.ContentType
	}
	if ev.Status != "" && ev.Status.Rank() > next.Status.Rank() {
		next.Status = ev.Status
	}
	m.state = next.WithPercentages()

	switch m.state.Status {
	case models.StatusCompleted:
		m.phase = PhaseCompleted
	case models.StatusError:
		m.phase = PhaseError
	case models.StatusStarting, models.StatusRunning:
		m.phase = PhaseRunning
	}
	return m.state, true
}

// Fail forces the error state after a transport failure. It reports false
// when the machine was already terminal.
func (m *Machine) Fail(message string) (models.ProgressState, bool) {
	if m.Terminal() {
		return m.state, false
	}
	m.phase = PhaseError
	m.state.Status = models.StatusError
	m.state.Message = message
	return m.state, true
}
