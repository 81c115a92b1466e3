package backendprocess

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"
	"github.com/core-tools/hsu-launcher-go/pkg/logging"
)

const maxTransitionHistory = 32

// StateTransition records one change of the supervisor slot
type StateTransition struct {
	From      State
	To        State
	Operation string
	Timestamp time.Time
}

var validTransitions = map[State][]State{
	StateIdle: {
		StateStarting, // Start reserved the slot
	},
	StateStarting: {
		StateRunning, // spawned and stored
		StateIdle,    // spawn failed, startup aborted, or exited before store
	},
	StateRunning: {
		StateStopping, // Stop took the handle
		StateIdle,     // backend exited on its own
	},
	StateStopping: {
		StateIdle, // kill finished
	},
}

// slotState is guarded by the supervisor mutex
type slotState struct {
	processID   string
	current     State
	transitions []StateTransition
	logger      logging.Logger
}

func newSlotState(processID string, logger logging.Logger) *slotState {
	return &slotState{
		processID: processID,
		current:   StateIdle,
		logger:    logger,
	}
}

func (s *slotState) canTransition(to State) bool {
	for _, valid := range validTransitions[s.current] {
		if valid == to {
			return true
		}
	}
	return false
}

func (s *slotState) transition(to State, operation string) error {
	if s.current == to {
		return nil
	}
	if !s.canTransition(to) {
		return errors.NewInternalError(
			fmt.Sprintf("invalid state transition from '%s' to '%s'", s.current, to),
			nil,
		).WithContext("process", s.processID).
			WithContext("operation", operation)
	}

	from := s.current
	s.current = to
	s.transitions = append(s.transitions, StateTransition{
		From:      from,
		To:        to,
		Operation: operation,
		Timestamp: time.Now(),
	})
	if len(s.transitions) > maxTransitionHistory {
		s.transitions = s.transitions[len(s.transitions)-maxTransitionHistory:]
	}

	s.logger.Debugf("Backend slot transition, process: %s, %s->%s, operation: %s", s.processID, from, to, operation)
	return nil
}

func (s *slotState) history() []StateTransition {
	history := make([]StateTransition, len(s.transitions))
	copy(history, s.transitions)
	return history
}
