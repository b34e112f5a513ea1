package service

import (
	"fmt"

	"github.com/insumed-ar/ventas-api/internal/models"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
)

// StateMachine validates requested opportunity transitions. The transition
// graph is flat: any enum member may follow any other, including moving a
// terminal record back to a non-terminal state (the business deliberately
// tolerates reopening). The only hard rejection is a state outside the enum.
type StateMachine struct{}

// NewStateMachine constructs the machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// ValidateTransition checks a requested move from current to requested.
// Self-transitions are accepted here; whether they are worth historizing
// is decided by the caller based on the presence of a comment.
func (m *StateMachine) ValidateTransition(current, requested models.OpportunityState) error {
	if !requested.Valid() {
		return appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("unknown opportunity state: %s", requested))
	}
	if !current.Valid() {
		return appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("record is in unknown state: %s", current))
	}
	return nil
}

// InitialState is the state every opportunity starts in. It is never
// chosen by a caller.
func (m *StateMachine) InitialState() models.OpportunityState {
	return models.StateNueva
}
