package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/insumed-ar/ventas-api/internal/models"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
)

func TestStateMachineAcceptsEveryEnumPair(t *testing.T) {
	m := NewStateMachine()
	for _, from := range models.OpportunityStates {
		for _, to := range models.OpportunityStates {
			require.NoError(t, m.ValidateTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStateMachineRejectsUnknownStates(t *testing.T) {
	m := NewStateMachine()

	err := m.ValidateTransition(models.StateNueva, models.OpportunityState("archivada"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)

	err = m.ValidateTransition(models.OpportunityState(""), models.StateGanada)
	require.Error(t, err)
}

func TestStateMachineInitialState(t *testing.T) {
	require.Equal(t, models.StateNueva, NewStateMachine().InitialState())
}
