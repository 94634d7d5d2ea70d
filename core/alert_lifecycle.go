package core

import (
	"fmt"
)

// validTransitions defines allowed state transitions for alerts.
// Resolved and false_positive are final. Suppressed can only be left through
// the explicit reopen edge back to open.
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusOpen:          {AlertStatusAcknowledged, AlertStatusInvestigating, AlertStatusResolved, AlertStatusFalsePositive, AlertStatusSuppressed},
	AlertStatusAcknowledged:  {AlertStatusInvestigating, AlertStatusResolved, AlertStatusFalsePositive, AlertStatusSuppressed},
	AlertStatusInvestigating: {AlertStatusResolved, AlertStatusFalsePositive, AlertStatusSuppressed},
	AlertStatusResolved:      {},
	AlertStatusFalsePositive: {},
	AlertStatusSuppressed:    {AlertStatusOpen},
}

// TransitionTo validates and executes an alert state transition.
// Returns an error wrapping ErrInvalidTransition if the move is not allowed;
// the alert is unchanged on error.
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}
	allowed, exists := validTransitions[a.Status]
	if !exists {
		return fmt.Errorf("%w: unknown current status %q", ErrInvalidTransition, a.Status)
	}
	for _, status := range allowed {
		if status == newStatus {
			a.Status = newStatus
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (allowed: %v)", ErrInvalidTransition, a.Status, newStatus, allowed)
}

// CanTransitionTo checks if a transition is allowed without executing it.
func (a *Alert) CanTransitionTo(newStatus AlertStatus) bool {
	for _, status := range validTransitions[a.Status] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// AllowedTransitions returns all valid transitions from the current state.
func (a *Alert) AllowedTransitions() []AlertStatus {
	allowed := validTransitions[a.Status]
	result := make([]AlertStatus, len(allowed))
	copy(result, allowed)
	return result
}
