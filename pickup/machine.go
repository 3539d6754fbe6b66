/*
Package pickup implements the waste pickup lifecycle.

STATE MACHINE:
  ┌───────────┐  start   ┌─────────────┐ complete ┌───────────┐
  │ scheduled │ ───────▶ │ in_progress │ ───────▶ │ completed │
  └───────────┘          └─────────────┘          └───────────┘
        │                       │
        │        cancel         │
        └──────────┬────────────┘
                   ▼
             ┌───────────┐
             │ cancelled │
             └───────────┘

  Pickups only move forward. completed and cancelled are terminal.
  Cancelling a cancelled pickup is accepted as a no-op so clients can
  retry safely; every other move out of a terminal state is refused with
  ErrInvalidTransition.

AWARD:
  Completion awards round_half_up(actual_weight_kg × rate) points as one
  earned entry, written in the same unit of work as the status change.
  points_awarded is set exactly once. An award that rounds to zero is
  recorded as points_awarded = 0 with no ledger entry.

SEE ALSO:
  - rates.go: points per kilogram
  - service.go: persistence and ledger wiring
*/
package pickup

import (
	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// TRANSITIONS
// =============================================================================

var transitions = map[ledger.PickupStatus][]ledger.PickupStatus{
	ledger.PickupScheduled:  {ledger.PickupInProgress, ledger.PickupCancelled},
	ledger.PickupInProgress: {ledger.PickupCompleted, ledger.PickupCancelled},
}

// CanTransition reports whether from → to is an edge of the machine.
func CanTransition(from, to ledger.PickupStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns an InvalidTransitionError for disallowed moves.
func checkTransition(from, to ledger.PickupStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &ledger.InvalidTransitionError{Resource: "pickup", From: string(from), To: string(to)}
}
