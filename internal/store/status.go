package store

import "nevira/weighbridge-service/internal/models"

// DeriveStatus is recomputed from the weights on every mutation. Capture and
// confirmation move a ticket past ready_for_capture; this function never does.
func DeriveStatus(firstWeight, secondWeight float64) string {
	switch {
	case firstWeight <= 0:
		return models.StatusPendingFirstWeight
	case secondWeight <= 0:
		return models.StatusAwaitingSecondWeight
	default:
		return models.StatusReadyForCapture
	}
}

// NetWeight returns second - first for a valid pair and 0 otherwise. A
// decreasing weight sequence is rejected upstream, never absorbed via abs().
func NetWeight(firstWeight, secondWeight float64) float64 {
	if secondWeight <= firstWeight {
		return 0
	}
	return secondWeight - firstWeight
}

// ValidWeightPair reports whether the pair can represent a finished weighing.
func ValidWeightPair(firstWeight, secondWeight float64) bool {
	return firstWeight >= 0 && secondWeight > firstWeight
}

// MutationLocked reports whether weights and cargo type are frozen: after the
// ticket completed, or once a movement has been linked.
func MutationLocked(status string, movementID *string) bool {
	return status == models.StatusCompleted || movementID != nil
}
