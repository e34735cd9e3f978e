package nodemanager

import (
	"errors"
	"fmt"
)

// ErrInvalidStateTransition is returned when a control operation is called
// from a status it does not apply to, for example stopping a node that never
// started.
var ErrInvalidStateTransition = errors.New("invalid node state transition")

func invalidTransition(from, to NodeStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}

// ReconciliationError reports that the on-chain side of a transition could
// not be completed. The local transition has already finished when this is
// returned; the chain just does not know about it yet.
type ReconciliationError struct {
	Op  string
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("cannot reconcile %s on chain: %v", e.Op, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// IsReconciliation reports whether err is a ReconciliationError.
func IsReconciliation(err error) bool {
	var target *ReconciliationError
	return errors.As(err, &target)
}
