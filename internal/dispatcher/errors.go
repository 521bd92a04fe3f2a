package dispatcher

import (
	"errors"
	"fmt"

	"go-fleet/internal/fleet"
)

var (
	ErrorCapacityExceeded = errors.New("capacity exceeded")
	ErrorRejected         = errors.New("rejected by worker")
)

type CapacityError struct {
	Worker  fleet.WorkerId
	Running int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("worker %s is full (%d running jobs)", e.Worker, e.Running)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrorCapacityExceeded
}

// StoreError means the job state could not be read or recorded, so the
// outcome of the operation is unknown.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage failed while %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
