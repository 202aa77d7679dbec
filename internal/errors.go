package internal

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPath       = errors.New("invalid watch path")
	ErrContractViolation = errors.New("batch contract violation")
	ErrWatchStopped      = errors.New("watch is stopped")
	ErrNilNotifier       = errors.New("nil notifier")
)

// ContractViolation
// raised (as a panic value) when the collaborator hands over a batch whose
// path and flag arrays differ in length.
type ContractViolation struct {
	Paths int
	Flags int
}

func (c *ContractViolation) Error() string {
	return fmt.Sprintf("%v: %d paths != %d flags", ErrContractViolation, c.Paths, c.Flags)
}

func (c *ContractViolation) Unwrap() error { return ErrContractViolation }
