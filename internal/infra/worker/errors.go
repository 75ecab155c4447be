package worker

import (
	"errors"
	"fmt"
)

var errNilTask = errors.New("nil task")

// PanicError carries a recovered panic so one bad item can't take down a batch.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }
