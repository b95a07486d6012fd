package incident

import (
	"errors"
	"fmt"
)

var (
	ErrStepLimit        = errors.New("orchestration step limit exceeded")
	ErrResultAlreadySet = errors.New("tier result already set")
	ErrUnknownStage     = errors.New("unknown stage")
)

// StageError wraps a fatal failure raised inside a graph node.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
