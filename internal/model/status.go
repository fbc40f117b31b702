package model

import (
	"encoding/json"
	"fmt"
)

// RunStatus is the overall state of a PipelineRun.
//
// The legal progression is Queued → Running → {Succeeded, Failed,
// Cancelled}. A queued run may also be cancelled before it ever starts.
type RunStatus int

const (
	RunQueued RunStatus = iota
	RunRunning
	RunSucceeded
	RunFailed
	RunCancelled
)

var runStatusNames = map[RunStatus]string{
	RunQueued:    "queued",
	RunRunning:   "running",
	RunSucceeded: "succeeded",
	RunFailed:    "failed",
	RunCancelled: "cancelled",
}

var runTransitions = map[RunStatus][]RunStatus{
	RunQueued:  {RunRunning, RunCancelled},
	RunRunning: {RunSucceeded, RunFailed, RunCancelled},
}

// String returns the wire/storage name of the status.
func (s RunStatus) String() string {
	if name, ok := runStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RunStatus(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return len(runTransitions[s]) == 0
}

// CanTransition reports whether the state machine permits moving to the
// given status.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, next := range runTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the status as its string name.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string name.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for status, n := range runStatusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown run status %q", name)
}

// StepStatus is the state of a single StepRun within a run.
//
// The legal progression is Pending → Running → {Succeeded, Failed,
// FailedAllowed, Cancelled}. A pending step can be skipped (a prior
// step failed fatally) or cancelled without ever running.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepSucceeded
	StepFailed
	// StepFailedAllowed records a failing step whose allow_failure flag
	// downgraded the failure from run-fatal to merely recorded.
	StepFailedAllowed
	StepSkipped
	StepCancelled
)

var stepStatusNames = map[StepStatus]string{
	StepPending:       "pending",
	StepRunning:       "running",
	StepSucceeded:     "succeeded",
	StepFailed:        "failed",
	StepFailedAllowed: "failed_allowed",
	StepSkipped:       "skipped",
	StepCancelled:     "cancelled",
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepRunning, StepSkipped, StepCancelled},
	StepRunning: {StepSucceeded, StepFailed, StepFailedAllowed, StepCancelled},
}

// String returns the wire/storage name of the status.
func (s StepStatus) String() string {
	if name, ok := stepStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StepStatus(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s StepStatus) Terminal() bool {
	return len(stepTransitions[s]) == 0
}

// CanTransition reports whether the state machine permits moving to the
// given status.
func (s StepStatus) CanTransition(to StepStatus) bool {
	for _, next := range stepTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the status as its string name.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string name.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for status, n := range stepStatusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown step status %q", name)
}
