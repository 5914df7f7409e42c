package agent

import "fmt"

// CaptureError reports a failed page observation. Fatal on the first step
// of a session, tolerated afterwards.
type CaptureError struct {
	Step  int
	Cause error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capturing page state at step %d: %v", e.Step, e.Cause)
}

func (e *CaptureError) Unwrap() error { return e.Cause }

// DecisionError reports that the decision collaborator could not produce a
// valid action, either because the model call failed or because its output
// could not be parsed into the action vocabulary.
type DecisionError struct {
	Cause error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("deciding next action: %v", e.Cause)
}

func (e *DecisionError) Unwrap() error { return e.Cause }
