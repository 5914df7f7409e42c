package agent

import (
	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/action"
)

// State is the lifecycle state of one agent session. A session starts in
// StateRunning and ends in exactly one of the terminal states.
type State string

const (
	StateRunning             State = "RUNNING"
	StateTerminatedFinished  State = "TERMINATED_FINISHED"
	StateTerminatedEscalated State = "TERMINATED_ESCALATED"
	StateTerminatedError     State = "TERMINATED_ERROR"
	StateTerminatedCancelled State = "TERMINATED_CANCELLED"
)

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool { return s != StateRunning }

// HistoryEntry is one appended step record. The action is stored as a
// detached snapshot so later steps cannot mutate earlier history.
type HistoryEntry struct {
	Step    int           `json:"step"`
	Thought string        `json:"thought"`
	Action  action.Record `json:"action"`
}

// Hooks are optional observation points around the step loop. Nil fields
// are skipped. Hook panics and errors never change control flow.
type Hooks struct {
	OnStepStart  func(step int)
	OnStepEnd    func(step int, state *schemas.PageState, entry HistoryEntry)
	OnSessionEnd func(result *Result)
}

// Result is the outcome of one Run call.
type Result struct {
	State    State          `json:"state"`
	Steps    int            `json:"steps"`
	History  []HistoryEntry `json:"history"`
	Question string         `json:"question,omitempty"`
	Answer   string         `json:"answer,omitempty"`
	Err      error          `json:"-"`
}

// retryPolicy bounds the dispatch attempts for one action kind.
type retryPolicy struct {
	MaxAttempts int
}

// retryPolicies is consulted per dispatched kind; kinds not listed get a
// single attempt. Tab switches get one retry because the executor
// refreshes the target list on each attempt and a page opened moments
// ago may only be visible the second time around.
var retryPolicies = map[action.Kind]retryPolicy{
	action.KindSwitchTab: {MaxAttempts: 2},
}

func attemptsFor(kind action.Kind) int {
	if p, ok := retryPolicies[kind]; ok && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}
