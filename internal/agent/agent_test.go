package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/action"
	"github.com/xkilldash9x/webpilot/internal/config"
)

type fakeCapturer struct {
	fn    func(step int) (*schemas.PageState, error)
	calls int
}

func (f *fakeCapturer) Capture(ctx context.Context) (*schemas.PageState, error) {
	f.calls++
	if f.fn != nil {
		return f.fn(f.calls)
	}
	return &schemas.PageState{URL: "https://example.com", Title: "Example"}, nil
}

type fakeDecider struct {
	fn    func(call int, history []HistoryEntry) (string, action.Action, error)
	calls int
}

func (f *fakeDecider) Decide(ctx context.Context, state *schemas.PageState, instruction string, history []HistoryEntry) (string, action.Action, error) {
	f.calls++
	return f.fn(f.calls, history)
}

type fakeDispatcher struct {
	fn    func(call int, act action.Action) (*schemas.DispatchResult, error)
	calls []action.Action
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, act action.Action) (*schemas.DispatchResult, error) {
	f.calls = append(f.calls, act)
	if f.fn != nil {
		return f.fn(len(f.calls), act)
	}
	return &schemas.DispatchResult{}, nil
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agent.StepPacing = 0
	cfg.Agent.DecisionTimeout = time.Second
	return cfg
}

func newTestController(cfg *config.Config, cap Capturer, dec Decider, dis Dispatcher, hooks Hooks) *Controller {
	return NewController(cfg, cap, dec, dis, hooks, zap.NewNop())
}

func clickAction(t *testing.T) action.Action {
	t.Helper()
	a, err := action.New(action.KindClick, action.Params{StartRegion: &action.Region{0, 0, 10, 10}})
	require.NoError(t, err)
	return a
}

func finishedAction() action.Action {
	return action.Must(action.KindFinished, action.Params{})
}

func TestRunFinishesAfterSingleStep(t *testing.T) {
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		return "the task is already complete", finishedAction(), nil
	}}
	dis := &fakeDispatcher{}

	c := newTestController(testConfig(), &fakeCapturer{}, dec, dis, Hooks{})
	res := c.Run(context.Background(), "do nothing")

	assert.Equal(t, StateTerminatedFinished, res.State)
	assert.Equal(t, 1, res.Steps)
	// Synthetic start marker plus the finished action.
	require.Len(t, res.History, 2)
	assert.Equal(t, string(action.KindStart), res.History[0].Action.Kind)
	assert.Equal(t, string(action.KindFinished), res.History[1].Action.Kind)
}

func TestRunEscalationSurfacesQuestion(t *testing.T) {
	question := "Which account should I log in with?"
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		a, err := action.New(action.KindCallUser, action.Params{Question: &question})
		require.NoError(t, err)
		return "credentials are required", a, nil
	}}

	c := newTestController(testConfig(), &fakeCapturer{}, dec, &fakeDispatcher{}, Hooks{})
	res := c.Run(context.Background(), "log in")

	assert.Equal(t, StateTerminatedEscalated, res.State)
	assert.Equal(t, question, res.Question)
}

func TestRunTransientDispatchFailureContinues(t *testing.T) {
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		if call == 1 {
			return "click the button", clickAction(t), nil
		}
		return "done", finishedAction(), nil
	}}
	dis := &fakeDispatcher{fn: func(call int, act action.Action) (*schemas.DispatchResult, error) {
		if act.Kind == action.KindClick {
			return nil, errors.New("node detached")
		}
		return &schemas.DispatchResult{}, nil
	}}

	c := newTestController(testConfig(), &fakeCapturer{}, dec, dis, Hooks{})
	res := c.Run(context.Background(), "press the button")

	assert.Equal(t, StateTerminatedFinished, res.State)
	// The failed click is committed to history even though dispatch failed.
	require.Len(t, res.History, 3)
	assert.Equal(t, string(action.KindClick), res.History[1].Action.Kind)
}

func TestRunSwitchTabRetriedOnceThenLoopContinues(t *testing.T) {
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		if call == 1 {
			a, err := action.New(action.KindSwitchTab, action.Params{})
			require.NoError(t, err)
			return "move to the new tab", a, nil
		}
		return "done", finishedAction(), nil
	}}
	dis := &fakeDispatcher{fn: func(call int, act action.Action) (*schemas.DispatchResult, error) {
		if act.Kind == action.KindSwitchTab {
			return nil, errors.New("target not found")
		}
		return &schemas.DispatchResult{}, nil
	}}

	c := newTestController(testConfig(), &fakeCapturer{}, dec, dis, Hooks{})
	res := c.Run(context.Background(), "switch tabs")

	assert.Equal(t, StateTerminatedFinished, res.State)

	// Both switch_tab attempts happened before the loop moved on.
	var switchAttempts int
	for _, a := range dis.calls {
		if a.Kind == action.KindSwitchTab {
			switchAttempts++
		}
	}
	assert.Equal(t, 2, switchAttempts)
	assert.Equal(t, action.KindFinished, dis.calls[len(dis.calls)-1].Kind)
}

func TestRunCancelBeforeStepSkipsAllWork(t *testing.T) {
	cap := &fakeCapturer{}
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		t.Fatal("decider must not run after cancellation")
		return "", action.Action{}, nil
	}}
	dis := &fakeDispatcher{}

	c := newTestController(testConfig(), cap, dec, dis, Hooks{})
	c.Cancel()
	res := c.Run(context.Background(), "anything")

	assert.Equal(t, StateTerminatedCancelled, res.State)
	assert.Zero(t, cap.calls)
	assert.Empty(t, dis.calls)
}

func TestRunContextCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		cancel() // observed at the next step boundary
		return "wait a moment", action.Must(action.KindWait, action.Params{}), nil
	}}

	c := newTestController(testConfig(), &fakeCapturer{}, dec, &fakeDispatcher{}, Hooks{})
	res := c.Run(ctx, "anything")

	assert.Equal(t, StateTerminatedCancelled, res.State)
	assert.Equal(t, 1, dec.calls)
}

func TestRunFirstCaptureFailureIsFatal(t *testing.T) {
	cap := &fakeCapturer{fn: func(step int) (*schemas.PageState, error) {
		return nil, errors.New("no such window")
	}}
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		t.Fatal("decider must not run without an observation")
		return "", action.Action{}, nil
	}}

	c := newTestController(testConfig(), cap, dec, &fakeDispatcher{}, Hooks{})
	res := c.Run(context.Background(), "anything")

	assert.Equal(t, StateTerminatedError, res.State)
	var capErr *CaptureError
	require.ErrorAs(t, res.Err, &capErr)
	assert.Equal(t, 1, capErr.Step)
}

func TestRunLaterCaptureFailureSkipsStep(t *testing.T) {
	cap := &fakeCapturer{fn: func(call int) (*schemas.PageState, error) {
		if call == 2 {
			return nil, errors.New("screenshot timed out")
		}
		return &schemas.PageState{URL: "https://example.com"}, nil
	}}
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		if call == 1 {
			return "wait", action.Must(action.KindWait, action.Params{}), nil
		}
		return "done", finishedAction(), nil
	}}

	cfg := testConfig()
	cfg.Agent.WaitInterval = time.Millisecond

	c := newTestController(cfg, cap, dec, &fakeDispatcher{}, Hooks{})
	res := c.Run(context.Background(), "anything")

	assert.Equal(t, StateTerminatedFinished, res.State)
	// Step 2's capture failed, so the finish decision came on step 3.
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 2, dec.calls)
}

func TestRunConsecutiveFailureCeiling(t *testing.T) {
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		return "keep clicking", clickAction(t), nil
	}}
	dis := &fakeDispatcher{fn: func(call int, act action.Action) (*schemas.DispatchResult, error) {
		return nil, errors.New("node detached")
	}}

	cfg := testConfig()
	cfg.Agent.MaxConsecutiveFailures = 3

	c := newTestController(cfg, &fakeCapturer{}, dec, dis, Hooks{})
	res := c.Run(context.Background(), "anything")

	assert.Equal(t, StateTerminatedError, res.State)
	assert.Equal(t, 3, res.Steps)
	require.Error(t, res.Err)
}

func TestRunFailureCounterResetsOnSuccess(t *testing.T) {
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		if call == 5 {
			return "done", finishedAction(), nil
		}
		return "click", clickAction(t), nil
	}}
	// Alternate failure and success; the counter never reaches 2.
	dis := &fakeDispatcher{fn: func(call int, act action.Action) (*schemas.DispatchResult, error) {
		if call%2 == 1 && act.Kind == action.KindClick {
			return nil, errors.New("flaky")
		}
		return &schemas.DispatchResult{}, nil
	}}

	cfg := testConfig()
	cfg.Agent.MaxConsecutiveFailures = 2

	c := newTestController(cfg, &fakeCapturer{}, dec, dis, Hooks{})
	res := c.Run(context.Background(), "anything")

	assert.Equal(t, StateTerminatedFinished, res.State)
}

func TestRunDecisionRetriesThenError(t *testing.T) {
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		return "", action.Action{}, errors.New("model unavailable")
	}}

	cfg := testConfig()
	cfg.Agent.DecisionRetries = 3

	c := newTestController(cfg, &fakeCapturer{}, dec, &fakeDispatcher{}, Hooks{})
	res := c.Run(context.Background(), "anything")

	assert.Equal(t, StateTerminatedError, res.State)
	assert.Equal(t, 3, dec.calls)
	var decErr *DecisionError
	assert.ErrorAs(t, res.Err, &decErr)
}

func TestRunMaxStepsExhausted(t *testing.T) {
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		return "wait some more", action.Must(action.KindWait, action.Params{}), nil
	}}

	cfg := testConfig()
	cfg.Agent.MaxSteps = 4
	cfg.Agent.WaitInterval = time.Millisecond

	c := newTestController(cfg, &fakeCapturer{}, dec, &fakeDispatcher{}, Hooks{})
	res := c.Run(context.Background(), "anything")

	assert.Equal(t, StateTerminatedError, res.State)
	assert.ErrorIs(t, res.Err, ErrMaxStepsExceeded)
	assert.Equal(t, 4, res.Steps)
}

func TestRunHooksObserveSession(t *testing.T) {
	var starts, ends []int
	var sessionEnds int

	hooks := Hooks{
		OnStepStart: func(step int) { starts = append(starts, step) },
		OnStepEnd: func(step int, state *schemas.PageState, entry HistoryEntry) {
			ends = append(ends, step)
		},
		OnSessionEnd: func(result *Result) { sessionEnds++ },
	}

	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		if call < 3 {
			return "click", clickAction(t), nil
		}
		return "done", finishedAction(), nil
	}}

	c := newTestController(testConfig(), &fakeCapturer{}, dec, &fakeDispatcher{}, hooks)
	res := c.Run(context.Background(), "anything")

	assert.Equal(t, StateTerminatedFinished, res.State)
	assert.Equal(t, []int{1, 2, 3}, starts)
	assert.Equal(t, []int{1, 2, 3}, ends)
	assert.Equal(t, 1, sessionEnds)
}

func TestRunHistorySnapshotsAreDetached(t *testing.T) {
	region := action.Region{0, 0, 10, 10}
	dec := &fakeDecider{fn: func(call int, _ []HistoryEntry) (string, action.Action, error) {
		if call == 1 {
			a, err := action.New(action.KindClick, action.Params{StartRegion: &region})
			require.NoError(t, err)
			return "click", a, nil
		}
		return "done", finishedAction(), nil
	}}

	c := newTestController(testConfig(), &fakeCapturer{}, dec, &fakeDispatcher{}, Hooks{})
	res := c.Run(context.Background(), "anything")

	// Mutating the region the decider handed out cannot rewrite history.
	region[0] = 999
	require.Len(t, res.History, 3)
	assert.Equal(t, 0.0, res.History[1].Action.StartRegion[0])
}
