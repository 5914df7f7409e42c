// Package agent implements the perception-decide-act loop: capture the
// page, ask the decision collaborator for the next action, dispatch it,
// and repeat until a terminal marker, an error budget, or cancellation
// ends the session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/action"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// ErrMaxStepsExceeded ends a session that never reached a terminal marker.
var ErrMaxStepsExceeded = errors.New("agent: step budget exhausted without a terminal action")

// Capturer observes the active page. Satisfied by *browser.Session.
type Capturer interface {
	Capture(ctx context.Context) (*schemas.PageState, error)
}

// Decider produces the next action for the current observation. The
// history slice is read-only for the callee.
type Decider interface {
	Decide(ctx context.Context, state *schemas.PageState, instruction string, history []HistoryEntry) (thought string, act action.Action, err error)
}

// Dispatcher executes exactly one attempt of an action. Retry policy for
// failed attempts lives here in the controller, keyed by action kind.
type Dispatcher interface {
	Dispatch(ctx context.Context, act action.Action) (*schemas.DispatchResult, error)
}

// Controller owns one session's step loop.
type Controller struct {
	cfg        config.AgentConfig
	capturer   Capturer
	decider    Decider
	dispatcher Dispatcher
	hooks      Hooks
	logger     *zap.Logger
	pacer      *rate.Limiter

	cancelled atomic.Bool
}

func NewController(cfg *config.Config, capturer Capturer, decider Decider, dispatcher Dispatcher, hooks Hooks, logger *zap.Logger) *Controller {
	pace := rate.Inf
	if cfg.Agent.StepPacing > 0 {
		pace = rate.Every(cfg.Agent.StepPacing)
	}
	return &Controller{
		cfg:        cfg.Agent,
		capturer:   capturer,
		decider:    decider,
		dispatcher: dispatcher,
		hooks:      hooks,
		logger:     logger.Named("agent"),
		pacer:      rate.NewLimiter(pace, 1),
	}
}

// Cancel requests a cooperative stop. The loop honors it at the next step
// boundary; a step already in flight runs to completion.
func (c *Controller) Cancel() {
	c.cancelled.Store(true)
}

// Run drives the loop for one instruction and always returns a terminal
// Result. The OnSessionEnd hook fires exactly once, whatever path ends
// the session.
func (c *Controller) Run(ctx context.Context, instruction string) *Result {
	result := &Result{
		State: StateRunning,
		History: []HistoryEntry{{
			Step:    0,
			Thought: instruction,
			Action:  action.Must(action.KindStart, action.Params{}).Record(),
		}},
	}
	defer func() {
		if c.hooks.OnSessionEnd != nil {
			c.hooks.OnSessionEnd(result)
		}
	}()

	consecutiveFailures := 0

	for step := 1; step <= c.cfg.MaxSteps; step++ {
		result.Steps = step

		if c.stopRequested(ctx) {
			c.logger.Info("session cancelled at step boundary", zap.Int("step", step))
			result.State = StateTerminatedCancelled
			return result
		}
		if err := c.pacer.Wait(ctx); err != nil {
			result.State = StateTerminatedCancelled
			return result
		}

		if c.hooks.OnStepStart != nil {
			c.hooks.OnStepStart(step)
		}

		state, err := c.capturer.Capture(ctx)
		if err != nil {
			capErr := &CaptureError{Step: step, Cause: err}
			if step == 1 {
				// The very first observation failing means the browser
				// never came up; nothing downstream can recover that.
				c.logger.Error("initial page capture failed", zap.Error(capErr))
				result.State = StateTerminatedError
				result.Err = capErr
				return result
			}
			c.logger.Warn("page capture failed, skipping step", zap.Int("step", step), zap.Error(capErr))
			consecutiveFailures++
			if fatal := c.checkFailureCeiling(consecutiveFailures, result, capErr); fatal {
				return result
			}
			continue
		}

		thought, act, err := c.decide(ctx, state, instruction, result.History)
		if err != nil {
			c.logger.Error("decision failed after retries", zap.Int("step", step), zap.Error(err))
			result.State = StateTerminatedError
			result.Err = err
			return result
		}
		c.logger.Info("action decided",
			zap.Int("step", step),
			zap.String("action", act.String()),
			zap.String("thought", thought))

		// History is committed before dispatch so the record reflects
		// what was attempted, not only what succeeded.
		entry := HistoryEntry{Step: step, Thought: thought, Action: act.Record()}
		result.History = append(result.History, entry)

		if err := c.dispatch(ctx, act); err != nil {
			if errors.Is(err, context.Canceled) {
				result.State = StateTerminatedCancelled
				return result
			}
			c.logger.Warn("action dispatch failed", zap.Int("step", step), zap.Error(err))
			consecutiveFailures++
			if fatal := c.checkFailureCeiling(consecutiveFailures, result, err); fatal {
				return result
			}
			c.stepEnd(step, state, entry)
			continue
		}
		consecutiveFailures = 0

		c.stepEnd(step, state, entry)

		switch act.Kind {
		case action.KindFinished:
			result.State = StateTerminatedFinished
			if act.Answer != nil {
				result.Answer = *act.Answer
			}
			return result
		case action.KindCallUser:
			result.State = StateTerminatedEscalated
			result.Question = *act.Question
			return result
		}
	}

	result.State = StateTerminatedError
	result.Err = ErrMaxStepsExceeded
	return result
}

func (c *Controller) stopRequested(ctx context.Context) bool {
	return c.cancelled.Load() || ctx.Err() != nil
}

// decide bounds each attempt with the decision timeout and retries model
// failures up to the configured attempt count.
func (c *Controller) decide(ctx context.Context, state *schemas.PageState, instruction string, history []HistoryEntry) (string, action.Action, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.DecisionRetries; attempt++ {
		if ctx.Err() != nil {
			return "", action.Action{}, ctx.Err()
		}
		attemptCtx := ctx
		if c.cfg.DecisionTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.DecisionTimeout)
			defer cancel()
		}
		thought, act, err := c.decider.Decide(attemptCtx, state, instruction, history)
		if err == nil {
			return thought, act, nil
		}
		lastErr = err
		c.logger.Warn("decision attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.DecisionRetries),
			zap.Error(err))
	}
	return "", action.Action{}, &DecisionError{Cause: lastErr}
}

func (c *Controller) dispatch(ctx context.Context, act action.Action) error {
	attempts := attemptsFor(act.Kind)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := c.dispatcher.Dispatch(ctx, act)
		if err == nil {
			if res != nil && res.NewPageOpened {
				c.logger.Info("action opened a new page", zap.Int("open_pages", res.PagesAfter))
			}
			return nil
		}
		lastErr = err
		if attempt < attempts {
			c.logger.Warn("retrying action dispatch",
				zap.String("kind", string(act.Kind)),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
	return lastErr
}

func (c *Controller) checkFailureCeiling(consecutive int, result *Result, cause error) bool {
	if consecutive < c.cfg.MaxConsecutiveFailures {
		return false
	}
	c.logger.Error("consecutive failure ceiling reached",
		zap.Int("failures", consecutive),
		zap.Error(cause))
	result.State = StateTerminatedError
	result.Err = fmt.Errorf("agent: %d consecutive step failures: %w", consecutive, cause)
	return true
}

func (c *Controller) stepEnd(step int, state *schemas.PageState, entry HistoryEntry) {
	if c.hooks.OnStepEnd != nil {
		c.hooks.OnStepEnd(step, state, entry)
	}
}
