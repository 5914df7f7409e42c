// Package executor routes validated actions to the browser capability
// layer. It performs exactly one dispatch attempt per call; retry policy
// is owned by the loop controller, not here.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/action"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Browser is the capability surface the executor drives. It is satisfied
// by *browser.Session.
type Browser interface {
	PointerClick(ctx context.Context, x, y float64, button schemas.MouseButton, count int) error
	PointerMove(ctx context.Context, x, y float64) error
	PointerDown(ctx context.Context, x, y float64) error
	PointerUp(ctx context.Context, x, y float64) error
	Wheel(ctx context.Context, x, y, deltaX, deltaY float64) error
	KeyPress(ctx context.Context, name string) error
	KeyType(ctx context.Context, text string) error
	ListOpenPages(ctx context.Context) ([]schemas.PageInfo, error)
	ActivatePage(ctx context.Context, index int) error
	WaitForLoadSignal(ctx context.Context, timeout time.Duration) error
}

// ActionExecutionError wraps any failure that occurs while dispatching a
// single action. The kind is preserved so the controller can apply
// per-kind recovery.
type ActionExecutionError struct {
	Kind  action.Kind
	Cause error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Kind, e.Cause)
}

func (e *ActionExecutionError) Unwrap() error { return e.Cause }

// Executor translates one action into browser capability calls.
type Executor struct {
	browser Browser
	logger  *zap.Logger

	settleTimeout time.Duration
	waitInterval  time.Duration
}

func New(b Browser, cfg *config.Config, logger *zap.Logger) *Executor {
	return &Executor{
		browser:       b,
		logger:        logger.Named("executor"),
		settleTimeout: cfg.Browser.SettleTimeout,
		waitInterval:  cfg.Agent.WaitInterval,
	}
}

// Dispatch executes a single attempt of the action and reports whether a
// new page appeared as a side effect. Marker actions (start, finished,
// call_user) are no-ops at this layer.
func (e *Executor) Dispatch(ctx context.Context, a action.Action) (*schemas.DispatchResult, error) {
	if a.Marker() {
		return &schemas.DispatchResult{}, nil
	}

	pagesBefore, err := e.browser.ListOpenPages(ctx)
	if err != nil {
		return nil, &ActionExecutionError{Kind: a.Kind, Cause: fmt.Errorf("listing pages: %w", err)}
	}

	if err := e.route(ctx, a); err != nil {
		return nil, &ActionExecutionError{Kind: a.Kind, Cause: err}
	}

	e.settle(ctx, a)

	pagesAfter, err := e.browser.ListOpenPages(ctx)
	if err != nil {
		return nil, &ActionExecutionError{Kind: a.Kind, Cause: fmt.Errorf("listing pages after dispatch: %w", err)}
	}

	res := &schemas.DispatchResult{
		PagesBefore:   len(pagesBefore),
		PagesAfter:    len(pagesAfter),
		NewPageOpened: len(pagesAfter) > len(pagesBefore),
		Pages:         pagesAfter,
	}
	if res.NewPageOpened {
		e.logger.Info("new page opened during action",
			zap.String("kind", string(a.Kind)),
			zap.Int("pages_before", res.PagesBefore),
			zap.Int("pages_after", res.PagesAfter))
	}
	return res, nil
}

func (e *Executor) route(ctx context.Context, a action.Action) error {
	switch a.Kind {
	case action.KindClick:
		x, y := action.CenterOf(*a.StartRegion)
		return e.browser.PointerClick(ctx, x, y, schemas.MouseButtonLeft, 1)

	case action.KindDoubleClick:
		x, y := action.CenterOf(*a.StartRegion)
		return e.browser.PointerClick(ctx, x, y, schemas.MouseButtonLeft, 2)

	case action.KindRightClick:
		x, y := action.CenterOf(*a.StartRegion)
		return e.browser.PointerClick(ctx, x, y, schemas.MouseButtonRight, 1)

	case action.KindDrag:
		return e.drag(ctx, a)

	case action.KindHotkey:
		return e.browser.KeyPress(ctx, *a.KeyName)

	case action.KindType:
		return e.typeText(ctx, a)

	case action.KindScroll:
		x, y := action.CenterOf(*a.StartRegion)
		return e.browser.Wheel(ctx, x, y, a.ScrollDelta[0], a.ScrollDelta[1])

	case action.KindWait:
		return e.wait(ctx)

	case action.KindSwitchTab:
		return e.switchTab(ctx, a)
	}
	return &action.InvalidKindError{Kind: a.Kind}
}

// drag presses at the start center, moves to the end center, and
// releases. The intermediate move keeps drop targets that track
// mousemove events working.
func (e *Executor) drag(ctx context.Context, a action.Action) error {
	sx, sy := action.CenterOf(*a.StartRegion)
	ex, ey := action.CenterOf(*a.EndRegion)

	if err := e.browser.PointerMove(ctx, sx, sy); err != nil {
		return fmt.Errorf("moving to drag origin: %w", err)
	}
	if err := e.browser.PointerDown(ctx, sx, sy); err != nil {
		return fmt.Errorf("pressing at drag origin: %w", err)
	}
	if err := e.browser.PointerMove(ctx, ex, ey); err != nil {
		return fmt.Errorf("dragging to target: %w", err)
	}
	if err := e.browser.PointerUp(ctx, ex, ey); err != nil {
		return fmt.Errorf("releasing at drag target: %w", err)
	}
	return nil
}

func (e *Executor) typeText(ctx context.Context, a action.Action) error {
	content, submit := a.ParseTypedText()
	if content != "" {
		if err := e.browser.KeyType(ctx, content); err != nil {
			return fmt.Errorf("typing text: %w", err)
		}
	}
	if submit {
		if err := e.browser.KeyPress(ctx, "Enter"); err != nil {
			return fmt.Errorf("submitting typed text: %w", err)
		}
	}
	return nil
}

func (e *Executor) wait(ctx context.Context) error {
	timer := time.NewTimer(e.waitInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// switchTab resolves the target index and activates it. ActivatePage
// refreshes the page list itself, so a retried dispatch observes pages
// opened since the previous attempt and range errors come back typed.
func (e *Executor) switchTab(ctx context.Context, a action.Action) error {
	index := -1 // latest
	if a.TabIndex != nil {
		index = *a.TabIndex
	}
	return e.browser.ActivatePage(ctx, index)
}

// settle waits for the page to quiesce after actions that can trigger
// navigation or DOM churn. A timeout here is logged but never fatal.
func (e *Executor) settle(ctx context.Context, a action.Action) {
	switch a.Kind {
	case action.KindClick, action.KindDoubleClick, action.KindRightClick,
		action.KindDrag, action.KindType, action.KindHotkey, action.KindSwitchTab:
	default:
		return
	}
	if err := e.browser.WaitForLoadSignal(ctx, e.settleTimeout); err != nil {
		e.logger.Warn("page did not settle after action",
			zap.String("kind", string(a.Kind)),
			zap.Error(err))
	}
}
