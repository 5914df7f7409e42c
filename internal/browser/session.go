// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// Session is one live browser session: an isolated tab tree driven over CDP.
// All interaction methods act on the currently active tab. Methods are not
// safe for concurrent use; a session belongs to exactly one loop.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	// root is the chromedp context of the session's first tab. It anchors
	// target discovery and the attachment of additional tabs.
	root       context.Context
	rootCancel context.CancelFunc

	// active is the chromedp context of the tab interactions run against.
	active context.Context

	// tabs caches attached tab contexts by target so re-activating a tab
	// does not re-attach (cancelling an attachment closes the tab).
	tabs  map[target.ID]context.Context
	order []target.ID // opening order, first tab first

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

// TabIndexError reports a switch_tab index outside the open-page range.
type TabIndexError struct {
	Index int
	Count int
}

func (e *TabIndexError) Error() string {
	return fmt.Sprintf("browser: tab index %d out of range (have %d pages)", e.Index, e.Count)
}

func newSession(allocCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	// Establish the target so the session is usable immediately.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, &SessionError{Op: "initialize", Cause: err}
	}

	s := &Session{
		id:         sessionID,
		cfg:        cfg,
		logger:     logger.With(zap.String("session_id", sessionID)),
		root:       tabCtx,
		rootCancel: tabCancel,
		active:     tabCtx,
		tabs:       make(map[target.ID]context.Context),
	}

	if tgt := chromedp.FromContext(tabCtx).Target; tgt != nil {
		s.tabs[tgt.TargetID] = tabCtx
		s.order = append(s.order, tgt.TargetID)
	}
	return s, nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// Close terminates the browser session. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	s.rootCancel()
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// Navigate drives the active tab to url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := s.boundedRunContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Capture observes the active tab: screenshot plus the auxiliary text
// channels fed to the decision step.
func (s *Session) Capture(ctx context.Context) (*schemas.PageState, error) {
	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	state := &schemas.PageState{}
	err := chromedp.Run(runCtx,
		chromedp.Location(&state.URL),
		chromedp.Title(&state.Title),
		chromedp.CaptureScreenshot(&state.Screenshot),
		chromedp.OuterHTML("html", &state.Markup, chromedp.ByQuery),
		chromedp.Evaluate(`Array.from(document.scripts).map(s => s.textContent).join('\n')`, &state.ScriptText),
		chromedp.Text("body", &state.VisibleText, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("capture page state: %w", err)
	}
	return state, nil
}

// PointerClick issues count click events of the given button at (x, y).
func (s *Session) PointerClick(ctx context.Context, x, y float64, button schemas.MouseButton, count int) error {
	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	opts := []chromedp.MouseOption{chromedp.Button(string(button))}
	if count > 1 {
		opts = append(opts, chromedp.ClickCount(count))
	}
	return chromedp.Run(runCtx, chromedp.MouseClickXY(x, y, opts...))
}

// PointerMove moves the pointer to (x, y) without pressing a button.
func (s *Session) PointerMove(ctx context.Context, x, y float64) error {
	return s.dispatchMouse(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y))
}

// PointerDown presses the left button at (x, y).
func (s *Session) PointerDown(ctx context.Context, x, y float64) error {
	return s.dispatchMouse(ctx, input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.Left).
		WithClickCount(1))
}

// PointerUp releases the left button at (x, y).
func (s *Session) PointerUp(ctx context.Context, x, y float64) error {
	return s.dispatchMouse(ctx, input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.Left).
		WithClickCount(1))
}

// Wheel dispatches a wheel event at (x, y) with the given deltas.
func (s *Session) Wheel(ctx context.Context, x, y, deltaX, deltaY float64) error {
	return s.dispatchMouse(ctx, input.DispatchMouseEvent(input.MouseWheel, x, y).
		WithDeltaX(deltaX).
		WithDeltaY(deltaY))
}

// KeyPress dispatches a single named key (e.g. "Enter", "Escape") to the
// active tab.
func (s *Session) KeyPress(ctx context.Context, name string) error {
	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	return chromedp.Run(runCtx, chromedp.KeyEvent(resolveKeyName(name)))
}

// KeyType dispatches text as a stream of keystrokes to the focused element.
func (s *Session) KeyType(ctx context.Context, text string) error {
	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	return chromedp.Run(runCtx, chromedp.KeyEvent(text))
}

// ListOpenPages refreshes and returns the open pages in opening order.
func (s *Session) ListOpenPages(ctx context.Context) ([]schemas.PageInfo, error) {
	infos, err := chromedp.Targets(s.root)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	live := make(map[target.ID]*target.Info, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			live[info.TargetID] = info
		}
	}

	// Keep known pages in opening order, drop closed ones, append new ones
	// in discovery order.
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := live[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	known := make(map[target.ID]bool, len(s.order))
	for _, id := range s.order {
		known[id] = true
	}
	for _, info := range infos {
		if info.Type == "page" && !known[info.TargetID] {
			s.order = append(s.order, info.TargetID)
		}
	}

	pages := make([]schemas.PageInfo, 0, len(s.order))
	for i, id := range s.order {
		info := live[id]
		pages = append(pages, schemas.PageInfo{
			Index:    i,
			TargetID: string(id),
			URL:      info.URL,
			Title:    info.Title,
		})
	}
	return pages, nil
}

// ActivatePage makes the page at index the active tab. Index -1 selects the
// most recently opened page. Fails with *TabIndexError for anything else out
// of range.
func (s *Session) ActivatePage(ctx context.Context, index int) error {
	pages, err := s.ListOpenPages(ctx)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return &TabIndexError{Index: index, Count: 0}
	}
	if index == -1 {
		index = len(pages) - 1
	}
	if index < 0 || index >= len(pages) {
		return &TabIndexError{Index: index, Count: len(pages)}
	}

	id := s.order[index]
	tabCtx, ok := s.tabs[id]
	if !ok {
		// Attach without a cancel handle we would ever call: cancelling an
		// attached tab context closes the tab itself.
		tabCtx, _ = chromedp.NewContext(s.root, chromedp.WithTargetID(id))
		if err := chromedp.Run(tabCtx); err != nil {
			return fmt.Errorf("attach to page %d: %w", index, err)
		}
		s.tabs[id] = tabCtx
	}

	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(c context.Context) error {
		return target.ActivateTarget(id).Do(c)
	})); err != nil {
		return fmt.Errorf("activate page %d: %w", index, err)
	}

	s.active = tabCtx
	s.logger.Debug("Activated page.", zap.Int("index", index), zap.String("url", pages[index].URL))
	return nil
}

// WaitForLoadSignal waits up to timeout for the active tab's document to be
// ready. Expiry is reported as an error; callers decide whether it is fatal.
func (s *Session) WaitForLoadSignal(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := s.boundedRunContext(ctx, timeout)
	defer cancel()

	return chromedp.Run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *Session) dispatchMouse(ctx context.Context, p *input.DispatchMouseEventParams) error {
	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	return chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		return p.Do(c)
	}))
}

// runContext derives a context from the active tab that is also cancelled
// when the caller's context is done. Cancelling the derived context aborts
// the in-flight CDP call without closing the tab.
func (s *Session) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.active)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) boundedRunContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancelRun := s.runContext(ctx)
	if timeout <= 0 {
		return runCtx, cancelRun
	}
	boundedCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	return boundedCtx, func() {
		cancelTimeout()
		cancelRun()
	}
}
