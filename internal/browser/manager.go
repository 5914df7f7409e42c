// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser process lifecycle and creates isolated sessions.
// Each session gets its own tab tree; sessions share nothing but the
// underlying Chromium process.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

// NewManager creates a browser manager. The browser process itself is not
// launched until the first session is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// initialize builds the exec allocator that backs all sessions.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", m.cfg.Headless),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(m.cfg.ViewportWidth, m.cfg.ViewportHeight),
		)
		for _, arg := range m.cfg.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}

		// The allocator must outlive the caller's request context; it is
		// torn down explicitly in Shutdown.
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		m.logger.Info("Browser allocator initialized.",
			zap.Bool("headless", m.cfg.Headless),
			zap.Int("viewport_width", m.cfg.ViewportWidth),
			zap.Int("viewport_height", m.cfg.ViewportHeight))
	})
	return m.initErr
}

// NewSession creates a new isolated browser session (its own first tab).
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, &SessionError{Op: "initialize", Cause: err}
	}

	session, err := newSession(m.allocCtx, m.cfg, m.logger)
	if err != nil {
		return nil, err
	}

	m.wg.Add(1)
	session.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.sessions, session.ID())
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", session.ID()))
	}

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", session.ID()))
	return session, nil
}

// Shutdown gracefully closes all sessions and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	if m.allocCtx == nil {
		m.logger.Info("Manager not initialized, nothing to shut down.")
		return nil
	}

	m.mu.RLock()
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	m.mu.RUnlock()

	for _, s := range sessionsToClose {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error during session close in shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions closed gracefully.")
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown context cancelled. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	m.allocCancel()
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}

// SessionError reports a failure during session setup or teardown.
type SessionError struct {
	Op    string
	Cause error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("browser session %s failed: %v", e.Op, e.Cause)
}

func (e *SessionError) Unwrap() error { return e.Cause }
