// Package artifacts persists the per-session archive: a dedicated
// directory holding the chronological session log, the numbered
// screenshots, and the final result record.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

const (
	sessionLogName = "agent.log"
	resultName     = "result.json"
)

type screenshot struct {
	step int
	png  []byte
}

// Store owns one session's artifact directory. Screenshots are buffered
// in memory during the run and flushed once at session end so disk I/O
// never sits between two steps.
type Store struct {
	dir       string
	logger    *zap.Logger
	closeLog  func() error
	saveShots bool

	mu     sync.Mutex
	shots  []screenshot
	closed bool
}

// NewStore creates the session directory (task_<timestamp>_<id>) and
// opens the session-scoped log sink inside it.
func NewStore(cfg config.ArtifactsConfig, logCfg config.LoggerConfig, sessionID string) (*Store, error) {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	dir := filepath.Join(cfg.Dir, fmt.Sprintf("task_%s_%s", time.Now().Format("20060102_150405"), short))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	logger, closeLog := observability.NewSessionLogger(logCfg, filepath.Join(dir, sessionLogName))

	return &Store{
		dir:       dir,
		logger:    logger.With(zap.String("session_id", sessionID)),
		closeLog:  closeLog,
		saveShots: cfg.SaveScreenshots,
	}, nil
}

// Dir returns the session directory path.
func (s *Store) Dir() string { return s.dir }

// Logger returns the session logger. Everything logged through it lands
// in both the global sinks and this session's agent.log.
func (s *Store) Logger() *zap.Logger { return s.logger }

// Hooks wires the store into the step loop.
func (s *Store) Hooks() agent.Hooks {
	return agent.Hooks{
		OnStepStart: func(step int) {
			s.logger.Info("step started", zap.Int("step", step))
		},
		OnStepEnd: func(step int, state *schemas.PageState, entry agent.HistoryEntry) {
			s.logger.Info("step completed",
				zap.Int("step", step),
				zap.String("kind", entry.Action.Kind),
				zap.String("thought", entry.Thought))
			if state != nil {
				s.addScreenshot(step, state.Screenshot)
			}
		},
		OnSessionEnd: func(result *agent.Result) {
			if err := s.Finalize(result); err != nil {
				s.logger.Error("finalizing session artifacts", zap.Error(err))
			}
		},
	}
}

// addScreenshot buffers a detached copy; the browser layer reuses its
// capture buffer across steps.
func (s *Store) addScreenshot(step int, png []byte) {
	if !s.saveShots || len(png) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots = append(s.shots, screenshot{step: step, png: append([]byte(nil), png...)})
}

// Finalize flushes the screenshot cache, writes the result record, and
// releases the log sink. Each release step is independently guarded so a
// failing one never blocks the others. Safe to call once; later calls
// are no-ops.
func (s *Store) Finalize(result *agent.Result) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	shots := s.shots
	s.shots = nil
	s.mu.Unlock()

	var errs []error

	for _, shot := range shots {
		name := filepath.Join(s.dir, fmt.Sprintf("screenshot_%03d.png", shot.step))
		if err := os.WriteFile(name, shot.png, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("writing %s: %w", name, err))
		}
	}

	if result != nil {
		if err := s.writeResult(result); err != nil {
			errs = append(errs, err)
		}
		s.logger.Info("session ended",
			zap.String("state", string(result.State)),
			zap.Int("steps", result.Steps),
			zap.Int("screenshots", len(shots)))
	}

	if err := s.closeLog(); err != nil {
		errs = append(errs, fmt.Errorf("closing session log: %w", err))
	}

	return errors.Join(errs...)
}

func (s *Store) writeResult(result *agent.Result) error {
	data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, resultName), data, 0o644); err != nil {
		return fmt.Errorf("writing result record: %w", err)
	}
	return nil
}
