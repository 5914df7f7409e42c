// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/artifacts"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/executor"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

var (
	flagURL      string
	flagSite     string
	flagTasks    []string
	flagMaxSteps int
	flagHeadless bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one or more browsing tasks against a start page.",
	Long: `Opens the start page in a fresh browser session for each task and drives
the perception-decide-act loop until the task finishes, escalates, or fails.`,
	RunE: runTasks,
}

func init() {
	runCmd.Flags().StringVarP(&flagURL, "url", "u", "", "start page URL")
	runCmd.Flags().StringVarP(&flagSite, "site", "s", "", "start page shortcut from the sites config (e.g. google)")
	runCmd.Flags().StringArrayVarP(&flagTasks, "task", "t", nil, "task instruction (repeatable; each gets its own session)")
	runCmd.Flags().IntVar(&flagMaxSteps, "max-steps", 0, "override agent.max_steps")
	runCmd.Flags().BoolVar(&flagHeadless, "headless", true, "run the browser headless")

	runCmd.MarkFlagsOneRequired("url", "site")
	runCmd.MarkFlagsMutuallyExclusive("url", "site")
	_ = runCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(runCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg := appCfg
	if flagMaxSteps > 0 {
		cfg.Agent.MaxSteps = flagMaxSteps
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = flagHeadless
	}

	startURL := flagURL
	if startURL == "" {
		var ok bool
		startURL, ok = cfg.Sites[flagSite]
		if !ok {
			return fmt.Errorf("unknown site shortcut %q (configured: %v)", flagSite, siteNames(cfg.Sites))
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.GetLogger()

	decider, err := llmclient.NewGeminiDecider(ctx, cfg.LLM, logger)
	if err != nil {
		return err
	}

	manager := browser.NewManager(cfg.Browser, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("browser shutdown incomplete", zap.Error(err))
		}
	}()

	results := make([]*agent.Result, len(flagTasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range flagTasks {
		g.Go(func() error {
			res, err := runOneTask(gctx, manager, decider, task, startURL)
			if err != nil {
				return fmt.Errorf("task %q: %w", task, err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, res := range results {
		printResult(cmd, flagTasks[i], res)
	}
	return nil
}

func runOneTask(ctx context.Context, manager *browser.Manager, decider agent.Decider, task, startURL string) (*agent.Result, error) {
	session, err := manager.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening browser session: %w", err)
	}
	defer session.Close(context.Background())

	cfg := appCfg
	store, err := artifacts.NewStore(cfg.Artifacts, cfg.Logger, session.ID())
	if err != nil {
		return nil, fmt.Errorf("preparing session artifacts: %w", err)
	}
	logger := store.Logger()

	logger.Info("task starting",
		zap.String("task", task),
		zap.String("start_url", startURL),
		zap.String("artifacts_dir", store.Dir()))

	if err := session.Navigate(ctx, startURL); err != nil {
		_ = store.Finalize(nil)
		return nil, fmt.Errorf("opening start page: %w", err)
	}

	exec := executor.New(session, cfg, logger)
	controller := agent.NewController(cfg, session, decider, exec, store.Hooks(), logger)

	return controller.Run(ctx, task), nil
}

func printResult(cmd *cobra.Command, task string, res *agent.Result) {
	cmd.Printf("task: %s\n  state: %s\n  steps: %d\n", task, res.State, res.Steps)
	switch res.State {
	case agent.StateTerminatedEscalated:
		cmd.Printf("  agent needs your input: %s\n", res.Question)
	case agent.StateTerminatedFinished:
		if res.Answer != "" {
			cmd.Printf("  answer: %s\n", res.Answer)
		}
	case agent.StateTerminatedError:
		if res.Err != nil {
			cmd.Printf("  error: %v\n", res.Err)
		}
	}
}

func siteNames(sites map[string]string) []string {
	names := make([]string, 0, len(sites))
	for name := range sites {
		names = append(names, name)
	}
	return names
}
