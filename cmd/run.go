// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/chzyer/readline"
	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pagepilot/internal/agent"
	"github.com/xkilldash9x/pagepilot/internal/api"
	"github.com/xkilldash9x/pagepilot/internal/browser"
	"github.com/xkilldash9x/pagepilot/internal/compiler"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/engine"
	"github.com/xkilldash9x/pagepilot/internal/intent"
	"github.com/xkilldash9x/pagepilot/internal/observability"
	"github.com/xkilldash9x/pagepilot/internal/planner"
)

// newRunCmd creates the `run` command: launch the browser, then take
// instructions from stdin and, optionally, from the HTTP API.
func newRunCmd(v *viper.Viper) *cobra.Command {
	var script string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a browser and drive it from natural language instructions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.API.Enabled = true
			}
			err = runSession(cmd.Context(), cfg, script, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	flags := runCmd.Flags()
	flags.Bool("headless", false, "run the browser without a window")
	flags.String("url", "", "page to open at startup")
	flags.String("listen", "", "serve the control API on this address (enables the API)")
	flags.String("planner", "", "planner provider: gemini or static")
	flags.StringVar(&script, "script", "", "JSON plan file answered to every instruction (implies the static planner)")

	// Bound at construction so the root's PersistentPreRunE sees the flags
	// when it unmarshals the configuration.
	_ = v.BindPFlag("browser.headless", flags.Lookup("headless"))
	_ = v.BindPFlag("browser.start_url", flags.Lookup("url"))
	_ = v.BindPFlag("api.listen", flags.Lookup("listen"))
	_ = v.BindPFlag("planner.provider", flags.Lookup("planner"))
	return runCmd
}

// runSession launches the browser and wires the engine, planner and agent
// around it.
func runSession(ctx context.Context, cfg *config.Config, script string, in io.Reader, out io.Writer) error {
	logger := observability.GetLogger()
	reg := observability.NewRegistry()
	metrics := observability.MustNewMetrics(reg)

	p, err := newPlanner(ctx, cfg, script, logger, metrics)
	if err != nil {
		return err
	}

	comp, err := compiler.NewCached(compiler.New(compiler.Options{DefaultScrollAmount: cfg.Compiler.DefaultScrollAmount}), cfg.Compiler.CacheSize)
	if err != nil {
		return fmt.Errorf("failed to create compiler: %w", err)
	}

	tab, err := browser.Launch(ctx, logger, cfg.Browser)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer tab.Close()

	eng := engine.New(logger, cfg.Engine, comp, tab, tab,
		engine.WithMetrics(metrics), engine.WithInitialURL("about:blank"))
	a := agent.New(logger, eng, p, tab)
	return serve(ctx, cfg, a, reg, in, out)
}

func newPlanner(ctx context.Context, cfg *config.Config, script string, logger *zap.Logger, metrics *observability.Metrics) (planner.Planner, error) {
	if script != "" {
		static, err := planner.LoadStatic(script)
		if err != nil {
			return nil, err
		}
		logger.Info("Using scripted plan.", zap.String("file", script), zap.Int("actions", len(static.Actions)))
		return static, nil
	}
	return planner.New(ctx, cfg.Planner, logger, metrics)
}

// serve runs the agent, the outcome printer, the optional API and the
// interactive session until ctx ends. Typing exit ends the run; so does
// closing stdin when the API is not serving.
func serve(ctx context.Context, cfg *config.Config, a *agent.Agent, gatherer prometheus.Gatherer, in io.Reader, out io.Writer) error {
	logger := observability.GetLogger()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out = &syncWriter{w: out}
	outcomes, unsubscribe := a.Engine().Subscribe(cfg.Engine.OutcomeBuffer)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})
	g.Go(func() error {
		// Ends when the engine stops and closes the subscription.
		for o := range outcomes {
			fmt.Fprintln(out, formatOutcome(o))
		}
		return nil
	})
	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API, logger, a, gatherer)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		fmt.Fprintf(out, "Control API listening on %s\n", cfg.API.Listen)
	}
	g.Go(func() error {
		if cfg.Browser.StartURL != "" {
			start := intent.Intent{Kind: intent.KindNavigate, URL: cfg.Browser.StartURL}
			if _, err := a.Engine().Enqueue(gctx, []intent.Intent{start}); err != nil {
				return fmt.Errorf("failed to queue start page: %w", err)
			}
		}
		s := &session{agent: a, searchURL: cfg.Browser.SearchURL, out: out}
		if in == io.Reader(os.Stdin) && readline.DefaultIsTerminal() {
			s.terminal = true
			s.historyFile = historyPath()
		}
		quit, err := s.loop(gctx, in)
		if err == nil && (quit || !cfg.API.Enabled) {
			cancel()
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrEngineStopped) {
		return nil
	}
	return err
}

// historyPath is where the prompt keeps its history. Empty disables it.
func historyPath() string {
	path, err := homedir.Expand("~/.pagepilot/history")
	if err != nil {
		return ""
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ""
	}
	return path
}

// syncWriter serialises writes from the outcome printer and the session.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
