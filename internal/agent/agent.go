// File: internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pagepilot/internal/browser"
	"github.com/xkilldash9x/pagepilot/internal/engine"
	"github.com/xkilldash9x/pagepilot/internal/intent"
	"github.com/xkilldash9x/pagepilot/internal/lifecycle"
	"github.com/xkilldash9x/pagepilot/internal/planner"
)

const defaultScreenshotTimeout = 10 * time.Second

// Surface is the part of the rendering surface the agent itself needs.
type Surface interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Events() <-chan lifecycle.Event
}

// Response is the result of handling one instruction.
type Response struct {
	RequestID string               `json:"request_id"`
	Message   string               `json:"message,omitempty"`
	Actions   []intent.Intent      `json:"actions"`
	Report    engine.EnqueueReport `json:"report"`
}

// Agent connects the planner to the engine: instructions become plans, plans
// become queued intents, and page events flow from the surface to the
// engine.
type Agent struct {
	logger            *zap.Logger
	engine            *engine.Engine
	planner           planner.Planner
	surface           Surface
	screenshotTimeout time.Duration
}

// New wires an agent. surface may be nil, in which case planning runs
// without screenshots and no page events are pumped.
func New(logger *zap.Logger, eng *engine.Engine, p planner.Planner, surface Surface) *Agent {
	return &Agent{
		logger:            logger.Named("agent"),
		engine:            eng,
		planner:           p,
		surface:           surface,
		screenshotTimeout: defaultScreenshotTimeout,
	}
}

// Engine exposes the engine for direct intent submission and state queries.
func (a *Agent) Engine() *engine.Engine { return a.engine }

// Run runs the engine and the page event pump until ctx is cancelled or one
// of them fails.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Run(gctx)
	})
	if a.surface != nil {
		g.Go(func() error {
			err := browser.PumpEvents(gctx, a.surface.Events(), a.engine.PageEvent)
			if errors.Is(err, engine.ErrEngineStopped) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Handle plans an instruction against the current page and queues the
// resulting intents. The plan's message, if any, is returned for display.
func (a *Agent) Handle(ctx context.Context, instruction string) (*Response, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, planner.ErrEmptyInstruction
	}
	requestID := uuid.NewString()
	logger := a.logger.With(zap.String("request_id", requestID))

	state, err := a.engine.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine state: %w", err)
	}

	req := planner.Request{
		Instruction: instruction,
		CurrentURL:  state.CurrentURL,
		Snapshot:    a.screenshot(ctx, logger),
	}
	logger.Info("Planning instruction.", zap.String("instruction", instruction), zap.String("url", req.CurrentURL), zap.Int("snapshot_bytes", len(req.Snapshot)))

	plan, err := a.planner.Plan(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	if plan.Message != "" {
		logger.Info("Planner message.", zap.String("message", plan.Message))
	}

	report, err := a.engine.Enqueue(ctx, plan.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue plan: %w", err)
	}
	for _, r := range report.Rejected {
		logger.Warn("Planner produced an invalid intent.", zap.Int("index", r.Index), zap.String("intent", r.Intent.String()), zap.String("error", r.Error))
	}

	return &Response{
		RequestID: requestID,
		Message:   plan.Message,
		Actions:   plan.Actions,
		Report:    report,
	}, nil
}

// screenshot captures the page for the planner. Failure is not fatal: the
// planner still gets the instruction and URL.
func (a *Agent) screenshot(ctx context.Context, logger *zap.Logger) []byte {
	if a.surface == nil {
		return nil
	}
	shotCtx, cancel := context.WithTimeout(ctx, a.screenshotTimeout)
	defer cancel()
	png, err := a.surface.Screenshot(shotCtx)
	if err != nil {
		logger.Warn("Could not capture screenshot, planning without one.", zap.Error(err))
		return nil
	}
	return png
}
