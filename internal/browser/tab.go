// File: internal/browser/tab.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/bridge"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/lifecycle"
)

const defaultEventBuffer = 256

// Tab is a single Chrome tab. It is the rendering surface the engine drives:
// it evaluates scripts, issues navigations and reports lifecycle events.
type Tab struct {
	logger      *zap.Logger
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	translator *eventTranslator
	events     chan lifecycle.Event
	dropped    atomic.Int64
	closeOnce  sync.Once
}

var (
	_ bridge.ScriptBridge = (*Tab)(nil)
	_ bridge.Navigator    = (*Tab)(nil)
)

// Launch starts Chrome with cfg and attaches to its first tab. The browser
// lives until Close is called or ctx is cancelled.
func Launch(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Tab, error) {
	logger = logger.Named("browser")
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)

	sugar := logger.Sugar()
	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	}
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(sugar.Debugf))
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, ctxOpts...)

	t := newTab(logger, cfg.EventBuffer)
	t.ctx = tabCtx
	t.cancelTab = cancelTab
	t.cancelAlloc = cancelAlloc

	chromedp.ListenTarget(tabCtx, t.onEvent)
	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable(), personaActions(cfg)); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	// A top-level tab's main frame shares the target's id.
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		t.translator.setMainFrame(cdp.FrameID(c.Target.TargetID))
	}

	logger.Info("Browser tab ready.", zap.Bool("headless", cfg.Headless))
	return t, nil
}

func newTab(logger *zap.Logger, buffer int) *Tab {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Tab{
		logger:     logger,
		translator: &eventTranslator{},
		events:     make(chan lifecycle.Event, buffer),
	}
}

// onEvent runs on chromedp's event loop and must not block.
func (t *Tab) onEvent(raw interface{}) {
	ev, ok := t.translator.translate(raw)
	if !ok {
		return
	}
	select {
	case t.events <- ev:
	default:
		n := t.dropped.Add(1)
		t.logger.Warn("Page event buffer full, event dropped.", zap.Stringer("event", ev.Type), zap.Int64("dropped_total", n))
	}
}

// Events delivers lifecycle events of the main frame. The channel is never
// closed; stop reading when your context ends.
func (t *Tab) Events() <-chan lifecycle.Event { return t.events }

// Evaluate runs code in the page and returns its JSON value. Errors are
// classified with bridge.Classify.
func (t *Tab) Evaluate(ctx context.Context, code string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exc, err := cpruntime.Evaluate(code).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		raw, err = remoteValue(obj, exc)
		return err
	}))
	if err != nil {
		return nil, bridge.Classify(err)
	}
	return raw, nil
}

// Navigate issues a top-level navigation and returns without waiting for the
// load. A navigation Chrome refuses to commit, such as a download or a 204,
// is returned as an error.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return fmt.Errorf("failed to navigate to %s: %w", url, err)
		}
		return navigateError(url, &res)
	}))
}

// navigateError reports the errorText of a page.Navigate reply.
func navigateError(url string, res *page.NavigateReturns) error {
	if res == nil || res.ErrorText == "" {
		return nil
	}
	return fmt.Errorf("navigation to %s failed: %s", url, res.ErrorText)
}

// History moves through the session history or reloads the page.
func (t *Tab) History(ctx context.Context, op bridge.HistoryOp) error {
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if op == bridge.HistoryReload {
			return page.Reload().Do(ctx)
		}
		var step int64
		switch op {
		case bridge.HistoryBack:
			step = -1
		case bridge.HistoryForward:
			step = 1
		default:
			return fmt.Errorf("unsupported history operation %q", op)
		}
		current, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to read navigation history: %w", err)
		}
		next := current + step
		if next < 0 || next >= int64(len(entries)) {
			return fmt.Errorf("no history entry to go %s to", op)
		}
		return page.NavigateToHistoryEntry(entries[next].ID).Do(ctx)
	}))
}

// Screenshot captures the viewport as PNG.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Location returns the URL of the main frame.
func (t *Tab) Location(ctx context.Context) (string, error) {
	var url string
	if err := t.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Close shuts the tab and the browser process down.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		if t.cancelTab != nil {
			t.cancelTab()
		}
		if t.cancelAlloc != nil {
			t.cancelAlloc()
		}
		t.logger.Info("Browser closed.", zap.Int64("dropped_events", t.dropped.Load()))
	})
}

// run executes actions bound to both the tab's lifetime and ctx.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// remoteValue extracts the JSON value of an evaluation returned by value.
func remoteValue(obj *cpruntime.RemoteObject, exc *cpruntime.ExceptionDetails) (json.RawMessage, error) {
	if exc != nil {
		msg := exc.Text
		if exc.Exception != nil && exc.Exception.Description != "" {
			msg = exc.Exception.Description
		}
		return nil, fmt.Errorf("uncaught exception: %s", msg)
	}
	if obj == nil || obj.Type == cpruntime.TypeUndefined {
		return nil, nil
	}
	if obj.UnserializableValue != "" {
		return nil, bridge.NewEvalError(bridge.KindNotSerializable, "value %s has no JSON representation", obj.UnserializableValue)
	}
	if len(obj.Value) == 0 {
		if obj.Subtype == cpruntime.SubtypeNull {
			return json.RawMessage("null"), nil
		}
		return nil, nil
	}
	return append(json.RawMessage(nil), obj.Value...), nil
}
