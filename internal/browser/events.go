// File: internal/browser/events.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"

	"github.com/xkilldash9x/pagepilot/internal/lifecycle"
)

// eventTranslator turns raw CDP target events into lifecycle events for the
// main frame. Subframe activity is ignored.
type eventTranslator struct {
	mu         sync.Mutex
	mainFrame  cdp.FrameID
	docRequest network.RequestID
	docFailed  bool
}

func (tr *eventTranslator) setMainFrame(id cdp.FrameID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.mainFrame = id
}

// isMain must be called with mu held. Until the main frame is known every
// frame is treated as main.
func (tr *eventTranslator) isMain(id cdp.FrameID) bool {
	return tr.mainFrame == "" || tr.mainFrame == id
}

func (tr *eventTranslator) translate(raw interface{}) (lifecycle.Event, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	switch ev := raw.(type) {
	case *page.EventFrameStartedLoading:
		if !tr.isMain(ev.FrameID) {
			return lifecycle.Event{}, false
		}
		tr.docFailed = false
		return lifecycle.Started(), true

	case *network.EventRequestWillBeSent:
		if ev.Type == network.ResourceTypeDocument && tr.isMain(ev.FrameID) {
			tr.docRequest = ev.RequestID
		}

	case *network.EventLoadingFailed:
		// A cancelled document request was replaced by a newer navigation.
		if ev.RequestID == tr.docRequest && !ev.Canceled {
			tr.docFailed = true
		}

	case *page.EventFrameStoppedLoading:
		if !tr.isMain(ev.FrameID) {
			return lifecycle.Event{}, false
		}
		ok := !tr.docFailed
		tr.docFailed = false
		return lifecycle.Finished(ok), true

	case *page.EventFrameNavigated:
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return lifecycle.Event{}, false
		}
		if tr.mainFrame == "" {
			tr.mainFrame = ev.Frame.ID
		}
		return lifecycle.Changed(ev.Frame.URL + ev.Frame.URLFragment), true

	case *page.EventNavigatedWithinDocument:
		if tr.isMain(ev.FrameID) {
			return lifecycle.Changed(ev.URL), true
		}
	}
	return lifecycle.Event{}, false
}

// PumpEvents forwards page events to sink until ctx is done. It returns nil
// on cancellation and the sink's error otherwise.
func PumpEvents(ctx context.Context, events <-chan lifecycle.Event, sink func(context.Context, lifecycle.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := sink(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to forward %s event: %w", ev.Type, err)
			}
		}
	}
}
