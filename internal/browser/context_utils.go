// File: internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext returns a context derived from primary that is also
// cancelled when secondary is. Values come from primary only, which is what
// chromedp needs: the tab context carries the CDP target while the caller's
// context carries the deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	if d, ok := secondary.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, d)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
