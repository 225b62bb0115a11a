// File: internal/lifecycle/lifecycle.go
package lifecycle

import "fmt"

// EventType enumerates the page events the monitor understands.
type EventType int

const (
	// NavigationStarted fires when the main frame begins loading a document.
	NavigationStarted EventType = iota + 1
	// LoadFinished fires when the main frame stops loading; OK reports success.
	LoadFinished
	// URLChanged carries the new main frame URL. It never gates dispatch.
	URLChanged
)

func (t EventType) String() string {
	switch t {
	case NavigationStarted:
		return "navigation_started"
	case LoadFinished:
		return "load_finished"
	case URLChanged:
		return "url_changed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one raw page lifecycle event.
type Event struct {
	Type EventType
	OK   bool
	URL  string
}

func Started() Event           { return Event{Type: NavigationStarted} }
func Finished(ok bool) Event   { return Event{Type: LoadFinished, OK: ok} }
func Changed(url string) Event { return Event{Type: URLChanged, URL: url} }

// Transition reports what an Apply call changed.
type Transition struct {
	// Unsettled is set when the page went from settled to loading.
	Unsettled bool
	// Settled is set when the page went from loading to settled.
	Settled bool
}

// Monitor reduces lifecycle events to the flags the engine consults. It is
// not safe for concurrent use; the engine owns it inside its actor.
type Monitor struct {
	settled    bool
	navigating bool
	currentURL string
	lastLoadOK bool
	generation uint64
}

// NewMonitor returns a monitor for a page that is usable right away.
func NewMonitor(initialURL string) *Monitor {
	return &Monitor{settled: true, currentURL: initialURL, lastLoadOK: true}
}

func (m *Monitor) Settled() bool      { return m.settled }
func (m *Monitor) Navigating() bool   { return m.navigating }
func (m *Monitor) CurrentURL() string { return m.currentURL }
func (m *Monitor) LastLoadOK() bool   { return m.lastLoadOK }

// Generation identifies the current unsettled period. It increases on every
// settled to loading transition, so a settle timer armed for an older
// generation can be recognised as stale.
func (m *Monitor) Generation() uint64 { return m.generation }

// Apply folds one event into the monitor.
func (m *Monitor) Apply(ev Event) Transition {
	switch ev.Type {
	case NavigationStarted:
		return m.BeginNavigation()
	case LoadFinished:
		wasSettled := m.settled
		m.settled = true
		m.navigating = false
		m.lastLoadOK = ev.OK
		return Transition{Settled: !wasSettled}
	case URLChanged:
		if ev.URL != "" {
			m.currentURL = ev.URL
		}
	}
	return Transition{}
}

// BeginNavigation marks the page as loading. The engine calls it when it
// issues a navigation itself, ahead of the surface's own start event.
func (m *Monitor) BeginNavigation() Transition {
	wasSettled := m.settled
	m.settled = false
	m.navigating = true
	if wasSettled {
		m.generation++
	}
	return Transition{Unsettled: wasSettled}
}

// SettleTimeout forces the page settled if gen is still the current
// generation and the page has not settled yet. It reports whether it fired.
// A forced settle counts as a failed load.
func (m *Monitor) SettleTimeout(gen uint64) bool {
	return m.forceSettle(gen)
}

// Abort settles the page after a navigation the engine issued could not be
// started, recording a failed load. Like SettleTimeout it only applies to the
// current generation.
func (m *Monitor) Abort(gen uint64) bool {
	return m.forceSettle(gen)
}

func (m *Monitor) forceSettle(gen uint64) bool {
	if gen != m.generation || m.settled {
		return false
	}
	m.settled = true
	m.navigating = false
	m.lastLoadOK = false
	return true
}
