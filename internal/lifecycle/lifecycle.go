// Package lifecycle provides event hooks for capture session transitions.
package lifecycle

import (
	"sync"
	"time"

	"github.com/neboloop/revapi/internal/logging"
)

// Event types for lifecycle hooks
type Event string

const (
	// Session state transitions
	EventSessionLaunching Event = "session_launching"
	EventSessionActive    Event = "session_active"
	EventSessionClosing   Event = "session_closing"
	EventSessionClosed    Event = "session_closed"

	// EventSessionFallback fires when a real-browser preference was
	// downgraded to the bundled browser.
	EventSessionFallback Event = "session_fallback"

	// EventSignalReceived fires once per session on the first interrupt.
	EventSignalReceived Event = "signal_received"

	// Analysis hand-off
	EventAnalysisStart    Event = "analysis_start"
	EventAnalysisComplete Event = "analysis_complete"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// Manager manages lifecycle event subscriptions and dispatching
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

// NewManager returns a manager with no handlers.
func NewManager() *Manager {
	return &Manager{handlers: make(map[Event][]Handler)}
}

var global = NewManager()

// Default returns the process-wide manager.
func Default() *Manager {
	return global
}

// On registers a handler for a lifecycle event
func On(event Event, handler Handler) {
	global.On(event, handler)
}

// Emit dispatches an event to all registered handlers
func Emit(event Event, data any) {
	global.Emit(event, data)
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Emit dispatches an event to all registered handlers. A nil manager
// drops events.
func (m *Manager) Emit(event Event, data any) {
	if m == nil {
		return
	}
	m.mu.RLock()
	handlers := m.handlers[event]
	m.mu.RUnlock()

	logging.Debugf("[lifecycle] Emitting event: %s", event)
	for _, h := range handlers {
		// Run handlers synchronously (they can spawn goroutines if needed)
		h(event, data)
	}
}

// SessionEventData is the payload of session events.
type SessionEventData struct {
	RunID    string
	State    string
	Strategy string
	HARPath  string
	At       time.Time
	Err      error
}

// AnalysisEventData is the payload of analysis events.
type AnalysisEventData struct {
	RunID      string
	Command    string
	DurationMS int64
	// Output is the generated client, or the scripts dir when none was
	// written.
	Output string
	Err    error
}

// OnSession registers one handler for every session event.
func (m *Manager) OnSession(handler func(event Event, data SessionEventData)) {
	for _, ev := range []Event{
		EventSessionLaunching,
		EventSessionActive,
		EventSessionClosing,
		EventSessionClosed,
		EventSessionFallback,
		EventSignalReceived,
	} {
		m.On(ev, func(e Event, data any) {
			if d, ok := data.(SessionEventData); ok {
				handler(e, d)
			}
		})
	}
}
