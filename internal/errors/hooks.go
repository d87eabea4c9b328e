package errors

import (
	"sync"
	"sync/atomic"
)

// ErrorHook is called for every error built while reporting is active
type ErrorHook func(ee *EnhancedError)

var (
	hooksMu sync.RWMutex
	hooks   []ErrorHook

	// hasActiveReporting gates the slow path in Build
	hasActiveReporting atomic.Bool
)

// AddErrorHook registers a hook, e.g. a metrics counter keyed by category.
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	hooksMu.Lock()
	hooks = append(hooks, hook)
	hooksMu.Unlock()
	updateActiveReporting()
}

// ClearErrorHooks removes all registered hooks
func ClearErrorHooks() {
	hooksMu.Lock()
	hooks = nil
	hooksMu.Unlock()
	updateActiveReporting()
}

func updateActiveReporting() {
	hooksMu.RLock()
	active := len(hooks) > 0
	hooksMu.RUnlock()

	if r := GetTelemetryReporter(); r != nil && r.IsEnabled() {
		active = true
	}
	hasActiveReporting.Store(active)
}

func reportToTelemetry(ee *EnhancedError) {
	hooksMu.RLock()
	current := hooks
	hooksMu.RUnlock()

	for _, hook := range current {
		hook(ee)
	}

	if r := GetTelemetryReporter(); r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}
