package sim

import "sync"

// HookPos names a site where a Hookable invokes its hooks. Each package
// declares the positions it exposes, such as HookPosBeforeEvent here or the
// Tx and Rx positions of the endpoints.
type HookPos struct {
	Name string
}

// String returns the name of the position.
func (p *HookPos) String() string {
	return p.Name
}

// HookCtx is what a hook sees when it is invoked. Item is the object that
// passes the hook site and Detail carries the extra information of the
// position.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable defines an object that accept Hooks
type Hookable interface {
	// AcceptHook registers a hook
	AcceptHook(hook Hook)
}

// HookPosBeforeEvent is a hook position that triggers before handling an
// event. The item is the Event and the detail is the *ScheduledEvent.
var HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent triggers once the handler of an event has returned. The
// item is the Event.
var HookPosAfterEvent = &HookPos{Name: "AfterEvent"}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f(ctx).
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase keeps the hooks of a Hookable. Hooks may be added and removed
// from other goroutines, such as the monitor, while the simulation runs.
type HookableBase struct {
	mu    sync.RWMutex
	hooks []Hook
}

// AcceptHook registers a hook. Hooks are invoked in registration order.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hooks = append(h.hooks, hook)
}

// RemoveHook unregisters a hook. Unknown hooks are ignored. The hook must be
// comparable, such as a pointer; a HookFunc cannot be removed.
func (h *HookableBase) RemoveHook(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := make([]Hook, 0, len(h.hooks))
	for _, registered := range h.hooks {
		if registered != hook {
			kept = append(kept, registered)
		}
	}

	h.hooks = kept
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.hooks)
}

// InvokeHook triggers the registered hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	h.mu.RLock()
	hooks := h.hooks
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.Func(ctx)
	}
}
