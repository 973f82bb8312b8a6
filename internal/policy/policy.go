// Package policy runs an optional user Lua script that can veto layer
// activations and observe deactivations.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"layerd/internal/logging"
)

// DefaultTimeout bounds a single hook call when the config carries no
// explicit budget.
const DefaultTimeout = 50 * time.Millisecond

// Hook function names resolved in the script's global table.
const (
	activateFn   = "on_activate"
	deactivateFn = "on_deactivate"
)

// Hooks wraps a loaded policy script.
//
// A gopher-lua LState is not goroutine-safe, so every call into the
// script serializes through the Hooks mutex. The first script error
// disables the whole script for the remainder of the session; the
// engine keeps running without it.
type Hooks struct {
	mu      sync.Mutex
	state   *lua.LState
	timeout time.Duration
	log     *logging.Logger

	hasActivate   bool
	hasDeactivate bool
	disabled      bool
}

// Load runs the script at path inside a sandboxed state and resolves
// the hook functions. A script that defines neither hook still loads
// and behaves as an allow-all.
func Load(path string, timeout time.Duration) (*Hooks, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	L := lua.NewState()
	sandbox(L)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("policy: load %s: %w", path, err)
	}

	h := &Hooks{
		state:         L,
		timeout:       timeout,
		log:           logging.Default().WithComponent("policy"),
		hasActivate:   L.GetGlobal(activateFn).Type() == lua.LTFunction,
		hasDeactivate: L.GetGlobal(deactivateFn).Type() == lua.LTFunction,
	}
	h.log.Info("policy script loaded",
		"path", path,
		"on_activate", h.hasActivate,
		"on_deactivate", h.hasDeactivate)
	return h, nil
}

// sandbox strips the globals that reach the filesystem or the process
// environment before any user code runs, and leaves require with
// nowhere to look.
func sandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "os", "io"} {
		L.SetGlobal(name, lua.LNil)
	}
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		pkg.RawSetString("path", lua.LString(""))
		pkg.RawSetString("cpath", lua.LString(""))
	}
}

// Activate consults on_activate. Only an explicit false return vetoes;
// a missing hook, a disabled script, or any other return value allows.
func (h *Hooks) Activate(layer int, device string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disabled || !h.hasActivate || h.state == nil {
		return true
	}

	var vetoed bool
	err := h.callLocked(func(L *lua.LState) error {
		if err := L.CallByParam(lua.P{
			Fn:      L.GetGlobal(activateFn),
			NRet:    1,
			Protect: true,
		}, lua.LNumber(layer), lua.LString(device)); err != nil {
			return err
		}
		vetoed = L.Get(-1) == lua.LFalse
		L.Pop(1)
		return nil
	})
	if err != nil {
		h.disableLocked(activateFn, err)
		return true
	}
	return !vetoed
}

// Deactivated notifies on_deactivate of a lowered layer and its cause.
func (h *Hooks) Deactivated(layer int, cause string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disabled || !h.hasDeactivate || h.state == nil {
		return
	}

	err := h.callLocked(func(L *lua.LState) error {
		return L.CallByParam(lua.P{
			Fn:      L.GetGlobal(deactivateFn),
			NRet:    0,
			Protect: true,
		}, lua.LNumber(layer), lua.LString(cause))
	})
	if err != nil {
		h.disableLocked(deactivateFn, err)
	}
}

// callLocked runs fn against the state under the per-call time budget.
// Panics out of the VM are converted to errors so a broken script can
// never take the engine down with it.
func (h *Hooks) callLocked(fn func(*lua.LState) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.state.SetContext(ctx)
	defer h.state.RemoveContext()

	return fn(h.state)
}

// disableLocked turns the script off for the rest of the session.
func (h *Hooks) disableLocked(hook string, err error) {
	h.disabled = true
	h.log.Error("policy script disabled", "hook", hook, "error", err)
}

// Enabled reports whether the script is live and defines at least one
// hook.
func (h *Hooks) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.disabled && (h.hasActivate || h.hasDeactivate)
}

// Close releases the Lua state. The hooks allow everything afterwards.
func (h *Hooks) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != nil {
		h.state.Close()
		h.state = nil
	}
	h.disabled = true
}
