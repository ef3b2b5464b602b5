// Package cancel implements the one-shot cancellation token used for
// delayed message delivery.
//
// A token starts active and makes exactly one transition, to either
// cancelled or completed. Cancellation fires the registered callbacks once,
// in registration order; completion fires nothing. This is the only chat
// object touched from outside the hub goroutine (delay timers race with
// hub-side cancellation), so the state transition is guarded by a mutex.
package cancel

import (
	"reflect"
	"sync"
)

type state int32

const (
	stateActive state = iota
	stateCancelled
	stateCompleted
)

// Token is a one-shot {active, cancelled, completed} state machine with
// cancel-callbacks. All methods are safe for concurrent use.
type Token struct {
	mu        sync.Mutex
	state     state
	callbacks []func()
}

// New returns a Token in the active state.
func New() *Token {
	return &Token{}
}

// OnCancel registers cb to be invoked when the token is cancelled. If the
// token is already cancelled, cb is invoked immediately. If the token is
// completed, cb is never invoked.
func (t *Token) OnCancel(cb func()) {
	t.mu.Lock()
	switch t.state {
	case stateActive:
		t.callbacks = append(t.callbacks, cb)
		t.mu.Unlock()
	case stateCancelled:
		t.mu.Unlock()
		cb()
	default:
		t.mu.Unlock()
	}
}

// RemoveCallback removes one registration of cb. No-op if cb was not
// registered. Callbacks are compared by identity, so the caller must pass
// the same func value it registered.
func (t *Token) RemoveCallback(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, registered := range t.callbacks {
		if sameFunc(registered, cb) {
			t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
			return
		}
	}
}

// Cancel transitions the token to cancelled and fires every registered
// callback exactly once, in registration order, outside the lock. No-op if
// the token is no longer active.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.state != stateActive {
		t.mu.Unlock()
		return
	}
	t.state = stateCancelled
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Complete transitions the token to completed without firing callbacks.
// No-op if the token is no longer active.
func (t *Token) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateActive {
		return
	}
	t.state = stateCompleted
	t.callbacks = nil
}

// sameFunc compares two funcs by code pointer. Go funcs are not comparable
// with ==; the code pointer distinguishes different function literals but
// not two closures built from the same literal, which is sufficient here.
func sameFunc(a, b func()) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// IsActive reports whether the token has not yet been cancelled or
// completed.
func (t *Token) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateActive
}

// IsCancelled reports whether the token was cancelled.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateCancelled
}

// IsCompleted reports whether the token was completed.
func (t *Token) IsCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateCompleted
}
