// Package signals routes OS signals to handlers owned by running tasks.
//
// A trap for a signal is installed with the first binding and removed with
// the last one. When a signal arrives every handler bound to it runs, most
// recently bound first. A handler returning keep=false is unbound. Bindings
// belong to a Scope and are dropped when that scope finishes.
package signals

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/zjrosen/ferry/internal/log"
)

// Handler reacts to a signal and reports whether it wants further ones.
type Handler func(sig os.Signal) (keep bool, err error)

// Scope owns bindings. sched.Task satisfies it.
type Scope interface {
	ID() string
	OnDone(fn func())
	Fail(err error)
}

// Serializer runs fn exclusively with respect to task code.
type Serializer func(fn func())

// HandlerError wraps a failure returned by a bound handler.
type HandlerError struct {
	Signal os.Signal
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for signal %s: %v", e.Signal, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type binding struct {
	handler Handler
	scope   Scope
	scopeID string
}

type trap struct {
	ch   chan os.Signal
	quit chan struct{}
}

// Router is the per-run signal dispatcher.
type Router struct {
	mu       sync.Mutex
	bindings map[os.Signal][]*binding
	traps    map[os.Signal]*trap
	scopes   map[string]struct{} // scopes with a cleanup hook registered
	serial   Serializer
	wg       sync.WaitGroup
	closed   bool
	failures []error // unscoped handler failures from OS deliveries
}

// New creates a router. serial may be nil, in which case OS deliveries
// run handlers directly on the trap goroutine.
func New(serial Serializer) *Router {
	return &Router{
		bindings: make(map[os.Signal][]*binding),
		traps:    make(map[os.Signal]*trap),
		scopes:   make(map[string]struct{}),
		serial:   serial,
	}
}

// Bind registers h for sig on behalf of scope. A second Bind for the same
// signal and scope replaces the first. scope may be nil for a binding that
// lives until Close.
func (r *Router) Bind(sig os.Signal, h Handler, scope Scope) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("signal router closed")
	}

	b := &binding{handler: h, scope: scope}
	if scope != nil {
		b.scopeID = scope.ID()
	}

	list := r.bindings[sig]
	for i, old := range list {
		if old.scopeID == b.scopeID {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	r.bindings[sig] = append(list, b)

	if _, ok := r.traps[sig]; !ok {
		r.install(sig)
	}

	hook := false
	if scope != nil {
		if _, ok := r.scopes[b.scopeID]; !ok {
			r.scopes[b.scopeID] = struct{}{}
			hook = true
		}
	}
	count := len(r.bindings[sig])
	r.mu.Unlock()

	if hook {
		id := b.scopeID
		scope.OnDone(func() { r.UnbindAll(id) })
	}
	log.Debug(log.CatSignal, "bound handler", "signal", sig, "scope", b.scopeID, "bindings", count)
	return nil
}

// UnbindAll removes every binding owned by scopeID.
func (r *Router) UnbindAll(scopeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.scopes, scopeID)
	for sig, list := range r.bindings {
		kept := list[:0:0]
		for _, b := range list {
			if b.scopeID != scopeID {
				kept = append(kept, b)
			}
		}
		r.setBindings(sig, kept)
	}
	log.Debug(log.CatSignal, "unbound scope", "scope", scopeID)
}

// Bound returns how many handlers are bound to sig.
func (r *Router) Bound(sig os.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings[sig])
}

// Trapped reports whether an OS trap is installed for sig.
func (r *Router) Trapped(sig os.Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.traps[sig]
	return ok
}

// Deliver runs the handlers bound to sig as if it had been received, on the
// calling goroutine. Handler failures are reported to their scope and
// returned joined.
func (r *Router) Deliver(sig os.Signal) error {
	all, _ := r.deliver(sig)
	return errors.Join(all...)
}

// Err returns the failures of handlers without a scope that ran for a
// received OS signal.
func (r *Router) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.failures...)
}

// deliver runs the handlers for sig and returns every failure plus the
// subset that had no scope to report to.
func (r *Router) deliver(sig os.Signal) (all, unscoped []error) {
	r.mu.Lock()
	list := append([]*binding(nil), r.bindings[sig]...)
	r.mu.Unlock()

	if len(list) == 0 {
		log.Debug(log.CatSignal, "signal with no handlers", "signal", sig)
		return nil, nil
	}

	for i := len(list) - 1; i >= 0; i-- {
		b := list[i]
		keep, err := b.handler(sig)
		if !keep {
			r.remove(sig, b)
		}
		if err != nil {
			herr := &HandlerError{Signal: sig, Err: err}
			log.ErrorErr(log.CatSignal, "signal handler failed", err, "signal", sig, "scope", b.scopeID)
			if b.scope != nil {
				b.scope.Fail(herr)
			} else {
				unscoped = append(unscoped, herr)
			}
			all = append(all, herr)
		}
	}
	return all, unscoped
}

// Close removes every binding and trap. Pending deliveries finish first.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	for sig := range r.traps {
		r.uninstall(sig)
	}
	r.bindings = make(map[os.Signal][]*binding)
	r.scopes = make(map[string]struct{})
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Router) remove(sig os.Signal, target *binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.bindings[sig]
	for i, b := range list {
		if b == target {
			r.setBindings(sig, append(list[:i:i], list[i+1:]...))
			return
		}
	}
}

// setBindings replaces the list for sig and drops the trap when it empties.
// Caller holds r.mu.
func (r *Router) setBindings(sig os.Signal, list []*binding) {
	if len(list) > 0 {
		r.bindings[sig] = list
		return
	}
	delete(r.bindings, sig)
	if _, ok := r.traps[sig]; ok {
		r.uninstall(sig)
	}
}

// install starts the OS trap for sig. Caller holds r.mu.
func (r *Router) install(sig os.Signal) {
	t := &trap{ch: make(chan os.Signal, 1), quit: make(chan struct{})}
	signal.Notify(t.ch, sig)
	r.traps[sig] = t
	log.Debug(log.CatSignal, "trap installed", "signal", sig)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-t.quit:
				return
			case s := <-t.ch:
				r.dispatch(s)
			}
		}
	}()
}

// uninstall stops the OS trap for sig. Caller holds r.mu.
func (r *Router) uninstall(sig os.Signal) {
	t := r.traps[sig]
	signal.Stop(t.ch)
	close(t.quit)
	delete(r.traps, sig)
	log.Debug(log.CatSignal, "trap removed", "signal", sig)
}

func (r *Router) dispatch(sig os.Signal) {
	log.Info(log.CatSignal, "signal received", "signal", sig)
	run := func() {
		if _, unscoped := r.deliver(sig); len(unscoped) > 0 {
			r.mu.Lock()
			r.failures = append(r.failures, unscoped...)
			r.mu.Unlock()
		}
	}
	if r.serial != nil {
		r.serial(run)
		return
	}
	run()
}
