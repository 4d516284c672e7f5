package signals

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ferry/internal/sched"
)

type fakeScope struct {
	id     string
	mu     sync.Mutex
	hooks  []func()
	failed []error
}

func (s *fakeScope) ID() string { return s.id }

func (s *fakeScope) OnDone(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *fakeScope) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, err)
}

func (s *fakeScope) finish() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// sig is a signal value never raised for real in these tests.
var sig = syscall.Signal(0x1f)

func TestRouter_DeliverMostRecentFirst(t *testing.T) {
	r := New(nil)
	defer r.Close()

	var order []string
	record := func(name string) Handler {
		return func(_ os.Signal) (bool, error) {
			order = append(order, name)
			return true, nil
		}
	}
	require.NoError(t, r.Bind(sig, record("a"), &fakeScope{id: "a"}))
	require.NoError(t, r.Bind(sig, record("b"), &fakeScope{id: "b"}))
	require.NoError(t, r.Bind(sig, record("c"), &fakeScope{id: "c"}))

	require.NoError(t, r.Deliver(sig))
	require.Equal(t, []string{"c", "b", "a"}, order)
}

func TestRouter_LastBindPerScopeWins(t *testing.T) {
	r := New(nil)
	defer r.Close()

	scope := &fakeScope{id: "task"}
	var got []string
	require.NoError(t, r.Bind(sig, func(os.Signal) (bool, error) { got = append(got, "first"); return true, nil }, scope))
	require.NoError(t, r.Bind(sig, func(os.Signal) (bool, error) { got = append(got, "second"); return true, nil }, scope))

	require.Equal(t, 1, r.Bound(sig))
	require.NoError(t, r.Deliver(sig))
	require.Equal(t, []string{"second"}, got)

	scope.mu.Lock()
	require.Len(t, scope.hooks, 1, "cleanup registered once per scope")
	scope.mu.Unlock()
}

func TestRouter_HandlerReturningFalseIsRemoved(t *testing.T) {
	r := New(nil)
	defer r.Close()

	calls := 0
	require.NoError(t, r.Bind(sig, func(os.Signal) (bool, error) {
		calls++
		return false, nil
	}, nil))
	require.True(t, r.Trapped(sig))

	require.NoError(t, r.Deliver(sig))
	require.NoError(t, r.Deliver(sig))
	require.Equal(t, 1, calls)
	require.Zero(t, r.Bound(sig))
	require.False(t, r.Trapped(sig), "trap removed with the last binding")
}

func TestRouter_UnbindAllOnScopeDone(t *testing.T) {
	r := New(nil)
	defer r.Close()

	other := syscall.Signal(0x1e)
	scope := &fakeScope{id: "task"}
	keep := &fakeScope{id: "keep"}
	noop := func(os.Signal) (bool, error) { return true, nil }

	require.NoError(t, r.Bind(sig, noop, scope))
	require.NoError(t, r.Bind(other, noop, scope))
	require.NoError(t, r.Bind(sig, noop, keep))

	scope.finish()
	require.Equal(t, 1, r.Bound(sig))
	require.Zero(t, r.Bound(other))
	require.False(t, r.Trapped(other))
	require.True(t, r.Trapped(sig))
}

func TestRouter_HandlerErrorPropagates(t *testing.T) {
	r := New(nil)
	defer r.Close()

	boom := errors.New("boom")
	scope := &fakeScope{id: "task"}
	require.NoError(t, r.Bind(sig, func(os.Signal) (bool, error) { return true, boom }, scope))

	err := r.Deliver(sig)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, sig, herr.Signal)
	require.ErrorIs(t, err, boom)

	require.Len(t, scope.failed, 1)
	require.ErrorIs(t, scope.failed[0], boom)
}

func TestRouter_BindAfterClose(t *testing.T) {
	r := New(nil)
	r.Close()
	require.Error(t, r.Bind(sig, func(os.Signal) (bool, error) { return true, nil }, nil))
}

func TestRouter_TaskScope(t *testing.T) {
	s := sched.New()
	r := New(s.Exclusive)
	defer r.Close()

	boom := errors.New("handler failed")
	task := s.Go(context.Background(), "bind", func(ctx context.Context) error {
		tk, _ := sched.TaskFrom(ctx)
		if err := r.Bind(sig, func(os.Signal) (bool, error) { return true, boom }, tk); err != nil {
			return err
		}
		if r.Bound(sig) != 1 {
			return errors.New("binding missing")
		}
		return r.Deliver(sig)
	})

	err := s.Wait()
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, task.Err(), boom)
	require.Zero(t, r.Bound(sig), "bindings released when the task finished")
}
