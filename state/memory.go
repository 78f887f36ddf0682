package state

import (
	"context"
	"fmt"
	"path"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

type subscription struct {
	pattern string
	handler ChangeHandler
}

// MemoryStore is an in-process Store.
//
// Change notifications are delivered synchronously on the writing goroutine. The
// order between subscriptions is not defined. Handlers may write states themselves.
type MemoryStore struct {
	namespace string
	states    *xsync.MapOf[string, State]
	subs      *xsync.MapOf[uint64, subscription]
	nextSubID atomic.Uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore for namespace.
func NewMemoryStore(namespace string) *MemoryStore {
	return &MemoryStore{
		namespace: namespace,
		states:    xsync.NewMapOf[string, State](),
		subs:      xsync.NewMapOf[uint64, subscription](),
	}
}

// Namespace implements Store.
func (m *MemoryStore) Namespace() string { return m.namespace }

// Subscribe implements Store. Patterns use path.Match syntax.
func (m *MemoryStore) Subscribe(_ context.Context, pattern string, handler ChangeHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %q: nil handler", pattern)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", pattern, err)
	}

	id := m.nextSubID.Add(1)
	m.subs.Store(id, subscription{pattern: pattern, handler: handler})

	return func() { m.subs.Delete(id) }, nil
}

// ReadState implements Store.
func (m *MemoryStore) ReadState(_ context.Context, key string) (*State, error) {
	st, ok := m.states.Load(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, JoinID(m.namespace, key))
	}

	return &st, nil
}

// WriteState implements Store. Every write notifies the matching subscribers, even
// if the value did not change.
func (m *MemoryStore) WriteState(_ context.Context, key string, val any, ack bool) error {
	if key == "" {
		return fmt.Errorf("write state: empty key")
	}

	st := State{Val: val, Ack: ack}
	m.states.Store(key, st)

	id := JoinID(m.namespace, key)
	m.subs.Range(func(_ uint64, sub subscription) bool {
		if matched, _ := path.Match(sub.pattern, key); matched {
			sub.handler(id, st)
		}
		return true
	})

	return nil
}

// Keys returns the keys written so far.
func (m *MemoryStore) Keys() []string {
	keys := make([]string, 0, m.states.Size())
	m.states.Range(func(key string, _ State) bool {
		keys = append(keys, key)
		return true
	})

	return keys
}

// Close implements Store. It drops all subscriptions.
func (m *MemoryStore) Close() error {
	m.subs.Clear()
	return nil
}
