package state

import (
	"context"
	"errors"
	"strings"
)

// ErrStateNotFound is returned by ReadState when the key has never been written.
var ErrStateNotFound = errors.New("state not found")

// State is the value of a key together with its acknowledged flag.
type State struct {
	Val any  `json:"val"`
	Ack bool `json:"ack"`
}

// ChangeHandler is invoked for every state change matching a subscription.
// id is the full state id including the store namespace.
type ChangeHandler func(id string, st State)

// Store is a namespaced key/state store with change notification.
type Store interface {
	// Namespace returns the prefix of all ids managed by the store.
	Namespace() string
	// Subscribe invokes handler for every change of a key matching pattern. The pattern
	// is relative to the namespace; "*" matches every key. The returned function cancels
	// the subscription.
	Subscribe(ctx context.Context, pattern string, handler ChangeHandler) (func(), error)
	// ReadState returns the current state of key, or ErrStateNotFound.
	ReadState(ctx context.Context, key string) (*State, error)
	// WriteState sets key to val with the given acknowledged flag.
	WriteState(ctx context.Context, key string, val any, ack bool) error
	// Close releases the resources held by the store.
	Close() error
}

// JoinID returns the full id of key in namespace.
func JoinID(namespace string, key string) string {
	if namespace == "" {
		return key
	}

	return namespace + "." + key
}

// RelativeKey strips namespace from id. ok is false if id lies outside namespace.
func RelativeKey(namespace string, id string) (key string, ok bool) {
	if namespace == "" {
		return id, id != ""
	}

	key, ok = strings.CutPrefix(id, namespace+".")
	if !ok || key == "" {
		return "", false
	}

	return key, true
}
