package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-kiosk/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the key-value bucket used when NATSConfig.Bucket is empty.
const DefaultBucket = "kiosk_states"

// NATSConfig configures a NATSStore.
type NATSConfig struct {
	URL       string
	Bucket    string
	Namespace string
	// Timeout bounds bucket setup. Defaults to 10s.
	Timeout time.Duration
}

// NATSStore is a Store backed by a JetStream key-value bucket.
//
// Every state is stored as a JSON document {"val": ..., "ack": ...} under its full id.
type NATSStore struct {
	namespace string
	conn      *nats.Conn
	kv        jetstream.KeyValue
	logger    logger.Logger
}

var _ Store = (*NATSStore)(nil)

// NewNATSStore connects to the NATS server and opens, or creates, the bucket.
func NewNATSStore(ctx context.Context, cfg NATSConfig, l logger.Logger) (*NATSStore, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if l == nil {
		l = logger.GetLogger()
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("kioskd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := openBucket(ctx, js, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	l.Info("NATS state store initialized", "url", cfg.URL, "bucket", cfg.Bucket, "namespace", cfg.Namespace)

	return &NATSStore{namespace: cfg.Namespace, conn: conn, kv: kv, logger: l}, nil
}

// NewNATSStoreWithKV creates a NATSStore on top of an opened bucket.
func NewNATSStoreWithKV(kv jetstream.KeyValue, namespace string, l logger.Logger) *NATSStore {
	if l == nil {
		l = logger.GetLogger()
	}

	return &NATSStore{namespace: namespace, kv: kv, logger: l}
}

func openBucket(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) (jetstream.KeyValue, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to open KV bucket %s: %w", cfg.Bucket, err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "kiosk device states",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", cfg.Bucket, err)
	}

	return kv, nil
}

// Namespace implements Store.
func (n *NATSStore) Namespace() string { return n.namespace }

// Subscribe implements Store. It watches the bucket for updates of keys matching
// pattern; states present before the call are not replayed.
func (n *NATSStore) Subscribe(ctx context.Context, pattern string, handler ChangeHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %q: nil handler", pattern)
	}

	filter := watchFilter(n.namespace, pattern)
	watchCtx, cancel := context.WithCancel(ctx)

	watcher, err := n.kv.Watch(watchCtx, filter, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", filter, err)
	}

	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}

				st, err := decodeState(entry.Value())
				if err != nil {
					n.logger.Debug("failed to decode state", "key", entry.Key(), "error", err)
					continue
				}
				handler(entry.Key(), st)
			}
		}
	}()

	return func() {
		cancel()
		if err := watcher.Stop(); err != nil {
			n.logger.Debug("failed to stop watcher", "filter", filter, "error", err)
		}
	}, nil
}

// ReadState implements Store.
func (n *NATSStore) ReadState(ctx context.Context, key string) (*State, error) {
	id := JoinID(n.namespace, key)

	entry, err := n.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStateNotFound, id)
		}

		return nil, fmt.Errorf("failed to get state %s: %w", id, err)
	}

	st, err := decodeState(entry.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to decode state %s: %w", id, err)
	}

	return &st, nil
}

// WriteState implements Store.
func (n *NATSStore) WriteState(ctx context.Context, key string, val any, ack bool) error {
	if key == "" {
		return fmt.Errorf("write state: empty key")
	}
	id := JoinID(n.namespace, key)

	data, err := encodeState(State{Val: val, Ack: ack})
	if err != nil {
		return fmt.Errorf("failed to encode state %s: %w", id, err)
	}

	if _, err := n.kv.Put(ctx, id, data); err != nil {
		return fmt.Errorf("failed to put state %s: %w", id, err)
	}

	return nil
}

// Close implements Store. It drains the NATS connection opened by NewNATSStore.
func (n *NATSStore) Close() error {
	if n.conn == nil {
		return nil
	}

	return n.conn.Drain()
}

// watchFilter converts a store pattern to a KV key filter. A trailing "*" matches
// any number of tokens, other "*" tokens match exactly one.
func watchFilter(namespace string, pattern string) string {
	if pattern == "" || pattern == "*" {
		pattern = ">"
	} else if strings.HasSuffix(pattern, ".*") {
		pattern = strings.TrimSuffix(pattern, "*") + ">"
	}

	return JoinID(namespace, pattern)
}

func encodeState(st State) ([]byte, error) {
	return json.Marshal(st)
}

func decodeState(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, err
	}

	return st, nil
}
