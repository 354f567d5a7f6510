package nats

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// DefaultBucket is the key-value bucket used when none is configured.
const DefaultBucket = "lifeline"

// KeyValue stores chat data in a JetStream key-value bucket.
type KeyValue struct {
	client *Client
	kv     jetstream.KeyValue
}

// OpenKeyValue binds to bucket, creating it when it does not exist.
func OpenKeyValue(ctx context.Context, client *Client, bucket string) (*KeyValue, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		client.logger.Info("creating key-value bucket", zap.String("bucket", bucket))
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "LifeLine sessions and messages",
			History:     1,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", bucket, err)
	}

	return &KeyValue{client: client, kv: kv}, nil
}

// Get returns the value stored under key.
func (k *KeyValue) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := k.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Set stores value under key.
func (k *KeyValue) Set(ctx context.Context, key string, value []byte) error {
	if _, err := k.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Remove purges key and its history.
func (k *KeyValue) Remove(ctx context.Context, key string) error {
	err := k.kv.Purge(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("purge %q: %w", key, err)
	}
	return nil
}

// RemoveMany purges each key. The bucket has no transactions, so a failure
// part-way leaves the earlier keys removed.
func (k *KeyValue) RemoveMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := k.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists live keys in lexical order.
func (k *KeyValue) Keys(ctx context.Context) ([]string, error) {
	keys, err := k.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping checks the underlying connection.
func (k *KeyValue) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

// Close is a no-op; the connection belongs to the Client.
func (k *KeyValue) Close() error { return nil }
