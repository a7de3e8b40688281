package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys of the persistence layout. Each key holds one JSON document.
const (
	KeyUsers       = "users"
	KeyCurrentUser = "currentUser"
	KeyDefects     = "defects"
	KeyProjects    = "projects"
	KeyComments    = "comments"
	KeyHistory     = "history"
)

// ErrClosed is returned by adapters used after Close.
var ErrClosed = errors.New("store: closed")

// KV is the durable key-value port consumed by the auth and tracker packages.
type KV interface {
	// Get returns the stored bytes and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// GetJSON decodes the value stored under key into dst.
// It reports false without touching dst when the key is absent.
func GetJSON(ctx context.Context, kv KV, key string, dst any) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
