// Package redis implements a Redis-backed item store.
//
// The atomic check-and-insert maps directly onto SETNX, which gives the
// at-most-once admission guarantee across processes, not just goroutines.
// Keys are held without TTL; dedup history is global across run dates.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/seamline-io/conveyor/store"
	"github.com/seamline-io/conveyor/types"
)

// keyPrefix namespaces item keys in a shared Redis.
const keyPrefix = "conveyor:item:"

// Store is a Redis-backed ItemStore.
type Store struct {
	client *goredis.Client
}

// Open creates a Redis item store from a connection URL.
// Format: redis://[:password@]host:port[/db]
func Open(url string) (*Store, error) {
	if url == "" {
		return nil, errors.New("redis item store requires a URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis item store: invalid URL: %w", err)
	}
	return &Store{client: goredis.NewClient(opts)}, nil
}

// PutIfAbsent implements store.ItemStore via SETNX.
func (s *Store) PutIfAbsent(ctx context.Context, item types.Item) (bool, error) {
	if item.DedupKey == "" {
		return false, store.ErrMissingDedupKey
	}
	body, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("redis item store: marshal: %w", err)
	}
	inserted, err := s.client.SetNX(ctx, keyPrefix+item.DedupKey, body, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis item store: setnx: %w", err)
	}
	return inserted, nil
}

// Get implements store.ItemStore.
func (s *Store) Get(ctx context.Context, dedupKey string) (types.Item, bool, error) {
	body, err := s.client.Get(ctx, keyPrefix+dedupKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return types.Item{}, false, nil
	}
	if err != nil {
		return types.Item{}, false, fmt.Errorf("redis item store: get: %w", err)
	}

	var item types.Item
	if err := json.Unmarshal(body, &item); err != nil {
		return types.Item{}, false, fmt.Errorf("redis item store: unmarshal %s: %w", dedupKey, err)
	}
	return item, true, nil
}

// List implements store.ItemStore via SCAN, so it never blocks the server the
// way KEYS would.
func (s *Store) List(ctx context.Context) ([]types.Item, error) {
	var items []types.Item
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		body, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue // evicted between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("redis item store: get %s: %w", iter.Val(), err)
		}
		var item types.Item
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, fmt.Errorf("redis item store: unmarshal %s: %w", iter.Val(), err)
		}
		items = append(items, item)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis item store: scan: %w", err)
	}
	return items, nil
}

// Close implements store.ItemStore.
func (s *Store) Close() error {
	return s.client.Close()
}

// Verify Store implements the item store interface.
var _ store.ItemStore = (*Store)(nil)
