package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"lexitrend-go/apperr"
	"lexitrend-go/logcolors"
	"lexitrend-go/retry"

	log "github.com/sirupsen/logrus"
)

// Entry is the persisted envelope for every cached value.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Service is a typed cache over a Store. Every store call is retried under
// the cache policy. Entries never expire: a hit is returned as-is until the
// key is removed or the cache cleared.
type Service struct {
	store  Store
	runner *retry.Runner
}

func NewService(store Store, runner *retry.Runner) *Service {
	if runner == nil {
		runner = retry.NewRunner()
	}
	return &Service{store: store, runner: runner}
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

func cacheErr(op, key string, err error) *apperr.Error {
	opts := []apperr.Option{apperr.WithOperation(op), apperr.WithCause(err)}
	if key != "" {
		opts = append(opts, apperr.WithDetail("key", key))
	}
	return apperr.Cache(fmt.Sprintf("cache %s failed: %v", op, err), opts...)
}

// Get decodes the value stored under key into dst. A missing or corrupted
// entry reports false with no error; only an unavailable store is an error.
func (s *Service) Get(ctx context.Context, key string, dst any) (bool, error) {
	type got struct {
		data  []byte
		found bool
	}
	res, err := retry.Value(ctx, s.runner, apperr.KindCache, func(ctx context.Context) (got, error) {
		data, found, err := s.store.Get(ctx, key)
		return got{data, found}, err
	})
	if err != nil {
		return false, cacheErr("get", key, err)
	}
	if !res.found {
		return false, nil
	}

	var entry Entry
	if err := json.Unmarshal(res.data, &entry); err != nil || entry.Key != key || len(entry.Value) == 0 {
		log.Warnf("%s Ignoring corrupted entry for key %s", logcolors.LogCache, key)
		return false, nil
	}
	if err := json.Unmarshal(entry.Value, dst); err != nil {
		log.Warnf("%s Ignoring undecodable value for key %s: %v", logcolors.LogCache, key, err)
		return false, nil
	}
	return true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Service) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return cacheErr("set", key, err)
	}
	data, err := json.Marshal(Entry{Key: key, Value: raw})
	if err != nil {
		return cacheErr("set", key, err)
	}

	err = s.runner.Do(ctx, apperr.KindCache, func(ctx context.Context) error {
		return s.store.Set(ctx, key, data)
	})
	if err != nil {
		return cacheErr("set", key, err)
	}
	return nil
}

func (s *Service) Remove(ctx context.Context, key string) error {
	err := s.runner.Do(ctx, apperr.KindCache, func(ctx context.Context) error {
		return s.store.Remove(ctx, key)
	})
	if err != nil {
		return cacheErr("remove", key, err)
	}
	return nil
}

func (s *Service) Clear(ctx context.Context) error {
	err := s.runner.Do(ctx, apperr.KindCache, s.store.Clear)
	if err != nil {
		return cacheErr("clear", "", err)
	}
	return nil
}

// Size returns the number of cached entries.
func (s *Service) Size(ctx context.Context) (int, error) {
	n, err := retry.Value(ctx, s.runner, apperr.KindCache, s.store.Count)
	if err != nil {
		return 0, cacheErr("size", "", err)
	}
	return n, nil
}
