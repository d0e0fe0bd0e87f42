package usage

import (
	"context"
	"sync"

	"github.com/valinor-ai/gatehouse/internal/access"
)

// CounterKey identifies one usage counter: a subscription's consumption of
// a feature within one billing period.
type CounterKey struct {
	SubscriptionID string
	FeatureCode    string
	Period         access.Period
}

// Store persists usage counters. Every mutation is a single atomic
// operation on one counter.
type Store interface {
	// Current returns the count for key's period, or 0 when no counter exists.
	Current(ctx context.Context, key CounterKey) (int64, error)
	// Increment adds amount, creating the counter if needed, and returns the new count.
	Increment(ctx context.Context, key CounterKey, amount int64) (int64, error)
	// TryIncrement adds amount only if the result stays within limit.
	TryIncrement(ctx context.Context, key CounterKey, amount, limit int64) (count int64, ok bool, err error)
}

type memoryKey struct {
	subscriptionID string
	featureCode    string
	periodStart    int64
}

func memoryKeyOf(k CounterKey) memoryKey {
	return memoryKey{k.SubscriptionID, k.FeatureCode, k.Period.Start.UnixNano()}
}

// MemoryStore is an in-process Store for tests and single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[memoryKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[memoryKey]int64)}
}

func (s *MemoryStore) Current(_ context.Context, key CounterKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[memoryKeyOf(key)], nil
}

func (s *MemoryStore) Increment(_ context.Context, key CounterKey, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKeyOf(key)
	s.counters[k] += amount
	return s.counters[k], nil
}

func (s *MemoryStore) TryIncrement(_ context.Context, key CounterKey, amount, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKeyOf(key)
	cur := s.counters[k]
	if cur+amount > limit {
		return cur, false, nil
	}
	s.counters[k] = cur + amount
	return s.counters[k], true, nil
}
