// Package history keeps the in-memory per-beneficiary and per-shop claim
// history used for behavioral features.
package history

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/opensource-finance/claimguard/internal/domain"
)

// Store is a process-lifetime history of claims keyed by beneficiary and
// shop. It is safe for concurrent use.
//
// Map access is guarded by mu. RecordTransaction returns post-append
// snapshots; callers that score claims in order per entity hold the entity
// lock returned by Lock around the append and the scoring.
type Store struct {
	mu            sync.RWMutex
	beneficiaries map[string][]domain.TransactionRecord
	shops         map[string][]float64

	stripes    []sync.Mutex
	maxPerKey  int
	maxPerShop int
}

// Option configures a Store.
type Option func(*Store)

// WithShards sets the number of lock stripes.
func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.stripes = make([]sync.Mutex, n)
		}
	}
}

// WithMaxRecordsPerEntity bounds every beneficiary history to the n most
// recent records. Zero keeps the full history. A bound also caps
// MonthlyCount and the quantity average, which read the whole history.
func WithMaxRecordsPerEntity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxPerKey = n
		}
	}
}

// WithMaxTimestampsPerShop bounds every shop history to the n most recent
// timestamps, which caps ShopFrequency at n. Zero keeps all timestamps.
func WithMaxTimestampsPerShop(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxPerShop = n
		}
	}
}

// NewStore creates an empty history store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		beneficiaries: make(map[string][]domain.TransactionRecord),
		shops:         make(map[string][]float64),
		stripes:       make([]sync.Mutex, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordTransaction appends a record to the beneficiary history and its
// timestamp to the shop history. It returns snapshots of both histories
// taken under the same lock as the append, so the new record is always the
// last element of hist even when Reset runs concurrently.
func (s *Store) RecordTransaction(beneficiaryID, shopID string, quantity, regionRisk, timestamp float64) (hist []domain.TransactionRecord, shopTimestamps []float64) {
	rec := domain.TransactionRecord{
		Quantity:   quantity,
		Timestamp:  timestamp,
		ShopID:     shopID,
		RegionRisk: regionRisk,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs := append(s.beneficiaries[beneficiaryID], rec)
	if s.maxPerKey > 0 && len(recs) > s.maxPerKey {
		recs = append([]domain.TransactionRecord(nil), recs[len(recs)-s.maxPerKey:]...)
	}
	s.beneficiaries[beneficiaryID] = recs

	ts := append(s.shops[shopID], timestamp)
	if s.maxPerShop > 0 && len(ts) > s.maxPerShop {
		ts = append([]float64(nil), ts[len(ts)-s.maxPerShop:]...)
	}
	s.shops[shopID] = ts

	hist = make([]domain.TransactionRecord, len(recs))
	copy(hist, recs)
	shopTimestamps = make([]float64, len(ts))
	copy(shopTimestamps, ts)
	return hist, shopTimestamps
}

// History returns a snapshot of the beneficiary history in insertion order.
func (s *Store) History(beneficiaryID string) []domain.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.beneficiaries[beneficiaryID]
	out := make([]domain.TransactionRecord, len(recs))
	copy(out, recs)
	return out
}

// ShopTimestamps returns a snapshot of the timestamps recorded for a shop.
func (s *Store) ShopTimestamps(shopID string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := s.shops[shopID]
	out := make([]float64, len(ts))
	copy(out, ts)
	return out
}

// Lock acquires the entity locks for a beneficiary and a shop and returns
// the function releasing them. Stripes are taken in ascending order so two
// callers can never deadlock.
func (s *Store) Lock(beneficiaryID, shopID string) (unlock func()) {
	a := s.stripe("b:" + beneficiaryID)
	b := s.stripe("s:" + shopID)
	if a > b {
		a, b = b, a
	}

	s.stripes[a].Lock()
	if a != b {
		s.stripes[b].Lock()
	}

	return func() {
		if a != b {
			s.stripes[b].Unlock()
		}
		s.stripes[a].Unlock()
	}
}

// Reset drops all history.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beneficiaries = make(map[string][]domain.TransactionRecord)
	s.shops = make(map[string][]float64)
}

// Stats returns the number of tracked beneficiaries and shops.
func (s *Store) Stats() (beneficiaries int, shops int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.beneficiaries), len(s.shops)
}

func (s *Store) stripe(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(s.stripes)))
}
