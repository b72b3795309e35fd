package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLRU(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	cache, clock := newTestLRU(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Second)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		clock.advance(11 * time.Second)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b'
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := smallCache.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := time.Hour

		count1, err := cache.IncrementCounter(ctx, "alert:B1", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, "alert:B1", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		clock.advance(window + time.Second)

		count3, _ := cache.IncrementCounter(ctx, "alert:B1", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("ResetCounter", func(t *testing.T) {
		_, _ = cache.IncrementCounter(ctx, "alert:B2", time.Hour)
		_, _ = cache.IncrementCounter(ctx, "alert:B2", time.Hour)

		if err := cache.ResetCounter(ctx, "alert:B2"); err != nil {
			t.Fatalf("ResetCounter failed: %v", err)
		}
		if n, _ := cache.IncrementCounter(ctx, "alert:B2", time.Hour); n != 1 {
			t.Errorf("expected count 1 after reset, got %d", n)
		}
	})

	t.Run("AssessmentCache", func(t *testing.T) {
		a := &domain.Assessment{
			ID:            "as-001",
			BeneficiaryID: "B1",
			ShopID:        "S1",
			Quantity:      12,
			ScoringResult: domain.ScoringResult{
				FraudScore: 0.82,
				RiskLevel:  domain.RiskHigh,
				Reasons:    []string{"Repeated claim attempt (Claim #3 today)"},
			},
		}

		if err := cache.SetAssessment(ctx, a, time.Minute); err != nil {
			t.Fatalf("SetAssessment failed: %v", err)
		}

		got, err := cache.GetAssessment(ctx, "as-001")
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached assessment")
		}
		if got.RiskLevel != domain.RiskHigh || got.FraudScore != 0.82 {
			t.Errorf("unexpected assessment %+v", got.ScoringResult)
		}
		if len(got.Reasons) != 1 {
			t.Errorf("expected 1 reason, got %d", len(got.Reasons))
		}

		missing, err := cache.GetAssessment(ctx, "nope")
		if err != nil || missing != nil {
			t.Errorf("expected nil, nil for missing assessment, got %v, %v", missing, err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	local, clock := newTestLRU(10)
	remote := NewLRUCache(10)
	c := newTwoPhase(local, remote, time.Minute)

	t.Run("WritesBothLayers", func(t *testing.T) {
		_ = c.Set(ctx, "k", []byte("v"), time.Hour)

		if v, _ := local.Get(ctx, "k"); string(v) != "v" {
			t.Error("expected value in L1")
		}
		if v, _ := remote.Get(ctx, "k"); string(v) != "v" {
			t.Error("expected value in L2")
		}
	})

	t.Run("L1UsesShorterTTL", func(t *testing.T) {
		_ = c.Set(ctx, "short", []byte("v"), time.Hour)
		clock.advance(2 * time.Minute)

		if v, _ := local.Get(ctx, "short"); v != nil {
			t.Error("expected L1 entry to expire after l1TTL")
		}
		// read falls through to L2 and repopulates L1
		if v, _ := c.Get(ctx, "short"); string(v) != "v" {
			t.Error("expected L2 hit")
		}
		if v, _ := local.Get(ctx, "short"); string(v) != "v" {
			t.Error("expected L1 to be repopulated")
		}
	})

	t.Run("Assessment", func(t *testing.T) {
		a := &domain.Assessment{ID: "as-2", ScoringResult: domain.ScoringResult{RiskLevel: domain.RiskLow, Reasons: []string{}}}
		if err := c.SetAssessment(ctx, a, time.Hour); err != nil {
			t.Fatalf("SetAssessment failed: %v", err)
		}
		_ = local.Delete(ctx, assessmentKey("as-2"))

		got, err := c.GetAssessment(ctx, "as-2")
		if err != nil || got == nil {
			t.Fatalf("expected assessment from L2, got %v, %v", got, err)
		}
	})

	t.Run("CountersUseL2", func(t *testing.T) {
		_, _ = c.IncrementCounter(ctx, "x", time.Hour)
		n, _ := remote.IncrementCounter(ctx, "x", time.Hour)
		if n != 2 {
			t.Errorf("expected shared L2 counter 2, got %d", n)
		}

		_ = c.ResetCounter(ctx, "x")
		if n, _ := remote.IncrementCounter(ctx, "x", time.Hour); n != 1 {
			t.Errorf("expected L2 counter reset, got %d", n)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "gone", []byte("v"), time.Hour)
		_ = c.Delete(ctx, "gone")
		if v, _ := c.Get(ctx, "gone"); v != nil {
			t.Error("expected delete from both layers")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := c.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
