package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func TestStore_RecordThenRead(t *testing.T) {
	s := NewStore()

	s.RecordTransaction("B1", "S1", 5, 0.1, 100)
	s.RecordTransaction("B1", "S2", 7, 0.4, 160)

	hist := s.History("B1")
	require.Len(t, hist, 2)
	assert.Equal(t, domain.TransactionRecord{Quantity: 7, Timestamp: 160, ShopID: "S2", RegionRisk: 0.4}, hist[len(hist)-1])
	assert.Equal(t, []float64{100}, s.ShopTimestamps("S1"))
	assert.Equal(t, []float64{160}, s.ShopTimestamps("S2"))
}

func TestStore_UnknownEntity(t *testing.T) {
	s := NewStore()

	assert.Empty(t, s.History("nobody"))
	assert.Empty(t, s.ShopTimestamps("nowhere"))

	s.RecordTransaction(domain.UnknownID, domain.UnknownID, 1, 0.3, 1)
	assert.Len(t, s.History(domain.UnknownID), 1)
	assert.Len(t, s.ShopTimestamps(domain.UnknownID), 1)
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := NewStore()
	s.RecordTransaction("B1", "S1", 5, 0.1, 1)

	snap := s.History("B1")
	snap[0].Quantity = 999
	s.RecordTransaction("B1", "S1", 6, 0.1, 2)

	hist := s.History("B1")
	assert.Equal(t, 5.0, hist[0].Quantity)
	assert.Len(t, snap, 1)
}

func TestStore_MaxRecordsPerEntity(t *testing.T) {
	s := NewStore(WithMaxRecordsPerEntity(3))
	for i := 0; i < 5; i++ {
		s.RecordTransaction("B1", "S1", float64(i), 0.1, float64(i))
	}

	hist := s.History("B1")
	require.Len(t, hist, 3)
	assert.Equal(t, 2.0, hist[0].Quantity)
	assert.Equal(t, 4.0, hist[2].Quantity)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, s.ShopTimestamps("S1"))
}

func TestStore_MaxTimestampsPerShopIsIndependent(t *testing.T) {
	s := NewStore(WithMaxTimestampsPerShop(2))
	for i := 0; i < 5; i++ {
		s.RecordTransaction(fmt.Sprintf("B%d", i%2), "S1", float64(i), 0.1, float64(i))
	}

	assert.Equal(t, []float64{3, 4}, s.ShopTimestamps("S1"))
	assert.Len(t, s.History("B0"), 3)
	assert.Len(t, s.History("B1"), 2)
}

func TestStore_RecordTransactionReturnsSnapshots(t *testing.T) {
	s := NewStore()
	s.RecordTransaction("B1", "S1", 1, 0.1, 1)

	hist, shopTS := s.RecordTransaction("B1", "S1", 7, 0.2, 2)
	require.Len(t, hist, 2)
	assert.Equal(t, 7.0, hist[1].Quantity)
	assert.Equal(t, []float64{1, 2}, shopTS)

	hist[1].Quantity = 999
	assert.Equal(t, 7.0, s.History("B1")[1].Quantity)
}

func TestStore_RecordTransactionDuringReset(t *testing.T) {
	s := NewStore()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				s.Reset()
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		hist, shopTS := s.RecordTransaction("B1", "S1", float64(i), 0.1, float64(i))
		require.NotEmpty(t, hist)
		require.NotEmpty(t, shopTS)
		assert.Equal(t, float64(i), hist[len(hist)-1].Quantity)
	}
	close(stop)
	<-done
}

func TestStore_ResetAndStats(t *testing.T) {
	s := NewStore()
	s.RecordTransaction("B1", "S1", 1, 0.1, 1)
	s.RecordTransaction("B2", "S1", 1, 0.1, 2)

	b, sh := s.Stats()
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, sh)

	s.Reset()
	b, sh = s.Stats()
	assert.Zero(t, b)
	assert.Zero(t, sh)
}

func TestStore_LockSerializesSameEntity(t *testing.T) {
	s := NewStore(WithShards(8))

	var wg sync.WaitGroup
	seen := make([]int, 0, 50)
	var seenMu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := s.Lock("B1", fmt.Sprintf("S%d", i%3))
			defer unlock()

			s.RecordTransaction("B1", "S1", 1, 0.1, float64(i))
			n := len(s.History("B1"))

			seenMu.Lock()
			seen = append(seen, n)
			seenMu.Unlock()
		}(i)
	}
	wg.Wait()

	// Every append+read saw a distinct history length.
	unique := make(map[int]bool)
	for _, n := range seen {
		unique[n] = true
	}
	assert.Len(t, unique, 50)
}

func TestStore_LockSameStripe(t *testing.T) {
	s := NewStore(WithShards(1))

	unlock := s.Lock("B1", "S1")
	unlock()

	// A second acquisition must not block after release.
	unlock = s.Lock("B1", "S1")
	unlock()
}
