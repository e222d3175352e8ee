package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/storage"
)

type fakeSource struct {
	mu       sync.Mutex
	records  []models.ProductRecord
	err      error
	delay    time.Duration
	inFlight int32
	overlap  bool
	calls    int
}

func (f *fakeSource) ListProducts(ctx context.Context) ([]models.ProductRecord, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		f.mu.Lock()
		f.overlap = true
		f.mu.Unlock()
	}
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	f.calls++
	records, err, delay := f.records, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return records, err
}

func (f *fakeSource) set(records []models.ProductRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = records, err
}

func records(ids ...string) []models.ProductRecord {
	out := make([]models.ProductRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.ProductRecord{ID: id, Name: "Product " + id, UnitPrice: 10, StockQuantity: 5})
	}
	return out
}

func TestSyncProductsReplacesWholesale(t *testing.T) {
	// Arrange
	store := storage.NewMemoryStore()
	source := &fakeSource{records: records("a", "b", "c")}
	syncer := NewSyncer(source, store, nil)

	_, err := syncer.SyncProducts(context.Background())
	require.NoError(t, err)

	// Act
	source.set(records("b", "d"), nil)
	count, err := syncer.SyncProducts(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	products, err := syncer.Products()
	require.NoError(t, err)
	require.Len(t, products, 2, "cache must hold exactly the remote set")
	assert.Equal(t, "b", products[0].ID)
	assert.Equal(t, "d", products[1].ID)
	assert.False(t, products[0].LastSyncedAt.IsZero())
	assert.False(t, syncer.LastSyncedAt().IsZero())
}

func TestSyncProductsFailureKeepsStaleCache(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{records: records("a", "b")}
	syncer := NewSyncer(source, store, nil)
	_, err := syncer.SyncProducts(context.Background())
	require.NoError(t, err)
	before := syncer.LastSyncedAt()

	source.set(nil, apperrors.Network("list products", errors.New("connection reset")))
	count, err := syncer.SyncProducts(context.Background())

	assert.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork))
	assert.Equal(t, 0, count)
	n, _ := syncer.Count()
	assert.Equal(t, 2, n, "a failed sync leaves the previous snapshot untouched")
	assert.Equal(t, before, syncer.LastSyncedAt())
}

func TestSyncProductsRejectsRecordWithoutID(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{records: records("a")}
	syncer := NewSyncer(source, store, nil)
	_, err := syncer.SyncProducts(context.Background())
	require.NoError(t, err)

	source.set(append(records("x"), models.ProductRecord{Name: "nameless"}), nil)
	_, err = syncer.SyncProducts(context.Background())

	assert.True(t, apperrors.IsKind(err, apperrors.KindRemoteRejection))
	p, err := syncer.Product("a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.ID)
}

func TestSyncProductsEmptyRemoteCatalog(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{records: records("a")}
	syncer := NewSyncer(source, store, nil)
	_, err := syncer.SyncProducts(context.Background())
	require.NoError(t, err)

	source.set([]models.ProductRecord{}, nil)
	count, err := syncer.SyncProducts(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestConcurrentReadsNeverSeeEmptyCatalog(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{records: records("a", "b")}
	syncer := NewSyncer(source, store, nil)
	_, err := syncer.SyncProducts(context.Background())
	require.NoError(t, err)

	var sawEmpty atomic.Bool
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				products, err := syncer.Products()
				if err == nil && len(products) == 0 {
					sawEmpty.Store(true)
				}
			}
		}()
	}

	for i := 0; i < 25; i++ {
		source.set(records(fmt.Sprintf("p%d", i), fmt.Sprintf("q%d", i), fmt.Sprintf("r%d", i)), nil)
		_, err := syncer.SyncProducts(context.Background())
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.False(t, sawEmpty.Load(), "readers must see the old or the new snapshot, never an empty one")
}

func TestSyncProductsSerializesOverlappingCalls(t *testing.T) {
	source := &fakeSource{records: records("a"), delay: 20 * time.Millisecond}
	syncer := NewSyncer(source, storage.NewMemoryStore(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = syncer.SyncProducts(context.Background())
		}()
	}
	wg.Wait()

	assert.False(t, source.overlap, "two catalog syncs must never run at the same time")
	assert.Equal(t, 3, source.calls)
}

func TestStorageFailureOnReadIsCacheMiss(t *testing.T) {
	store := storage.NewMemoryStore()
	syncer := NewSyncer(&fakeSource{records: records("a")}, store, nil)
	var misses int32
	syncer.OnMiss(func(error) { atomic.AddInt32(&misses, 1) })

	store.SetFailure(errors.New("disk I/O error"))
	_, err := syncer.Products()
	assert.True(t, apperrors.IsKind(err, apperrors.KindStorage))
	_, err = syncer.Product("a")
	assert.Error(t, err)
	store.SetFailure(nil)

	_, err = syncer.Product("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, int32(2), atomic.LoadInt32(&misses), "not-found is not a storage miss")
}

func TestLastSyncSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, nil)
	require.NoError(t, err)
	syncer := NewSyncer(&fakeSource{records: records("a")}, store, nil)
	_, err = syncer.SyncProducts(context.Background())
	require.NoError(t, err)
	synced := syncer.LastSyncedAt()
	require.NoError(t, store.Close())

	reopened, err := storage.NewFileStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()
	restarted := NewSyncer(&fakeSource{}, reopened, nil)

	assert.True(t, synced.Equal(restarted.LastSyncedAt()))
	n, err := restarted.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearch(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{records: []models.ProductRecord{
		{ID: "1", Name: "Rice 5kg", Category: "Groceries"},
		{ID: "2", Name: "Bar Soap", Category: "Household"},
	}}
	syncer := NewSyncer(source, store, nil)
	_, err := syncer.SyncProducts(context.Background())
	require.NoError(t, err)

	matches, err := syncer.Search("grocer")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "1", matches[0].ID)

	all, err := syncer.Search(" ")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
