package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "pos-offline-sync/internal/errors"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// backends returns a fresh instance of every store implementation
func backends(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	sqliteStore, err := OpenSQLiteStore(t.TempDir(), nil)
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStoreContract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// Arrange
			require.NoError(t, PutJSON(s, "products", "b", item{ID: "b", Name: "Beans"}))
			require.NoError(t, PutJSON(s, "products", "a", item{ID: "a", Name: "Apples"}))
			require.NoError(t, PutJSON(s, "pendingSales", "s1", item{ID: "s1"}))

			// Act
			got, err := GetJSON[item](s, "products", "a")
			all, allErr := AllJSON[item](s, "products")
			count, countErr := s.Count("products")

			// Assert
			require.NoError(t, err)
			assert.Equal(t, "Apples", got.Name)
			require.NoError(t, allErr)
			require.Len(t, all, 2)
			assert.Equal(t, "a", all[0].ID, "GetAll should be ordered by key")
			require.NoError(t, countErr)
			assert.Equal(t, 2, count)

			_, err = s.Get("products", "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Delete("products", "a"))
			require.NoError(t, s.Delete("products", "a"), "deleting a missing key is a no-op")
			count, _ = s.Count("products")
			assert.Equal(t, 1, count)

			require.NoError(t, s.Clear("products"))
			count, _ = s.Count("products")
			assert.Equal(t, 0, count)

			pending, _ := s.Count("pendingSales")
			assert.Equal(t, 1, pending, "clear must only touch its own collection")
		})
	}
}

func TestStoreReplace(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, PutJSON(s, "products", "old", item{ID: "old"}))

			err := ReplaceJSON(s, "products", []item{{ID: "p1"}, {ID: "p2"}}, func(i item) string { return i.ID })
			require.NoError(t, err)

			all, err := AllJSON[item](s, "products")
			require.NoError(t, err)
			assert.Equal(t, []item{{ID: "p1"}, {ID: "p2"}}, all)
		})
	}
}

func TestReplaceRejectsEmptyKey(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, PutJSON(s, "products", "keep", item{ID: "keep"}))

	err := ReplaceJSON(s, "products", []item{{ID: ""}}, func(i item) string { return i.ID })

	assert.True(t, apperrors.IsKind(err, apperrors.KindStorage))
	count, _ := s.Count("products")
	assert.Equal(t, 1, count, "failed replace must leave the collection untouched")
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("sale-%d", i)
		require.NoError(t, PutJSON(first, "pendingSales", key, item{ID: key}))
	}
	require.NoError(t, first.Close())

	second, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	defer second.Close()

	count, err := second.Count("pendingSales")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := GetJSON[item](second, "pendingSales", "sale-2")
	require.NoError(t, err)
	assert.Equal(t, "sale-2", got.ID)
}

func TestSQLiteStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenSQLiteStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, PutJSON(first, "pendingSales", "s1", item{ID: "s1"}))
	require.NoError(t, first.Close())

	second, err := OpenSQLiteStore(dir, nil)
	require.NoError(t, err)
	defer second.Close()

	got, err := GetJSON[item](second, "pendingSales", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
}

func TestFileStoreQuarantinesCorruptCollection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "products.json"), []byte("{not json"), 0o644))

	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	count, err := s.Count("products")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	moved, _ := filepath.Glob(filepath.Join(dir, "products.json.corrupt-*"))
	assert.Len(t, moved, 1, "corrupt file should be kept aside for inspection")
}

func TestFileStoreRejectsInvalidInput(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, apperrors.IsKind(s.Put("products", "k", []byte("nope")), apperrors.KindStorage))
	assert.True(t, apperrors.IsKind(s.Put("../escape", "k", []byte("{}")), apperrors.KindStorage))
	assert.True(t, apperrors.IsKind(s.Put("products", "", []byte("{}")), apperrors.KindStorage))
}

func TestClosedStoreReturnsStorageError(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())

			err := s.Put("products", "k", []byte(`{}`))

			assert.True(t, apperrors.IsKind(err, apperrors.KindStorage))
		})
	}
}

func TestFileStoreConcurrentReplaceNeverEmpty(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	keyOf := func(i item) string { return i.ID }
	require.NoError(t, ReplaceJSON(s, "products", []item{{ID: "a"}, {ID: "b"}}, keyOf))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var empty bool
	var mu sync.Mutex

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n, err := s.Count("products")
				if err == nil && n == 0 {
					mu.Lock()
					empty = true
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		batch := []item{{ID: fmt.Sprintf("p%d", i)}, {ID: fmt.Sprintf("q%d", i)}}
		require.NoError(t, ReplaceJSON(s, "products", batch, keyOf))
	}
	close(stop)
	wg.Wait()

	assert.False(t, empty, "readers must never observe an empty collection during replace")
}

func TestOpenSelectsDriver(t *testing.T) {
	s, err := Open("memory", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("etcd", t.TempDir(), nil)
	assert.Error(t, err)
}

func TestMemoryStoreInjectedFailure(t *testing.T) {
	s := NewMemoryStore()
	s.SetFailure(fmt.Errorf("quota exceeded"))

	_, err := s.GetAll("products")
	assert.True(t, apperrors.IsKind(err, apperrors.KindStorage))

	s.SetFailure(nil)
	_, err = s.GetAll("products")
	assert.NoError(t, err)
}
