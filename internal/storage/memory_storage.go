package storage

import (
	"fmt"
	"sync"

	apperrors "pos-offline-sync/internal/errors"
)

// MemoryStore keeps collections in process memory. It is not durable and
// exists for tests and throwaway runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	closed      bool
	// failWith, when set, makes every operation return a storage error.
	failWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

// SetFailure makes subsequent operations fail with err; nil restores normal behavior
func (ms *MemoryStore) SetFailure(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failWith = err
}

func (ms *MemoryStore) check(op string) error {
	if ms.closed {
		return apperrors.Storage(op, fmt.Errorf("store closed"))
	}
	if ms.failWith != nil {
		return apperrors.Storage(op, ms.failWith)
	}
	return nil
}

func (ms *MemoryStore) Put(collection, key string, value []byte) error {
	if err := validateName("put", collection, key, true); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.check("put " + collection); err != nil {
		return err
	}

	c, ok := ms.collections[collection]
	if !ok {
		c = make(map[string][]byte)
		ms.collections[collection] = c
	}
	c[key] = clone(value)
	return nil
}

func (ms *MemoryStore) Get(collection, key string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if err := ms.check("get " + collection); err != nil {
		return nil, err
	}

	v, ok := ms.collections[collection][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	return clone(v), nil
}

func (ms *MemoryStore) GetAll(collection string) ([]Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if err := ms.check("get all " + collection); err != nil {
		return nil, err
	}
	return sortedEntries(ms.collections[collection]), nil
}

func (ms *MemoryStore) Delete(collection, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.check("delete " + collection); err != nil {
		return err
	}
	delete(ms.collections[collection], key)
	return nil
}

func (ms *MemoryStore) Clear(collection string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.check("clear " + collection); err != nil {
		return err
	}
	delete(ms.collections, collection)
	return nil
}

func (ms *MemoryStore) Replace(collection string, entries map[string][]byte) error {
	if err := validateName("replace", collection, "", false); err != nil {
		return err
	}
	next := make(map[string][]byte, len(entries))
	for k, v := range entries {
		next[k] = clone(v)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.check("replace " + collection); err != nil {
		return err
	}
	ms.collections[collection] = next
	return nil
}

func (ms *MemoryStore) Count(collection string) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if err := ms.check("count " + collection); err != nil {
		return 0, err
	}
	return len(ms.collections[collection]), nil
}

func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}
