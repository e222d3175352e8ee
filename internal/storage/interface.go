package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	apperrors "pos-offline-sync/internal/errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = apperrors.ErrNotFound

// Entry is one stored key/value pair
type Entry struct {
	Key   string
	Value []byte
}

// Store is the durable local key/value store. Values are opaque JSON documents
// grouped into named collections. A successful write is visible in full to
// every subsequent read, including after a process restart.
type Store interface {
	Put(collection, key string, value []byte) error
	Get(collection, key string) ([]byte, error)
	// GetAll returns every entry of a collection ordered by key
	GetAll(collection string) ([]Entry, error)
	Delete(collection, key string) error
	Clear(collection string) error
	// Replace swaps the whole collection for entries in one atomic step.
	// Readers observe either the previous contents or the new ones.
	Replace(collection string, entries map[string][]byte) error
	Count(collection string) (int, error)
	Close() error
}

// PutJSON encodes value and stores it under key
func PutJSON(s Store, collection, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Storage("encode "+collection, err)
	}
	return s.Put(collection, key, data)
}

// GetJSON fetches key and decodes it into a T
func GetJSON[T any](s Store, collection, key string) (T, error) {
	var out T
	data, err := s.Get(collection, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, apperrors.Storage("decode "+collection+"/"+key, err)
	}
	return out, nil
}

// AllJSON decodes every entry of a collection, ordered by key
func AllJSON[T any](s Store, collection string) ([]T, error) {
	entries, err := s.GetAll(collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, apperrors.Storage("decode "+collection+"/"+e.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ReplaceJSON encodes values keyed by keyOf and atomically replaces the collection
func ReplaceJSON[T any](s Store, collection string, values []T, keyOf func(T) string) error {
	entries := make(map[string][]byte, len(values))
	for _, v := range values {
		key := keyOf(v)
		if key == "" {
			return apperrors.Storage("encode "+collection, fmt.Errorf("empty key"))
		}
		data, err := json.Marshal(v)
		if err != nil {
			return apperrors.Storage("encode "+collection+"/"+key, err)
		}
		entries[key] = data
	}
	return s.Replace(collection, entries)
}

func sortedEntries(m map[string][]byte) []Entry {
	entries := make([]Entry, 0, len(m))
	for k, v := range m {
		entries = append(entries, Entry{Key: k, Value: clone(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func validateName(op, collection, key string, needKey bool) error {
	if collection == "" {
		return apperrors.Storage(op, fmt.Errorf("collection name required"))
	}
	if needKey && key == "" {
		return apperrors.Storage(op, fmt.Errorf("key required"))
	}
	return nil
}
