package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/utils"
)

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileStore persists each collection as one JSON document under dataDir and
// serves reads from an in-memory mirror. Every mutation writes the full
// collection to a temp file, fsyncs it and renames it over the previous file,
// and only then publishes the new mirror, so a crash leaves either the old or
// the new document on disk.
type FileStore struct {
	dataDir string
	logger  *slog.Logger

	// writeMu serializes mutations; mu guards the mirror and is never held across disk I/O.
	writeMu     sync.Mutex
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	closed      bool
}

// NewFileStore creates dataDir if needed and loads existing collections
func NewFileStore(dataDir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Storage("create data directory", err)
	}

	fs := &FileStore{
		dataDir:     dataDir,
		logger:      utils.OrDefault(logger),
		collections: make(map[string]map[string][]byte),
	}
	if err := fs.loadAll(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) path(collection string) string {
	return filepath.Join(fs.dataDir, collection+".json")
}

// loadAll reads every collection file. Unreadable documents are moved aside
// so the collection restarts empty instead of blocking startup.
func (fs *FileStore) loadAll() error {
	files, err := filepath.Glob(filepath.Join(fs.dataDir, "*.json"))
	if err != nil {
		return apperrors.Storage("list collections", err)
	}

	for _, file := range files {
		collection := filepath.Base(file)
		collection = collection[:len(collection)-len(".json")]
		if !collectionName.MatchString(collection) {
			continue
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return apperrors.Storage("read "+collection, err)
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			quarantine := fmt.Sprintf("%s.corrupt-%d", file, time.Now().UnixNano())
			fs.logger.Error("Collection file is corrupt, starting it empty",
				"collection", collection,
				"moved_to", quarantine,
				"error", err)
			if renameErr := os.Rename(file, quarantine); renameErr != nil {
				return apperrors.Storage("quarantine "+collection, renameErr)
			}
			continue
		}

		c := make(map[string][]byte, len(raw))
		for k, v := range raw {
			c[k] = []byte(v)
		}
		fs.collections[collection] = c
		fs.logger.Debug("Loaded collection", "collection", collection, "entries", len(c))
	}
	return nil
}

// snapshot returns a shallow copy of the collection for a pending mutation
func (fs *FileStore) snapshot(collection string) map[string][]byte {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	current := fs.collections[collection]
	next := make(map[string][]byte, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	return next
}

// commit persists next as the new contents of collection and publishes it
func (fs *FileStore) commit(op, collection string, next map[string][]byte) error {
	if err := fs.persist(collection, next); err != nil {
		return apperrors.Storage(op+" "+collection, err)
	}

	fs.mu.Lock()
	fs.collections[collection] = next
	fs.mu.Unlock()
	return nil
}

func (fs *FileStore) persist(collection string, entries map[string][]byte) error {
	raw := make(map[string]json.RawMessage, len(entries))
	for k, v := range entries {
		raw[k] = json.RawMessage(v)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err)
	}

	target := fs.path(collection)
	tempFile := target + ".tmp"

	f, err := os.OpenFile(tempFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	// Best effort: make the rename itself durable
	if dir, err := os.Open(fs.dataDir); err == nil {
		_ = dir.Sync()
		dir.Close()
	}
	return nil
}

func (fs *FileStore) ensureOpen(op string) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.closed {
		return apperrors.Storage(op, fmt.Errorf("store closed"))
	}
	return nil
}

func (fs *FileStore) checkCollection(op, collection, key string, needKey bool) error {
	if err := validateName(op, collection, key, needKey); err != nil {
		return err
	}
	if !collectionName.MatchString(collection) {
		return apperrors.Storage(op, fmt.Errorf("invalid collection name %q", collection))
	}
	return fs.ensureOpen(op + " " + collection)
}

func (fs *FileStore) Put(collection, key string, value []byte) error {
	if err := fs.checkCollection("put", collection, key, true); err != nil {
		return err
	}
	if !json.Valid(value) {
		return apperrors.Storage("put "+collection, fmt.Errorf("value for %q is not valid JSON", key))
	}

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	next := fs.snapshot(collection)
	next[key] = clone(value)
	return fs.commit("put", collection, next)
}

func (fs *FileStore) Get(collection, key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.closed {
		return nil, apperrors.Storage("get "+collection, fmt.Errorf("store closed"))
	}

	v, ok := fs.collections[collection][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	return clone(v), nil
}

func (fs *FileStore) GetAll(collection string) ([]Entry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.closed {
		return nil, apperrors.Storage("get all "+collection, fmt.Errorf("store closed"))
	}
	return sortedEntries(fs.collections[collection]), nil
}

func (fs *FileStore) Delete(collection, key string) error {
	if err := fs.checkCollection("delete", collection, key, true); err != nil {
		return err
	}

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	next := fs.snapshot(collection)
	if _, ok := next[key]; !ok {
		return nil
	}
	delete(next, key)
	return fs.commit("delete", collection, next)
}

func (fs *FileStore) Clear(collection string) error {
	return fs.Replace(collection, nil)
}

func (fs *FileStore) Replace(collection string, entries map[string][]byte) error {
	if err := fs.checkCollection("replace", collection, "", false); err != nil {
		return err
	}

	next := make(map[string][]byte, len(entries))
	for k, v := range entries {
		if !json.Valid(v) {
			return apperrors.Storage("replace "+collection, fmt.Errorf("value for %q is not valid JSON", k))
		}
		next[k] = clone(v)
	}

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	return fs.commit("replace", collection, next)
}

func (fs *FileStore) Count(collection string) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.closed {
		return 0, apperrors.Storage("count "+collection, fmt.Errorf("store closed"))
	}
	return len(fs.collections[collection]), nil
}

// Close waits for an in-flight write and rejects further operations
func (fs *FileStore) Close() error {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	fs.logger.Info("File store closed", "data_dir", fs.dataDir)
	return nil
}
