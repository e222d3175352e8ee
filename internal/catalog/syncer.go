package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/storage"
	"pos-offline-sync/internal/utils"
)

const metaKey = "catalog"

// Source is the remote side of the catalog
type Source interface {
	ListProducts(ctx context.Context) ([]models.ProductRecord, error)
}

// Meta is persisted next to the snapshot so the last sync survives restarts
type Meta struct {
	LastSyncedAt time.Time `json:"last_synced_at"`
	ProductCount int       `json:"product_count"`
}

// Syncer owns the cached catalog. It is the only writer of the products
// collection; everyone else reads through it.
type Syncer struct {
	source Source
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	syncMu sync.Mutex

	metaMu sync.RWMutex
	meta   Meta
	onMiss func(error)
}

func NewSyncer(source Source, store storage.Store, logger *slog.Logger) *Syncer {
	s := &Syncer{
		source: source,
		store:  store,
		logger: utils.OrDefault(logger),
		now:    time.Now,
	}
	if meta, err := storage.GetJSON[Meta](store, models.CollectionMeta, metaKey); err == nil {
		s.meta = meta
	}
	return s
}

// OnMiss registers a handler for reads that fail on storage. The handler
// typically schedules a resync; it must not block.
func (s *Syncer) OnMiss(handler func(error)) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.onMiss = handler
}

func (s *Syncer) miss(err error) {
	s.metaMu.RLock()
	handler := s.onMiss
	s.metaMu.RUnlock()

	s.logger.Warn("Catalog read failed, treating as cache miss", "error", err)
	if handler != nil {
		handler(err)
	}
}

// SyncProducts replaces the cached catalog with the remote one and returns the
// number of products cached. On any error the previous snapshot is left as is.
// Concurrent calls are serialized.
func (s *Syncer) SyncProducts(ctx context.Context) (int, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	startTime := s.now()
	s.logger.Info("Starting catalog sync")

	records, err := s.source.ListProducts(ctx)
	if err != nil {
		s.logger.Error("Failed to get products from remote API", "error", err)
		return 0, fmt.Errorf("catalog sync: %w", err)
	}

	syncedAt := s.now()
	products, err := toSnapshot(records, syncedAt)
	if err != nil {
		s.logger.Error("Remote catalog rejected", "error", err)
		return 0, fmt.Errorf("catalog sync: %w", err)
	}

	err = storage.ReplaceJSON(s.store, models.CollectionProducts, products, func(p models.CachedProduct) string { return p.ID })
	if err != nil {
		s.logger.Error("Failed to write catalog snapshot", "error", err)
		return 0, fmt.Errorf("catalog sync: %w", err)
	}

	meta := Meta{LastSyncedAt: syncedAt, ProductCount: len(products)}
	if err := storage.PutJSON(s.store, models.CollectionMeta, metaKey, meta); err != nil {
		s.logger.Warn("Failed to record catalog sync time", "error", err)
	}
	s.metaMu.Lock()
	s.meta = meta
	s.metaMu.Unlock()

	s.logger.Info("Catalog sync completed",
		"products_synced", len(products),
		"duration", s.now().Sub(startTime))
	return len(products), nil
}

// toSnapshot validates the remote records. Duplicate ids keep the last record.
func toSnapshot(records []models.ProductRecord, syncedAt time.Time) ([]models.CachedProduct, error) {
	byID := make(map[string]models.CachedProduct, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return nil, apperrors.Rejected("list products", fmt.Errorf("record %d has no id", i))
		}
		byID[r.ID] = r.ToCached(syncedAt)
	}

	products := make([]models.CachedProduct, 0, len(byID))
	for _, p := range byID {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

// Products returns the cached catalog ordered by id
func (s *Syncer) Products() ([]models.CachedProduct, error) {
	products, err := storage.AllJSON[models.CachedProduct](s.store, models.CollectionProducts)
	if err != nil {
		s.miss(err)
		return nil, err
	}
	return products, nil
}

// Product returns one cached product. A missing id returns ErrNotFound; a
// storage failure additionally reports a cache miss.
func (s *Syncer) Product(id string) (*models.CachedProduct, error) {
	product, err := storage.GetJSON[models.CachedProduct](s.store, models.CollectionProducts, id)
	if err != nil {
		if !apperrors.Is(err, storage.ErrNotFound) {
			s.miss(err)
		}
		return nil, err
	}
	return &product, nil
}

// Search returns cached products whose name or category contains query, ignoring case
func (s *Syncer) Search(query string) ([]models.CachedProduct, error) {
	products, err := s.Products()
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return products, nil
	}

	matches := make([]models.CachedProduct, 0)
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), query) || strings.Contains(strings.ToLower(p.Category), query) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// Count returns the number of cached products
func (s *Syncer) Count() (int, error) {
	n, err := s.store.Count(models.CollectionProducts)
	if err != nil {
		s.miss(err)
		return 0, err
	}
	return n, nil
}

// LastSyncedAt returns the time of the last successful sync, zero if never
func (s *Syncer) LastSyncedAt() time.Time {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return s.meta.LastSyncedAt
}
