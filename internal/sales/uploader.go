package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/utils"
)

// Remote is the subset of the remote API the uploader needs
type Remote interface {
	ResolveProduct(ctx context.Context, productID, name string) (*models.ProductRecord, error)
	CreateSale(ctx context.Context, idempotencyKey string, sale models.CreateSaleRequest) (*models.CreateSaleResponse, error)
	AdjustStock(ctx context.Context, idempotencyKey, productID string, delta int) error
}

// Observer is told about every per-sale outcome. Calls happen on the upload
// goroutine and must return quickly.
type Observer interface {
	SaleSynced(sale models.QueuedSale, created models.CreateSaleResponse)
	// SaleFailed receives the sale after the retry policy was applied
	SaleFailed(sale models.QueuedSale, err error)
	StockAdjustFailed(sale models.QueuedSale, productID string, err error)
}

// Uploader drains the queue against the remote API. At most one drain runs at
// a time; a second caller gets AlreadyRunning back instead of waiting.
type Uploader struct {
	queue     *Queue
	remote    Remote
	logger    *slog.Logger
	observers []Observer
	running   atomic.Bool
}

func NewUploader(queue *Queue, remote Remote, logger *slog.Logger, observers ...Observer) *Uploader {
	return &Uploader{
		queue:     queue,
		remote:    remote,
		logger:    utils.OrDefault(logger),
		observers: observers,
	}
}

// IsSyncing reports whether a drain is in flight
func (u *Uploader) IsSyncing() bool {
	return u.running.Load()
}

// SyncPendingSales uploads every pending sale, oldest first. Per-sale
// failures are recorded on the sale and never abort the batch. Cancelling ctx
// stops the batch between sales; the sale in progress always completes.
func (u *Uploader) SyncPendingSales(ctx context.Context) models.UploadResult {
	if !u.running.CompareAndSwap(false, true) {
		pending, _ := u.queue.PendingCount()
		u.logger.Info("Sale upload already in progress")
		return models.UploadResult{TotalPending: pending, AlreadyRunning: true}
	}
	defer u.running.Store(false)

	var result models.UploadResult
	startTime := time.Now()

	pending, err := u.queue.Pending()
	if err != nil {
		u.logger.Error("Failed to read pending sales", "error", err)
		return result
	}
	if len(pending) == 0 {
		u.logger.Debug("No pending sales to upload")
		return result
	}

	u.logger.Info("Starting sale upload", "pending", len(pending))

	// Remote calls of a started sale must not be cut short by the caller
	saleCtx := context.WithoutCancel(ctx)

	for _, sale := range pending {
		if ctx.Err() != nil {
			u.logger.Info("Sale upload stopped by caller", "remaining", len(pending)-result.Synced-result.Failed)
			break
		}
		if u.uploadOne(saleCtx, sale) {
			result.Synced++
		} else {
			result.Failed++
		}
	}

	if remaining, err := u.queue.PendingCount(); err == nil {
		result.TotalPending = remaining
	} else {
		u.logger.Warn("Failed to count remaining sales", "error", err)
	}

	u.logger.Info("Sale upload completed",
		"synced", result.Synced,
		"failed", result.Failed,
		"total_pending", result.TotalPending,
		"duration", time.Since(startTime))
	return result
}

// uploadOne runs one sale through syncing to synced or back to pending/failed
func (u *Uploader) uploadOne(ctx context.Context, queued models.QueuedSale) bool {
	sale, err := u.queue.markSyncing(queued.ID)
	if err != nil {
		u.logger.Warn("Could not mark sale syncing, skipping", "sale_id", queued.ID, "error", err)
		return false
	}

	created, resolved, err := u.createRemote(ctx, *sale)
	if err != nil {
		u.fail(*sale, err)
		return false
	}

	if err := u.queue.remove(sale.ID); err != nil {
		// Back to pending so the next run replays the key and gets the same sale back.
		// Stock and observers wait for that replay.
		u.logger.Error("Sale synced but could not be removed from queue", "sale_id", sale.ID, "remote_id", created.ID, "error", err)
		if _, relErr := u.queue.release(sale.ID); relErr != nil {
			u.logger.Error("Failed to return sale to pending, it recovers on restart", "sale_id", sale.ID, "error", relErr)
		}
		return false
	}
	sale.SyncStatus = models.SyncSynced

	u.logger.Info("Sale synced",
		"sale_id", sale.ID,
		"remote_id", created.ID,
		"sale_number", created.SaleNumber,
		"attempts", sale.RetryCount+1)

	if sale.Status == models.SaleCompleted {
		u.decrementStock(ctx, *sale, resolved)
	}
	for _, o := range u.observers {
		o.SaleSynced(*sale, *created)
	}
	return true
}

// createRemote resolves every line item and creates the sale. It returns the
// remote product id per local product id for the stock step.
func (u *Uploader) createRemote(ctx context.Context, sale models.QueuedSale) (*models.CreateSaleResponse, map[string]string, error) {
	if err := ValidateQueued(sale); err != nil {
		return nil, nil, err
	}
	sale.Recalculate()

	resolved := make(map[string]string, len(sale.Items))
	items := make([]models.CreateSaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		remoteID, ok := resolved[item.ProductID]
		if !ok {
			product, err := u.remote.ResolveProduct(ctx, item.ProductID, item.ProductName)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve product %s: %w", item.ProductID, err)
			}
			remoteID = product.ID
			resolved[item.ProductID] = remoteID
		}
		items = append(items, models.CreateSaleItem{
			ProductID: remoteID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	created, err := u.remote.CreateSale(ctx, sale.ID, models.CreateSaleRequest{
		CustomerName:  sale.CustomerName,
		CustomerPhone: sale.CustomerPhone,
		PaymentMethod: sale.PaymentMethod,
		Status:        sale.Status,
		Items:         items,
	})
	if err != nil {
		return nil, nil, err
	}
	return created, resolved, nil
}

func (u *Uploader) fail(sale models.QueuedSale, attemptErr error) {
	updated, err := u.queue.recordAttempt(sale.ID, attemptErr)
	if err != nil {
		u.logger.Error("Failed to record upload failure", "sale_id", sale.ID, "attempt_error", attemptErr, "error", err)
		return
	}

	if updated.SyncStatus == models.SyncFailed {
		u.logger.Warn("Sale needs attention, automatic retries stopped",
			"sale_id", updated.ID,
			"retry_count", updated.RetryCount,
			"error_kind", apperrors.KindOf(attemptErr),
			"error", attemptErr)
	} else {
		u.logger.Warn("Sale upload failed, will retry",
			"sale_id", updated.ID,
			"retry_count", updated.RetryCount,
			"error_kind", apperrors.KindOf(attemptErr),
			"error", attemptErr)
	}

	for _, o := range u.observers {
		o.SaleFailed(*updated, attemptErr)
	}
}

// decrementStock lowers remote stock per product. Failures are logged only:
// the sale record matters more than inventory accuracy.
func (u *Uploader) decrementStock(ctx context.Context, sale models.QueuedSale, resolved map[string]string) {
	quantities := make(map[string]int, len(resolved))
	order := make([]string, 0, len(resolved))
	for _, item := range sale.Items {
		remoteID := resolved[item.ProductID]
		if _, seen := quantities[remoteID]; !seen {
			order = append(order, remoteID)
		}
		quantities[remoteID] += item.Quantity
	}

	for _, productID := range order {
		key := sale.ID + ":" + productID
		if err := u.remote.AdjustStock(ctx, key, productID, -quantities[productID]); err != nil {
			u.logger.Warn("Stock decrement failed for synced sale",
				"sale_id", sale.ID,
				"product_id", productID,
				"quantity", quantities[productID],
				"error", err)
			for _, o := range u.observers {
				o.StockAdjustFailed(sale, productID, err)
			}
		}
	}
}
