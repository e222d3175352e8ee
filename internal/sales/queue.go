package sales

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/storage"
	"pos-offline-sync/internal/utils"
)

// ProductLookup resolves cached products at enqueue time
type ProductLookup interface {
	Product(id string) (*models.CachedProduct, error)
}

// Queue is the durable queue of locally recorded sales. Every sale is
// written here first, online or not, and leaves only once the remote has
// accepted it.
type Queue struct {
	store    storage.Store
	products ProductLookup
	policy   RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	// mu serializes read-modify-write cycles on queued sales
	mu  sync.Mutex
	seq uint64
}

// NewQueue opens the queue on store. products may be nil, in which case every
// line item must carry its own unit price.
func NewQueue(store storage.Store, products ProductLookup, policy RetryPolicy, logger *slog.Logger) (*Queue, error) {
	q := &Queue{
		store:    store,
		products: products,
		policy:   policy,
		logger:   utils.OrDefault(logger),
		now:      time.Now,
		newID:    uuid.NewString,
	}

	existing, err := q.All()
	if err != nil {
		return nil, fmt.Errorf("failed to load sale queue: %w", err)
	}
	for _, s := range existing {
		if s.Seq > q.seq {
			q.seq = s.Seq
		}
	}
	q.logger.Info("Sale queue loaded", "queued_sales", len(existing), "last_seq", q.seq)
	return q, nil
}

// Enqueue validates input, records it as a pending sale and returns it.
// Never touches the network.
func (q *Queue) Enqueue(input models.SaleInput) (*models.QueuedSale, error) {
	sale, err := q.build(input)
	if err != nil {
		q.logger.Warn("Rejected sale at enqueue", "error", err)
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	sale.Seq = q.seq
	if err := storage.PutJSON(q.store, models.CollectionPendingSales, sale.ID, sale); err != nil {
		q.seq--
		q.logger.Error("Failed to persist queued sale", "sale_id", sale.ID, "error", err)
		return nil, err
	}

	q.logger.Info("Sale queued",
		"sale_id", sale.ID,
		"seq", sale.Seq,
		"items", len(sale.Items),
		"total_amount", sale.TotalAmount,
		"status", sale.Status)
	return &sale, nil
}

func (q *Queue) build(input models.SaleInput) (models.QueuedSale, error) {
	const op = "enqueue sale"

	if len(input.Items) == 0 {
		return models.QueuedSale{}, apperrors.Invalid(op, "sale has no line items")
	}

	payment := input.PaymentMethod
	if payment == "" {
		payment = models.PaymentCash
	}
	if !payment.Valid() {
		return models.QueuedSale{}, apperrors.Invalid(op, "unsupported payment method %q", payment)
	}

	status := input.Status
	if status == "" {
		status = models.SaleCompleted
	}
	if !status.Valid() {
		return models.QueuedSale{}, apperrors.Invalid(op, "unsupported sale status %q", status)
	}

	items := make([]models.LineItem, 0, len(input.Items))
	for i, in := range input.Items {
		productID := strings.TrimSpace(in.ProductID)
		if productID == "" {
			return models.QueuedSale{}, apperrors.Invalid(op, "item %d: product id required", i)
		}
		if in.Quantity <= 0 {
			return models.QueuedSale{}, apperrors.Invalid(op, "item %d: quantity must be positive", i)
		}

		item := models.LineItem{ProductID: productID, Quantity: in.Quantity}

		var cached *models.CachedProduct
		if q.products != nil {
			if p, err := q.products.Product(productID); err == nil {
				cached = p
				item.ProductName = p.Name
			}
		}

		switch {
		case in.UnitPrice != nil:
			item.UnitPrice = *in.UnitPrice
		case cached != nil:
			item.UnitPrice = cached.UnitPrice
		default:
			return models.QueuedSale{}, apperrors.Invalid(op, "item %d: no unit price given and product %s is not cached", i, productID)
		}
		if item.UnitPrice < 0 {
			return models.QueuedSale{}, apperrors.Invalid(op, "item %d: unit price must not be negative", i)
		}
		items = append(items, item)
	}

	customer := strings.TrimSpace(input.CustomerName)
	if customer == "" {
		customer = models.DefaultCustomerName
	}

	now := q.now()
	sale := models.QueuedSale{
		ID:            q.newID(),
		CustomerName:  customer,
		CustomerPhone: strings.TrimSpace(input.CustomerPhone),
		Items:         items,
		PaymentMethod: payment,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
		SyncStatus:    models.SyncPending,
	}
	sale.Recalculate()
	return sale, nil
}

// ValidateQueued re-checks a stored sale before upload
func ValidateQueued(sale models.QueuedSale) error {
	const op = "validate queued sale"
	if len(sale.Items) == 0 {
		return apperrors.Invalid(op, "sale %s has no line items", sale.ID)
	}
	if !sale.PaymentMethod.Valid() {
		return apperrors.Invalid(op, "sale %s has unsupported payment method %q", sale.ID, sale.PaymentMethod)
	}
	if !sale.Status.Valid() {
		return apperrors.Invalid(op, "sale %s has unsupported status %q", sale.ID, sale.Status)
	}
	for i, item := range sale.Items {
		if item.ProductID == "" {
			return apperrors.Invalid(op, "sale %s item %d: product id required", sale.ID, i)
		}
		if item.Quantity <= 0 {
			return apperrors.Invalid(op, "sale %s item %d: quantity must be positive", sale.ID, i)
		}
		if item.UnitPrice < 0 {
			return apperrors.Invalid(op, "sale %s item %d: unit price must not be negative", sale.ID, i)
		}
	}
	return nil
}

// Get returns one queued sale
func (q *Queue) Get(id string) (*models.QueuedSale, error) {
	sale, err := storage.GetJSON[models.QueuedSale](q.store, models.CollectionPendingSales, id)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// All returns every queued sale in creation order
func (q *Queue) All() ([]models.QueuedSale, error) {
	sales, err := storage.AllJSON[models.QueuedSale](q.store, models.CollectionPendingSales)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sales, func(i, j int) bool { return sales[i].Before(sales[j]) })
	return sales, nil
}

func (q *Queue) withStatus(status models.SyncStatus) ([]models.QueuedSale, error) {
	all, err := q.All()
	if err != nil {
		return nil, err
	}
	out := make([]models.QueuedSale, 0, len(all))
	for _, s := range all {
		if s.SyncStatus == status {
			out = append(out, s)
		}
	}
	return out, nil
}

// Pending returns the sales eligible for upload, oldest first
func (q *Queue) Pending() ([]models.QueuedSale, error) {
	return q.withStatus(models.SyncPending)
}

// Failed returns the sales that need operator attention
func (q *Queue) Failed() ([]models.QueuedSale, error) {
	return q.withStatus(models.SyncFailed)
}

// Counts returns the number of pending and failed sales
func (q *Queue) Counts() (pending, failed int, err error) {
	all, err := q.All()
	if err != nil {
		return 0, 0, err
	}
	for _, s := range all {
		switch s.SyncStatus {
		case models.SyncPending:
			pending++
		case models.SyncFailed:
			failed++
		}
	}
	return pending, failed, nil
}

// PendingCount returns the number of sales awaiting upload
func (q *Queue) PendingCount() (int, error) {
	pending, _, err := q.Counts()
	return pending, err
}

// update applies mutate to a stored sale under the queue lock and persists it
func (q *Queue) update(id string, mutate func(*models.QueuedSale) error) (*models.QueuedSale, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sale, err := storage.GetJSON[models.QueuedSale](q.store, models.CollectionPendingSales, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(&sale); err != nil {
		return nil, err
	}
	sale.UpdatedAt = q.now()
	if err := storage.PutJSON(q.store, models.CollectionPendingSales, id, sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

// Requeue moves a failed sale back to pending with a fresh retry budget
func (q *Queue) Requeue(id string) (*models.QueuedSale, error) {
	sale, err := q.update(id, func(s *models.QueuedSale) error {
		next, ok := q.policy.Rearm(s.SyncStatus, s.RetryCount)
		if !ok {
			return apperrors.Invalid("requeue sale", "sale %s is %s, only failed sales can be requeued", s.ID, s.SyncStatus)
		}
		s.SyncStatus = next.Status
		s.RetryCount = next.RetryCount
		s.LastError = nil
		s.LastErrorKind = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.logger.Info("Sale requeued", "sale_id", id)
	return sale, nil
}

// RequeueAll re-arms every failed sale and returns how many moved
func (q *Queue) RequeueAll() (int, error) {
	failed, err := q.Failed()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range failed {
		if _, err := q.Requeue(s.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Discard removes a failed sale. Pending sales cannot be discarded.
func (q *Queue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sale, err := storage.GetJSON[models.QueuedSale](q.store, models.CollectionPendingSales, id)
	if err != nil {
		return err
	}
	if sale.SyncStatus != models.SyncFailed {
		return apperrors.Invalid("discard sale", "sale %s is %s, only failed sales can be discarded", id, sale.SyncStatus)
	}
	if err := q.store.Delete(models.CollectionPendingSales, id); err != nil {
		return err
	}
	q.logger.Warn("Failed sale discarded by operator", "sale_id", id, "total_amount", sale.TotalAmount)
	return nil
}

// RecoverInterrupted returns sales left syncing by a crash to pending. The
// idempotency key makes the repeated remote create safe.
func (q *Queue) RecoverInterrupted() (int, error) {
	stuck, err := q.withStatus(models.SyncSyncing)
	if err != nil {
		return 0, err
	}
	for _, s := range stuck {
		if _, err := q.update(s.ID, func(sale *models.QueuedSale) error {
			sale.SyncStatus = models.SyncPending
			return nil
		}); err != nil {
			return 0, err
		}
	}
	if len(stuck) > 0 {
		q.logger.Warn("Recovered sales interrupted mid-upload", "count", len(stuck))
	}
	return len(stuck), nil
}

func (q *Queue) markSyncing(id string) (*models.QueuedSale, error) {
	return q.update(id, func(s *models.QueuedSale) error {
		if s.SyncStatus != models.SyncPending {
			return fmt.Errorf("sale %s is %s, not pending", s.ID, s.SyncStatus)
		}
		s.SyncStatus = models.SyncSyncing
		return nil
	})
}

// release returns a syncing sale to pending without spending a retry
func (q *Queue) release(id string) (*models.QueuedSale, error) {
	return q.update(id, func(s *models.QueuedSale) error {
		if s.SyncStatus != models.SyncSyncing {
			return fmt.Errorf("sale %s is %s, not syncing", s.ID, s.SyncStatus)
		}
		s.SyncStatus = models.SyncPending
		return nil
	})
}

// recordAttempt applies the retry policy to a syncing sale after a failed attempt
func (q *Queue) recordAttempt(id string, attemptErr error) (*models.QueuedSale, error) {
	return q.update(id, func(s *models.QueuedSale) error {
		next := q.policy.Next(s.SyncStatus, s.RetryCount, attemptErr)
		s.SyncStatus = next.Status
		s.RetryCount = next.RetryCount
		msg := attemptErr.Error()
		s.LastError = &msg
		s.LastErrorKind = string(apperrors.KindOf(attemptErr))
		return nil
	})
}

// remove deletes a synced sale; absence is the terminal state
func (q *Queue) remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Delete(models.CollectionPendingSales, id)
}
