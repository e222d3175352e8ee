package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/utils"
)

const IdempotencyHeader = "Idempotency-Key"

// RemoteClient talks to the remote data API that owns the catalog and sales.
// Every call is bounded by the client timeout and by the caller's context.
// Transport failures, timeouts, 408, 429 and 5xx come back as network errors;
// other 4xx responses are remote rejections.
type RemoteClient struct {
	http    *resty.Client
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRemoteClient creates a client authenticating with a bearer token
func NewRemoteClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *RemoteClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL = strings.TrimRight(baseURL, "/")

	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}

	return &RemoteClient{
		http:    c,
		baseURL: baseURL,
		timeout: timeout,
		logger:  utils.OrDefault(logger),
	}
}

// Close releases idle connections
func (c *RemoteClient) Close() error {
	return c.http.Close()
}

func (c *RemoteClient) request(ctx context.Context) (*resty.Request, context.CancelFunc) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return c.http.R().SetContext(callCtx), cancel
}

// HealthCheck checks if the remote API answers
func (c *RemoteClient) HealthCheck(ctx context.Context) error {
	req, cancel := c.request(ctx)
	defer cancel()

	var health models.HealthResponse
	resp, err := req.SetResult(&health).Get("/health")
	return classify("health check", resp, err)
}

// ListProducts fetches the full catalog in one request
func (c *RemoteClient) ListProducts(ctx context.Context) ([]models.ProductRecord, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var list models.ProductListResponse
	resp, err := req.SetResult(&list).Get("/v1/products")
	if err := classify("list products", resp, err); err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched catalog from remote", "count", len(list.Items))
	return list.Items, nil
}

// GetProduct fetches a single product by id. A missing product is a rejection wrapping ErrNotFound.
func (c *RemoteClient) GetProduct(ctx context.Context, productID string) (*models.ProductRecord, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var product models.ProductRecord
	resp, err := req.
		SetPathParam("productId", productID).
		SetResult(&product).
		Get("/v1/products/{productId}")
	if err := classify("get product "+productID, resp, err); err != nil {
		return nil, err
	}
	return &product, nil
}

// FindProductByName returns the product whose name matches exactly, ignoring case
func (c *RemoteClient) FindProductByName(ctx context.Context, name string) (*models.ProductRecord, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var list models.ProductListResponse
	resp, err := req.
		SetQueryParam("name", name).
		SetResult(&list).
		Get("/v1/products")
	op := "find product " + name
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	for i := range list.Items {
		if strings.EqualFold(list.Items[i].Name, name) {
			return &list.Items[i], nil
		}
	}
	return nil, apperrors.Rejected(op, fmt.Errorf("product %q: %w", name, apperrors.ErrNotFound))
}

// ResolveProduct looks a queued line item up remotely, by id first and then by name.
// Products can be renamed or re-created after a sale was queued.
func (c *RemoteClient) ResolveProduct(ctx context.Context, productID, name string) (*models.ProductRecord, error) {
	product, err := c.GetProduct(ctx, productID)
	if err == nil {
		return product, nil
	}
	if name == "" || !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	c.logger.Debug("Product id unknown remotely, resolving by name", "product_id", productID, "name", name)
	return c.FindProductByName(ctx, name)
}

// CreateSale creates a sale with its items. Replaying the same key returns the
// original sale instead of creating another.
func (c *RemoteClient) CreateSale(ctx context.Context, idempotencyKey string, sale models.CreateSaleRequest) (*models.CreateSaleResponse, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var created models.CreateSaleResponse
	resp, err := req.
		SetHeader(IdempotencyHeader, idempotencyKey).
		SetBody(sale).
		SetResult(&created).
		Post("/v1/sales")
	if err := classify("create sale "+idempotencyKey, resp, err); err != nil {
		return nil, err
	}
	return &created, nil
}

// AdjustStock applies delta to a product's stock quantity
func (c *RemoteClient) AdjustStock(ctx context.Context, idempotencyKey, productID string, delta int) error {
	req, cancel := c.request(ctx)
	defer cancel()

	var adjusted models.StockAdjustmentResponse
	resp, err := req.
		SetHeader(IdempotencyHeader, idempotencyKey).
		SetPathParam("productId", productID).
		SetBody(models.StockAdjustmentRequest{Delta: delta, Reason: "sale"}).
		SetResult(&adjusted).
		Post("/v1/products/{productId}/stock-adjustments")
	return classify("adjust stock "+productID, resp, err)
}

// classify maps a resty outcome onto the error taxonomy
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return apperrors.Network(op, fmt.Errorf("failed to make request: %w", err))
	}
	if resp == nil {
		return apperrors.Network(op, fmt.Errorf("no response"))
	}
	if !resp.IsError() && resp.StatusCode() < http.StatusBadRequest {
		return nil
	}

	status := resp.StatusCode()
	cause := fmt.Errorf("remote returned %d: %s", status, remoteMessage(resp.String()))

	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return apperrors.Network(op, cause)
	case status == http.StatusNotFound:
		return apperrors.Rejected(op, fmt.Errorf("%w: %v", apperrors.ErrNotFound, cause))
	default:
		return apperrors.Rejected(op, cause)
	}
}

// remoteMessage extracts the message of an ErrorResponse body, falling back to the raw text
func remoteMessage(body string) string {
	var errResp models.ErrorResponse
	if err := json.Unmarshal([]byte(body), &errResp); err == nil && errResp.Message != "" {
		if errResp.Code != "" {
			return errResp.Code + ": " + errResp.Message
		}
		return errResp.Message
	}
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return "empty body"
	}
	return body
}
