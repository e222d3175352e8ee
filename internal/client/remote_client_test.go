package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "pos-offline-sync/internal/errors"
	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/stub"
)

const testToken = "test-token"

func newTestRemote(t *testing.T) (*stub.Server, *RemoteClient) {
	t.Helper()

	remote := stub.New(testToken, stub.DefaultProducts(), nil)
	server := httptest.NewServer(remote)
	t.Cleanup(func() {
		server.Close()
		remote.Close()
	})

	c := NewRemoteClient(server.URL, testToken, 2*time.Second, nil)
	t.Cleanup(func() { c.Close() })
	return remote, c
}

func saleRequest(productID string) models.CreateSaleRequest {
	return models.CreateSaleRequest{
		CustomerName:  "Amina",
		PaymentMethod: models.PaymentCash,
		Status:        models.SaleCompleted,
		Items:         []models.CreateSaleItem{{ProductID: productID, Quantity: 2, UnitPrice: 50}},
	}
}

func TestListProducts(t *testing.T) {
	_, c := newTestRemote(t)

	products, err := c.ListProducts(context.Background())

	require.NoError(t, err)
	assert.Len(t, products, len(stub.DefaultProducts()))
	assert.Equal(t, "prod-airtime-100", products[0].ID, "stub lists products ordered by id")
}

func TestHealthCheck(t *testing.T) {
	remote, c := newTestRemote(t)

	assert.NoError(t, c.HealthCheck(context.Background()))

	remote.SetFault(func(op, key string) int {
		if op == stub.OpHealth {
			return http.StatusServiceUnavailable
		}
		return 0
	})
	err := c.HealthCheck(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork))
}

func TestCreateSaleIsIdempotent(t *testing.T) {
	// Arrange
	remote, c := newTestRemote(t)
	ctx := context.Background()

	// Act
	first, err := c.CreateSale(ctx, "sale-local-1", saleRequest("prod-rice-5kg"))
	require.NoError(t, err)
	second, err := c.CreateSale(ctx, "sale-local-1", saleRequest("prod-rice-5kg"))
	require.NoError(t, err)

	// Assert
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.SaleNumber, second.SaleNumber)
	assert.Len(t, remote.Sales(), 1, "a replayed key must not create a second sale")
	assert.Equal(t, []string{"sale-local-1", "sale-local-1"}, remote.CreateAttempts())
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   apperrors.Kind
	}{
		{"server error", http.StatusInternalServerError, apperrors.KindNetwork},
		{"bad gateway", http.StatusBadGateway, apperrors.KindNetwork},
		{"rate limited", http.StatusTooManyRequests, apperrors.KindNetwork},
		{"request timeout", http.StatusRequestTimeout, apperrors.KindNetwork},
		{"unprocessable", http.StatusUnprocessableEntity, apperrors.KindRemoteRejection},
		{"conflict", http.StatusConflict, apperrors.KindRemoteRejection},
		{"unauthorized", http.StatusUnauthorized, apperrors.KindRemoteRejection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote, c := newTestRemote(t)
			remote.SetFault(func(op, key string) int {
				if op == stub.OpCreateSale {
					return tt.status
				}
				return 0
			})

			_, err := c.CreateSale(context.Background(), "k", saleRequest("prod-rice-5kg"))

			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
			assert.Contains(t, err.Error(), "injected failure")
		})
	}
}

func TestUnknownProductIsRejection(t *testing.T) {
	remote, c := newTestRemote(t)

	_, err := c.CreateSale(context.Background(), "k", saleRequest("prod-retired"))

	assert.True(t, apperrors.IsKind(err, apperrors.KindRemoteRejection))
	assert.Empty(t, remote.Sales())
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewRemoteClient(url, testToken, time.Second, nil)
	defer c.Close()

	_, err := c.ListProducts(context.Background())

	assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork))
}

func TestTimeoutIsNetworkError(t *testing.T) {
	remote, _ := newTestRemote(t)
	remote.SetLatency(500 * time.Millisecond)
	server := httptest.NewServer(remote)
	defer server.Close()

	c := NewRemoteClient(server.URL, testToken, 50*time.Millisecond, nil)
	defer c.Close()

	_, err := c.ListProducts(context.Background())

	assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork), "timed out calls are retry-eligible network errors")
}

func TestBadTokenIsRejection(t *testing.T) {
	remote := stub.New(testToken, stub.DefaultProducts(), nil)
	defer remote.Close()
	server := httptest.NewServer(remote)
	defer server.Close()

	c := NewRemoteClient(server.URL, "wrong", time.Second, nil)
	defer c.Close()

	_, err := c.ListProducts(context.Background())

	assert.True(t, apperrors.IsKind(err, apperrors.KindRemoteRejection))
}

func TestResolveProduct(t *testing.T) {
	remote, c := newTestRemote(t)
	ctx := context.Background()

	byID, err := c.ResolveProduct(ctx, "prod-soap", "Bar Soap")
	require.NoError(t, err)
	assert.Equal(t, "prod-soap", byID.ID)

	// Re-created remotely under a new id
	original, _ := remote.Product("prod-soap")
	remote.RemoveProduct("prod-soap")
	original.ID = "prod-soap-v2"
	remote.SetProducts(append(stub.DefaultProducts()[:2], original))

	byName, err := c.ResolveProduct(ctx, "prod-soap", "bar soap")
	require.NoError(t, err)
	assert.Equal(t, "prod-soap-v2", byName.ID)

	_, err = c.ResolveProduct(ctx, "prod-gone", "Gone Product")
	assert.True(t, apperrors.IsKind(err, apperrors.KindRemoteRejection))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestAdjustStock(t *testing.T) {
	remote, c := newTestRemote(t)
	ctx := context.Background()

	require.NoError(t, c.AdjustStock(ctx, "sale-1:prod-oil-1l", "prod-oil-1l", -3))
	require.NoError(t, c.AdjustStock(ctx, "sale-1:prod-oil-1l", "prod-oil-1l", -3))

	product, ok := remote.Product("prod-oil-1l")
	require.True(t, ok)
	assert.Equal(t, 57, product.StockQuantity, "a replayed adjustment key applies once")

	err := c.AdjustStock(ctx, "sale-1:missing", "missing", -1)
	assert.True(t, apperrors.IsKind(err, apperrors.KindRemoteRejection))
}
