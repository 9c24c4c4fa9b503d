package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/backstage/services/shipping/config"
	"example.com/backstage/services/shipping/internal/models"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.ShopifyConfig{
		StoreURL:   strings.TrimPrefix(server.URL, "https://"),
		APIVersion: "2024-10",
		AdminToken: "shpat_test",
		Timeout:    5 * time.Second,
	})
	client.http = server.Client()
	return client, server
}

func fulfillmentRequest(orderID int64) FulfillmentRequest {
	return FulfillmentRequest{
		OrderID:           &orderID,
		ClientReferenceNo: "#1001",
		TrackingNumber:    "779394968090",
		TrackingURL:       "https://www.tcsexpress.com/tracking/779394968090",
		LineItems:         models.LineItems{{ID: 101, Quantity: 2}},
		NotifyCustomer:    true,
	}
}

func TestCreateFulfillment(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		require.Equal(t, "/admin/api/2024-10/orders/450789469/fulfillments.json", r.URL.Path)

		var payload map[string]map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		fulfillment := payload["fulfillment"]
		require.Equal(t, "779394968090", fulfillment["tracking_number"])
		require.Equal(t, true, fulfillment["notify_customer"])

		w.Write([]byte(`{"fulfillment":{"id":1069019888}}`))
	})

	orderID := int64(450789469)
	req := fulfillmentRequest(orderID)
	result, err := client.CreateFulfillment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "1069019888", result.ID)
}

func TestCreateFulfillmentOmitsEmptyTracking(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		fulfillment := payload["fulfillment"]
		_, hasNumber := fulfillment["tracking_number"]
		_, hasURL := fulfillment["tracking_url"]
		require.False(t, hasNumber)
		require.False(t, hasURL)

		w.Write([]byte(`{"fulfillment":{"id":7}}`))
	})

	orderID := int64(42)
	req := FulfillmentRequest{OrderID: &orderID, ClientReferenceNo: "#1001", NotifyCustomer: true}
	result, err := client.CreateFulfillment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "7", result.ID)
}

func TestCreateFulfillmentValidation(t *testing.T) {
	client := NewClient(config.ShopifyConfig{})
	_, err := client.CreateFulfillment(context.Background(), FulfillmentRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "credentials are not configured")

	client = NewClient(config.ShopifyConfig{StoreURL: "shop.myshopify.com", AdminToken: "tok"})
	_, err = client.CreateFulfillment(context.Background(), FulfillmentRequest{ClientReferenceNo: "#1001"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no shopify order id")
}

func TestCreateFulfillmentMissingID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fulfillment":{}}`))
	})

	orderID := int64(42)
	_, err := client.CreateFulfillment(context.Background(), FulfillmentRequest{OrderID: &orderID})
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not return a fulfillment id")
}

func TestVerifyWebhookHMAC(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"id":450789469}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	require.True(t, VerifyWebhookHMAC(secret, body, signature))
	require.False(t, VerifyWebhookHMAC(secret, body, "forged"))
	require.False(t, VerifyWebhookHMAC("other-secret", body, signature))
	require.False(t, VerifyWebhookHMAC(secret, []byte(`{"id":1}`), signature))
}

func TestNormalizeOrder(t *testing.T) {
	payload := []byte(`{
		"id": 450789469,
		"name": "#1001",
		"order_number": 1001,
		"email": "customer@example.com",
		"phone": null,
		"shipping_address": {"name": "Jane Doe", "city": "Karachi"},
		"billing_address": {"phone": "+923001234567"},
		"line_items": [
			{"id": 101, "sku": "SKU-1", "title": "Widget", "quantity": 3, "fulfillable_quantity": 2, "price": "49.99"},
			{"id": 102, "title": "Gadget", "quantity": 1}
		]
	}`)

	order, err := NormalizeOrder(payload)
	require.NoError(t, err)
	require.Equal(t, int64(450789469), order.ID)
	require.Equal(t, "#1001", order.Name)

	// Phone falls back through shipping then billing address
	require.Equal(t, "+923001234567", order.Phone)

	require.Len(t, order.LineItems, 2)
	require.NotNil(t, order.LineItems[0].FulfillableQuantity)
	require.Equal(t, 2, *order.LineItems[0].FulfillableQuantity)
	require.Nil(t, order.LineItems[1].FulfillableQuantity)
	require.Equal(t, "0", order.LineItems[1].Price)

	_, err = NormalizeOrder([]byte("not json"))
	require.Error(t, err)
}
