package shopify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"example.com/backstage/services/shipping/config"
	"example.com/backstage/services/shipping/internal/models"

	"github.com/pkg/errors"
)

// FulfillmentRequest is the input for pushing a fulfillment back to the
// order source. Tracking fields are optional; the line items are the
// snapshot captured when the order was first received.
type FulfillmentRequest struct {
	OrderID           *int64
	ClientReferenceNo string
	TrackingNumber    string
	TrackingURL       string
	LineItems         models.LineItems
	NotifyCustomer    bool
}

// FulfillmentResult carries the created fulfillment id and the verbatim
// Shopify response.
type FulfillmentResult struct {
	ID  string
	Raw []byte
}

// Client talks to the Shopify admin API
type Client struct {
	cfg  config.ShopifyConfig
	http *http.Client
}

// NewClient creates a new Shopify admin client
func NewClient(cfg config.ShopifyConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateFulfillment marks an order as shipped on the storefront. The
// tracking block is omitted entirely when neither a tracking number nor
// a url is available, because Shopify rejects empty tracking fields.
func (c *Client) CreateFulfillment(ctx context.Context, req FulfillmentRequest) (*FulfillmentResult, error) {
	if c.cfg.StoreURL == "" || c.cfg.AdminToken == "" {
		return nil, errors.New("shopify admin credentials are not configured")
	}
	if req.OrderID == nil || *req.OrderID == 0 {
		return nil, errors.Errorf("cannot fulfill %s: no shopify order id", req.ClientReferenceNo)
	}

	fulfillment := map[string]interface{}{
		"notify_customer": req.NotifyCustomer,
		"line_items":      req.LineItems,
	}
	if req.TrackingNumber != "" {
		fulfillment["tracking_number"] = req.TrackingNumber
	}
	if req.TrackingURL != "" {
		fulfillment["tracking_url"] = req.TrackingURL
	}

	data, err := json.Marshal(map[string]interface{}{"fulfillment": fulfillment})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal fulfillment payload")
	}

	endpoint := fmt.Sprintf("https://%s/admin/api/%s/orders/%d/fulfillments.json",
		c.cfg.StoreURL, c.cfg.APIVersion, *req.OrderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build fulfillment request")
	}
	httpReq.Header.Set("X-Shopify-Access-Token", c.cfg.AdminToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "no response received from shopify")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read fulfillment response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("shopify returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Fulfillment struct {
			ID int64 `json:"id"`
		} `json:"fulfillment"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Fulfillment.ID == 0 {
		return nil, errors.New("shopify did not return a fulfillment id")
	}

	return &FulfillmentResult{
		ID:  fmt.Sprintf("%d", parsed.Fulfillment.ID),
		Raw: respBody,
	}, nil
}

// VerifyWebhookHMAC checks a Shopify webhook signature against the raw
// request body using a constant-time comparison.
func VerifyWebhookHMAC(secret string, rawBody []byte, receivedHMAC string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	digest := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(digest), []byte(receivedHMAC)) == 1
}

// NormalizeOrder maps a raw Shopify order webhook payload onto the
// normalized order shape the bridge consumes.
func NormalizeOrder(payload []byte) (*models.Order, error) {
	var raw struct {
		ID              int64          `json:"id"`
		Name            string         `json:"name"`
		OrderNumber     int64          `json:"order_number"`
		Email           string         `json:"email"`
		Phone           string         `json:"phone"`
		ShippingAddress models.Address `json:"shipping_address"`
		BillingAddress  models.Address `json:"billing_address"`
		LineItems       []struct {
			ID                  int64       `json:"id"`
			SKU                 string      `json:"sku"`
			Title               string      `json:"title"`
			Quantity            int         `json:"quantity"`
			FulfillableQuantity *int        `json:"fulfillable_quantity"`
			Price               json.Number `json:"price"`
		} `json:"line_items"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse order payload")
	}

	order := &models.Order{
		ID:              raw.ID,
		Name:            raw.Name,
		OrderNumber:     raw.OrderNumber,
		Email:           raw.Email,
		Phone:           raw.Phone,
		ShippingAddress: raw.ShippingAddress,
	}
	if order.Phone == "" {
		order.Phone = raw.ShippingAddress.Phone
	}
	if order.Phone == "" {
		order.Phone = raw.BillingAddress.Phone
	}
	for _, li := range raw.LineItems {
		price := li.Price.String()
		if price == "" {
			price = "0"
		}
		order.LineItems = append(order.LineItems, models.OrderLineItem{
			ID:                  li.ID,
			SKU:                 li.SKU,
			Title:               li.Title,
			Quantity:            li.Quantity,
			FulfillableQuantity: li.FulfillableQuantity,
			Price:               price,
		})
	}
	return order, nil
}
