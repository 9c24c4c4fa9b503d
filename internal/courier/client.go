package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"example.com/backstage/services/shipping/config"
	"example.com/backstage/services/shipping/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Response carries the identifier extracted from a courier call plus the
// verbatim provider payload for audit storage.
type Response struct {
	Code string
	Raw  []byte
}

// Client talks to the TCS courier API. In sandbox mode every operation
// returns a deterministic synthetic success without a remote call.
type Client struct {
	cfg  config.CourierConfig
	http *http.Client
}

// NewClient creates a new courier client
func NewClient(cfg config.CourierConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// firstString returns the first candidate key present in the response
// with a usable value. The provider's field naming is inconsistent
// between endpoints, so every extraction probes an ordered alias list.
func firstString(raw []byte, keys ...string) (string, bool) {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", false
	}
	for _, key := range keys {
		v, ok := body[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val, true
			}
		case float64:
			return fmt.Sprintf("%.0f", val), true
		}
	}
	return "", false
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	if c.cfg.BaseURL == "" {
		return nil, errors.New("courier base URL is not configured")
	}
	if c.cfg.BearerToken == "" {
		return nil, errors.New("courier bearer token is not configured")
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal courier payload")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build courier request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "no response received from courier (%s %s)", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read courier response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("courier returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func sandboxResponse(code string) *Response {
	raw, _ := json.Marshal(map[string]interface{}{"ok": true, "sandbox": true, "code": code})
	return &Response{Code: code, Raw: raw}
}

// EnsureConsignee registers the order's recipient with the courier and
// returns the consignee code.
func (c *Client) EnsureConsignee(ctx context.Context, order *models.Order) (*Response, error) {
	reference := models.ClientReference(order)
	if c.cfg.Sandbox {
		return sandboxResponse("UAT-C-" + reference), nil
	}

	addr := order.ShippingAddress
	payload := map[string]interface{}{
		"storerCode":    c.cfg.StorerCode,
		"projectCode":   c.cfg.ProjectCode,
		"consigneeName": addr.Name,
		"address1":      addr.Address1,
		"address2":      addr.Address2,
		"city":          addr.City,
		"province":      addr.Province,
		"zip":           addr.Zip,
		"country":       addr.Country,
		"phone":         firstNonEmpty(order.Phone, addr.Phone),
		"email":         order.Email,
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/v1/consignees", nil, payload)
	if err != nil {
		return nil, err
	}

	code, ok := firstString(raw, "consigneeCode", "consignee_code", "code")
	if !ok {
		return nil, errors.New("courier did not return a consignee code")
	}
	log.Debug().Str("reference", reference).Str("consignee_code", code).Msg("Consignee registered")
	return &Response{Code: code, Raw: raw}, nil
}

// CreateSalesOrder creates the courier-side order for a shipment. A 2xx
// response without a usable order number is not an error here; the
// orchestrator keeps the record at CONSIGNEE_READY in that case.
func (c *Client) CreateSalesOrder(ctx context.Context, order *models.Order, consigneeCode, clientReferenceNo string) (*Response, error) {
	if c.cfg.Sandbox {
		return sandboxResponse("UAT-SO-" + clientReferenceNo), nil
	}

	lines := make([]map[string]interface{}, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		lines = append(lines, map[string]interface{}{
			"sku":      li.SKU,
			"title":    li.Title,
			"quantity": li.Quantity,
			"price":    li.Price,
		})
	}
	payload := map[string]interface{}{
		"storerCode":        c.cfg.StorerCode,
		"warehouseCode":     c.cfg.WarehouseCode,
		"projectCode":       c.cfg.ProjectCode,
		"shipperCode":       c.cfg.ShipperCode,
		"clientReferenceNo": clientReferenceNo,
		"consigneeCode":     consigneeCode,
		"lines":             lines,
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/v1/salesorders", nil, payload)
	if err != nil {
		return nil, err
	}

	code, _ := firstString(raw, "soNo", "soNumber", "salesOrderNo")
	return &Response{Code: code, Raw: raw}, nil
}

// FetchGIN fetches the goods-issue-note for a sales order. A nil response
// means the warehouse has not released the goods yet.
func (c *Client) FetchGIN(ctx context.Context, soNo, clientReferenceNo string) (*Response, error) {
	if c.cfg.Sandbox {
		return sandboxResponse("UAT-GIN-" + soNo), nil
	}

	query := url.Values{}
	query.Set("soNo", soNo)
	query.Set("clientReferenceNo", clientReferenceNo)

	raw, err := c.do(ctx, http.MethodGet, "/api/v1/gin", query, nil)
	if err != nil {
		return nil, err
	}

	code, ok := firstString(raw, "ginNo", "ginNumber")
	if !ok {
		return nil, nil
	}
	return &Response{Code: code, Raw: raw}, nil
}

// FetchCN fetches the consignment number for a released sales order. A
// nil response means the courier has not assigned one yet.
func (c *Client) FetchCN(ctx context.Context, soNo, ginNo, clientReferenceNo string) (*Response, error) {
	if c.cfg.Sandbox {
		return sandboxResponse("UAT-CN-" + ginNo), nil
	}

	query := url.Values{}
	query.Set("soNo", soNo)
	query.Set("ginNo", ginNo)
	query.Set("clientReferenceNo", clientReferenceNo)

	raw, err := c.do(ctx, http.MethodGet, "/api/v1/consignments", query, nil)
	if err != nil {
		return nil, err
	}

	code, ok := firstString(raw, "cnNo", "consignmentNumber", "trackingNumber")
	if !ok {
		return nil, nil
	}
	return &Response{Code: code, Raw: raw}, nil
}

// TrackingURL substitutes a tracking number into the configured template
func (c *Client) TrackingURL(trackingNumber string) string {
	if trackingNumber == "" {
		return ""
	}
	return strings.ReplaceAll(c.cfg.TrackingTemplate, "${trackingNumber}", trackingNumber)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
