package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Status tracks how far a shipment has progressed through the courier chain
type Status string

// Shipment statuses in stage order
const (
	StatusOrderReceived  Status = "ORDER_RECEIVED"
	StatusConsigneeReady Status = "CONSIGNEE_READY"
	StatusSOCreated      Status = "SO_CREATED"
	StatusGINReceived    Status = "GIN_RECEIVED"
	StatusCNReceived     Status = "CN_RECEIVED"
	StatusFulfilled      Status = "FULFILLED"
)

// LineItem is the quantity snapshot captured when an order first arrives.
// It is the sole input to fulfillment and is never recomputed.
type LineItem struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

// LineItems is a jsonb-backed line item collection
type LineItems []LineItem

// Value implements driver.Valuer for jsonb storage
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		l = LineItems{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for jsonb storage
func (l *LineItems) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.Errorf("unsupported line items column type %T", value)
	}
}

// ShipmentRecord is one tracked order, keyed by ClientReferenceNo.
// ConsigneeCode, SONo, GINNo, TrackingNumber and FulfillmentID are
// write-once: a non-empty value means the stage is done and must not be
// re-attempted.
type ShipmentRecord struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	ShopifyOrderID      *int64    `json:"shopify_order_id"`
	ClientReferenceNo   string    `gorm:"not null;uniqueIndex" json:"client_reference_no"`
	Status              Status    `gorm:"not null" json:"status"`
	LineItems           LineItems `gorm:"type:jsonb" json:"line_items"`
	ConsigneeCode       string    `json:"consignee_code,omitempty"`
	SONo                string    `gorm:"column:so_no" json:"so_no,omitempty"`
	GINNo               string    `gorm:"column:gin_no" json:"gin_no,omitempty"`
	CNNo                string    `gorm:"column:cn_no" json:"cn_no,omitempty"`
	TrackingNumber      string    `json:"tracking_number,omitempty"`
	TrackingURL         string    `gorm:"column:tracking_url" json:"tracking_url,omitempty"`
	FulfillmentID       string    `json:"fulfillment_id,omitempty"`
	SOResponse          []byte    `gorm:"type:jsonb;column:so_response" json:"-"`
	GINResponse         []byte    `gorm:"type:jsonb;column:gin_response" json:"-"`
	CNResponse          []byte    `gorm:"type:jsonb;column:cn_response" json:"-"`
	FulfillmentResponse []byte    `gorm:"type:jsonb" json:"-"`
}

// Fulfilled reports whether the record reached the terminal stage
func (r *ShipmentRecord) Fulfilled() bool {
	return r.Status == StatusFulfilled
}

// Address is the shipping destination from a normalized order
type Address struct {
	Name     string `json:"name"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	Province string `json:"province"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
	Phone    string `json:"phone"`
}

// OrderLineItem is a line item on a normalized inbound order
type OrderLineItem struct {
	ID                  int64  `json:"id"`
	SKU                 string `json:"sku"`
	Title               string `json:"title"`
	Quantity            int    `json:"quantity"`
	FulfillableQuantity *int   `json:"fulfillable_quantity"`
	Price               string `json:"price"`
}

// Order is a normalized Shopify order. Webhook-specific field mapping and
// signature verification happen before an Order reaches the bridge.
type Order struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	OrderNumber     int64           `json:"order_number"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
	ShippingAddress Address         `json:"shipping_address"`
	LineItems       []OrderLineItem `json:"line_items"`
}

// ClientReference derives the record key for an order: the human-readable
// order name, else "#<id>", else "#<order_number>", else a timestamp
// fallback. Never empty.
func ClientReference(order *Order) string {
	if order == nil {
		return fmt.Sprintf("REF-%d", time.Now().UnixMilli())
	}
	if order.Name != "" {
		return order.Name
	}
	if order.ID != 0 {
		return fmt.Sprintf("#%d", order.ID)
	}
	if order.OrderNumber != 0 {
		return fmt.Sprintf("#%d", order.OrderNumber)
	}
	return fmt.Sprintf("REF-%d", time.Now().UnixMilli())
}

// SnapshotLineItems captures the fulfillable quantities of an order.
// Entries without an id or with nothing left to ship are dropped.
func SnapshotLineItems(order *Order) LineItems {
	if order == nil {
		return LineItems{}
	}
	items := make(LineItems, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		qty := li.Quantity
		if li.FulfillableQuantity != nil {
			qty = *li.FulfillableQuantity
		}
		if li.ID == 0 || qty <= 0 {
			continue
		}
		items = append(items, LineItem{ID: li.ID, Quantity: qty})
	}
	return items
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&ShipmentRecord{}); err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}
	return nil
}
