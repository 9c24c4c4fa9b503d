package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"example.com/backstage/services/shipping/internal/courier"
	"example.com/backstage/services/shipping/internal/metrics"
	"example.com/backstage/services/shipping/internal/models"
	"example.com/backstage/services/shipping/internal/notify"
	"example.com/backstage/services/shipping/internal/shopify"
	"example.com/backstage/services/shipping/internal/tracing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RecordStore persists shipment records keyed by client reference
type RecordStore interface {
	UpsertByReference(ctx context.Context, rec *models.ShipmentRecord) (*models.ShipmentRecord, error)
	ListAll(ctx context.Context) ([]models.ShipmentRecord, error)
	ListPending(ctx context.Context) ([]models.ShipmentRecord, error)
}

// CourierClient performs the four courier-side operations
type CourierClient interface {
	EnsureConsignee(ctx context.Context, order *models.Order) (*courier.Response, error)
	CreateSalesOrder(ctx context.Context, order *models.Order, consigneeCode, clientReferenceNo string) (*courier.Response, error)
	FetchGIN(ctx context.Context, soNo, clientReferenceNo string) (*courier.Response, error)
	FetchCN(ctx context.Context, soNo, ginNo, clientReferenceNo string) (*courier.Response, error)
	TrackingURL(trackingNumber string) string
}

// FulfillmentClient pushes a completed shipment back to the order source
type FulfillmentClient interface {
	CreateFulfillment(ctx context.Context, req shopify.FulfillmentRequest) (*shopify.FulfillmentResult, error)
}

// Indexer mirrors persisted records into the search backend, best-effort
type Indexer interface {
	IndexShipment(ctx context.Context, rec *models.ShipmentRecord) error
}

// Bridge drives shipment records through the courier stage chain.
// Each stage is gated on its evidence field: a non-empty value means the
// stage is done, so re-running the bridge over an unchanged record is a
// no-op.
type Bridge struct {
	store    RecordStore
	courier  CourierClient
	shopify  FulfillmentClient
	notifier notify.Notifier
	indexer  Indexer
	metrics  *metrics.Metrics
	tracer   tracing.Tracer

	// Serializes sweeps so overlapping invocations cannot race on the
	// same record's read-merge-write cycle.
	sweepMu sync.Mutex
}

// New creates a new bridge orchestrator
func New(
	store RecordStore,
	courierClient CourierClient,
	fulfillmentClient FulfillmentClient,
	notifier notify.Notifier,
	indexer Indexer,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *Bridge {
	return &Bridge{
		store:    store,
		courier:  courierClient,
		shopify:  fulfillmentClient,
		notifier: notifier,
		indexer:  indexer,
		metrics:  metricsCollector,
		tracer:   tracer,
	}
}

// HandleOrder converts an inbound order into a tracked record and drives
// it through consignee and sales-order creation. Failures in either
// stage propagate to the caller: without them the record cannot progress
// at all. GIN, CN and fulfillment only advance via the sweep.
func (b *Bridge) HandleOrder(ctx context.Context, order *models.Order) (*models.ShipmentRecord, error) {
	txn := b.tracer.StartTransaction("handle-order")
	defer b.tracer.EndTransaction(txn)

	clientReferenceNo := models.ClientReference(order)
	b.tracer.AddAttribute(txn, "client_reference_no", clientReferenceNo)

	var shopifyOrderID *int64
	if order != nil && order.ID != 0 {
		id := order.ID
		shopifyOrderID = &id
	}

	now := time.Now()
	record, err := b.store.UpsertByReference(ctx, &models.ShipmentRecord{
		ShopifyOrderID:    shopifyOrderID,
		ClientReferenceNo: clientReferenceNo,
		Status:            models.StatusOrderReceived,
		LineItems:         models.SnapshotLineItems(order),
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		b.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to persist inbound order")
	}
	b.metrics.IncrementCounter("orders_received")

	orderJSON, _ := json.MarshalIndent(order, "", "  ")
	b.notifier.Notify(ctx, "Order received "+clientReferenceNo, "Shopify order payload:\n"+string(orderJSON))

	consignee, err := b.courier.EnsureConsignee(ctx, order)
	if err != nil {
		b.stageFailed(ctx, txn, "consignee", "Consignee failed "+clientReferenceNo, err)
		return nil, errors.Wrap(err, "consignee creation failed")
	}
	if consignee != nil && consignee.Code != "" {
		record, err = b.store.UpsertByReference(ctx, &models.ShipmentRecord{
			ClientReferenceNo: clientReferenceNo,
			ConsigneeCode:     consignee.Code,
			Status:            models.StatusConsigneeReady,
		})
		if err != nil {
			b.tracer.RecordError(txn, err)
			return nil, errors.Wrap(err, "failed to persist consignee code")
		}
		b.metrics.IncrementCounter("stage_consignee_ready")
		b.notifier.Notify(ctx, "Consignee ready "+clientReferenceNo, "Consignee response:\n"+string(consignee.Raw))
	}

	so, err := b.courier.CreateSalesOrder(ctx, order, record.ConsigneeCode, clientReferenceNo)
	if err != nil {
		b.stageFailed(ctx, txn, "sales_order", "SO failed "+clientReferenceNo, err)
		return nil, errors.Wrap(err, "sales order creation failed")
	}

	update := &models.ShipmentRecord{ClientReferenceNo: clientReferenceNo}
	if so != nil {
		update.SOResponse = so.Raw
		// The courier can acknowledge without a usable order number; the
		// record then stays at CONSIGNEE_READY until a later retry.
		if so.Code != "" {
			update.SONo = so.Code
			update.Status = models.StatusSOCreated
		}
	}
	record, err = b.store.UpsertByReference(ctx, update)
	if err != nil {
		b.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to persist sales order")
	}
	if record.Status == models.StatusSOCreated {
		b.metrics.IncrementCounter("stage_so_created")
	}
	var soRaw []byte
	if so != nil {
		soRaw = so.Raw
	}
	b.notifier.Notify(ctx, "SO created "+clientReferenceNo, "SO response:\n"+string(soRaw))

	b.index(ctx, record)

	log.Info().
		Str("client_reference_no", clientReferenceNo).
		Str("status", string(record.Status)).
		Msg("Inbound order handled")

	return record, nil
}

// SyncPendingShipments resumes every non-terminal record through the
// GIN, CN and fulfillment stages. Each record and each stage fails soft:
// a failure is notified and the sweep moves on. Returns only the records
// that advanced in this pass.
func (b *Bridge) SyncPendingShipments(ctx context.Context, notifyCustomer bool) ([]models.ShipmentRecord, error) {
	b.sweepMu.Lock()
	defer b.sweepMu.Unlock()

	txn := b.tracer.StartTransaction("sync-pending-shipments")
	defer b.tracer.EndTransaction(txn)

	b.metrics.IncrementCounter("sweeps_started")

	pending, err := b.store.ListPending(ctx)
	if err != nil {
		b.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to load pending shipments")
	}

	results := make([]models.ShipmentRecord, 0)
	for i := range pending {
		record := pending[i]
		if updated := b.syncRecord(ctx, &record, notifyCustomer); updated != nil {
			results = append(results, *updated)
		}
	}

	b.metrics.SetGauge("last_sweep_advanced", int64(len(results)))
	log.Info().
		Int("pending", len(pending)).
		Int("advanced", len(results)).
		Msg("Pending shipment sweep finished")

	return results, nil
}

// syncRecord runs the sweep stages for one record and persists the
// merged result when anything changed. Returns the persisted record, or
// nil when the pass was a no-op.
func (b *Bridge) syncRecord(ctx context.Context, record *models.ShipmentRecord, notifyCustomer bool) *models.ShipmentRecord {
	clientReferenceNo := record.ClientReferenceNo
	update := models.ShipmentRecord{ClientReferenceNo: clientReferenceNo}
	changed := false

	ginNo := record.GINNo
	if ginNo == "" {
		gin, err := b.courier.FetchGIN(ctx, record.SONo, clientReferenceNo)
		switch {
		case err != nil:
			b.stageFailedSoft(ctx, "gin", "GIN failed "+clientReferenceNo, err)
		case gin != nil && gin.Code != "":
			ginNo = gin.Code
			update.GINNo = gin.Code
			update.Status = models.StatusGINReceived
			update.GINResponse = gin.Raw
			changed = true
			b.metrics.IncrementCounter("stage_gin_received")
			b.notifier.Notify(ctx, "GIN received "+clientReferenceNo, "GIN response:\n"+string(gin.Raw))
		}
	}

	if ginNo != "" && record.CNNo == "" {
		cn, err := b.courier.FetchCN(ctx, record.SONo, ginNo, clientReferenceNo)
		switch {
		case err != nil:
			b.stageFailedSoft(ctx, "cn", "CN failed "+clientReferenceNo, err)
		case cn != nil && cn.Code != "":
			update.CNNo = cn.Code
			update.Status = models.StatusCNReceived
			update.CNResponse = cn.Raw
			update.TrackingNumber = cn.Code
			update.TrackingURL = b.courier.TrackingURL(cn.Code)
			changed = true
			b.metrics.IncrementCounter("stage_cn_received")
			b.notifier.Notify(ctx, "CN received "+clientReferenceNo, "CN response:\n"+string(cn.Raw))
		}
	}

	trackingNumber := record.TrackingNumber
	if update.TrackingNumber != "" {
		trackingNumber = update.TrackingNumber
	}
	if trackingNumber != "" && record.FulfillmentID == "" {
		if len(record.LineItems) == 0 {
			// Nothing to ship is a deferral, not an error
			b.notifier.Notify(ctx, "Shopify fulfillment skipped "+clientReferenceNo, "No line items stored for fulfillment.")
		} else {
			trackingURL := update.TrackingURL
			if trackingURL == "" {
				trackingURL = record.TrackingURL
			}
			if trackingURL == "" {
				trackingURL = b.courier.TrackingURL(trackingNumber)
			}

			fulfillment, err := b.shopify.CreateFulfillment(ctx, shopify.FulfillmentRequest{
				OrderID:           record.ShopifyOrderID,
				ClientReferenceNo: clientReferenceNo,
				TrackingNumber:    trackingNumber,
				TrackingURL:       trackingURL,
				LineItems:         record.LineItems,
				NotifyCustomer:    notifyCustomer,
			})
			switch {
			case err != nil:
				b.stageFailedSoft(ctx, "fulfillment", "Shopify fulfillment failed "+clientReferenceNo, err)
			case fulfillment != nil && fulfillment.ID != "":
				update.FulfillmentID = fulfillment.ID
				update.Status = models.StatusFulfilled
				update.FulfillmentResponse = fulfillment.Raw
				changed = true
				b.metrics.IncrementCounter("stage_fulfilled")
				b.notifier.Notify(ctx, "Shopify fulfilled "+clientReferenceNo, "Fulfillment response:\n"+string(fulfillment.Raw))
			}
		}
	}

	if !changed {
		return nil
	}

	saved, err := b.store.UpsertByReference(ctx, &update)
	if err != nil {
		b.stageFailedSoft(ctx, "persist", "Failed to persist "+clientReferenceNo, err)
		return nil
	}
	b.index(ctx, saved)
	return saved
}

func (b *Bridge) stageFailed(ctx context.Context, txn *newrelic.Transaction, stage, subject string, err error) {
	b.metrics.RecordError("stage_" + stage)
	b.tracer.RecordError(txn, err)
	b.notifier.Notify(ctx, subject, "Error: "+err.Error())
}

func (b *Bridge) stageFailedSoft(ctx context.Context, stage, subject string, err error) {
	b.metrics.RecordError("stage_" + stage)
	log.Warn().Err(err).Str("stage", stage).Msg("Shipment stage failed")
	b.notifier.Notify(ctx, subject, "Error: "+err.Error())
}

func (b *Bridge) index(ctx context.Context, record *models.ShipmentRecord) {
	if b.indexer == nil {
		return
	}
	if err := b.indexer.IndexShipment(ctx, record); err != nil {
		log.Warn().Err(err).
			Str("client_reference_no", record.ClientReferenceNo).
			Msg("Failed to index shipment record")
	}
}

// ListShipments returns every tracked record
func (b *Bridge) ListShipments(ctx context.Context) ([]models.ShipmentRecord, error) {
	return b.store.ListAll(ctx)
}
