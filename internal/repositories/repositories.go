package repositories

import (
	"context"
	"time"

	"example.com/backstage/services/shipping/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ShipmentRepository provides access to shipment records
type ShipmentRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewShipmentRepository creates a new shipment repository
func NewShipmentRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ShipmentRepository {
	return &ShipmentRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// MergeRecord merges the non-empty fields of incoming over existing.
// Write-once fields keep their stored value once set, so replaying a
// stage result never rewrites earlier evidence.
func MergeRecord(existing, incoming *models.ShipmentRecord) *models.ShipmentRecord {
	merged := *existing

	if merged.ShopifyOrderID == nil && incoming.ShopifyOrderID != nil {
		merged.ShopifyOrderID = incoming.ShopifyOrderID
	}
	if incoming.Status != "" {
		merged.Status = incoming.Status
	}
	// Line items are captured once at creation and never recomputed
	if len(merged.LineItems) == 0 && len(incoming.LineItems) > 0 {
		merged.LineItems = incoming.LineItems
	}
	if merged.ConsigneeCode == "" {
		merged.ConsigneeCode = incoming.ConsigneeCode
	}
	if merged.SONo == "" {
		merged.SONo = incoming.SONo
	}
	if merged.GINNo == "" {
		merged.GINNo = incoming.GINNo
	}
	if merged.CNNo == "" {
		merged.CNNo = incoming.CNNo
	}
	if merged.TrackingNumber == "" {
		merged.TrackingNumber = incoming.TrackingNumber
	}
	if merged.TrackingURL == "" {
		merged.TrackingURL = incoming.TrackingURL
	}
	if merged.FulfillmentID == "" {
		merged.FulfillmentID = incoming.FulfillmentID
	}
	if incoming.SOResponse != nil {
		merged.SOResponse = incoming.SOResponse
	}
	if incoming.GINResponse != nil {
		merged.GINResponse = incoming.GINResponse
	}
	if incoming.CNResponse != nil {
		merged.CNResponse = incoming.CNResponse
	}
	if incoming.FulfillmentResponse != nil {
		merged.FulfillmentResponse = incoming.FulfillmentResponse
	}

	return &merged
}

// UpsertByReference stores a record keyed by its client reference,
// merging over any existing row. Returns the persisted record.
func (r *ShipmentRepository) UpsertByReference(ctx context.Context, rec *models.ShipmentRecord) (*models.ShipmentRecord, error) {
	if rec.ClientReferenceNo == "" {
		return nil, errors.New("shipment record has no client reference")
	}

	var existing models.ShipmentRecord
	err := r.db.WithContext(ctx).
		Where("client_reference_no = ?", rec.ClientReferenceNo).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		rec.UpdatedAt = time.Now()
		if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
			return nil, errors.Wrap(err, "failed to create shipment record")
		}
		return rec, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load shipment record for upsert")
	}

	merged := MergeRecord(&existing, rec)
	merged.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(merged).Error; err != nil {
		return nil, errors.Wrap(err, "failed to update shipment record")
	}
	return merged, nil
}

// ListAll returns every shipment record
func (r *ShipmentRepository) ListAll(ctx context.Context) ([]models.ShipmentRecord, error) {
	var records []models.ShipmentRecord
	err := r.readOnlyDB.WithContext(ctx).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list shipment records")
	}
	return records, nil
}

// ListPending returns every record that has not reached FULFILLED
func (r *ShipmentRepository) ListPending(ctx context.Context) ([]models.ShipmentRecord, error) {
	var records []models.ShipmentRecord
	err := r.readOnlyDB.WithContext(ctx).
		Where("status <> ?", models.StatusFulfilled).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending shipment records")
	}
	return records, nil
}
