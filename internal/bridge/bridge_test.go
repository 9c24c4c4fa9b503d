package bridge

import (
	"context"
	"testing"

	"example.com/backstage/services/shipping/internal/courier"
	"example.com/backstage/services/shipping/internal/metrics"
	"example.com/backstage/services/shipping/internal/models"
	"example.com/backstage/services/shipping/internal/repositories"
	"example.com/backstage/services/shipping/internal/shopify"
	"example.com/backstage/services/shipping/internal/tracing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// In-memory store backed by the real merge semantics
type fakeStore struct {
	records map[string]*models.ShipmentRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*models.ShipmentRecord)}
}

func (s *fakeStore) UpsertByReference(_ context.Context, rec *models.ShipmentRecord) (*models.ShipmentRecord, error) {
	existing, ok := s.records[rec.ClientReferenceNo]
	if !ok {
		cp := *rec
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		s.records[rec.ClientReferenceNo] = &cp
		out := cp
		return &out, nil
	}
	merged := repositories.MergeRecord(existing, rec)
	s.records[rec.ClientReferenceNo] = merged
	out := *merged
	return &out, nil
}

func (s *fakeStore) ListAll(_ context.Context) ([]models.ShipmentRecord, error) {
	var records []models.ShipmentRecord
	for _, rec := range s.records {
		records = append(records, *rec)
	}
	return records, nil
}

func (s *fakeStore) ListPending(_ context.Context) ([]models.ShipmentRecord, error) {
	records := make([]models.ShipmentRecord, 0)
	for _, rec := range s.records {
		if rec.Status != models.StatusFulfilled {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// Mock courier client for testing
type MockCourierClient struct {
	mock.Mock
}

func (m *MockCourierClient) EnsureConsignee(ctx context.Context, order *models.Order) (*courier.Response, error) {
	args := m.Called(ctx, order)
	if resp := args.Get(0); resp != nil {
		return resp.(*courier.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCourierClient) CreateSalesOrder(ctx context.Context, order *models.Order, consigneeCode, clientReferenceNo string) (*courier.Response, error) {
	args := m.Called(ctx, order, consigneeCode, clientReferenceNo)
	if resp := args.Get(0); resp != nil {
		return resp.(*courier.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCourierClient) FetchGIN(ctx context.Context, soNo, clientReferenceNo string) (*courier.Response, error) {
	args := m.Called(ctx, soNo, clientReferenceNo)
	if resp := args.Get(0); resp != nil {
		return resp.(*courier.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCourierClient) FetchCN(ctx context.Context, soNo, ginNo, clientReferenceNo string) (*courier.Response, error) {
	args := m.Called(ctx, soNo, ginNo, clientReferenceNo)
	if resp := args.Get(0); resp != nil {
		return resp.(*courier.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCourierClient) TrackingURL(trackingNumber string) string {
	args := m.Called(trackingNumber)
	return args.String(0)
}

// Mock fulfillment client for testing
type MockFulfillmentClient struct {
	mock.Mock
}

func (m *MockFulfillmentClient) CreateFulfillment(ctx context.Context, req shopify.FulfillmentRequest) (*shopify.FulfillmentResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*shopify.FulfillmentResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// Notifier that records every alert subject
type recordingNotifier struct {
	subjects []string
}

func (n *recordingNotifier) Notify(_ context.Context, subject, _ string) {
	n.subjects = append(n.subjects, subject)
}

func newTestBridge(store RecordStore, courierClient CourierClient, fulfillmentClient FulfillmentClient, notifier *recordingNotifier) *Bridge {
	return New(store, courierClient, fulfillmentClient, notifier, nil, metrics.NewMetrics(), &tracing.NewRelicTracer{})
}

func testOrder() *models.Order {
	five := 5
	return &models.Order{
		ID:          450789469,
		Name:        "#1001",
		OrderNumber: 1001,
		Email:       "customer@example.com",
		ShippingAddress: models.Address{
			Name:     "Jane Doe",
			Address1: "123 Main Street",
			City:     "Karachi",
			Country:  "Pakistan",
			Phone:    "+923001234567",
		},
		LineItems: []models.OrderLineItem{
			{ID: 101, SKU: "SKU-1", Title: "Widget", Quantity: 7, FulfillableQuantity: &five, Price: "49.99"},
			{ID: 102, SKU: "SKU-2", Title: "Gadget", Quantity: 2, Price: "10.00"},
		},
	}
}

func TestHandleOrderAdvancesToSOCreated(t *testing.T) {
	store := newFakeStore()
	mockCourier := new(MockCourierClient)
	mockShopify := new(MockFulfillmentClient)
	notifier := &recordingNotifier{}

	mockCourier.On("EnsureConsignee", mock.Anything, mock.Anything).
		Return(&courier.Response{Code: "CONS-1", Raw: []byte(`{"code":"CONS-1"}`)}, nil)
	mockCourier.On("CreateSalesOrder", mock.Anything, mock.Anything, "CONS-1", "#1001").
		Return(&courier.Response{Code: "SO-1", Raw: []byte(`{"soNo":"SO-1"}`)}, nil)

	b := newTestBridge(store, mockCourier, mockShopify, notifier)

	record, err := b.HandleOrder(context.Background(), testOrder())
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, models.StatusSOCreated, record.Status)
	require.Equal(t, "CONS-1", record.ConsigneeCode)
	require.Equal(t, "SO-1", record.SONo)
	require.NotNil(t, record.ShopifyOrderID)
	require.Equal(t, int64(450789469), *record.ShopifyOrderID)

	// Fulfillable quantity wins over ordered quantity in the snapshot
	require.Len(t, record.LineItems, 2)
	require.Equal(t, 5, record.LineItems[0].Quantity)
	require.Equal(t, 2, record.LineItems[1].Quantity)

	require.Contains(t, notifier.subjects, "Order received #1001")
	require.Contains(t, notifier.subjects, "SO created #1001")
	mockCourier.AssertExpectations(t)
}

func TestHandleOrderConsigneeFailurePropagates(t *testing.T) {
	store := newFakeStore()
	mockCourier := new(MockCourierClient)
	mockShopify := new(MockFulfillmentClient)
	notifier := &recordingNotifier{}

	mockCourier.On("EnsureConsignee", mock.Anything, mock.Anything).
		Return(nil, courierError("connection refused"))

	b := newTestBridge(store, mockCourier, mockShopify, notifier)

	record, err := b.HandleOrder(context.Background(), testOrder())
	require.Error(t, err)
	require.Nil(t, record)
	require.Contains(t, err.Error(), "consignee creation failed")

	// The record survives the failure so the sweep can resume later
	stored := store.records["#1001"]
	require.NotNil(t, stored)
	require.Equal(t, models.StatusOrderReceived, stored.Status)
	require.Contains(t, notifier.subjects, "Consignee failed #1001")
	mockCourier.AssertNotCalled(t, "CreateSalesOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOrderAcknowledgedWithoutSONumber(t *testing.T) {
	store := newFakeStore()
	mockCourier := new(MockCourierClient)
	notifier := &recordingNotifier{}

	mockCourier.On("EnsureConsignee", mock.Anything, mock.Anything).
		Return(&courier.Response{Code: "CONS-1", Raw: []byte(`{"code":"CONS-1"}`)}, nil)
	mockCourier.On("CreateSalesOrder", mock.Anything, mock.Anything, "CONS-1", "#1001").
		Return(&courier.Response{Code: "", Raw: []byte(`{"status":"queued"}`)}, nil)

	b := newTestBridge(store, mockCourier, new(MockFulfillmentClient), notifier)

	record, err := b.HandleOrder(context.Background(), testOrder())
	require.NoError(t, err)
	require.Equal(t, models.StatusConsigneeReady, record.Status)
	require.Empty(t, record.SONo)
}

func TestSweepAdvancesToFulfilled(t *testing.T) {
	store := newFakeStore()
	mockCourier := new(MockCourierClient)
	mockShopify := new(MockFulfillmentClient)
	notifier := &recordingNotifier{}

	orderID := int64(450789469)
	store.records["#1001"] = &models.ShipmentRecord{
		ID:                uuid.New(),
		ShopifyOrderID:    &orderID,
		ClientReferenceNo: "#1001",
		Status:            models.StatusSOCreated,
		ConsigneeCode:     "CONS-1",
		SONo:              "SO-1",
		LineItems:         models.LineItems{{ID: 101, Quantity: 5}},
	}

	mockCourier.On("FetchGIN", mock.Anything, "SO-1", "#1001").
		Return(&courier.Response{Code: "GIN-1", Raw: []byte(`{"ginNo":"GIN-1"}`)}, nil)
	mockCourier.On("FetchCN", mock.Anything, "SO-1", "GIN-1", "#1001").
		Return(&courier.Response{Code: "C1", Raw: []byte(`{"cnNo":"C1"}`)}, nil)
	mockCourier.On("TrackingURL", "C1").
		Return("https://www.tcsexpress.com/tracking/C1")
	mockShopify.On("CreateFulfillment", mock.Anything, mock.MatchedBy(func(req shopify.FulfillmentRequest) bool {
		return req.TrackingNumber == "C1" && req.NotifyCustomer && len(req.LineItems) == 1
	})).Return(&shopify.FulfillmentResult{ID: "F1", Raw: []byte(`{"fulfillment":{"id":1}}`)}, nil)

	b := newTestBridge(store, mockCourier, mockShopify, notifier)

	advanced, err := b.SyncPendingShipments(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, advanced, 1)

	record := advanced[0]
	require.Equal(t, models.StatusFulfilled, record.Status)
	require.Equal(t, "GIN-1", record.GINNo)
	require.Equal(t, "C1", record.CNNo)
	require.Equal(t, "C1", record.TrackingNumber)
	require.Contains(t, record.TrackingURL, "C1")
	require.Equal(t, "F1", record.FulfillmentID)

	require.Contains(t, notifier.subjects, "GIN received #1001")
	require.Contains(t, notifier.subjects, "CN received #1001")
	require.Contains(t, notifier.subjects, "Shopify fulfilled #1001")
	mockCourier.AssertExpectations(t)
	mockShopify.AssertExpectations(t)

	// A second sweep finds nothing left to do
	advanced, err = b.SyncPendingShipments(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, advanced)
}

func TestSweepGINFailureLeavesRecordUntouched(t *testing.T) {
	store := newFakeStore()
	mockCourier := new(MockCourierClient)
	notifier := &recordingNotifier{}

	store.records["#1002"] = &models.ShipmentRecord{
		ID:                uuid.New(),
		ClientReferenceNo: "#1002",
		Status:            models.StatusSOCreated,
		SONo:              "SO-2",
	}

	mockCourier.On("FetchGIN", mock.Anything, "SO-2", "#1002").
		Return(nil, courierError("courier returned status 502"))

	b := newTestBridge(store, mockCourier, new(MockFulfillmentClient), notifier)

	advanced, err := b.SyncPendingShipments(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, advanced)
	require.Equal(t, models.StatusSOCreated, store.records["#1002"].Status)
	require.Contains(t, notifier.subjects, "GIN failed #1002")
}

func TestSweepDoesNotRefetchGIN(t *testing.T) {
	store := newFakeStore()
	mockCourier := new(MockCourierClient)
	notifier := &recordingNotifier{}

	store.records["#1003"] = &models.ShipmentRecord{
		ID:                uuid.New(),
		ClientReferenceNo: "#1003",
		Status:            models.StatusGINReceived,
		SONo:              "SO-3",
		GINNo:             "GIN-3",
	}

	// CN not assigned yet, so this sweep is a no-op
	mockCourier.On("FetchCN", mock.Anything, "SO-3", "GIN-3", "#1003").
		Return(nil, nil)

	b := newTestBridge(store, mockCourier, new(MockFulfillmentClient), notifier)

	advanced, err := b.SyncPendingShipments(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, advanced)
	mockCourier.AssertNotCalled(t, "FetchGIN", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepSkipsFulfillmentWithoutLineItems(t *testing.T) {
	store := newFakeStore()
	mockCourier := new(MockCourierClient)
	mockShopify := new(MockFulfillmentClient)
	notifier := &recordingNotifier{}

	orderID := int64(42)
	store.records["#1004"] = &models.ShipmentRecord{
		ID:                uuid.New(),
		ShopifyOrderID:    &orderID,
		ClientReferenceNo: "#1004",
		Status:            models.StatusCNReceived,
		SONo:              "SO-4",
		GINNo:             "GIN-4",
		CNNo:              "C4",
		TrackingNumber:    "C4",
	}

	b := newTestBridge(store, mockCourier, mockShopify, notifier)

	advanced, err := b.SyncPendingShipments(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, advanced)
	require.Contains(t, notifier.subjects, "Shopify fulfillment skipped #1004")
	mockShopify.AssertNotCalled(t, "CreateFulfillment", mock.Anything, mock.Anything)
}

type courierError string

func (e courierError) Error() string { return string(e) }
