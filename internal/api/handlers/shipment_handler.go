package handlers

import (
	"net/http"

	"example.com/backstage/services/shipping/config"
	"example.com/backstage/services/shipping/internal/bridge"
	"example.com/backstage/services/shipping/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ShipmentHandler handles shipment-related HTTP requests
type ShipmentHandler struct {
	bridge *bridge.Bridge
	cfg    config.SweepConfig
	tracer tracing.Tracer
}

// NewShipmentHandler creates a new shipment handler
func NewShipmentHandler(b *bridge.Bridge, cfg config.SweepConfig, tracer tracing.Tracer) *ShipmentHandler {
	return &ShipmentHandler{
		bridge: b,
		cfg:    cfg,
		tracer: tracer,
	}
}

type syncRequest struct {
	NotifyCustomer *bool `json:"notify_customer"`
}

// HandleSync runs one resumption sweep on demand. Individual shipment
// failures are absorbed by the sweep, so the response is always 200 with
// whatever advanced.
func (h *ShipmentHandler) HandleSync(c *gin.Context) {
	txn := h.tracer.StartTransaction("sync-pending-shipments")
	defer h.tracer.EndTransaction(txn)

	notifyCustomer := h.cfg.NotifyCustomer
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.NotifyCustomer != nil {
		notifyCustomer = *req.NotifyCustomer
	}

	advanced, err := h.bridge.SyncPendingShipments(c.Request.Context(), notifyCustomer)
	if err != nil {
		log.Error().Err(err).Msg("Sync sweep failed")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "advanced": len(advanced), "records": advanced})
}

// HandleListShipments returns all shipment records
func (h *ShipmentHandler) HandleListShipments(c *gin.Context) {
	txn := h.tracer.StartTransaction("list-shipments")
	defer h.tracer.EndTransaction(txn)

	records, err := h.bridge.ListShipments(c.Request.Context())
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(records), "records": records})
}

// RegisterRoutes registers the handler's routes
func (h *ShipmentHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/sync", h.HandleSync)
	router.GET("/shipments", h.HandleListShipments)
}
