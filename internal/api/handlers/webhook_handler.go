package handlers

import (
	"io"
	"net/http"

	"example.com/backstage/services/shipping/config"
	"example.com/backstage/services/shipping/internal/bridge"
	"example.com/backstage/services/shipping/internal/cache"
	"example.com/backstage/services/shipping/internal/shopify"
	"example.com/backstage/services/shipping/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// WebhookHandler handles inbound Shopify order webhooks
type WebhookHandler struct {
	bridge *bridge.Bridge
	cache  *cache.RedisCache
	cfg    config.ShopifyConfig
	tracer tracing.Tracer
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(b *bridge.Bridge, redisCache *cache.RedisCache, cfg config.ShopifyConfig, tracer tracing.Tracer) *WebhookHandler {
	return &WebhookHandler{
		bridge: b,
		cache:  redisCache,
		cfg:    cfg,
		tracer: tracer,
	}
}

// HandleOrderCreated handles the orders/create webhook. The signature is
// verified against the raw body before anything is parsed, and repeated
// deliveries of the same webhook id are acknowledged without reprocessing.
func (h *WebhookHandler) HandleOrderCreated(c *gin.Context) {
	txn := h.tracer.StartTransaction("webhook-order-created")
	defer h.tracer.EndTransaction(txn)

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "failed to read request body"})
		return
	}

	receivedHMAC := c.GetHeader("X-Shopify-Hmac-Sha256")
	if !shopify.VerifyWebhookHMAC(h.cfg.WebhookSecret, rawBody, receivedHMAC) {
		log.Warn().Msg("Rejected webhook with invalid HMAC")
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Invalid HMAC"})
		return
	}

	deliveryID := c.GetHeader("X-Shopify-Webhook-Id")
	first, err := h.cache.MarkWebhookSeen(c.Request.Context(), deliveryID)
	if err != nil {
		// Dedupe is best-effort; the store's merge-by-reference upsert
		// keeps replays harmless
		log.Warn().Err(err).Msg("Webhook dedupe check failed")
	} else if !first {
		log.Info().Str("webhook_id", deliveryID).Msg("Skipping duplicate webhook delivery")
		c.JSON(http.StatusOK, gin.H{"ok": true, "duplicate": true})
		return
	}

	order, err := shopify.NormalizeOrder(rawBody)
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	h.tracer.AddAttribute(txn, "order_id", order.ID)

	record, err := h.bridge.HandleOrder(c.Request.Context(), order)
	if err != nil {
		log.Error().Err(err).Int64("order_id", order.ID).Msg("Failed to handle inbound order")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "record": record})
}

// HandleTestOrder accepts an unsigned order payload for manual testing
func (h *WebhookHandler) HandleTestOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("test-order")
	defer h.tracer.EndTransaction(txn)

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "failed to read request body"})
		return
	}

	order, err := shopify.NormalizeOrder(rawBody)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	record, err := h.bridge.HandleOrder(c.Request.Context(), order)
	if err != nil {
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "test": true, "record": record})
}

// RegisterRoutes registers the handler's routes
func (h *WebhookHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/webhooks/shopify/orders/create", h.HandleOrderCreated)
	router.POST("/test/order", h.HandleTestOrder)
}
