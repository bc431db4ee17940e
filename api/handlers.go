package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"goventry.io/ordering"
	"goventry.io/ordering/apperr"
)

type Handler struct {
	svc    ordering.Service
	logger *zap.Logger
}

func NewHandler(svc ordering.Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// UpsertAllocationRequest is the body of PUT .../allocations.
type UpsertAllocationRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	SlotID    uint64 `json:"slot_id" binding:"required"`
	Qty       int64  `json:"qty" binding:"required"`
	Note      string `json:"note"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) ListStock(c *gin.Context) {
	records, err := h.svc.ListStock(c.Request.Context(), c.Param("productID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) GetOrderLine(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	line, err := h.svc.GetOrderLine(c.Request.Context(), orderID, c.Param("productID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (h *Handler) ListOrderLines(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	lines, err := h.svc.ListOrderLines(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}

func (h *Handler) ListAllocations(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	records, err := h.svc.ListAllocations(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) UpsertAllocation(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	var req UpsertAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperr.CodeInvalidQuantity})
		return
	}

	rec, err := h.svc.UpsertAllocation(c.Request.Context(), orderID, req.ProductID, req.SlotID, req.Qty, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteAllocation(c *gin.Context) {
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteAllocation(c.Request.Context(), orderID, c.Param("allocationID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) orderID(c *gin.Context) (uint64, bool) {
	orderID, err := strconv.ParseUint(c.Param("orderID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid order id", "code": apperr.CodeNotFound})
		return 0, false
	}
	return orderID, true
}

// respondError maps the engine's error taxonomy onto the structured
// error body callers rely on to tell correctable input from a stale
// reference or an outage.
func (h *Handler) respondError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
