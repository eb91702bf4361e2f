package refund

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/aftersale/internal/authn"
	"github.com/tidemark/aftersale/internal/logging"
	"github.com/tidemark/aftersale/internal/order"
	"github.com/tidemark/aftersale/internal/pagination"
	"github.com/tidemark/aftersale/internal/validation"
	"github.com/tidemark/aftersale/internal/wallet"
)

// Handler exposes the refund workflow over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a refund handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up authenticated refund routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:orderID/refund", h.Submit)
	r.GET("/orders/:orderID/refund", h.Get)
	r.POST("/orders/:orderID/refund/approve", h.Approve)
	r.POST("/orders/:orderID/refund/reject", h.Reject)
	r.POST("/orders/:orderID/refund/ship", h.ShipReturn)
	r.POST("/orders/:orderID/refund/confirm", h.ConfirmReturn)
	r.POST("/orders/:orderID/refund/refuse", h.RefuseReturn)
	r.POST("/orders/:orderID/refund/cancel", h.Cancel)
	r.GET("/refunds", h.List)
}

// Submit handles POST /v1/orders/:orderID/refund
func (h *Handler) Submit(c *gin.Context) {
	id, _ := authn.FromContext(c)
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: kind, amount, and reason are required")
		return
	}
	if err := validation.Validate(
		validation.OneOf("kind", req.Kind, KindRefundOnly, KindReturnRefund),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("reason", req.Reason, validation.MaxTextLength),
		validation.MaxLength("description", req.Description, validation.MaxTextLength),
	); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.OrderID = orderID
	req.Reason = validation.SanitizeText(req.Reason, validation.MaxTextLength)
	req.Description = validation.SanitizeText(req.Description, validation.MaxTextLength)

	result, err := h.svc.Submit(c.Request.Context(), id.UserID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Refund request submitted",
		"data":    result,
	})
}

// Get handles GET /v1/orders/:orderID/refund
func (h *Handler) Get(c *gin.Context) {
	id, _ := authn.FromContext(c)
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	result, err := h.svc.Get(c.Request.Context(), id.UserID, id.IsAdmin(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ok",
		"data":    result,
	})
}

// Approve handles POST /v1/orders/:orderID/refund/approve
func (h *Handler) Approve(c *gin.Context) {
	id, _ := authn.FromContext(c)
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, "Invalid request body")
		return
	}
	req.ReturnAddress = validation.SanitizeText(req.ReturnAddress, validation.MaxTextLength)

	result, err := h.svc.Approve(c.Request.Context(), id.UserID, orderID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Refund request approved",
		"data":    result,
	})
}

// Reject handles POST /v1/orders/:orderID/refund/reject
func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, "Refund request rejected", h.svc.Reject)
}

// RefuseReturn handles POST /v1/orders/:orderID/refund/refuse
func (h *Handler) RefuseReturn(c *gin.Context) {
	h.decide(c, "Returned goods refused", h.svc.RefuseReturn)
}

func (h *Handler) decide(c *gin.Context, message string, op func(ctx context.Context, sellerID, orderID int64, req DecisionRequest) (*Request, error)) {
	id, _ := authn.FromContext(c)
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: code and reason are required")
		return
	}
	if err := validation.Validate(
		validation.MaxLength("reason", req.Reason, validation.MaxTextLength),
	); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.Reason = validation.SanitizeText(req.Reason, validation.MaxTextLength)

	result, err := op(c.Request.Context(), id.UserID, orderID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"data":    result,
	})
}

// ShipReturn handles POST /v1/orders/:orderID/refund/ship
func (h *Handler) ShipReturn(c *gin.Context) {
	id, _ := authn.FromContext(c)
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req ShipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: trackingNumber is required")
		return
	}
	req.TrackingNumber = validation.SanitizeText(req.TrackingNumber, validation.MaxTextLength)

	result, err := h.svc.ShipReturn(c.Request.Context(), id.UserID, orderID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Return shipment recorded",
		"data":    result,
	})
}

// ConfirmReturn handles POST /v1/orders/:orderID/refund/confirm
func (h *Handler) ConfirmReturn(c *gin.Context) {
	id, _ := authn.FromContext(c)
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	result, err := h.svc.ConfirmReturn(c.Request.Context(), id.UserID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Return confirmed, refund completed",
		"data":    result,
	})
}

// Cancel handles POST /v1/orders/:orderID/refund/cancel
func (h *Handler) Cancel(c *gin.Context) {
	id, _ := authn.FromContext(c)
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	result, err := h.svc.Cancel(c.Request.Context(), id.UserID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Refund request cancelled",
		"data":    result,
	})
}

// List handles GET /v1/refunds?role=buyer|seller
func (h *Handler) List(c *gin.Context) {
	id, _ := authn.FromContext(c)

	role := c.DefaultQuery("role", "buyer")
	limit := pagination.ClampLimit(queryInt(c, "limit"))

	var (
		requests []*Request
		err      error
	)
	switch role {
	case "buyer":
		requests, err = h.svc.ListByBuyer(c.Request.Context(), id.UserID, limit)
	case "seller":
		requests, err = h.svc.ListBySeller(c.Request.Context(), id.UserID, limit)
	default:
		badRequest(c, "role must be buyer or seller")
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ok",
		"data":    gin.H{"refunds": requests},
	})
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		badRequest(c, "Invalid order ID")
		return 0, false
	}
	return orderID, true
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"message": message,
	})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrReturnAddressRequired):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrNotYourOrder):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, ErrNotFound), errors.Is(err, order.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrResubmissionLimit),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrAlreadyRequested),
		errors.Is(err, wallet.ErrInsufficientFunds):
		status, message = http.StatusConflict, err.Error()
	default:
		logging.L(c.Request.Context()).Error("refund operation failed", "error", err)
	}

	c.JSON(status, gin.H{
		"success": false,
		"message": message,
	})
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
