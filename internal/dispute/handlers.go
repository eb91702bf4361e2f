package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/aftersale/internal/authn"
	"github.com/tidemark/aftersale/internal/logging"
	"github.com/tidemark/aftersale/internal/pagination"
	"github.com/tidemark/aftersale/internal/refund"
	"github.com/tidemark/aftersale/internal/validation"
)

// Handler exposes the dispute engine over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a dispute handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up authenticated dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/disputes/:id", h.Get)
	r.POST("/disputes/:id/statement", h.SubmitStatement)
}

// RegisterAdminRoutes sets up admin-only dispute routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListOpen)
	r.POST("/disputes/:id/resolve", h.Resolve)
	r.POST("/disputes/:id/close", h.Close)
}

// Get handles GET /v1/disputes/:id
func (h *Handler) Get(c *gin.Context) {
	id, _ := authn.FromContext(c)

	d, err := h.svc.Get(c.Request.Context(), id.UserID, id.IsAdmin(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ok",
		"data":    d,
	})
}

// SubmitStatement handles POST /v1/disputes/:id/statement
func (h *Handler) SubmitStatement(c *gin.Context) {
	id, _ := authn.FromContext(c)

	var req StatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: text is required")
		return
	}
	if err := validation.Validate(
		validation.MaxLength("text", req.Text, validation.MaxTextLength),
	); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.Text = validation.SanitizeText(req.Text, validation.MaxTextLength)

	d, err := h.svc.SubmitStatement(c.Request.Context(), id.UserID, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Statement recorded",
		"data":    d,
	})
}

// ListOpen handles GET /v1/admin/disputes
func (h *Handler) ListOpen(c *gin.Context) {
	limit := pagination.ClampLimit(queryInt(c, "limit"))

	disputes, err := h.svc.ListOpen(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ok",
		"data":    gin.H{"disputes": disputes},
	})
}

// Resolve handles POST /v1/admin/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	id, _ := authn.FromContext(c)

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: outcome, replyToBuyer, and replyToSeller are required")
		return
	}
	if err := validation.Validate(
		validation.OneOf("outcome", req.Outcome, OutcomeRefundBuyer, OutcomeRefundSeller, OutcomePartial),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("replyToBuyer", req.ReplyToBuyer, validation.MaxTextLength),
		validation.MaxLength("replyToSeller", req.ReplyToSeller, validation.MaxTextLength),
	); err != nil {
		badRequest(c, err.Error())
		return
	}

	d, err := h.svc.Resolve(c.Request.Context(), id.UserID, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Dispute resolved",
		"data":    d,
	})
}

// Close handles POST /v1/admin/disputes/:id/close
func (h *Handler) Close(c *gin.Context) {
	id, _ := authn.FromContext(c)

	var req CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: note is required")
		return
	}
	req.Note = validation.SanitizeText(req.Note, validation.MaxTextLength)

	d, err := h.svc.Close(c.Request.Context(), id.UserID, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Dispute closed",
		"data":    d,
	})
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
	case errors.Is(err, ErrRepliesRequired),
		errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, ErrInvalidAmount):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrNotParticipant):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, ErrNotFound), errors.Is(err, refund.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrDuplicateStatement),
		errors.Is(err, ErrNoActionRequired):
		status, message = http.StatusConflict, err.Error()
	default:
		logging.L(c.Request.Context()).Error("dispute operation failed", "error", err)
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
