package wallet

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/aftersale/internal/authn"
	"github.com/tidemark/aftersale/internal/pagination"
)

// Handler provides HTTP endpoints for wallet reads.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a wallet handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up authenticated wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallet/balance", h.GetBalance)
	r.GET("/wallet/entries", h.ListEntries)
}

// RegisterAdminRoutes sets up admin-only wallet routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/wallet/:userID/audit", h.AuditUser)
}

// GetBalance handles GET /v1/wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	id, _ := authn.FromContext(c)

	balance, err := h.ledger.Balance(c.Request.Context(), id.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to read balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ok",
		"data":    gin.H{"userId": id.UserID, "balance": balance},
	})
}

// ListEntries handles GET /v1/wallet/entries
func (h *Handler) ListEntries(c *gin.Context) {
	id, _ := authn.FromContext(c)

	limit := pagination.ClampLimit(queryInt(c, "limit"))
	var beforeSeq int64
	if cursor, err := pagination.Decode(c.Query("cursor")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid cursor",
		})
		return
	} else if cursor != nil {
		beforeSeq = cursor.ID
	}

	entries, err := h.ledger.History(c.Request.Context(), id.UserID, beforeSeq, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to read wallet history",
		})
		return
	}

	page, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, int64) {
		return e.CreatedAt, e.Seq
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ok",
		"data": gin.H{
			"entries":    page,
			"nextCursor": next,
			"hasMore":    more,
		},
	})
}

// AuditUser handles GET /v1/admin/wallet/:userID/audit
func (h *Handler) AuditUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid user ID",
		})
		return
	}

	report, err := h.ledger.Audit(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to audit balance chain",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ok",
		"data":    report,
	})
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
