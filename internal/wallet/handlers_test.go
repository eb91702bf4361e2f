package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/aftersale/internal/authn"
	"github.com/tidemark/aftersale/internal/storage"
)

func newTestRouter(ledger *Ledger, id authn.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(authn.ContextKeyIdentity, id)
		c.Next()
	})
	h := NewHandler(ledger)
	h.RegisterRoutes(&r.RouterGroup)
	h.RegisterAdminRoutes(r.Group("/admin"))
	return r
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestGetBalanceHandler(t *testing.T) {
	ledger, _, uow := newTestLedger()
	_, err := appendTx(t, ledger, uow, 42, 4000)
	require.NoError(t, err)

	r := newTestRouter(ledger, authn.Identity{UserID: 42, Role: authn.RoleUser})
	w := doRequest(r, http.MethodGet, "/wallet/balance")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			UserID  int64  `json:"userId"`
			Balance string `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(42), resp.Data.UserID)
	assert.Equal(t, "40.00", resp.Data.Balance)
}

func TestListEntriesHandler(t *testing.T) {
	ledger, _, uow := newTestLedger()
	for i := 0; i < 3; i++ {
		_, err := appendTx(t, ledger, uow, 42, 1000)
		require.NoError(t, err)
	}
	// Another user's entries must not leak in.
	_, err := appendTx(t, ledger, uow, 7, 9999)
	require.NoError(t, err)

	r := newTestRouter(ledger, authn.Identity{UserID: 42, Role: authn.RoleUser})
	w := doRequest(r, http.MethodGet, "/wallet/entries?limit=2")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Entries    []Entry `json:"entries"`
			NextCursor string  `json:"nextCursor"`
			HasMore    bool    `json:"hasMore"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Entries, 2)
	assert.True(t, resp.Data.HasMore)
	assert.NotEmpty(t, resp.Data.NextCursor)
	for _, e := range resp.Data.Entries {
		assert.Equal(t, int64(42), e.UserID)
	}
}

func TestListEntriesHandlerBadCursor(t *testing.T) {
	ledger, _, _ := newTestLedger()
	r := newTestRouter(ledger, authn.Identity{UserID: 42, Role: authn.RoleUser})

	w := doRequest(r, http.MethodGet, "/wallet/entries?cursor=%21%21not-base64")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditHandler(t *testing.T) {
	ledger, store, uow := newTestLedger()
	_, err := appendTx(t, ledger, uow, 42, 4000)
	require.NoError(t, err)
	err = uow.RunTx(context.Background(), func(tx storage.Tx) error {
		return store.InsertTx(context.Background(), tx, &Entry{
			ID: "wl_bad", UserID: 42, Amount: "-10.00", Balance: "99.00",
		})
	})
	require.NoError(t, err)

	r := newTestRouter(ledger, authn.Identity{UserID: 1, Role: authn.RoleAdmin})
	w := doRequest(r, http.MethodGet, "/admin/wallet/42/audit")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data AuditReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Data.Consistent)
	assert.Equal(t, int64(42), resp.Data.UserID)
}

func TestAuditHandlerBadUserID(t *testing.T) {
	ledger, _, _ := newTestLedger()
	r := newTestRouter(ledger, authn.Identity{UserID: 1, Role: authn.RoleAdmin})

	w := doRequest(r, http.MethodGet, "/admin/wallet/abc/audit")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
