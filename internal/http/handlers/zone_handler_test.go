package handlers_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodhub/internal/geo"
	"foodhub/internal/http/handlers"
	httpmiddleware "foodhub/internal/http/middleware"
	"foodhub/internal/logger"
	"foodhub/internal/modules/zone"
	"foodhub/internal/modules/zone/zonetest"
	"foodhub/internal/types"
)

func zoneRouter(t *testing.T) (*gin.Engine, *zonetest.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := zonetest.NewMemory()
	h := handlers.NewZoneHandler(zone.NewService(store, logger.Nop()))
	verifier := tokenVerifier{
		"admin":    tok("admin-1", types.RoleAdmin),
		"customer": tok("cust-1", types.RoleCustomer),
	}
	r := gin.New()
	api := r.Group("/api", httpmiddleware.Auth(verifier))
	admins := httpmiddleware.RequireRoles(types.RoleAdmin)
	api.GET("/zones/resolve", h.Resolve)
	api.POST("/zones", admins, h.Create)
	api.PUT("/zones/:id/operational", admins, h.SetOperational)
	api.DELETE("/zones/:id", admins, h.Delete)
	return r, store
}

func square(lng, lat, size float64) geo.Ring {
	return geo.Ring{{lng, lat}, {lng + size, lat}, {lng + size, lat + size}, {lng, lat + size}}
}

func TestZoneLifecycle(t *testing.T) {
	r, _ := zoneRouter(t)
	body := map[string]any{
		"zoneId": "LIS-1", "district": "Lisboa", "zoneName": "Baixa",
		"boundary": square(-9.2, 38.7, 0.1), "isOperational": true,
		"minFee": map[string]any{"amount": 250, "currency": "EUR"}, "maxDistanceMeters": 5000,
	}
	w := doRequest(r, http.MethodPost, "/api/zones", body, "admin")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doRequest(r, http.MethodPost, "/api/zones", body, "admin")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodGet, "/api/zones/resolve?lat=38.75&lng=-9.15", nil, "customer")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"zoneId":"LIS-1"`)

	// Operational zones cannot be deleted.
	w = doRequest(r, http.MethodDelete, "/api/zones/LIS-1", nil, "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPut, "/api/zones/LIS-1/operational", map[string]any{"isOperational": false}, "admin")
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(r, http.MethodGet, "/api/zones/resolve?lat=38.75&lng=-9.15", nil, "customer")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodDelete, "/api/zones/LIS-1?permanent=true", nil, "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(r, http.MethodDelete, "/api/zones/LIS-1", nil, "admin")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(r, http.MethodDelete, "/api/zones/LIS-1?permanent=true", nil, "admin")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestZoneCreate_RequiresAdmin(t *testing.T) {
	r, _ := zoneRouter(t)
	w := doRequest(r, http.MethodPost, "/api/zones", map[string]any{"zoneId": "Z"}, "customer")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestZoneResolve_MissingCoordinates(t *testing.T) {
	r, _ := zoneRouter(t)
	w := doRequest(r, http.MethodGet, "/api/zones/resolve?lat=38.7", nil, "customer")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
