// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodhub/internal/http/handlers"
	"foodhub/internal/http/middleware"
	"foodhub/internal/infra"
	"foodhub/internal/logger"
	"foodhub/internal/modules/location"
	"foodhub/internal/modules/notify"
	"foodhub/internal/modules/order"
	"foodhub/internal/modules/partner"
	"foodhub/internal/modules/sos"
	"foodhub/internal/modules/support"
	"foodhub/internal/modules/zone"
	"foodhub/internal/realtime"
	"foodhub/internal/types"
)

type RouterDeps struct {
	Verifier infra.TokenVerifier
	Hub      *realtime.Hub
	Orders   *order.Service
	Dispatch handlers.Dispatcher
	Zones    *zone.Service
	Partners *partner.Service
	Location *location.Service
	SOS      *sos.Service
	Support  *support.Service
	Notify   *notify.Service
	Log      logger.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	// The hub authenticates the upgrade itself from the header or ?token=.
	r.GET("/ws", gin.WrapF(d.Hub.ServeWS))

	api := r.Group("/api", middleware.Auth(d.Verifier))
	admins := middleware.RequireRoles(types.RoleAdmin, types.RoleSuperAdmin)
	vendors := middleware.RequireRoles(types.RoleVendor, types.RoleAdmin, types.RoleSuperAdmin)
	partners := middleware.RequireRoles(types.RoleDeliveryPartner)

	orderHandler := handlers.NewOrderHandler(d.Orders, d.Dispatch, d.Log)
	orders := api.Group("/orders")
	orders.POST("", middleware.RequireRoles(types.RoleCustomer), orderHandler.Create)
	orders.GET("/:id", orderHandler.Get)
	orders.POST("/:id/paid", admins, orderHandler.MarkPaid)
	orders.POST("/:id/accept", vendors, orderHandler.Accept)
	orders.POST("/:id/reject", vendors, orderHandler.Reject)
	orders.POST("/:id/dispatch", vendors, orderHandler.Dispatch)
	orders.POST("/:id/dispatch/accept", partners, orderHandler.AcceptDispatch)
	orders.POST("/:id/dispatch/decline", partners, orderHandler.DeclineDispatch)
	orders.POST("/:id/release", orderHandler.Release)
	orders.POST("/:id/status", orderHandler.UpdateStatus)
	orders.POST("/:id/cancel", orderHandler.Cancel)

	zoneHandler := handlers.NewZoneHandler(d.Zones)
	zones := api.Group("/zones")
	zones.GET("/resolve", zoneHandler.Resolve)
	zones.GET("", admins, zoneHandler.List)
	zones.POST("", admins, zoneHandler.Create)
	zones.GET("/:id", admins, zoneHandler.Get)
	zones.PATCH("/:id", admins, zoneHandler.Update)
	zones.PUT("/:id/operational", admins, zoneHandler.SetOperational)
	zones.DELETE("/:id", admins, zoneHandler.Delete)

	sosHandler := handlers.NewSOSHandler(d.SOS)
	alerts := api.Group("/sos")
	alerts.POST("", sosHandler.Trigger)
	alerts.GET("", sosHandler.List)
	alerts.GET("/nearby", sosHandler.Nearby)
	alerts.GET("/history", sosHandler.History)
	alerts.GET("/:id", sosHandler.Get)
	alerts.PATCH("/:id/status", sosHandler.UpdateStatus)

	partnerHandler := handlers.NewPartnerHandler(d.Location, d.Partners)
	me := api.Group("/partners/me", partners)
	me.GET("", partnerHandler.Me)
	me.PUT("/location", partnerHandler.UpdateLocation)
	me.PUT("/availability", partnerHandler.SetAvailability)

	supportHandler := handlers.NewSupportHandler(d.Support)
	sup := api.Group("/support")
	sup.POST("/conversation", supportHandler.Open)
	sup.GET("/messages", supportHandler.Messages)
	sup.GET("/conversations", admins, supportHandler.List)
	sup.GET("/conversations/:userId/messages", admins, supportHandler.Messages)

	deviceHandler := handlers.NewDeviceHandler(d.Notify)
	api.POST("/devices", deviceHandler.Register)
	api.DELETE("/devices", deviceHandler.Unregister)

	return r
}
