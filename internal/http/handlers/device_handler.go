package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodhub/internal/http/middleware"
	"foodhub/internal/modules/notify"
)

type DeviceHandler struct {
	notify *notify.Service
}

func NewDeviceHandler(svc *notify.Service) *DeviceHandler {
	return &DeviceHandler{notify: svc}
}

type deviceReq struct {
	Token    string          `json:"token"`
	Platform notify.Platform `json:"platform"`
}

func (h *DeviceHandler) Register(c *gin.Context) {
	var req deviceReq
	if !bind(c, &req) {
		return
	}
	if err := h.notify.RegisterDevice(c.Request.Context(), middleware.CallerUID(c), req.Token, req.Platform); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DeviceHandler) Unregister(c *gin.Context) {
	var req deviceReq
	if !bind(c, &req) {
		return
	}
	if err := h.notify.UnregisterDevice(c.Request.Context(), req.Token); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
