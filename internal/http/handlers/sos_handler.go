// README: SOS trigger, investigation and listing routes.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"foodhub/internal/http/middleware"
	"foodhub/internal/modules/sos"
	"foodhub/internal/types"
)

type SOSHandler struct {
	sos *sos.Service
}

func NewSOSHandler(svc *sos.Service) *SOSHandler {
	return &SOSHandler{sos: svc}
}

func (h *SOSHandler) Trigger(c *gin.Context) {
	var req sos.TriggerPayload
	if !bind(c, &req) {
		return
	}
	a, err := h.sos.Trigger(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, a)
}

func (h *SOSHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	a, err := h.sos.Get(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}

func (h *SOSHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req sos.StatusUpdate
	if !bind(c, &req) {
		return
	}
	a, err := h.sos.UpdateStatus(c.Request.Context(), id, middleware.Actor(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}

func (h *SOSHandler) Nearby(c *gin.Context) {
	as, err := h.sos.Nearby(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"alerts": as})
}

// List accepts "status" (comma separated), "fleetManagerId", "since" (RFC3339), "limit" and "offset".
func (h *SOSHandler) List(c *gin.Context) {
	f, ok := parseSOSFilter(c)
	if !ok {
		return
	}
	as, err := h.sos.List(c.Request.Context(), middleware.Actor(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"alerts": as})
}

func (h *SOSHandler) History(c *gin.Context) {
	f, ok := parseSOSFilter(c)
	if !ok {
		return
	}
	as, err := h.sos.History(c.Request.Context(), middleware.Actor(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"alerts": as})
}

func parseSOSFilter(c *gin.Context) (sos.Filter, bool) {
	f := sos.Filter{Limit: queryInt(c, "limit", 50), Offset: queryInt(c, "offset", 0)}
	if v := c.Query("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := sos.Status(strings.TrimSpace(part))
			if !st.Valid() {
				badRequest(c, "invalid status")
				return f, false
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := c.Query("fleetManagerId"); v != "" {
		id := types.ID(v)
		f.FleetManagerID = &id
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "invalid since")
			return f, false
		}
		f.Since = &t
	}
	return f, true
}
