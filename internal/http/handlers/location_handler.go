// README: Partner self-service routes: location ping and availability.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodhub/internal/http/middleware"
	"foodhub/internal/modules/location"
	"foodhub/internal/modules/partner"
)

type PartnerHandler struct {
	location *location.Service
	partners *partner.Service
}

func NewPartnerHandler(loc *location.Service, partners *partner.Service) *PartnerHandler {
	return &PartnerHandler{location: loc, partners: partners}
}

// UpdateLocation feeds the same pipeline as the realtime ping. Dropped
// samples still answer 202 with accepted=false.
func (h *PartnerHandler) UpdateLocation(c *gin.Context) {
	var req location.Sample
	if !bind(c, &req) {
		return
	}
	accepted, err := h.location.HandlePartnerPing(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"accepted": accepted})
}

func (h *PartnerHandler) Me(c *gin.Context) {
	p, err := h.partners.FindPartnerUser(c.Request.Context(), middleware.CallerUID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *PartnerHandler) SetAvailability(c *gin.Context) {
	var req struct {
		Availability partner.Availability `json:"availability"`
	}
	if !bind(c, &req) {
		return
	}
	p, err := h.partners.SetAvailability(c.Request.Context(), middleware.CallerUID(c), req.Availability)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
