// README: Zone administration and point resolution.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"foodhub/internal/geo"
	"foodhub/internal/modules/zone"
	"foodhub/internal/types"
)

type ZoneHandler struct {
	zones *zone.Service
}

func NewZoneHandler(svc *zone.Service) *ZoneHandler {
	return &ZoneHandler{zones: svc}
}

type createZoneReq struct {
	ZoneID            types.ID    `json:"zoneId"`
	District          string      `json:"district"`
	ZoneName          string      `json:"zoneName"`
	Boundary          geo.Ring    `json:"boundary"`
	IsOperational     bool        `json:"isOperational"`
	MinFee            types.Money `json:"minFee"`
	MaxDistanceMeters int         `json:"maxDistanceMeters"`
}

func (h *ZoneHandler) Create(c *gin.Context) {
	var req createZoneReq
	if !bind(c, &req) {
		return
	}
	if !isValidID(string(req.ZoneID)) {
		badRequest(c, "invalid zoneId")
		return
	}
	z, err := h.zones.Create(c.Request.Context(), zone.CreateCommand(req))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, z)
}

func (h *ZoneHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	z, err := h.zones.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, z)
}

func (h *ZoneHandler) List(c *gin.Context) {
	includeDeleted, _ := strconv.ParseBool(c.Query("includeDeleted"))
	zs, err := h.zones.List(c.Request.Context(), includeDeleted)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"zones": zs})
}

type patchZoneReq struct {
	District          *string      `json:"district"`
	ZoneName          *string      `json:"zoneName"`
	Boundary          *geo.Ring    `json:"boundary"`
	MinFee            *types.Money `json:"minFee"`
	MaxDistanceMeters *int         `json:"maxDistanceMeters"`
}

func (h *ZoneHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req patchZoneReq
	if !bind(c, &req) {
		return
	}
	z, err := h.zones.Update(c.Request.Context(), id, zone.Patch(req))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, z)
}

func (h *ZoneHandler) SetOperational(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		IsOperational *bool `json:"isOperational"`
	}
	if !bind(c, &req) {
		return
	}
	if req.IsOperational == nil {
		badRequest(c, "missing isOperational")
		return
	}
	z, err := h.zones.ToggleOperational(c.Request.Context(), id, *req.IsOperational)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, z)
}

// Delete soft-deletes; "?permanent=true" removes an already soft-deleted zone.
func (h *ZoneHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	permanent, _ := strconv.ParseBool(c.Query("permanent"))
	var err error
	if permanent {
		err = h.zones.PermanentDelete(c.Request.Context(), id)
	} else {
		err = h.zones.SoftDelete(c.Request.Context(), id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ZoneHandler) Resolve(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		badRequest(c, "lat and lng are required")
		return
	}
	z, err := h.zones.ResolveForPoint(c.Request.Context(), types.Point{Lat: lat, Lng: lng})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, z)
}
