// README: Support conversation REST routes; live messaging goes over the websocket.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"foodhub/internal/http/middleware"
	"foodhub/internal/modules/support"
	"foodhub/internal/types"
)

type SupportHandler struct {
	support *support.Service
}

func NewSupportHandler(svc *support.Service) *SupportHandler {
	return &SupportHandler{support: svc}
}

// Open returns the caller's conversation, creating it on first use.
func (h *SupportHandler) Open(c *gin.Context) {
	conv, err := h.support.Join(c.Request.Context(), middleware.Actor(c), "")
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, conv)
}

func (h *SupportHandler) List(c *gin.Context) {
	var status *support.Status
	if v := c.Query("status"); v != "" {
		st := support.Status(v)
		if st != support.StatusOpen && st != support.StatusClosed {
			badRequest(c, "invalid status")
			return
		}
		status = &st
	}
	convs, err := h.support.ListConversations(c.Request.Context(), middleware.Actor(c), status, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"conversations": convs})
}

// Messages serves "/support/messages" for the caller and
// "/support/conversations/:userId/messages" for admins.
func (h *SupportHandler) Messages(c *gin.Context) {
	userID := types.ID(c.Param("userId"))
	if userID != "" && !isValidID(string(userID)) {
		badRequest(c, "invalid userId")
		return
	}
	var before *time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			badRequest(c, "invalid before")
			return
		}
		before = &t
	}
	msgs, err := h.support.Messages(c.Request.Context(), middleware.Actor(c), userID, before, queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"messages": msgs})
}
