// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"foodhub/internal/apperr"
	"foodhub/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the identifier shapes the modules generate: uuids,
// "ORD-yymmdd-XXXXXXXX" and operator-chosen zone ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

// writeError renders err through its apperr status; untyped errors are a 500
// with a generic message. Server errors are attached to the context so the
// logging middleware records the cause.
func writeError(c *gin.Context, err error) {
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	writeJSON(c, status, errorResponse{Error: apperr.MessageOf(err)})
}

func badRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, errorResponse{Error: msg})
}

// pathID reads and validates the ":id" param, writing a 400 when invalid.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		badRequest(c, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "invalid json")
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
