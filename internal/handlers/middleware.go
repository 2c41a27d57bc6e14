package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// operatorCtxKey holds the authenticated operator id in the gin context.
const operatorCtxKey = "operatorId"

const (
	errMissingAuthHeader = "missing Authorization header"
	errBadAuthHeader     = "invalid Authorization header format"
	errBadToken          = "invalid or expired token"
)

// operatorIDMiddleware admits requests carrying a valid operator token.
func (h *Handler) operatorIDMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingAuthHeader})
		return
	}

	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errBadAuthHeader})
		return
	}

	operatorID, err := h.services.ParseToken(token)
	if err != nil {
		if h.log != nil {
			h.log.Debugw("auth_token_rejected", "path", c.FullPath(), "err", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errBadToken})
		return
	}

	c.Set(operatorCtxKey, operatorID)
	c.Next()
}

// operatorID is the id set by operatorIDMiddleware, 0 outside protected routes.
func operatorID(c *gin.Context) int {
	return c.GetInt(operatorCtxKey)
}
