package core

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondInternal logs the cause server-side and answers with a detail-free 500.
func respondInternal(c *gin.Context, where string, err error) {
	log.Printf("[http] %s %s: %s: %v", c.Request.Method, c.Request.URL.Path, where, err)
	respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
}

// requestOrigin extracts the client IP (honouring trusted proxies) and user agent.
func requestOrigin(c *gin.Context) RequestOrigin {
	return RequestOrigin{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// parseLimitOffset reads limit/offset query values, applying the default
// limit when absent and clamping to maxLimit.
func parseLimitOffset(limitStr, offsetStr string, defaultLimit, maxLimit int) (int, int, error) {
	limit := defaultLimit
	offset := 0
	if strings.TrimSpace(limitStr) != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if l > maxLimit {
			l = maxLimit
		}
		limit = l
	}
	if strings.TrimSpace(offsetStr) != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil || o < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = o
	}
	return limit, offset, nil
}
