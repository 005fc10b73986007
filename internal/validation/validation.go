// Package validation provides request validation middleware for the
// riskwatch API.
package validation

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the default maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxIDLength matches the id column of the postgres record store.
const MaxIDLength = 255

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID reports whether s can name a record: non-empty, at most
// MaxIDLength bytes, and free of whitespace and control characters.
func IsValidID(s string) bool {
	if s == "" || len(s) > MaxIDLength {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// SanitizeString trims whitespace, removes null bytes and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// IDParamMiddleware rejects malformed :id URL parameters before they reach
// the store. Routes without the parameter pass through.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range c.Params {
			if p.Key != "id" {
				continue
			}
			if !IsValidID(p.Value) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_id",
					"message": "id must be 1-255 characters without whitespace",
				})
				return
			}
		}
		c.Next()
	}
}
