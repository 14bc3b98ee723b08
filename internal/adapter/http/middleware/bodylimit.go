package middleware

import (
	"net/http"

	"social-wallet/pkg/apperror"
	"social-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

// MaxBodySize rejects declared oversize bodies with 413 and caps the reader for the
// rest, so handlers see a read error once maxBytes is exceeded.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			response.Error(c, apperror.New("WAL_002", "Request body too large", http.StatusRequestEntityTooLarge))
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
