package middleware

import (
	"regexp"

	"social-wallet/pkg/apperror"
	"social-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

var idempotencyKeyRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]{1,128}$`)

// IdempotencyKey validates the optional Idempotency-Key header of a money route and
// stores it for the handler. Requests without the header pass through unkeyed.
func IdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if !idempotencyKeyRe.MatchString(key) {
			response.Error(c, apperror.Validation("Idempotency-Key must be 1-128 characters of [A-Za-z0-9_.:-]"))
			c.Abort()
			return
		}
		c.Set(CtxIdempotencyKey, key)
		c.Next()
	}
}

// IdempotencyKeyFrom returns the key stored by IdempotencyKey, or "".
func IdempotencyKeyFrom(c *gin.Context) string {
	return c.GetString(CtxIdempotencyKey)
}
