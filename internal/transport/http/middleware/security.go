package middleware

import "github.com/gin-gonic/gin"

// Security sets common HTTP security headers on every response.
// Strict-Transport-Security is deliberately omitted: this surface is
// bound to 127.0.0.1 and served over plain HTTP, never TLS, so an HSTS
// header would only be misleading.
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}
