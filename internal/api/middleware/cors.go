package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var corsAllowHeaders = strings.Join([]string{
	"Authorization", "Content-Type", "Accept", "Origin", "Cache-Control",
	"Last-Event-ID",         // EventSource reconnects on /v1/events
	"CF-Turnstile-Response", // signup captcha
}, ", ")

// CORSMiddleware lets the browser client call the API and hold the event stream.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
