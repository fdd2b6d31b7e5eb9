package middleware

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		// user_id проставляет auth middleware; для публичных маршрутов его нет
		user := "-"
		if id, ok := c.Get("user_id"); ok {
			user = fmt.Sprint(id)
		}

		fmt.Fprintf(gin.DefaultWriter.(io.Writer), "[%s] %s %s %d %s %s\n",
			clientIP,
			method,
			path,
			statusCode,
			latency,
			user,
		)
	}
}
