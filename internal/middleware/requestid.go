package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier in and out
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request id
	RequestIDKey = "request_id"
)

// inbound ids are reused only when they are short and free of control characters, since they
// end up in log lines and response headers
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestIDMiddleware reuses a well-formed inbound X-Request-ID or generates a UUID, stores it
// under RequestIDKey and echoes it in the response. Register it before LoggerMiddleware so every
// request log line carries the id.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
