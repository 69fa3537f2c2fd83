package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"optqueue/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"
)

// TraceHeader carries the request trace id
const TraceHeader = "X-Request-ID"

// Trace assigns every request a trace id, reusing the client's when present,
// and stores it in the request context for the *Ctx log helpers
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Header(TraceHeader, traceID)
		c.Request = c.Request.WithContext(logger.WithTrace(c.Request.Context(), traceID))
		c.Next()
	}
}

// Logger logs one line per request. POST bodies are logged compacted.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var bodyStr string
		if c.Request.Method == http.MethodPost {
			bodyStr = getRequestBody(c)
		}

		c.Next()

		// Skip logging for 404 requests
		if c.Writer.Status() == http.StatusNotFound {
			return
		}

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(startTime)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("uri", c.Request.RequestURI),
			zap.String("request_id", c.Writer.Header().Get(TraceHeader)),
		}
		if bodyStr != "" {
			fields = append(fields, zap.String("body", bodyStr))
		}
		logger.Info("[GIN]", fields...)
	}
}

// getRequestBody gets request body content
func getRequestBody(c *gin.Context) string {
	var bodyBytes []byte
	if c.Request.Body != nil {
		bodyBytes, _ = io.ReadAll(c.Request.Body)
		// Reset request body since reading it clears it
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}
	return CompressBody(string(bodyBytes))
}

// CompressBody compresses JSON using pretty package
func CompressBody(body string) string {
	if len(body) == 0 {
		return ""
	}

	// ugly removes all whitespace
	compressed := pretty.Ugly([]byte(body))
	if len(compressed) > 1000 {
		return string(compressed[:1000]) + "..."
	}
	return string(compressed)
}
