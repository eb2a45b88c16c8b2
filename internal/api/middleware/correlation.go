package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/railzwaylabs/experiment-broker/pkg/telemetry/correlation"
)

// Correlation carries the caller's correlation id and W3C traceparent into the
// request context, so that broker runs triggered over HTTP log the caller's ids.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = correlation.ContextWithCorrelationID(ctx, c.GetHeader(correlation.HeaderCorrelationID))
		ctx = correlation.ContextWithTraceparent(ctx, c.GetHeader("traceparent"))
		ctx, cid := correlation.EnsureCorrelationID(ctx)

		c.Header(correlation.HeaderCorrelationID, cid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
