package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}

// Timer measures a blocking call and records its outcome.
type Timer struct {
	start   time.Time
	metrics *Metrics
	kind    string
	op      string
}

// NewTimer starts timing op on a primitive of the given kind.
func NewTimer(metrics *Metrics, kind, op string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		kind:    kind,
		op:      op,
	}
}

// Stop records the elapsed time under result.
func (t *Timer) Stop(result string) {
	t.metrics.RecordWait(t.kind, t.op, result, time.Since(t.start))
}
