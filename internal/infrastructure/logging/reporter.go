package logging

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Reporter is the diagnostic channel for recoverable programming errors
// (unlocking a lock you don't hold, waiting on yourself). Reports are
// rate limited so a misbehaving caller in a hot loop cannot flood the log.
type Reporter struct {
	logger     *Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewReporter creates a reporter allowing perSecond warnings with the given burst.
func NewReporter(logger *Logger, perSecond float64, burst int) *Reporter {
	if logger == nil {
		logger = NewNop()
	}
	return &Reporter{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Warn reports a misuse. Suppressed reports are counted and the count is
// attached to the next report that gets through.
func (r *Reporter) Warn(msg string, fields ...zap.Field) {
	if !r.limiter.Allow() {
		r.suppressed.Add(1)
		return
	}
	if n := r.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Uint64("suppressed", n))
	}
	r.logger.Warn(msg, fields...)
}

// Suppressed returns how many reports were dropped since the last one logged.
func (r *Reporter) Suppressed() uint64 {
	return r.suppressed.Load()
}

// Logger returns the underlying logger.
func (r *Reporter) Logger() *Logger {
	return r.logger
}
