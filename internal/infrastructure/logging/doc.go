// Package logging provides structured logging using uber/zap.
//
// This package offers two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// The primitives never log on their fast paths. They report misuse through a
// Reporter, which is a rate-limited Warn channel: unlocking a locker you don't
// hold or waiting on your own thread is logged and returned as an error, never
// fatal.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	diag := logging.NewReporter(logger, 10, 20)
//	diag.Warn("unlock by non-holder", zap.Int64("thread", tid))
package logging
