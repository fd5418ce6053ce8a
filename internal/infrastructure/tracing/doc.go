/*
Package tracing provides lightweight request tracing for the kitstat server.

# Overview

Each request gets a span whose trace id is taken from the caller or newly
generated. Finished spans are written to the structured log: at debug level
normally and at warn level when the handler recorded an error.

# Usage

	tracer := tracing.New("kitstat", logger)
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer tracer.Finish(span)
	span.SetTag("key", "value")

# Trace Format

Traces use HTTP headers for propagation:
- X-Trace-ID: Identifier for the entire request flow
- X-Span-ID: Identifier for the current operation
*/
package tracing
