/*
Package monitoring provides metrics collection for the kernel primitives.

# Overview

This package implements Prometheus-based metrics for primitive lifecycles
(created, destroyed, open), blocking calls (outcome and latency), port
traffic and thread state transitions. kitstat also records its own HTTP
requests here.

# Features

- Per-kind lifecycle counters and open gauges
- Wait outcome counters (ok, would_block, timed_out, closed, error)
- Wait latency histograms
- JSON snapshot for the inspection endpoint
- Nil-safe recording methods

# Usage

	metrics := monitoring.NewMetrics()
	kernel.SetMetrics(metrics)

	timer := monitoring.NewTimer(metrics, "semaphore", "acquire")
	// ... blocking call ...
	timer.Stop("ok")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
