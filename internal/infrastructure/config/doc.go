// Package config provides 12-factor configuration management for kernelkit.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags in cmd/kitstat can override environment variables.
//
// Configuration Sections:
//   - IPC: shared-memory directory and object name prefix
//   - Port: maximum message payload and default queue length
//   - Logging: Log level and output format
//   - Metrics: inspection endpoint address
//   - Soak: background workload run by kitstat
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("shared memory in %s\n", cfg.IPC.SHMDir)
//
// Environment Variables:
//   - KIT_SHM_DIR, KIT_SHM_PREFIX
//   - KIT_PORT_MAX_BUFFER, KIT_PORT_QUEUE_LENGTH
//   - LOG_LEVEL, LOG_DEV
//   - METRICS_ADDR, METRICS_ENABLED
//   - KIT_SOAK_ENABLED, KIT_SOAK_WORKERS, KIT_SOAK_CAPACITY, KIT_SOAK_IPC
package config
