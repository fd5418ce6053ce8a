// Package middleware provides Gin middleware for the kitstat server.
package middleware
