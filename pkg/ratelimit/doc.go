// Package ratelimit tracks per-identity sliding windows of admitted requests
// (in memory or in Redis) and provides a coarse per-address token-bucket flood
// guard middleware for Gin.
//
// The window stores expose an atomic Admit operation that prunes, counts and
// records under a single lock (or a single Lua script for Redis) so concurrent
// requests from one identity can never overshoot the burst limit.
package ratelimit
