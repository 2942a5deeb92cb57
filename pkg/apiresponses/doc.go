// Package apiresponses provides the standardized JSON error bodies used by
// the gateway ({"error": ..., "code": ...}) so that admission denials, flood
// guard rejections and operational endpoints render errors the same way.
package apiresponses
