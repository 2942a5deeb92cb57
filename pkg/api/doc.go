// Package api assembles the gateway HTTP server: the gin engine with access
// logging, the flood guard, authentication and admission middleware in front
// of the upstream proxy, plus the operational endpoints.
package api
