// Package metrics defines the Prometheus collectors exported by the admission
// gateway: admission decisions, window store state, flood guard rejections and
// audit delivery.
package metrics
