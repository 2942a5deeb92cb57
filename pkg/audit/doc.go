// Package audit records security events produced by the admission gateway
// (policy denials, lifecycle events) and delivers them to a structured log
// and optionally to Kafka. Every sink gets its own bounded queue and circuit
// breaker so a slow or failing destination never blocks request handling.
package audit
