// Package admission runs the access policy for every incoming request. The
// Pipeline classifies the route, evaluates the gates against the caller and
// turns the outcome into a decision, metrics, a span and, for denials, an
// audit event. Backing-store failures close the gate.
package admission
