// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Admission decisions
	EventAccessDenied  EventType = "access.denied"
	EventAccessAllowed EventType = "access.allowed"

	// Lifecycle
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	// Actor is who sent the request
	Actor Actor `json:"actor"`

	// Target is the request that was evaluated
	Target Target `json:"target"`

	// Reason is the denial reason (TIME_RESTRICTED, ROLE_DENIED, ...)
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	Details map[string]interface{} `json:"details,omitempty"`

	RequestContext *RequestContext `json:"requestContext,omitempty"`
}

// Actor represents who triggered an audit event
type Actor struct {
	// User is the token subject, empty for anonymous callers
	User          string `json:"user,omitempty"`
	Role          string `json:"role,omitempty"`
	Authenticated bool   `json:"authenticated"`
	// SourceIP is the rate-limit identity of the caller
	SourceIP  string `json:"sourceIP,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Target is the HTTP request an event refers to
type Target struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	// Route is the name of the matched route category
	Route string `json:"route,omitempty"`
}

// RequestContext contains correlation information
type RequestContext struct {
	CorrelationID string `json:"correlationId,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
}

// NewEvent returns an event with ID, timestamp and default severity set.
func NewEvent(t EventType, reason string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  SeverityFor(t, reason),
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	}
}

// SeverityFor returns the default severity for an event. Role and
// authentication denials are warnings; bursts over the rate limit are
// critical since they usually indicate automation.
func SeverityFor(t EventType, reason string) Severity {
	if t != EventAccessDenied {
		return SeverityInfo
	}
	switch reason {
	case "RATE_LIMITED":
		return SeverityCritical
	case "ROLE_DENIED", "UNAUTHENTICATED":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
