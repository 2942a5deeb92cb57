// Package policy decides whether a request is admitted. Routes are classified
// into categories by glob patterns, and the access policy applies the
// time-of-day, role and sliding-window rate gates in fixed priority order.
package policy
