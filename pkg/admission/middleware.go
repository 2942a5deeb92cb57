// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/telekom/admission-gateway/pkg/apiresponses"
	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/policy"
	"github.com/telekom/admission-gateway/pkg/system"
)

// DecisionKey holds the policy.Decision of an admitted request in the gin context.
const DecisionKey = "admissionDecision"

// Middleware evaluates every request whose path is not exactly one of
// exemptPaths. Denied requests are answered with 403 and never reach the
// handlers after it; admitted requests pass through untouched.
func (p *Pipeline) Middleware(exemptPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqPath := c.Request.URL.Path
		if slices.Contains(exemptPaths, reqPath) {
			c.Next()
			return
		}

		caller, ok := identity.CallerFrom(c)
		if !ok {
			caller = identity.Anonymous(identity.ClientAddress(c.Request, p.trustXFF))
		}

		d := p.Evaluate(c.Request.Context(), Request{
			Method:    c.Request.Method,
			Path:      reqPath,
			Caller:    caller,
			UserAgent: c.Request.UserAgent(),
			RequestID: system.RequestID(c),
		})
		if !d.Allow {
			if d.Reason == policy.ReasonRateLimited {
				if secs := retryAfterSeconds(d.RetryAfter); secs > 0 {
					c.Header("Retry-After", strconv.Itoa(secs))
				}
			}
			apiresponses.RespondDenied(c, string(d.Reason), d.Message)
			return
		}
		c.Set(DecisionKey, d)
		c.Next()
	}
}
