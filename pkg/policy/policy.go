package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/ratelimit"
)

// Reason classifies a denial.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonTimeRestricted  Reason = "TIME_RESTRICTED"
	ReasonRoleDenied      Reason = "ROLE_DENIED"
	ReasonUnauthenticated Reason = "UNAUTHENTICATED"
	ReasonRateLimited     Reason = "RATE_LIMITED"
	ReasonInternalError   Reason = "INTERNAL_ERROR"
)

const (
	DefaultBurstLimit = 5

	MessageUnauthenticated = "Access denied. Authentication required."
	MessageRoleNotFound    = "Access denied. User role not found."
	MessageInternalError   = "Access temporarily unavailable."
)

// DefaultPrivilegedRoles are allowed on privileged routes.
var DefaultPrivilegedRoles = []identity.Role{identity.RoleAdmin, identity.RoleModerator}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allow    bool
	Reason   Reason
	Message  string
	Category string
	// RetryAfter is set for RATE_LIMITED denials.
	RetryAfter time.Duration
}

// Config holds the policy parameters. Zero values fall back to defaults.
type Config struct {
	BurstLimit int
	// Hours defaults to DefaultRestrictedHours when nil. Start == End
	// disables the time gate.
	Hours           *RestrictedHours
	PrivilegedRoles []identity.Role
}

// Policy applies the gates in fixed order: time of day, role, rate. The first
// denying gate wins; a request passing every gate that applies is allowed.
type Policy struct {
	store      ratelimit.WindowStore
	limit      int
	hours      RestrictedHours
	privileged map[identity.Role]struct{}

	timeMessage string
	roleMessage string
	rateMessage string
}

// New builds a policy over the given window store.
func New(cfg Config, store ratelimit.WindowStore) (*Policy, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required")
	}
	if cfg.BurstLimit == 0 {
		cfg.BurstLimit = DefaultBurstLimit
	}
	if cfg.BurstLimit < 0 {
		return nil, fmt.Errorf("burst limit must be positive, got %d", cfg.BurstLimit)
	}
	if len(cfg.PrivilegedRoles) == 0 {
		cfg.PrivilegedRoles = DefaultPrivilegedRoles
	}
	hours := DefaultRestrictedHours()
	if cfg.Hours != nil {
		hours = *cfg.Hours
	}

	p := &Policy{
		store:      store,
		limit:      cfg.BurstLimit,
		hours:      hours,
		privileged: make(map[identity.Role]struct{}, len(cfg.PrivilegedRoles)),
	}
	names := make([]string, 0, len(cfg.PrivilegedRoles))
	for _, r := range cfg.PrivilegedRoles {
		r = identity.ParseRole(string(r))
		if r == identity.RoleNone {
			continue
		}
		p.privileged[r] = struct{}{}
		names = append(names, titleCase(string(r)))
	}

	p.timeMessage = fmt.Sprintf("Access denied. The messaging app is only available between %s and %s.",
		hours.End.Kitchen(), hours.Start.Kitchen())
	p.roleMessage = fmt.Sprintf("Access denied. %s role required.", strings.Join(names, " or "))
	p.rateMessage = fmt.Sprintf("Rate limit exceeded. Maximum %d messages per %s allowed.",
		cfg.BurstLimit, windowName(store.Window()))
	return p, nil
}

// Store returns the window store the rate gate uses.
func (p *Policy) Store() ratelimit.WindowStore { return p.store }

// BurstLimit returns the number of requests admitted per window.
func (p *Policy) BurstLimit() int { return p.limit }

// Evaluate decides on one request. Only the rate gate touches the store; an
// error from it is returned together with an INTERNAL_ERROR decision.
func (p *Policy) Evaluate(ctx context.Context, caller identity.CallerContext, cat Category, now time.Time) (Decision, error) {
	if cat.TimeRestricted && p.hours.Contains(now) {
		return p.deny(cat, ReasonTimeRestricted, p.timeMessage), nil
	}

	if cat.Privileged {
		if !caller.Authenticated {
			return p.deny(cat, ReasonUnauthenticated, MessageUnauthenticated), nil
		}
		role := identity.ParseRole(string(caller.Role))
		if role == identity.RoleNone {
			return p.deny(cat, ReasonRoleDenied, MessageRoleNotFound), nil
		}
		if _, ok := p.privileged[role]; !ok {
			return p.deny(cat, ReasonRoleDenied, p.roleMessage), nil
		}
	}

	if cat.RateLimited {
		adm, err := p.store.Admit(ctx, caller.Identity, now, p.limit)
		if err != nil {
			return p.deny(cat, ReasonInternalError, MessageInternalError), fmt.Errorf("rate gate for %q: %w", caller.Identity, err)
		}
		if !adm.Admitted {
			d := p.deny(cat, ReasonRateLimited, p.rateMessage)
			d.RetryAfter = adm.RetryAfter
			return d, nil
		}
	}

	return Decision{Allow: true, Category: cat.Name}, nil
}

func (p *Policy) deny(cat Category, reason Reason, msg string) Decision {
	return Decision{Reason: reason, Message: msg, Category: cat.Name}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func windowName(d time.Duration) string {
	switch d {
	case time.Second:
		return "second"
	case time.Minute:
		return "minute"
	case time.Hour:
		return "hour"
	default:
		return d.String()
	}
}
