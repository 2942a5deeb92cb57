package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/ratelimit"
)

var (
	timeOnly   = Category{Name: "chats", TimeRestricted: true}
	privileged = Category{Name: "messages", Privileged: true}
	rateOnly   = Category{Name: "post-message", RateLimited: true}
	allGates   = Category{Name: "chats", TimeRestricted: true, Privileged: true, RateLimited: true}
	ungated    = Category{Name: DefaultCategoryName}

	admin  = identity.CallerContext{Identity: "1.2.3.4", Subject: "alice", Role: identity.RoleAdmin, Authenticated: true}
	member = identity.CallerContext{Identity: "1.2.3.4", Subject: "bob", Role: identity.RoleMember, Authenticated: true}
)

func newPolicy(t *testing.T, cfg Config) (*Policy, *ratelimit.MemoryWindowStore) {
	t.Helper()
	if cfg.Hours == nil {
		hours := DefaultRestrictedHours()
		cfg.Hours = &hours
	}
	cfg.Hours.Location = time.UTC
	store := ratelimit.NewMemoryWindowStore(time.Minute)
	p, err := New(cfg, store)
	require.NoError(t, err)
	return p, store
}

func TestEvaluate_TimeGate(t *testing.T) {
	p, _ := newPolicy(t, Config{})
	ctx := context.Background()

	cases := []struct {
		t     time.Time
		allow bool
	}{
		{at(21, 0, 0), false},
		{at(20, 59, 59), true},
		{at(5, 59, 59), false},
		{at(6, 0, 0), true},
	}
	for _, tc := range cases {
		d, err := p.Evaluate(ctx, identity.Anonymous("1.2.3.4"), timeOnly, tc.t)
		require.NoError(t, err)
		assert.Equal(t, tc.allow, d.Allow, tc.t.Format(time.TimeOnly))
		if !tc.allow {
			assert.Equal(t, ReasonTimeRestricted, d.Reason)
			assert.Equal(t, "Access denied. The messaging app is only available between 6AM and 9PM.", d.Message)
			assert.Equal(t, "chats", d.Category)
		}
	}

	// Routes without the time flag are open at night.
	d, err := p.Evaluate(ctx, admin, privileged, at(23, 0, 0))
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestEvaluate_RoleGate(t *testing.T) {
	p, _ := newPolicy(t, Config{})
	ctx := context.Background()
	noon := at(12, 0, 0)

	cases := []struct {
		name    string
		caller  identity.CallerContext
		allow   bool
		reason  Reason
		message string
	}{
		{name: "admin", caller: admin, allow: true},
		{name: "lower case admin", caller: identity.CallerContext{Identity: "x", Role: "admin", Authenticated: true}, allow: true},
		{name: "mixed case moderator", caller: identity.CallerContext{Identity: "x", Role: "ModErator", Authenticated: true}, allow: true},
		{name: "member", caller: member, reason: ReasonRoleDenied, message: "Access denied. Admin or Moderator role required."},
		{name: "no role", caller: identity.CallerContext{Identity: "x", Authenticated: true}, reason: ReasonRoleDenied, message: MessageRoleNotFound},
		{name: "anonymous", caller: identity.Anonymous("x"), reason: ReasonUnauthenticated, message: MessageUnauthenticated},
		{name: "unauthenticated admin claim", caller: identity.CallerContext{Identity: "x", Role: identity.RoleAdmin}, reason: ReasonUnauthenticated, message: MessageUnauthenticated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := p.Evaluate(ctx, tc.caller, privileged, noon)
			require.NoError(t, err)
			assert.Equal(t, tc.allow, d.Allow)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.message, d.Message)
		})
	}
}

func TestEvaluate_CustomPrivilegedRoles(t *testing.T) {
	p, _ := newPolicy(t, Config{PrivilegedRoles: []identity.Role{"member", ""}})

	d, err := p.Evaluate(context.Background(), admin, privileged, at(12, 0, 0))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, "Access denied. Member role required.", d.Message)

	d, err = p.Evaluate(context.Background(), member, privileged, at(12, 0, 0))
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestEvaluate_RateGate(t *testing.T) {
	p, store := newPolicy(t, Config{})
	ctx := context.Background()
	caller := identity.Anonymous("1.2.3.4")
	t0 := at(12, 0, 0)

	for i := 0; i < 5; i++ {
		d, err := p.Evaluate(ctx, caller, rateOnly, t0.Add(time.Duration(2*i)*time.Second))
		require.NoError(t, err)
		assert.True(t, d.Allow, "request %d", i+1)
	}

	d, err := p.Evaluate(ctx, caller, rateOnly, t0.Add(9*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, "Rate limit exceeded. Maximum 5 messages per minute allowed.", d.Message)
	assert.Equal(t, 51*time.Second, d.RetryAfter)

	later := t0.Add(70 * time.Second)
	d, err = p.Evaluate(ctx, caller, rateOnly, later)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	n, err := store.Count(ctx, caller.Identity, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Another identity has its own window.
	d, err = p.Evaluate(ctx, identity.Anonymous("5.6.7.8"), rateOnly, t0.Add(9*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	p, store := newPolicy(t, Config{BurstLimit: 1})
	ctx := context.Background()
	night := at(22, 0, 0)
	noon := at(12, 0, 0)

	d, err := p.Evaluate(ctx, identity.Anonymous("1.2.3.4"), allGates, night)
	require.NoError(t, err)
	assert.Equal(t, ReasonTimeRestricted, d.Reason, "time gate precedes role gate")

	d, err = p.Evaluate(ctx, member, allGates, noon)
	require.NoError(t, err)
	assert.Equal(t, ReasonRoleDenied, d.Reason, "role gate precedes rate gate")

	// Denials by earlier gates leave the window untouched.
	n, err := store.Count(ctx, member.Identity, noon)
	require.NoError(t, err)
	assert.Zero(t, n)

	d, err = p.Evaluate(ctx, admin, allGates, noon)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = p.Evaluate(ctx, admin, allGates, noon.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, "Rate limit exceeded. Maximum 1 messages per minute allowed.", d.Message)
}

func TestEvaluate_DefaultAllow(t *testing.T) {
	p, store := newPolicy(t, Config{})
	for i := 0; i < 20; i++ {
		d, err := p.Evaluate(context.Background(), identity.Anonymous("1.2.3.4"), ungated, at(23, 0, 0))
		require.NoError(t, err)
		assert.True(t, d.Allow)
		assert.Equal(t, ReasonNone, d.Reason)
		assert.Equal(t, DefaultCategoryName, d.Category)
	}
	assert.Zero(t, store.Len())
}

type failingStore struct {
	ratelimit.WindowStore
	err error
}

func (f failingStore) Admit(context.Context, string, time.Time, int) (ratelimit.Admission, error) {
	return ratelimit.Admission{}, f.err
}

func (f failingStore) Window() time.Duration { return time.Minute }

func TestEvaluate_StoreFailure(t *testing.T) {
	cause := errors.Join(ratelimit.ErrStoreUnavailable, errors.New("connection refused"))
	p, err := New(Config{}, failingStore{err: cause})
	require.NoError(t, err)

	d, err := p.Evaluate(context.Background(), identity.Anonymous("1.2.3.4"), rateOnly, at(12, 0, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrStoreUnavailable)
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonInternalError, d.Reason)
	assert.Equal(t, MessageInternalError, d.Message)
}

func TestNew(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)

	_, err = New(Config{BurstLimit: -1}, ratelimit.NewMemoryWindowStore(time.Minute))
	assert.Error(t, err)

	p, err := New(Config{}, ratelimit.NewMemoryWindowStore(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, DefaultBurstLimit, p.BurstLimit())
	assert.Equal(t, "Rate limit exceeded. Maximum 5 messages per 30s allowed.", p.rateMessage)
	assert.Equal(t, DefaultRestrictedHours(), p.hours)
	assert.Equal(t, "Access denied. The messaging app is only available between 6AM and 9PM.", p.timeMessage)
}

func TestNew_ExplicitHours(t *testing.T) {
	store := ratelimit.NewMemoryWindowStore(time.Minute)

	open := RestrictedHours{Location: time.UTC}
	p, err := New(Config{Hours: &open}, store)
	require.NoError(t, err)
	d, err := p.Evaluate(context.Background(), admin, allGates, time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, d.Allow, "start == end disables the time gate")

	late := RestrictedHours{Start: ClockTime{Hour: 22, Minute: 30}, End: ClockTime{Hour: 5}, Location: time.UTC}
	p, err = New(Config{Hours: &late}, store)
	require.NoError(t, err)
	assert.Equal(t, "Access denied. The messaging app is only available between 5AM and 10:30PM.", p.timeMessage)
}
