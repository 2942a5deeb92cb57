package policy

import (
	"fmt"
	"path"
	"strings"
)

// DefaultCategoryName is reported for requests that match no route.
const DefaultCategoryName = "default"

// Route maps a set of path patterns (and optionally methods) to the gates that
// apply to matching requests.
type Route struct {
	Name string
	// Patterns are slash separated globs. Each segment is matched with
	// path.Match; a "**" segment matches zero or more segments.
	Patterns []string
	// Methods restricts the route to the listed HTTP methods. Empty means any.
	Methods        []string
	TimeRestricted bool
	Privileged     bool
	RateLimited    bool
}

// Category is the classification of one request.
type Category struct {
	Name           string
	TimeRestricted bool
	Privileged     bool
	RateLimited    bool
}

// Gated reports whether any gate applies.
func (c Category) Gated() bool {
	return c.TimeRestricted || c.Privileged || c.RateLimited
}

// DefaultRoutes reproduces the messaging app's original middleware: the chat
// and conversation areas are closed at night and need a privileged role,
// messages need a privileged role, and posting anywhere under the three areas
// is rate limited.
func DefaultRoutes() []Route {
	return []Route{
		{Name: "chats", Patterns: []string{"**/chats/**"}, TimeRestricted: true, Privileged: true},
		{Name: "conversations", Patterns: []string{"**/conversations/**"}, TimeRestricted: true, Privileged: true},
		{Name: "messages", Patterns: []string{"**/messages/**"}, Privileged: true},
		{
			Name:        "post-message",
			Patterns:    []string{"**/chats/**", "**/conversations/**", "**/messages/**"},
			Methods:     []string{"POST"},
			RateLimited: true,
		},
	}
}

// Classifier resolves the category of a request.
type Classifier struct {
	routes []compiledRoute
}

type compiledRoute struct {
	Route
	patterns [][]string
	methods  map[string]struct{}
}

// NewClassifier validates and compiles the routes. Routes are matched in order.
func NewClassifier(routes []Route) (*Classifier, error) {
	c := &Classifier{routes: make([]compiledRoute, 0, len(routes))}
	for i, r := range routes {
		if r.Name == "" {
			return nil, fmt.Errorf("route %d: name is required", i)
		}
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("route %q: at least one pattern is required", r.Name)
		}
		cr := compiledRoute{Route: r}
		for _, p := range r.Patterns {
			if err := ValidatePattern(p); err != nil {
				return nil, fmt.Errorf("route %q: %w", r.Name, err)
			}
			cr.patterns = append(cr.patterns, segments(p))
		}
		if len(r.Methods) > 0 {
			cr.methods = make(map[string]struct{}, len(r.Methods))
			for _, m := range r.Methods {
				cr.methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
			}
		}
		c.routes = append(c.routes, cr)
	}
	return c, nil
}

// Routes returns the configured routes in match order.
func (c *Classifier) Routes() []Route {
	out := make([]Route, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r.Route)
	}
	return out
}

// Classify returns the union of the gates of every route matching the
// request. The category is named after the first matching route.
func (c *Classifier) Classify(method, requestPath string) Category {
	cat := Category{Name: DefaultCategoryName}
	segs := segments(requestPath)
	method = strings.ToUpper(method)

	matched := false
	for _, r := range c.routes {
		if !r.matches(method, segs) {
			continue
		}
		if !matched {
			cat.Name = r.Name
			matched = true
		}
		cat.TimeRestricted = cat.TimeRestricted || r.TimeRestricted
		cat.Privileged = cat.Privileged || r.Privileged
		cat.RateLimited = cat.RateLimited || r.RateLimited
	}
	return cat
}

func (r compiledRoute) matches(method string, segs []string) bool {
	if r.methods != nil {
		if _, ok := r.methods[method]; !ok {
			return false
		}
	}
	for _, p := range r.patterns {
		if matchSegments(p, segs) {
			return true
		}
	}
	return false
}

// ValidatePattern reports malformed route patterns.
func ValidatePattern(p string) error {
	if !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "**") {
		return fmt.Errorf("pattern %q must start with / or **", p)
	}
	for _, seg := range segments(p) {
		if seg == "**" {
			continue
		}
		if strings.Contains(seg, "**") {
			return fmt.Errorf("pattern %q: ** must be a whole segment", p)
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", p, err)
		}
	}
	return nil
}

// segments splits a path on "/" dropping empty segments, so "/a//b/" and
// "a/b" are equivalent.
func segments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, err := path.Match(pattern[0], segs[0]); err != nil || !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}
