// Package role defines the closed set of worker perspectives the
// orchestrator knows about, plus a validated custom fallback.
package role

import (
	"fmt"
	"strings"
)

// Role is a validated, normalized worker role name. Known roles carry
// keyword sets and framing text; any other valid name is a custom role.
type Role struct {
	name string
}

// Known roles, in canonical order.
var (
	Security      = Role{"security"}
	Performance   = Role{"performance"}
	Architecture  = Role{"architecture"}
	Testing       = Role{"testing"}
	Documentation = Role{"documentation"}
	Database      = Role{"database"}
	DevOps        = Role{"devops"}
	Frontend      = Role{"frontend"}
	General       = Role{"general"}
)

const maxNameLen = 64

type profile struct {
	keywords []string
	framing  string
}

var known = []Role{Security, Performance, Architecture, Testing, Documentation, Database, DevOps, Frontend, General}

var profiles = map[string]profile{
	"security": {
		keywords: []string{"security", "secure", "vulnerability", "vulnerabilities", "auth", "authentication", "authorization", "injection", "xss", "csrf", "secret", "secrets", "encryption", "permission", "permissions", "exploit"},
		framing:  "You are the security reviewer. Focus on vulnerabilities, authentication and authorization flaws, injection risks, secret handling, and unsafe defaults.",
	},
	"performance": {
		keywords: []string{"performance", "latency", "throughput", "slow", "fast", "optimize", "optimise", "optimization", "memory", "cpu", "cache", "caching", "benchmark", "scalability", "scale"},
		framing:  "You are the performance reviewer. Focus on latency, throughput, resource usage, caching, and scalability bottlenecks.",
	},
	"architecture": {
		keywords: []string{"architecture", "architectural", "design", "structure", "modular", "modularity", "coupling", "cohesion", "pattern", "patterns", "layering", "layers", "dependency", "dependencies"},
		framing:  "You are the architecture reviewer. Focus on structure, module boundaries, coupling, layering, and long-term maintainability.",
	},
	"testing": {
		keywords: []string{"test", "tests", "testing", "coverage", "unit", "integration", "regression", "flaky", "mock", "mocks"},
		framing:  "You are the testing reviewer. Focus on coverage gaps, test quality, missing edge cases, and flaky or brittle tests.",
	},
	"documentation": {
		keywords: []string{"docs", "documentation", "readme", "comments", "docstring", "explain", "tutorial", "guide"},
		framing:  "You are the documentation reviewer. Focus on clarity, completeness, and accuracy of documentation and comments.",
	},
	"database": {
		keywords: []string{"database", "sql", "query", "queries", "schema", "index", "indexes", "migration", "migrations", "transaction", "transactions"},
		framing:  "You are the database reviewer. Focus on schema design, query efficiency, indexing, migrations, and transactional correctness.",
	},
	"devops": {
		keywords: []string{"deploy", "deployment", "ci", "pipeline", "docker", "kubernetes", "k8s", "infrastructure", "terraform", "monitoring", "observability"},
		framing:  "You are the operations reviewer. Focus on deployment, CI/CD pipelines, infrastructure, and operability.",
	},
	"frontend": {
		keywords: []string{"ui", "ux", "frontend", "accessibility", "a11y", "css", "layout", "component", "components", "responsive"},
		framing:  "You are the frontend reviewer. Focus on user experience, accessibility, component structure, and rendering behavior.",
	},
	"general": {
		framing: "You are a general reviewer. Give a balanced assessment of the request.",
	},
}

const customFraming = "You are the %s reviewer. Analyze the request strictly from the %s perspective."

// Parse validates and normalizes a role name. Unknown but well-formed names
// become custom roles.
func Parse(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return Role{}, fmt.Errorf("role: name is required")
	}
	if len(name) > maxNameLen {
		return Role{}, fmt.Errorf("role: name %q exceeds %d characters", name, maxNameLen)
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return Role{}, fmt.Errorf("role: invalid character %q in %q", r, name)
		}
	}
	return Role{name}, nil
}

// MustParse is Parse for static names; it panics on error.
func MustParse(s string) Role {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseAll parses a list, dropping duplicates while keeping first-seen order.
func ParseAll(names []string) ([]Role, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Role, 0, len(names))
	for _, n := range names {
		r, err := Parse(n)
		if err != nil {
			return nil, err
		}
		if seen[r.name] {
			continue
		}
		seen[r.name] = true
		out = append(out, r)
	}
	return out, nil
}

// Known returns the known roles in canonical order.
func Known() []Role {
	out := make([]Role, len(known))
	copy(out, known)
	return out
}

// String returns the role name.
func (r Role) String() string { return r.name }

// IsZero reports whether r is the zero Role.
func (r Role) IsZero() bool { return r.name == "" }

// IsCustom reports whether r is outside the known set.
func (r Role) IsCustom() bool {
	_, ok := profiles[r.name]
	return r.name != "" && !ok
}

// Keywords returns the analyzer keyword set. Custom roles have none.
func (r Role) Keywords() []string {
	return profiles[r.name].keywords
}

// Framing returns the text prepended to a task prompt for this role.
func (r Role) Framing() string {
	if p, ok := profiles[r.name]; ok {
		return p.framing
	}
	return fmt.Sprintf(customFraming, r.name, r.name)
}

// Rank is the role's position in canonical order; custom roles sort last.
func (r Role) Rank() int {
	for i, k := range known {
		if k == r {
			return i
		}
	}
	return len(known)
}

// Names converts roles to their string names.
func Names(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.name
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.name), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
