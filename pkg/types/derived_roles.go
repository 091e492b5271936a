// Package types provides the shared data model for the policy decision core.
package types

import (
	"fmt"
	"strings"
)

// DerivedRole computes an extra role for a principal from a disjunction of
// parent-role patterns plus a conditional expression (§3, §4.4).
type DerivedRole struct {
	Name        string   `json:"name" yaml:"name"`
	ParentRoles []string `json:"parentRoles" yaml:"parentRoles"`
	Condition   string   `json:"condition" yaml:"condition"`
	// Scope restricts this definition the same way a ResourcePolicy's scope
	// does (§4.3 Open Question: DerivedRoles scope hierarchically, same as
	// resource policies).
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Match reports whether the principal qualifies for this derived role under
// §4.4's precise parent-role matching rules:
//   - an empty ParentRoles list matches any principal unconditionally
//     (the "public role" case)
//   - otherwise at least one entry must match a role the principal carries
//     (disjunction, not conjunction)
//   - "*" matches any principal that has at least one role
//   - "x:*" / "*:x" match role-name prefixes/suffixes on a literal colon
//   - anything else must match a role exactly
func (d *DerivedRole) Match(principalRoles []string) bool {
	if len(d.ParentRoles) == 0 {
		return true
	}

	for _, pattern := range d.ParentRoles {
		for _, role := range principalRoles {
			if matchesPattern(role, pattern) {
				return true
			}
		}
	}
	return false
}

// Validate checks the definition's structural invariants. Empty ParentRoles
// is valid (it is the explicit "public role" form, §4.4); it is the caller's
// responsibility to use that form deliberately.
func (d *DerivedRole) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("derived role name cannot be empty")
	}

	for _, parentRole := range d.ParentRoles {
		if parentRole == "" {
			return fmt.Errorf("derived role %q has empty parent role", d.Name)
		}
		if strings.Count(parentRole, "*") > 1 {
			return fmt.Errorf("derived role %q has invalid parent role pattern %q (multiple wildcards not supported)", d.Name, parentRole)
		}
	}

	return nil
}

// Identity returns the (kind, name, scope) tuple that must be unique within
// the catalog (§3 invariant 1; DerivedRoles carry no version).
func (d *DerivedRole) Identity() string {
	return strings.Join([]string{string(KindDerivedRoles), d.Name, d.Scope}, "\x1f")
}

// RoleGraphNode is a node in the derived-roles dependency graph used for
// cycle detection and topological evaluation order (§4.4).
type RoleGraphNode struct {
	Role         string
	Dependencies []string
	adjList      map[string]bool
}

// NewRoleGraphNode creates a new, empty graph node.
func NewRoleGraphNode(roleName string) *RoleGraphNode {
	return &RoleGraphNode{
		Role:         roleName,
		Dependencies: []string{},
		adjList:      make(map[string]bool),
	}
}

// AddDependency records that this node's definition names dependsOn among
// its parent roles.
func (n *RoleGraphNode) AddDependency(dependsOn string) {
	if !n.adjList[dependsOn] {
		n.Dependencies = append(n.Dependencies, dependsOn)
		n.adjList[dependsOn] = true
	}
}

// matchesPattern reports whether role satisfies a single parent-role
// pattern. Supported forms: exact match, "*" (any role), "prefix:*" and
// "*:suffix" (colon-delimited wildcard).
func matchesPattern(role, pattern string) bool {
	if role == pattern {
		return true
	}
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, ":*")
		return strings.HasPrefix(role, prefix+":")
	}
	if strings.HasPrefix(pattern, "*:") {
		suffix := strings.TrimPrefix(pattern, "*:")
		return strings.HasSuffix(role, ":"+suffix)
	}
	return false
}
