// Package policy implements the policy catalog: load, validate, index, and
// atomically hot-reload the three policy kinds the core evaluates against
// (§4.3).
package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/authz-engine/go-core/internal/derived_roles"
	"github.com/authz-engine/go-core/pkg/types"
)

// EventType is the kind of change a catalog reload produced.
type EventType int

const (
	EventAdded EventType = iota
	EventModified
	EventDeleted
	EventReloaded
)

// PolicyEvent is published to Notifier subscribers on every catalog change.
type PolicyEvent struct {
	Type   EventType
	Policy string
}

// snapshot is the catalog's entire indexed state. ReplaceAll builds a new
// snapshot and swaps the pointer atomically: in-flight readers keep using
// the old snapshot to completion, new readers see the new one immediately,
// and no reader ever observes a partially-updated index (§4.3 "readers
// see either pre or post state, never a partial index").
type snapshot struct {
	resourceByName map[string]*types.Policy
	resourceByKind map[string][]*types.Policy
	// scope -> resource kind -> policies
	resourceByScope map[string]map[string][]*types.Policy

	principalByID  map[string]*types.PrincipalPolicy
	principalExact map[string][]*types.PrincipalPolicy // keyed by exact principal id
	principalAll   []*types.PrincipalPolicy            // wildcard/pattern principals, scanned in order

	derivedRoles []*types.DerivedRole
	version      string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		resourceByName:  make(map[string]*types.Policy),
		resourceByKind:  make(map[string][]*types.Policy),
		resourceByScope: make(map[string]map[string][]*types.Policy),
		principalByID:   make(map[string]*types.PrincipalPolicy),
		principalExact:  make(map[string][]*types.PrincipalPolicy),
	}
}

// Catalog is the policy catalog (§4.3 "PolicyCatalog"): an atomically
// swappable, concurrently-readable index over resource policies, principal
// policies and derived-role definitions.
type Catalog struct {
	current atomic.Pointer[snapshot]
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.current.Store(emptySnapshot())
	return c
}

// ReplaceAll atomically replaces the entire catalog contents (§4.3
// "Hot reload contract"). Identity collisions (same kind/name/scope/
// version) are rejected before the swap, leaving the prior snapshot live.
func (c *Catalog) ReplaceAll(resourcePolicies []*types.Policy, principalPolicies []*types.PrincipalPolicy, derivedRoles []*types.DerivedRole, version string) error {
	next := emptySnapshot()
	next.version = version

	seen := make(map[string]bool)

	for _, p := range resourcePolicies {
		id := p.Identity()
		if seen[id] {
			return fmt.Errorf("duplicate resource policy identity: %s/%s/%s/%s", p.Name, p.Resource, p.Scope, p.Version)
		}
		seen[id] = true

		next.resourceByName[p.Name] = p
		next.resourceByKind[p.Resource] = append(next.resourceByKind[p.Resource], p)
		if p.Scope != "" {
			if next.resourceByScope[p.Scope] == nil {
				next.resourceByScope[p.Scope] = make(map[string][]*types.Policy)
			}
			next.resourceByScope[p.Scope][p.Resource] = append(next.resourceByScope[p.Scope][p.Resource], p)
		}
	}

	for _, p := range principalPolicies {
		id := p.Identity()
		if seen[id] {
			return fmt.Errorf("duplicate principal policy identity: %s/%s/%s", p.Principal, p.Scope, p.Version)
		}
		seen[id] = true

		next.principalByID[p.Principal] = p
		if isExactPrincipal(p.Principal) {
			next.principalExact[p.Principal] = append(next.principalExact[p.Principal], p)
		} else {
			next.principalAll = append(next.principalAll, p)
		}
	}

	drSeen := make(map[string]bool)
	for _, dr := range derivedRoles {
		id := dr.Identity()
		if drSeen[id] {
			return fmt.Errorf("duplicate derived role identity: %s/%s", dr.Name, dr.Scope)
		}
		drSeen[id] = true
		next.derivedRoles = append(next.derivedRoles, dr)
	}

	if err := validateDerivedRoleCycles(derivedRoles); err != nil {
		return err
	}

	c.current.Store(next)
	return nil
}

// validateDerivedRoleCycles rejects a derived-role set containing a cycle
// in the parent-role dependency graph (§3 invariant 2, §4.4 "reject load if
// any cycle exists"). A cycle is checked within each scope's visible set —
// that scope's own definitions plus every unscoped definition, since
// unscoped definitions are visible everywhere.
func validateDerivedRoleCycles(derivedRoles []*types.DerivedRole) error {
	if len(derivedRoles) == 0 {
		return nil
	}

	drValidator, err := derived_roles.NewDerivedRolesValidator()
	if err != nil {
		return fmt.Errorf("failed to initialize derived-role validator: %w", err)
	}

	var unscoped []*types.DerivedRole
	byScope := make(map[string][]*types.DerivedRole)
	for _, dr := range derivedRoles {
		if dr.Scope == "" {
			unscoped = append(unscoped, dr)
		} else {
			byScope[dr.Scope] = append(byScope[dr.Scope], dr)
		}
	}

	if err := drValidator.ValidateAll(unscoped); err != nil {
		return err
	}
	for s, scoped := range byScope {
		group := make([]*types.DerivedRole, 0, len(unscoped)+len(scoped))
		group = append(group, unscoped...)
		group = append(group, scoped...)
		if err := drValidator.ValidateAll(group); err != nil {
			return fmt.Errorf("scope %q: %w", s, err)
		}
	}
	return nil
}

func isExactPrincipal(pattern string) bool {
	if pattern == "*" {
		return false
	}
	for _, r := range pattern {
		if r == '*' {
			return false
		}
	}
	return true
}

// FindResourcePolicies returns resource policies for kind visible at scope
// or any ancestor in scopeChain (most specific first — callers resolve the
// scope chain via internal/scope and pass it in, most-to-least specific).
// Unscoped (global) policies are always included.
func (c *Catalog) FindResourcePolicies(scopeChain []string, kind string) []*types.Policy {
	snap := c.current.Load()

	var result []*types.Policy
	for _, scope := range scopeChain {
		if kindMap, ok := snap.resourceByScope[scope]; ok {
			result = append(result, kindMap[kind]...)
		}
	}
	for _, p := range snap.resourceByKind[kind] {
		if p.Scope == "" {
			result = append(result, p)
		}
	}
	return result
}

// FindPrincipalPolicies returns principal policies whose principal pattern
// matches principalID, in catalog order (§4.5 "evaluated in catalog
// order"): exact-id matches first, then pattern matches.
func (c *Catalog) FindPrincipalPolicies(principalID string) []*types.PrincipalPolicy {
	snap := c.current.Load()

	var result []*types.PrincipalPolicy
	result = append(result, snap.principalExact[principalID]...)
	for _, p := range snap.principalAll {
		if p.MatchesPrincipalID(principalID) {
			result = append(result, p)
		}
	}
	return result
}

// DerivedRoleDefinitions returns every derived-role definition visible at
// scope or its ancestors (unscoped definitions are always included).
func (c *Catalog) DerivedRoleDefinitions(scopeChain []string) []*types.DerivedRole {
	snap := c.current.Load()
	chain := make(map[string]bool, len(scopeChain))
	for _, s := range scopeChain {
		chain[s] = true
	}

	var result []*types.DerivedRole
	for _, dr := range snap.derivedRoles {
		if dr.Scope == "" || chain[dr.Scope] {
			result = append(result, dr)
		}
	}
	return result
}

// GetResourcePolicy looks up a single resource policy by name.
func (c *Catalog) GetResourcePolicy(name string) (*types.Policy, bool) {
	snap := c.current.Load()
	p, ok := snap.resourceByName[name]
	return p, ok
}

// Version returns the version tag of the snapshot currently live.
func (c *Catalog) Version() string {
	return c.current.Load().version
}

// Count returns the number of resource policies, principal policies and
// derived-role definitions currently loaded.
func (c *Catalog) Count() (resourcePolicies, principalPolicies, derivedRoles int) {
	snap := c.current.Load()
	return len(snap.resourceByName), len(snap.principalByID), len(snap.derivedRoles)
}

// AllResourcePolicies returns every loaded resource policy, for export and
// administrative listing.
func (c *Catalog) AllResourcePolicies() []*types.Policy {
	snap := c.current.Load()
	result := make([]*types.Policy, 0, len(snap.resourceByName))
	for _, p := range snap.resourceByName {
		result = append(result, p)
	}
	return result
}

// AllPrincipalPolicies returns every loaded principal policy.
func (c *Catalog) AllPrincipalPolicies() []*types.PrincipalPolicy {
	snap := c.current.Load()
	result := make([]*types.PrincipalPolicy, 0, len(snap.principalByID))
	for _, p := range snap.principalByID {
		result = append(result, p)
	}
	return result
}

// AllDerivedRoles returns every loaded derived-role definition, regardless
// of scope, for export and administrative listing.
func (c *Catalog) AllDerivedRoles() []*types.DerivedRole {
	snap := c.current.Load()
	result := make([]*types.DerivedRole, len(snap.derivedRoles))
	copy(result, snap.derivedRoles)
	return result
}

// Clear replaces the catalog with an empty snapshot.
func (c *Catalog) Clear() {
	c.current.Store(emptySnapshot())
}
