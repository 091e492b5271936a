// Package types provides the shared data model for the policy decision core:
// principals, resources, requests, responses and the policy variants they
// are evaluated against.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Effect is the authorization decision for a single action. The core
// canonicalizes on the lowercase spelling internally; translating to any
// other wire-level spelling (e.g. EFFECT_ALLOW) is a transport concern.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Principal is the entity making the request.
type Principal struct {
	ID         string                 `json:"id"`
	Roles      []string               `json:"roles"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	// Scope is a dot-separated hierarchical path, e.g. "acme.corp.eng".
	Scope string `json:"scope,omitempty"`
}

// HasRole reports whether the principal carries the exact role name.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ToMap converts the principal into the map shape the expression evaluator
// operates on. "attr" is kept as an alias of "attributes" since policy
// conditions commonly use the shorter spelling.
func (p *Principal) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"id":         p.ID,
		"roles":      p.Roles,
		"attributes": p.Attributes,
		"attr":       p.Attributes,
		"scope":      p.Scope,
	}
}

// Resource is the target of the request.
type Resource struct {
	Kind       string                 `json:"kind"`
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Scope      string                 `json:"scope,omitempty"`
}

// ToMap converts the resource into the map shape the expression evaluator
// operates on.
func (r *Resource) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":       r.Kind,
		"id":         r.ID,
		"attributes": r.Attributes,
		"attr":       r.Attributes,
		"scope":      r.Scope,
	}
}

// CheckRequest is a single authorization check spanning one or more actions
// against one resource on behalf of one principal.
type CheckRequest struct {
	RequestID string                 `json:"requestId,omitempty"`
	Principal *Principal             `json:"principal"`
	Resource  *Resource              `json:"resource"`
	Actions   []string               `json:"actions"`
	AuxData   map[string]interface{} `json:"auxData,omitempty"`
}

// EnsureRequestID assigns a generated request id when the caller omitted one.
func (r *CheckRequest) EnsureRequestID() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
}

// fingerprintView is the canonical, representation-independent shape hashed
// by Fingerprint. encoding/json sorts map keys on marshal, which gives
// insertion-order invariance for attribute maps for free.
type fingerprintView struct {
	PrincipalID    string                 `json:"pid"`
	PrincipalScope string                 `json:"pscope"`
	Roles          []string               `json:"roles"`
	PrincipalAttrs map[string]interface{} `json:"pattrs"`
	ResourceKind   string                 `json:"rkind"`
	ResourceID     string                 `json:"rid"`
	ResourceScope  string                 `json:"rscope"`
	ResourceAttrs  map[string]interface{} `json:"rattrs"`
	Actions        []string               `json:"actions"`
	Aux            map[string]interface{} `json:"aux"`
}

// Fingerprint computes the decision-cache key for this request (§4.8). It
// must be invariant to insertion order of attribute keys and to role
// ordering, and sensitive to any value change, including null vs absent.
func (r *CheckRequest) Fingerprint() string {
	roles := append([]string(nil), r.Principal.Roles...)
	sort.Strings(roles)

	view := fingerprintView{
		PrincipalID:    r.Principal.ID,
		PrincipalScope: r.Principal.Scope,
		Roles:          roles,
		PrincipalAttrs: r.Principal.Attributes,
		ResourceKind:   r.Resource.Kind,
		ResourceID:     r.Resource.ID,
		ResourceScope:  r.Resource.Scope,
		ResourceAttrs:  r.Resource.Attributes,
		Actions:        r.Actions,
		Aux:            r.AuxData,
	}

	blob, err := json.Marshal(view)
	if err != nil {
		// The shape above always marshals; this is an unreachable fallback
		// that still produces a deterministic, if verbose, encoding.
		blob = []byte(fmt.Sprintf("%#v", view))
	}

	hash := sha256.Sum256(blob)
	return hex.EncodeToString(hash[:])
}

// CheckResponse carries one decision per requested action.
type CheckResponse struct {
	RequestID string                  `json:"requestId"`
	Results   map[string]ActionResult `json:"results"`
	Meta      *ResponseMeta           `json:"meta,omitempty"`
}

// ActionResult is the decision for a single action.
type ActionResult struct {
	Effect Effect            `json:"effect"`
	Policy string            `json:"policy,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// IsAllowed reports whether the effect is allow.
func (r ActionResult) IsAllowed() bool {
	return r.Effect == EffectAllow
}

// NoMatchPolicy is the sentinel policy identifier recorded for an action
// that matched no rule at all (implicit deny, as opposed to an explicit
// deny rule) — see §7 "policy field ... identifies which rule (or
// __no_match__) produced the effect".
const NoMatchPolicy = "__no_match__"

// ResponseMeta carries evaluation trace information for a check call.
type ResponseMeta struct {
	EvaluationDurationMs float64          `json:"evaluationDurationMs"`
	PoliciesEvaluated    []string         `json:"policiesEvaluated,omitempty"`
	CacheHit             bool             `json:"cacheHit"`
	DerivedRoles         []string         `json:"derivedRoles,omitempty"`
	ScopeResolution      *ScopeResolution `json:"scopeResolution,omitempty"`
	Timeout              bool             `json:"timeout,omitempty"`
}

// ScopeResolution records which scope in a request's ancestor chain
// actually produced a policy match.
type ScopeResolution struct {
	MatchedScope     string   `json:"matchedScope"`
	InheritanceChain []string `json:"inheritanceChain"`
	ScopedMatch      bool     `json:"scopedMatch"`
}

// PolicyKind discriminates the tagged policy variant (§3).
type PolicyKind string

const (
	KindResourcePolicy  PolicyKind = "ResourcePolicy"
	KindPrincipalPolicy PolicyKind = "PrincipalPolicy"
	KindDerivedRoles    PolicyKind = "DerivedRoles"
)

// Policy is a resource policy: an ordered set of rules for a resource kind,
// optionally restricted to a scope and version.
type Policy struct {
	APIVersion string  `json:"apiVersion" yaml:"apiVersion"`
	Name       string  `json:"name" yaml:"name"`
	Resource   string  `json:"resource" yaml:"resource"`
	Version    string  `json:"version,omitempty" yaml:"version,omitempty"`
	Scope      string  `json:"scope,omitempty" yaml:"scope,omitempty"`
	Rules      []*Rule `json:"rules" yaml:"rules"`
}

// Rule is a single resource-policy rule (§3 "Rule (resource policy)").
type Rule struct {
	Name         string   `json:"name" yaml:"name"`
	Actions      []string `json:"actions" yaml:"actions"`
	Effect       Effect   `json:"effect" yaml:"effect"`
	Condition    string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Roles        []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	DerivedRoles []string `json:"derivedRoles,omitempty" yaml:"derivedRoles,omitempty"`
	// RoleIndependent marks a rule that intentionally has neither roles nor
	// derivedRoles and should still be eligible to match (§3 invariant
	// escape hatch — e.g. "anyone may view the public changelog").
	RoleIndependent bool `json:"roleIndependent,omitempty" yaml:"roleIndependent,omitempty"`
}

// MatchesAction reports whether the rule applies to the given action.
func (r *Rule) MatchesAction(action string) bool {
	for _, a := range r.Actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

// MatchesRoles reports whether the rule's role requirement intersects the
// principal's effective role set (base roles ∪ derived roles). A rule with
// no role/derivedRole requirement matches only when explicitly marked
// role-independent (§3 invariant).
func (r *Rule) MatchesRoles(effectiveRoles []string) bool {
	if len(r.Roles) == 0 && len(r.DerivedRoles) == 0 {
		return r.RoleIndependent
	}

	required := make(map[string]struct{}, len(r.Roles)+len(r.DerivedRoles))
	for _, role := range r.Roles {
		required[role] = struct{}{}
	}
	for _, role := range r.DerivedRoles {
		required[role] = struct{}{}
	}

	for _, role := range effectiveRoles {
		if _, ok := required[role]; ok {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants from §3 that don't require
// expression compilation (the Validator handles those separately).
func (p *Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.Resource == "" {
		return fmt.Errorf("policy resource kind is required")
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("policy %q must have at least one rule", p.Name)
	}
	for i, rule := range p.Rules {
		if len(rule.Actions) == 0 {
			return fmt.Errorf("policy %q rule[%d] (%s): actions must be non-empty", p.Name, i, rule.Name)
		}
		if rule.Effect != EffectAllow && rule.Effect != EffectDeny {
			return fmt.Errorf("policy %q rule[%d] (%s): effect must be allow or deny", p.Name, i, rule.Name)
		}
		if len(rule.Roles) == 0 && len(rule.DerivedRoles) == 0 && !rule.RoleIndependent {
			return fmt.Errorf("policy %q rule[%d] (%s): requires roles or derivedRoles, or must be marked roleIndependent", p.Name, i, rule.Name)
		}
	}
	return nil
}

// Identity returns the (kind, name, scope, version) tuple that must be
// unique within the catalog (§3 invariant 1).
func (p *Policy) Identity() string {
	return strings.Join([]string{string(KindResourcePolicy), p.Name, p.Scope, p.Version}, "\x1f")
}
