package policy

import (
	"fmt"
	"regexp"

	"github.com/authz-engine/go-core/internal/cel"
	"github.com/authz-engine/go-core/internal/perr"
	"github.com/authz-engine/go-core/internal/scope"
	"github.com/authz-engine/go-core/pkg/types"
)

// Validator checks a ResourcePolicy's structure, naming conventions and
// rule consistency, and compiles its CEL conditions through the shared
// expression engine so a syntax error is caught at load time (§4.2).
type Validator struct {
	celEngine     *cel.Engine
	seenRules     map[string]bool
	scopeResolver *scope.Resolver
}

// NewValidator creates a policy validator backed by celEngine. Passing the
// same engine instance the catalog evaluates rules with avoids compiling
// every condition twice.
func NewValidator(celEngine *cel.Engine) *Validator {
	return &Validator{
		celEngine:     celEngine,
		seenRules:     make(map[string]bool),
		scopeResolver: scope.NewResolver(scope.DefaultConfig()),
	}
}

// ValidatePolicy validates the structure and syntax of a resource policy.
func (v *Validator) ValidatePolicy(policy *types.Policy) error {
	if policy == nil {
		return fmt.Errorf("policy cannot be nil")
	}

	if err := v.validateBasicStructure(policy); err != nil {
		return &perr.SchemaError{Policy: policy.Name, Err: err}
	}
	if err := v.validateRules(policy); err != nil {
		return err
	}
	if err := v.checkForConflicts(policy); err != nil {
		return &perr.SchemaError{Policy: policy.Name, Err: err}
	}

	return nil
}

func (v *Validator) validateBasicStructure(policy *types.Policy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if policy.Resource == "" {
		return fmt.Errorf("policy resource kind is required")
	}
	if !isValidIdentifier(policy.Name) {
		return fmt.Errorf("invalid policy name format: %s (must be alphanumeric with hyphens/underscores)", policy.Name)
	}
	if policy.Resource != "*" && !isValidIdentifier(policy.Resource) {
		return fmt.Errorf("invalid resource kind format: %s (must be alphanumeric with hyphens/underscores, or \"*\")", policy.Resource)
	}
	if err := v.scopeResolver.ValidateScope(policy.Scope); err != nil {
		return fmt.Errorf("invalid scope: %w", err)
	}
	if len(policy.Rules) == 0 {
		return fmt.Errorf("policy must have at least one rule")
	}
	return nil
}

func (v *Validator) validateRules(policy *types.Policy) error {
	for i, rule := range policy.Rules {
		if err := v.validateRule(rule, i); err != nil {
			return &perr.SchemaError{Policy: policy.Name, Err: fmt.Errorf("rule at index %d: %w", i, err)}
		}
	}
	return nil
}

func (v *Validator) validateRule(rule *types.Rule, index int) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !isValidIdentifier(rule.Name) {
		return fmt.Errorf("invalid rule name format: %s", rule.Name)
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("rule must have at least one action")
	}

	for _, action := range rule.Actions {
		if action == "" {
			return fmt.Errorf("action cannot be empty")
		}
		if !isValidAction(action) {
			return fmt.Errorf("invalid action format: %s", action)
		}
	}

	if rule.Effect != types.EffectAllow && rule.Effect != types.EffectDeny {
		return fmt.Errorf("invalid effect: %s (must be 'allow' or 'deny')", rule.Effect)
	}

	if rule.Condition != "" {
		if err := v.validateCELExpression(rule.Condition); err != nil {
			return fmt.Errorf("invalid condition: %w", err)
		}
	}

	for _, role := range rule.Roles {
		if role == "" {
			return fmt.Errorf("role cannot be empty")
		}
		if !isValidIdentifier(role) && !isWildcardRole(role) {
			return fmt.Errorf("invalid role format: %s", role)
		}
	}

	for _, drole := range rule.DerivedRoles {
		if drole == "" {
			return fmt.Errorf("derived role cannot be empty")
		}
		if !isValidIdentifier(drole) {
			return fmt.Errorf("invalid derived role format: %s", drole)
		}
	}

	if len(rule.Roles) == 0 && len(rule.DerivedRoles) == 0 && !rule.RoleIndependent {
		return fmt.Errorf("rule requires roles or derivedRoles, or must be marked roleIndependent")
	}

	return nil
}

// validateCELExpression compiles expression against the shared CEL engine.
// Compilation failures surface as the engine's own ParseError/
// ResourceExhaustedError. The result type is not checked here; a
// non-boolean result is reported as a TypeError when the condition is
// evaluated (cel.Engine.Evaluate).
func (v *Validator) validateCELExpression(expression string) error {
	if expression == "" {
		return fmt.Errorf("condition cannot be empty")
	}

	if _, err := v.celEngine.Compile(expression); err != nil {
		return err
	}

	return nil
}

// checkForConflicts rejects duplicate rule names within a policy. Rules
// with the same actions and different effects are allowed — deny-override
// combining (§2 step d) resolves them at evaluation time, in catalog order.
func (v *Validator) checkForConflicts(policy *types.Policy) error {
	seen := make(map[string]bool, len(policy.Rules))

	for i, rule := range policy.Rules {
		if seen[rule.Name] {
			return fmt.Errorf("duplicate rule name at index %d: %s", i, rule.Name)
		}
		seen[rule.Name] = true
	}

	return nil
}

func hasOverlappingActions(actions1, actions2 []string) bool {
	for _, a1 := range actions1 {
		for _, a2 := range actions2 {
			if a1 == "*" || a2 == "*" || a1 == a2 {
				return true
			}
		}
	}
	return false
}

func isValidIdentifier(s string) bool {
	pattern := `^[a-zA-Z_][a-zA-Z0-9_-]*$`
	matched, err := regexp.MatchString(pattern, s)
	return err == nil && matched
}

func isWildcardRole(role string) bool {
	pattern := `^([a-zA-Z_][a-zA-Z0-9_-]*:\*|\*:[a-zA-Z_][a-zA-Z0-9_-]*|\*)$`
	matched, err := regexp.MatchString(pattern, role)
	return err == nil && matched
}

func isValidAction(action string) bool {
	if action == "*" {
		return true
	}
	pattern := `^[a-zA-Z_][a-zA-Z0-9_:-]*$`
	matched, err := regexp.MatchString(pattern, action)
	return err == nil && matched
}

// ValidateRuleConsistency returns non-fatal warnings about rules that can
// never be reached given earlier rules in the same policy.
func (v *Validator) ValidateRuleConsistency(policy *types.Policy) []string {
	var warnings []string

	for i, rule := range policy.Rules {
		if i > 0 && rule.Effect == types.EffectDeny {
			for j := 0; j < i; j++ {
				prevRule := policy.Rules[j]
				if prevRule.Effect == types.EffectAllow && hasOverlappingActions(rule.Actions, prevRule.Actions) {
					warnings = append(warnings,
						fmt.Sprintf("rule %d (%s) might be unreachable: earlier allow rule (index %d) has overlapping actions",
							i, rule.Name, j))
				}
			}
		}
	}

	return warnings
}
