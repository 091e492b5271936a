// Package policy provides enhanced validation for import operations
package policy

import (
	"fmt"
	"strings"

	"github.com/authz-engine/go-core/internal/cel"
	"github.com/authz-engine/go-core/pkg/types"
)

// ImportValidationError represents a policy validation error encountered
// while validating an import batch.
type ImportValidationError struct {
	PolicyName string `json:"policy,omitempty"`
	Field      string `json:"field"`
	Message    string `json:"message"`
	Line       int    `json:"line,omitempty"`
}

// Error implements the error interface
func (e *ImportValidationError) Error() string {
	if e.PolicyName != "" {
		return fmt.Sprintf("policy %s: %s: %s", e.PolicyName, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ImportValidationResult contains the outcome of validating an import batch.
type ImportValidationResult struct {
	Valid    bool                     `json:"valid"`
	Errors   []*ImportValidationError `json:"errors,omitempty"`
	Warnings []*ImportValidationError `json:"warnings,omitempty"`
}

// ImportValidator validates policies during import, checking both document
// structure and references against what is already live in the catalog.
type ImportValidator struct {
	celEngine *cel.Engine
	catalog   *Catalog
}

// NewImportValidator creates a new import validator backed by catalog.
func NewImportValidator(catalog *Catalog) (*ImportValidator, error) {
	celEngine, err := cel.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL engine: %w", err)
	}

	return &ImportValidator{
		celEngine: celEngine,
		catalog:   catalog,
	}, nil
}

// ValidateResourcePolicy validates a single resource policy.
func (v *ImportValidator) ValidateResourcePolicy(policy *types.Policy) *ImportValidationResult {
	result := &ImportValidationResult{
		Valid:    true,
		Errors:   make([]*ImportValidationError, 0),
		Warnings: make([]*ImportValidationError, 0),
	}

	if policy.Name == "" {
		result.Valid = false
		result.Errors = append(result.Errors, &ImportValidationError{
			Field:   "name",
			Message: "policy name is required",
		})
	}

	if policy.APIVersion == "" {
		result.Valid = false
		result.Errors = append(result.Errors, &ImportValidationError{
			PolicyName: policy.Name,
			Field:      "apiVersion",
			Message:    "API version is required",
		})
	}

	if policy.Resource == "" {
		result.Valid = false
		result.Errors = append(result.Errors, &ImportValidationError{
			PolicyName: policy.Name,
			Field:      "resource",
			Message:    "resource kind is required",
		})
	}

	if len(policy.Rules) == 0 {
		result.Warnings = append(result.Warnings, &ImportValidationError{
			PolicyName: policy.Name,
			Field:      "rules",
			Message:    "policy has no rules",
		})
	}

	for i, rule := range policy.Rules {
		v.validateRule(policy.Name, i, rule, result)
	}

	return result
}

// ValidatePrincipalPolicy validates a single principal policy.
func (v *ImportValidator) ValidatePrincipalPolicy(policy *types.PrincipalPolicy) *ImportValidationResult {
	result := &ImportValidationResult{
		Valid:    true,
		Errors:   make([]*ImportValidationError, 0),
		Warnings: make([]*ImportValidationError, 0),
	}

	if policy.Principal == "" {
		result.Valid = false
		result.Errors = append(result.Errors, &ImportValidationError{
			Field:   "principal",
			Message: "principal pattern is required",
		})
	}

	if len(policy.Rules) == 0 {
		result.Warnings = append(result.Warnings, &ImportValidationError{
			PolicyName: policy.Principal,
			Field:      "rules",
			Message:    "principal policy has no rules",
		})
	}

	for i, rr := range policy.Rules {
		if rr.Resource == "" {
			result.Valid = false
			result.Errors = append(result.Errors, &ImportValidationError{
				PolicyName: policy.Principal,
				Field:      fmt.Sprintf("rules[%d].resource", i),
				Message:    "resource kind is required",
			})
		}
		for j, ar := range rr.Actions {
			prefix := fmt.Sprintf("rules[%d].actions[%d]", i, j)
			if ar.Action == "" {
				result.Valid = false
				result.Errors = append(result.Errors, &ImportValidationError{
					PolicyName: policy.Principal,
					Field:      prefix,
					Message:    "action is required",
				})
			}
			if ar.Effect != types.EffectAllow && ar.Effect != types.EffectDeny {
				result.Valid = false
				result.Errors = append(result.Errors, &ImportValidationError{
					PolicyName: policy.Principal,
					Field:      prefix + ".effect",
					Message:    "effect must be 'allow' or 'deny'",
				})
			}
			if ar.Condition != "" {
				if err := v.validateCELExpression(ar.Condition); err != nil {
					result.Valid = false
					result.Errors = append(result.Errors, &ImportValidationError{
						PolicyName: policy.Principal,
						Field:      prefix + ".condition",
						Message:    fmt.Sprintf("invalid CEL expression: %v", err),
					})
				}
			}
		}
	}

	return result
}

// validateRule validates a single resource-policy rule
func (v *ImportValidator) validateRule(policyName string, index int, rule *types.Rule, result *ImportValidationResult) {
	rulePrefix := fmt.Sprintf("rules[%d]", index)

	if rule.Name == "" {
		result.Valid = false
		result.Errors = append(result.Errors, &ImportValidationError{
			PolicyName: policyName,
			Field:      fmt.Sprintf("%s.name", rulePrefix),
			Message:    "rule name is required",
		})
	}

	if len(rule.Actions) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, &ImportValidationError{
			PolicyName: policyName,
			Field:      fmt.Sprintf("%s.actions", rulePrefix),
			Message:    "at least one action is required",
		})
	}

	if rule.Effect != types.EffectAllow && rule.Effect != types.EffectDeny {
		result.Valid = false
		result.Errors = append(result.Errors, &ImportValidationError{
			PolicyName: policyName,
			Field:      fmt.Sprintf("%s.effect", rulePrefix),
			Message:    "effect must be 'allow' or 'deny'",
		})
	}

	if rule.Condition != "" {
		if err := v.validateCELExpression(rule.Condition); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, &ImportValidationError{
				PolicyName: policyName,
				Field:      fmt.Sprintf("%s.condition", rulePrefix),
				Message:    fmt.Sprintf("invalid CEL expression: %v", err),
			})
		}
	}

	for _, drName := range rule.DerivedRoles {
		if !v.derivedRoleExists(drName) {
			result.Warnings = append(result.Warnings, &ImportValidationError{
				PolicyName: policyName,
				Field:      fmt.Sprintf("%s.derivedRoles", rulePrefix),
				Message:    fmt.Sprintf("derived role %q not found in catalog", drName),
			})
		}
	}
}

func (v *ImportValidator) derivedRoleExists(name string) bool {
	for _, dr := range v.catalog.AllDerivedRoles() {
		if dr.Name == name {
			return true
		}
	}
	return false
}

// validateCELExpression validates a CEL expression
func (v *ImportValidator) validateCELExpression(expr string) error {
	_, err := v.celEngine.Compile(expr)
	return err
}

// ValidateDerivedRole validates a derived role
func (v *ImportValidator) ValidateDerivedRole(dr *types.DerivedRole) *ImportValidationResult {
	result := &ImportValidationResult{
		Valid:    true,
		Errors:   make([]*ImportValidationError, 0),
		Warnings: make([]*ImportValidationError, 0),
	}

	if dr.Name == "" {
		result.Valid = false
		result.Errors = append(result.Errors, &ImportValidationError{
			Field:   "name",
			Message: "derived role name is required",
		})
	}

	if len(dr.ParentRoles) == 0 {
		result.Warnings = append(result.Warnings, &ImportValidationError{
			PolicyName: dr.Name,
			Field:      "parentRoles",
			Message:    "derived role has no parent roles",
		})
	}

	if dr.Condition != "" {
		if err := v.validateCELExpression(dr.Condition); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, &ImportValidationError{
				PolicyName: dr.Name,
				Field:      "condition",
				Message:    fmt.Sprintf("invalid CEL expression: %v", err),
			})
		}
	}

	return result
}

// ValidateBatch validates multiple resource policies, principal policies and
// derived roles together, including cross-references between them.
func (v *ImportValidator) ValidateBatch(resourcePolicies []*types.Policy, principalPolicies []*types.PrincipalPolicy, derivedRoles []*types.DerivedRole) *ImportValidationResult {
	result := &ImportValidationResult{
		Valid:    true,
		Errors:   make([]*ImportValidationError, 0),
		Warnings: make([]*ImportValidationError, 0),
	}

	policyNames := make(map[string]bool)
	for _, policy := range resourcePolicies {
		if policy.Name != "" && policyNames[policy.Name] {
			result.Valid = false
			result.Errors = append(result.Errors, &ImportValidationError{
				PolicyName: policy.Name,
				Field:      "name",
				Message:    "duplicate policy name",
			})
		}
		policyNames[policy.Name] = true

		policyResult := v.ValidateResourcePolicy(policy)
		if !policyResult.Valid {
			result.Valid = false
		}
		result.Errors = append(result.Errors, policyResult.Errors...)
		result.Warnings = append(result.Warnings, policyResult.Warnings...)
	}

	principalIDs := make(map[string]bool)
	for _, pp := range principalPolicies {
		if pp.Principal != "" && principalIDs[pp.Principal] {
			result.Valid = false
			result.Errors = append(result.Errors, &ImportValidationError{
				PolicyName: pp.Principal,
				Field:      "principal",
				Message:    "duplicate principal policy",
			})
		}
		principalIDs[pp.Principal] = true

		ppResult := v.ValidatePrincipalPolicy(pp)
		if !ppResult.Valid {
			result.Valid = false
		}
		result.Errors = append(result.Errors, ppResult.Errors...)
		result.Warnings = append(result.Warnings, ppResult.Warnings...)
	}

	drNames := make(map[string]bool)
	for _, dr := range derivedRoles {
		if dr.Name != "" && drNames[dr.Name] {
			result.Valid = false
			result.Errors = append(result.Errors, &ImportValidationError{
				PolicyName: dr.Name,
				Field:      "name",
				Message:    "duplicate derived role name",
			})
		}
		drNames[dr.Name] = true

		drResult := v.ValidateDerivedRole(dr)
		if !drResult.Valid {
			result.Valid = false
		}
		result.Errors = append(result.Errors, drResult.Errors...)
		result.Warnings = append(result.Warnings, drResult.Warnings...)
	}

	v.validateCrossReferences(resourcePolicies, derivedRoles, result)

	return result
}

// validateCrossReferences validates references between policies and derived roles
func (v *ImportValidator) validateCrossReferences(policies []*types.Policy, derivedRoles []*types.DerivedRole, result *ImportValidationResult) {
	drNameSet := make(map[string]bool)
	for _, dr := range derivedRoles {
		drNameSet[dr.Name] = true
	}

	for _, policy := range policies {
		for _, rule := range policy.Rules {
			for _, drName := range rule.DerivedRoles {
				if !drNameSet[drName] && !v.derivedRoleExists(drName) {
					result.Warnings = append(result.Warnings, &ImportValidationError{
						PolicyName: policy.Name,
						Field:      "derivedRoles",
						Message:    fmt.Sprintf("derived role %q not found", drName),
					})
				}
			}
		}
	}
}

// FormatValidationErrors formats validation errors for display
func FormatValidationErrors(result *ImportValidationResult) string {
	if result.Valid {
		return "Validation passed"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Validation failed with %d error(s)\n", len(result.Errors)))

	for _, err := range result.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}

	if len(result.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("\nWarnings (%d):\n", len(result.Warnings)))
		for _, warn := range result.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn.Error()))
		}
	}

	return sb.String()
}
