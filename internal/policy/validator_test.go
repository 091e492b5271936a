package policy

import (
	"testing"

	"github.com/authz-engine/go-core/pkg/types"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	return NewValidator(newTestLoader(t).celEngine)
}

func TestValidator_ValidatePolicy_Valid(t *testing.T) {
	validator := newTestValidator(t)

	policy := &types.Policy{
		APIVersion: "v1",
		Name:       "test-policy",
		Resource:   "document",
		Rules: []*types.Rule{
			{
				Name:    "allow-read",
				Actions: []string{"read"},
				Effect:  types.EffectAllow,
				Roles:   []string{"viewer"},
			},
		},
	}

	err := validator.ValidatePolicy(policy)
	if err != nil {
		t.Fatalf("Expected no error for valid policy, got: %v", err)
	}
}

func TestValidator_ValidatePolicy_NilPolicy(t *testing.T) {
	validator := newTestValidator(t)
	err := validator.ValidatePolicy(nil)
	if err == nil {
		t.Error("Expected error for nil policy, got nil")
	}
}

func TestValidator_ValidatePolicy_MissingName(t *testing.T) {
	validator := newTestValidator(t)

	policy := &types.Policy{
		APIVersion: "v1",
		Resource:   "document",
		Rules: []*types.Rule{
			{
				Name:    "rule-1",
				Actions: []string{"read"},
				Effect:  types.EffectAllow,
				Roles:   []string{"viewer"},
			},
		},
	}

	err := validator.ValidatePolicy(policy)
	if err == nil {
		t.Error("Expected error for missing policy name, got nil")
	}
}

func TestValidator_ValidatePolicy_MissingResourceKind(t *testing.T) {
	validator := newTestValidator(t)

	policy := &types.Policy{
		APIVersion: "v1",
		Name:       "test-policy",
		Rules: []*types.Rule{
			{
				Name:    "rule-1",
				Actions: []string{"read"},
				Effect:  types.EffectAllow,
				Roles:   []string{"viewer"},
			},
		},
	}

	err := validator.ValidatePolicy(policy)
	if err == nil {
		t.Error("Expected error for missing resource kind, got nil")
	}
}

func TestValidator_ValidatePolicy_EmptyRules(t *testing.T) {
	validator := newTestValidator(t)

	policy := &types.Policy{
		APIVersion: "v1",
		Name:       "test-policy",
		Resource:   "document",
		Rules:      []*types.Rule{},
	}

	err := validator.ValidatePolicy(policy)
	if err == nil {
		t.Error("Expected error for empty rules, got nil")
	}
}

func TestValidator_ValidateRule_Valid(t *testing.T) {
	validator := newTestValidator(t)

	rule := &types.Rule{
		Name:    "allow-read",
		Actions: []string{"read"},
		Effect:  types.EffectAllow,
		Roles:   []string{"viewer"},
	}

	err := validator.validateRule(rule, 0)
	if err != nil {
		t.Fatalf("Expected no error for valid rule, got: %v", err)
	}
}

func TestValidator_ValidateRule_MissingName(t *testing.T) {
	validator := newTestValidator(t)

	rule := &types.Rule{
		Actions: []string{"read"},
		Effect:  types.EffectAllow,
		Roles:   []string{"viewer"},
	}

	err := validator.validateRule(rule, 0)
	if err == nil {
		t.Error("Expected error for missing rule name, got nil")
	}
}

func TestValidator_ValidateRule_EmptyActions(t *testing.T) {
	validator := newTestValidator(t)

	rule := &types.Rule{
		Name:    "rule-1",
		Actions: []string{},
		Effect:  types.EffectAllow,
		Roles:   []string{"viewer"},
	}

	err := validator.validateRule(rule, 0)
	if err == nil {
		t.Error("Expected error for empty actions, got nil")
	}
}

func TestValidator_ValidateRule_InvalidEffect(t *testing.T) {
	validator := newTestValidator(t)

	rule := &types.Rule{
		Name:    "rule-1",
		Actions: []string{"read"},
		Effect:  "invalid",
		Roles:   []string{"viewer"},
	}

	err := validator.validateRule(rule, 0)
	if err == nil {
		t.Error("Expected error for invalid effect, got nil")
	}
}

func TestValidator_ValidateRule_InvalidCELCondition(t *testing.T) {
	validator := newTestValidator(t)

	rule := &types.Rule{
		Name:      "rule-1",
		Actions:   []string{"read"},
		Effect:    types.EffectAllow,
		Roles:     []string{"viewer"},
		Condition: "invalid syntax ::::",
	}

	err := validator.validateRule(rule, 0)
	if err == nil {
		t.Error("Expected error for invalid CEL condition, got nil")
	}
}

func TestValidator_ValidateRule_RequiresRoleBinding(t *testing.T) {
	validator := newTestValidator(t)

	rule := &types.Rule{
		Name:    "rule-1",
		Actions: []string{"read"},
		Effect:  types.EffectAllow,
	}

	if err := validator.validateRule(rule, 0); err == nil {
		t.Error("Expected error for rule with no roles, derived roles, or roleIndependent, got nil")
	}

	rule.RoleIndependent = true
	if err := validator.validateRule(rule, 0); err != nil {
		t.Errorf("Expected roleIndependent rule to validate, got: %v", err)
	}
}

func TestValidator_ValidateCELExpression_Valid(t *testing.T) {
	validator := newTestValidator(t)

	tests := []struct {
		name       string
		expression string
		valid      bool
	}{
		{
			name:       "simple role check",
			expression: "hasRole(P, 'admin')",
			valid:      true,
		},
		{
			name:       "resource check",
			expression: "R.kind == 'document'",
			valid:      true,
		},
		{
			name:       "complex expression",
			expression: "hasRole(P, 'admin') && R.kind == 'document'",
			valid:      true,
		},
		{
			name:       "invalid syntax",
			expression: "invalid syntax ::::",
			valid:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.validateCELExpression(tt.expression)
			if (err != nil) != !tt.valid {
				t.Errorf("Expected valid=%v, got error=%v", tt.valid, err)
			}
		})
	}
}

func TestValidator_ValidateRoles(t *testing.T) {
	validator := newTestValidator(t)

	rule := &types.Rule{
		Name:    "rule-1",
		Actions: []string{"read"},
		Effect:  types.EffectAllow,
		Roles:   []string{"admin", "editor"},
	}

	err := validator.validateRule(rule, 0)
	if err != nil {
		t.Fatalf("Expected no error for valid roles, got: %v", err)
	}
}

func TestValidator_ValidateDerivedRoles(t *testing.T) {
	validator := newTestValidator(t)

	rule := &types.Rule{
		Name:         "rule-1",
		Actions:      []string{"read"},
		Effect:       types.EffectAllow,
		DerivedRoles: []string{"admin_member", "editor_member"},
	}

	err := validator.validateRule(rule, 0)
	if err != nil {
		t.Fatalf("Expected no error for valid derived roles, got: %v", err)
	}
}

func TestValidator_InvalidIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		isValid bool
	}{
		{"valid_name", "valid_name", true},
		{"valid-name", "valid-name", true},
		{"_leading_underscore", "_leading_underscore", true},
		{"123invalid", "123invalid", false},
		{"-invalid", "-invalid", false},
		{"with space", "with space", false},
		{"with@symbol", "with@symbol", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidIdentifier(tt.id)
			if result != tt.isValid {
				t.Errorf("Expected isValidIdentifier(%s) = %v, got %v", tt.id, tt.isValid, result)
			}
		})
	}
}

func TestValidator_InvalidActions(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		isValid bool
	}{
		{"read", "read", true},
		{"read_all", "read_all", true},
		{"namespace:read", "namespace:read", true},
		{"*", "*", true},
		{"123invalid", "123invalid", false},
		{"-invalid", "-invalid", false},
		{"with space", "with space", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidAction(tt.action)
			if result != tt.isValid {
				t.Errorf("Expected isValidAction(%s) = %v, got %v", tt.action, tt.isValid, result)
			}
		})
	}
}

func TestValidator_DuplicateRules(t *testing.T) {
	validator := newTestValidator(t)

	policy := &types.Policy{
		APIVersion: "v1",
		Name:       "test-policy",
		Resource:   "document",
		Rules: []*types.Rule{
			{
				Name:    "rule-1",
				Actions: []string{"read"},
				Effect:  types.EffectAllow,
				Roles:   []string{"viewer"},
			},
			{
				Name:    "rule-1",
				Actions: []string{"write"},
				Effect:  types.EffectDeny,
				Roles:   []string{"viewer"},
			},
		},
	}

	err := validator.ValidatePolicy(policy)
	if err == nil {
		t.Error("Expected error for duplicate rule names, got nil")
	}
}

func TestValidator_ValidateRuleConsistency(t *testing.T) {
	validator := newTestValidator(t)

	policy := &types.Policy{
		APIVersion: "v1",
		Name:       "test-policy",
		Resource:   "document",
		Rules: []*types.Rule{
			{
				Name:    "allow-read",
				Actions: []string{"read", "write"},
				Effect:  types.EffectAllow,
				Roles:   []string{"viewer"},
			},
			{
				Name:    "deny-read",
				Actions: []string{"read"},
				Effect:  types.EffectDeny,
				Roles:   []string{"viewer"},
			},
		},
	}

	warnings := validator.ValidateRuleConsistency(policy)
	if len(warnings) == 0 {
		t.Log("Note: Expected consistency warnings for potentially unreachable rule")
	}
}

func TestValidator_MultipleValidPolicies(t *testing.T) {
	validator := newTestValidator(t)

	policies := []*types.Policy{
		{
			APIVersion: "v1",
			Name:       "policy-1",
			Resource:   "document",
			Rules: []*types.Rule{
				{
					Name:    "rule-1",
					Actions: []string{"read"},
					Effect:  types.EffectAllow,
					Roles:   []string{"viewer"},
				},
			},
		},
		{
			APIVersion: "v1",
			Name:       "policy-2",
			Resource:   "resource",
			Rules: []*types.Rule{
				{
					Name:    "rule-2",
					Actions: []string{"write"},
					Effect:  types.EffectDeny,
					Roles:   []string{"editor"},
				},
			},
		},
	}

	for _, policy := range policies {
		err := validator.ValidatePolicy(policy)
		if err != nil {
			t.Errorf("Failed to validate policy %s: %v", policy.Name, err)
		}
	}
}
