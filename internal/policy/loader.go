package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/cel"
	"github.com/authz-engine/go-core/internal/perr"
	"github.com/authz-engine/go-core/pkg/types"
)

// LoadResult is everything a directory load produced, split by kind so the
// catalog can index each independently.
type LoadResult struct {
	ResourcePolicies  []*types.Policy
	PrincipalPolicies []*types.PrincipalPolicy
	DerivedRoles      []*types.DerivedRole
}

// Loader reads policy documents from disk, parses them, and compiles every
// embedded CEL condition through the shared engine so a bad expression
// rejects the policy at load time rather than at evaluation time (§4.2).
type Loader struct {
	logger    *zap.Logger
	celEngine *cel.Engine
}

// NewLoader creates a policy loader backed by celEngine.
func NewLoader(logger *zap.Logger, celEngine *cel.Engine) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger, celEngine: celEngine}
}

// LoadFromDirectory loads every .yaml/.yml/.json file in path. A single
// bad file is logged and skipped rather than aborting the whole load, so a
// directory-wide reload can still make progress (§4.3 reload semantics
// apply at the replaceAll boundary, not per file).
func (l *Loader) LoadFromDirectory(path string) (*LoadResult, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	result := &LoadResult{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		filePath := filepath.Join(path, entry.Name())
		doc, err := l.LoadFromFile(filePath)
		if err != nil {
			l.logger.Error("failed to load policy file",
				zap.String("file", filePath), zap.Error(err))
			continue
		}

		switch {
		case doc.ResourcePolicy != nil:
			result.ResourcePolicies = append(result.ResourcePolicies, doc.ResourcePolicy)
		case doc.PrincipalPolicy != nil:
			result.PrincipalPolicies = append(result.PrincipalPolicies, doc.PrincipalPolicy)
		case doc.DerivedRoles != nil:
			result.DerivedRoles = append(result.DerivedRoles, doc.DerivedRoles...)
		}
	}

	return result, nil
}

// LoadFromFile loads and validates a single policy document.
func (l *Loader) LoadFromFile(filePath string) (*ParsedDocument, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	doc, err := parseDocument(content)
	if err != nil {
		return nil, err
	}

	if err := l.compileConditions(doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// compileConditions walks every condition expression in a parsed document
// and compiles it through the shared CEL engine, surfacing the first
// compilation failure as the policy's load error.
func (l *Loader) compileConditions(doc *ParsedDocument) error {
	switch {
	case doc.ResourcePolicy != nil:
		for i, rule := range doc.ResourcePolicy.Rules {
			if rule.Condition == "" {
				continue
			}
			if _, err := l.celEngine.Compile(rule.Condition); err != nil {
				return fmt.Errorf("policy %q rule[%d] (%s): %w", doc.ResourcePolicy.Name, i, rule.Name, err)
			}
		}
	case doc.PrincipalPolicy != nil:
		for i, rr := range doc.PrincipalPolicy.Rules {
			for j, ar := range rr.Actions {
				if ar.Condition == "" {
					continue
				}
				if _, err := l.celEngine.Compile(ar.Condition); err != nil {
					return fmt.Errorf("principal policy %q rule[%d].actions[%d]: %w", doc.PrincipalPolicy.Principal, i, j, err)
				}
			}
		}
	case doc.DerivedRoles != nil:
		for _, dr := range doc.DerivedRoles {
			if dr.Condition == "" {
				continue
			}
			if _, err := l.celEngine.Compile(dr.Condition); err != nil {
				return fmt.Errorf("derived role %q: %w", dr.Name, err)
			}
		}
	}
	return nil
}

// CompileCELExpression exposes direct compilation for callers that want to
// check a standalone expression without a full document.
func (l *Loader) CompileCELExpression(expression string) error {
	_, err := l.celEngine.Compile(expression)
	return err
}

// EvaluateCELCondition compiles (if necessary) and evaluates expression
// against principal/resource/context.
func (l *Loader) EvaluateCELCondition(expression string, principal *types.Principal,
	resource *types.Resource, context map[string]interface{}) (bool, error) {

	ctx := &cel.EvalContext{
		Principal: principal.ToMap(),
		Resource:  resource.ToMap(),
		Variables: context,
		Aux:       map[string]interface{}{},
	}
	result, err := l.celEngine.EvaluateExpression(expression, ctx)
	if err != nil {
		return false, &perr.TypeError{Expression: expression, Err: err}
	}
	return result, nil
}

// ClearCache discards the engine's compiled-program cache.
func (l *Loader) ClearCache() {
	l.celEngine.ClearCache()
}
