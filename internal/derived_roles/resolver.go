// Package derived_roles resolves the extra roles a principal qualifies for
// under a catalog's DerivedRoles definitions (§4.4), evaluating each
// definition's condition in dependency order and detecting cycles among
// definitions that reference each other as parent roles.
package derived_roles

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/cel"
	"github.com/authz-engine/go-core/internal/perr"
	"github.com/authz-engine/go-core/pkg/types"
)

// DerivedRolesResolver resolves derived roles with topological ordering and
// CEL condition evaluation. Safe for concurrent use (the wrapped cel.Engine
// is its only mutable state and is itself concurrency-safe).
type DerivedRolesResolver struct {
	celEngine *cel.Engine
	logger    *zap.Logger
}

// NewDerivedRolesResolver creates a resolver with its own CEL engine.
func NewDerivedRolesResolver(logger *zap.Logger) (*DerivedRolesResolver, error) {
	celEngine, err := cel.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL engine: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DerivedRolesResolver{celEngine: celEngine, logger: logger}, nil
}

// Resolve returns the principal's effective role set: its base roles plus
// every derived role whose parent-role pattern matches and whose condition
// (if any) evaluates true against principal/resource. Definitions are
// evaluated in dependency order so a derived role that lists another
// derived role as a parent sees it already resolved.
func (r *DerivedRolesResolver) Resolve(
	principal *types.Principal,
	resource *types.Resource,
	derivedRoles []*types.DerivedRole,
) ([]string, error) {
	if principal == nil {
		return nil, fmt.Errorf("principal cannot be nil")
	}

	resolvedRoles := make(map[string]bool, len(principal.Roles))
	for _, role := range principal.Roles {
		resolvedRoles[role] = true
	}

	if len(derivedRoles) == 0 {
		return principal.Roles, nil
	}

	for _, dr := range derivedRoles {
		if err := dr.Validate(); err != nil {
			return nil, fmt.Errorf("invalid derived role: %w", err)
		}
	}

	graph, err := r.buildRoleGraph(derivedRoles)
	if err != nil {
		return nil, err
	}

	sortedRoles, err := r.topologicalSort(graph, derivedRoles)
	if err != nil {
		return nil, err
	}

	currentRoles := append([]string(nil), principal.Roles...)
	for _, derivedRole := range sortedRoles {
		if !derivedRole.Match(currentRoles) {
			continue
		}

		matched, err := r.evaluateCondition(derivedRole, principal, resource)
		if err != nil {
			// §4.1 error taxonomy: a condition failure makes this derived
			// role non-matching, it never fails the whole resolution.
			r.logger.Warn("derived role condition evaluation failed, treating as non-matching",
				zap.String("role", derivedRole.Name), zap.Error(err))
			continue
		}

		if matched && !resolvedRoles[derivedRole.Name] {
			resolvedRoles[derivedRole.Name] = true
			currentRoles = append(currentRoles, derivedRole.Name)
		}
	}

	result := make([]string, 0, len(resolvedRoles))
	for role := range resolvedRoles {
		result = append(result, role)
	}
	sort.Strings(result)

	return result, nil
}

// buildRoleGraph constructs the dependency graph among derived-role
// definitions: an edge dr -> parent exists when parent is itself a
// definition name referenced in dr's ParentRoles.
func (r *DerivedRolesResolver) buildRoleGraph(derivedRoles []*types.DerivedRole) (map[string]*types.RoleGraphNode, error) {
	graph := make(map[string]*types.RoleGraphNode)

	for _, dr := range derivedRoles {
		graph[dr.Name] = types.NewRoleGraphNode(dr.Name)
	}

	for _, dr := range derivedRoles {
		currentNode := graph[dr.Name]
		for _, parentRole := range dr.ParentRoles {
			if _, exists := graph[parentRole]; exists {
				currentNode.AddDependency(parentRole)
			}
		}
	}

	if err := r.detectCircularDependency(graph); err != nil {
		return nil, err
	}

	return graph, nil
}

// topologicalSort orders derived roles dependencies-first using Kahn's
// algorithm.
func (r *DerivedRolesResolver) topologicalSort(
	graph map[string]*types.RoleGraphNode,
	derivedRoles []*types.DerivedRole,
) ([]*types.DerivedRole, error) {
	roleMap := make(map[string]*types.DerivedRole, len(derivedRoles))
	for _, dr := range derivedRoles {
		roleMap[dr.Name] = dr
	}

	reverseEdges := make(map[string][]string)
	inDegree := make(map[string]int)

	for name := range graph {
		inDegree[name] = 0
		reverseEdges[name] = []string{}
	}

	for name, node := range graph {
		inDegree[name] = len(node.Dependencies)
		for _, dep := range node.Dependencies {
			reverseEdges[dep] = append(reverseEdges[dep], name)
		}
	}

	queue := []string{}
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	sorted := []string{}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)

		next := []string{}
		for _, dependent := range reverseEdges[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(sorted) != len(graph) {
		return nil, &perr.CircularDependencyError{Cycle: sorted}
	}

	result := make([]*types.DerivedRole, 0, len(derivedRoles))
	for _, name := range sorted {
		if dr, exists := roleMap[name]; exists {
			result = append(result, dr)
		}
	}

	return result, nil
}

// evaluateCondition evaluates a derived role's CEL condition. An empty
// condition always matches.
func (r *DerivedRolesResolver) evaluateCondition(
	derivedRole *types.DerivedRole,
	principal *types.Principal,
	resource *types.Resource,
) (bool, error) {
	if derivedRole.Condition == "" {
		return true, nil
	}

	ctx := &cel.EvalContext{
		Principal: principal.ToMap(),
		Resource:  map[string]interface{}{},
		Variables: map[string]interface{}{},
		Aux:       map[string]interface{}{},
	}
	if resource != nil {
		ctx.Resource = resource.ToMap()
	}

	return r.celEngine.EvaluateExpression(derivedRole.Condition, ctx)
}

// detectCircularDependency runs a 3-color DFS over the dependency graph.
func (r *DerivedRolesResolver) detectCircularDependency(graph map[string]*types.RoleGraphNode) error {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int)

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	var dfs func(string, []string) error
	dfs = func(node string, path []string) error {
		if state[node] == visiting {
			return &perr.CircularDependencyError{Cycle: append(append([]string(nil), path...), node)}
		}
		if state[node] == visited {
			return nil
		}

		state[node] = visiting
		path = append(path, node)

		if graphNode, exists := graph[node]; exists {
			deps := append([]string(nil), graphNode.Dependencies...)
			sort.Strings(deps)
			for _, dep := range deps {
				if err := dfs(dep, path); err != nil {
					return err
				}
			}
		}

		state[node] = visited
		return nil
	}

	for _, node := range names {
		if state[node] == unvisited {
			if err := dfs(node, []string{}); err != nil {
				return err
			}
		}
	}

	return nil
}
