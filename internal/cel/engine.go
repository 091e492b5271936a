// Package cel wraps github.com/google/cel-go into the restricted
// expression sublanguage the decision core evaluates policy conditions
// against (§4.1): arithmetic, comparison, boolean logic, membership, string
// functions, size, time operations and a fixed allow-list of authorization
// helpers. No I/O, no loops, no user-defined functions beyond that list.
package cel

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/authz-engine/go-core/internal/perr"
)

// DefaultMaxDepth is the per-evaluation AST recursion depth limit (§5
// "Resource limits"): exceeding it raises a ResourceExhaustedError at load
// time, before the expression is ever evaluated against a request.
const DefaultMaxDepth = 32

// Engine compiles and evaluates policy condition expressions. One Engine is
// shared across an entire catalog; compiled programs are cached by
// expression text for the lifetime of the Engine, or until ClearCache.
type Engine struct {
	env      *cel.Env
	maxDepth int
	programs sync.Map // map[string]cel.Program
}

// EvalContext is the read-only evaluation context §4.1 names
// {P: principal, R: resource, request, V: variables, A: auxData}.
type EvalContext struct {
	Principal map[string]interface{}
	Resource  map[string]interface{}
	Request   map[string]interface{}
	Variables map[string]interface{}
	Aux       map[string]interface{}
}

// NewEngine builds a CEL environment declaring the context variables and
// the fixed authorization function allow-list (§6 "Expression function
// catalog").
func NewEngine() (*Engine, error) {
	return NewEngineWithDepth(DefaultMaxDepth)
}

// NewEngineWithDepth is NewEngine with an explicit recursion-depth bound.
func NewEngineWithDepth(maxDepth int) (*Engine, error) {
	mapType := decls.NewMapType(decls.String, decls.Dyn)

	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("principal", mapType),
			decls.NewVar("P", mapType),
			decls.NewVar("resource", mapType),
			decls.NewVar("R", mapType),
			decls.NewVar("request", mapType),
			decls.NewVar("variables", mapType),
			decls.NewVar("V", mapType),
			decls.NewVar("auxData", mapType),
			decls.NewVar("A", mapType),
		),
		cel.Declarations(
			decls.NewFunction("hasRole",
				decls.NewOverload("hasRole_map_string",
					[]*exprpb.Type{mapType, decls.String}, decls.Bool)),
			decls.NewFunction("isOwner",
				decls.NewOverload("isOwner_map_map",
					[]*exprpb.Type{mapType, mapType}, decls.Bool)),
			decls.NewFunction("inList",
				decls.NewOverload("inList_string_list",
					[]*exprpb.Type{decls.String, decls.NewListType(decls.String)}, decls.Bool)),
			decls.NewFunction("inIPRange",
				decls.NewOverload("inIPRange_string_string",
					[]*exprpb.Type{decls.String, decls.String}, decls.Bool)),
			decls.NewFunction("now",
				decls.NewOverload("now_", nil, decls.Timestamp)),
			decls.NewFunction("hierarchy",
				decls.NewOverload("hierarchy_string_string",
					[]*exprpb.Type{decls.String, decls.String}, decls.Bool)),
			decls.NewFunction("hasPermission",
				decls.NewOverload("hasPermission_map_string",
					[]*exprpb.Type{mapType, decls.String}, decls.Bool)),
		),
		cel.Function("hasRole",
			cel.Overload("hasRole_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType, cel.BinaryBinding(hasRoleBinding))),
		cel.Function("isOwner",
			cel.Overload("isOwner_map_map",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.MapType(cel.StringType, cel.DynType)},
				cel.BoolType, cel.BinaryBinding(isOwnerBinding))),
		cel.Function("inList",
			cel.Overload("inList_string_list",
				[]*cel.Type{cel.StringType, cel.ListType(cel.StringType)},
				cel.BoolType, cel.BinaryBinding(inListBinding))),
		cel.Function("inIPRange",
			cel.Overload("inIPRange_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType, cel.BinaryBinding(inIPRangeBinding))),
		cel.Function("now",
			cel.Overload("now_", []*cel.Type{}, cel.TimestampType, cel.FunctionBinding(nowBinding))),
		cel.Function("hierarchy",
			cel.Overload("hierarchy_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType, cel.BinaryBinding(hierarchyBinding))),
		cel.Function("hasPermission",
			cel.Overload("hasPermission_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType, cel.BinaryBinding(hasPermissionBinding))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env, maxDepth: maxDepth}, nil
}

// Compile parses and type-checks expr, enforces the recursion-depth limit,
// and caches the resulting program for the lifetime of the Engine.
func (e *Engine) Compile(expr string) (cel.Program, error) {
	if prog, ok := e.programs.Load(expr); ok {
		return prog.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &perr.ParseError{Policy: expr, Err: issues.Err()}
	}

	if depth := astDepth(ast); depth > e.maxDepth {
		return nil, &perr.ResourceExhaustedError{
			Expression: expr,
			Limit:      fmt.Sprintf("recursion depth %d (max %d)", depth, e.maxDepth),
		}
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, &perr.ParseError{Policy: expr, Err: err}
	}

	e.programs.Store(expr, prog)
	return prog, nil
}

// Evaluate runs a compiled program against ctx. The returned error, when
// non-nil, is always one of the runtime types in internal/perr so callers
// can classify it per §7 ("rule treated as non-matching, trace records
// cause") without failing the enclosing Check call.
func (e *Engine) Evaluate(expr string, prog cel.Program, ctx *EvalContext) (bool, error) {
	vars := map[string]interface{}{
		"principal": ctx.Principal,
		"P":         ctx.Principal,
		"resource":  ctx.Resource,
		"R":         ctx.Resource,
		"request":   ctx.Request,
		"variables": ctx.Variables,
		"V":         ctx.Variables,
		"auxData":   ctx.Aux,
		"A":         ctx.Aux,
	}

	result, _, err := prog.Eval(vars)
	if err != nil {
		return false, classifyEvalError(expr, err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, &perr.TypeError{Expression: expr, Err: fmt.Errorf("expression did not evaluate to a boolean, got %T", result.Value())}
	}
	return boolVal, nil
}

// EvaluateExpression compiles (if necessary) and evaluates expr in one call.
func (e *Engine) EvaluateExpression(expr string, ctx *EvalContext) (bool, error) {
	prog, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return e.Evaluate(expr, prog, ctx)
}

// ClearCache discards all compiled programs, forcing recompilation on next
// use. The catalog reload path does not call it.
func (e *Engine) ClearCache() {
	e.programs = sync.Map{}
}

// classifyEvalError maps a cel-go evaluation error onto the §4.1/§7 runtime
// taxonomy. cel-go does not export typed eval errors, so classification is
// by message shape; this is deliberately conservative, defaulting to
// TypeError when the cause is ambiguous.
func classifyEvalError(expr string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such key") || strings.Contains(msg, "no such attribute") || strings.Contains(msg, "undeclared reference"):
		return &perr.UndefinedError{Expression: expr, Field: msg}
	case strings.Contains(msg, "overflow") || strings.Contains(msg, "divide by zero") || strings.Contains(msg, "division by zero") || strings.Contains(msg, "modulus by zero"):
		return &perr.ArithmeticError{Expression: expr, Err: err}
	default:
		return &perr.TypeError{Expression: expr, Err: err}
	}
}

// astDepth walks the checked expression tree and returns its maximum
// nesting depth, used to enforce the §5 recursion-depth resource limit
// before an expression is ever run against live request data.
func astDepth(ast *cel.Ast) int {
	checked, err := cel.AstToCheckedExpr(ast)
	if err != nil {
		return 0
	}
	return exprDepth(checked.GetExpr())
}

func exprDepth(e *exprpb.Expr) int {
	if e == nil {
		return 0
	}
	switch kind := e.GetExprKind().(type) {
	case *exprpb.Expr_CallExpr:
		max := 0
		for _, arg := range kind.CallExpr.GetArgs() {
			if d := exprDepth(arg); d > max {
				max = d
			}
		}
		if d := exprDepth(kind.CallExpr.GetTarget()); d > max {
			max = d
		}
		return 1 + max
	case *exprpb.Expr_ListExpr:
		max := 0
		for _, el := range kind.ListExpr.GetElements() {
			if d := exprDepth(el); d > max {
				max = d
			}
		}
		return 1 + max
	case *exprpb.Expr_StructExpr:
		max := 0
		for _, entry := range kind.StructExpr.GetEntries() {
			if d := exprDepth(entry.GetValue()); d > max {
				max = d
			}
		}
		return 1 + max
	case *exprpb.Expr_ComprehensionExpr:
		c := kind.ComprehensionExpr
		max := 0
		for _, sub := range []*exprpb.Expr{c.GetIterRange(), c.GetAccuInit(), c.GetLoopCondition(), c.GetLoopStep(), c.GetResult()} {
			if d := exprDepth(sub); d > max {
				max = d
			}
		}
		return 1 + max
	case *exprpb.Expr_SelectExpr:
		return 1 + exprDepth(kind.SelectExpr.GetOperand())
	default:
		return 1
	}
}

// hasRoleBinding implements hasRole(principal, role).
func hasRoleBinding(lhs, rhs ref.Val) ref.Val {
	principalMap, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	role, ok := rhs.Value().(string)
	if !ok {
		return types.False
	}
	return types.Bool(rolesContain(principalMap["roles"], role))
}

func rolesContain(raw interface{}, role string) bool {
	switch roles := raw.(type) {
	case []string:
		for _, r := range roles {
			if r == role {
				return true
			}
		}
	case []interface{}:
		for _, r := range roles {
			if s, ok := r.(string); ok && s == role {
				return true
			}
		}
	}
	return false
}

// isOwnerBinding implements isOwner(principal, resource), comparing the
// principal id against resource.attributes.ownerId (or its "attr" alias).
func isOwnerBinding(lhs, rhs ref.Val) ref.Val {
	principalMap, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	resourceMap, ok := rhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	principalID, _ := principalMap["id"].(string)

	for _, key := range []string{"attributes", "attr"} {
		if attrs, ok := resourceMap[key].(map[string]interface{}); ok {
			if ownerID, ok := attrs["ownerId"].(string); ok {
				return types.Bool(principalID != "" && principalID == ownerID)
			}
		}
	}
	return types.False
}

// inListBinding implements inList(value, list).
func inListBinding(lhs, rhs ref.Val) ref.Val {
	value, ok := lhs.Value().(string)
	if !ok {
		return types.False
	}
	switch list := rhs.Value().(type) {
	case []string:
		for _, item := range list {
			if item == value {
				return types.True
			}
		}
	case []interface{}:
		for _, item := range list {
			if s, ok := item.(string); ok && s == value {
				return types.True
			}
		}
	}
	return types.False
}

// inIPRangeBinding implements inIPRange(ip, cidr).
func inIPRangeBinding(lhs, rhs ref.Val) ref.Val {
	ipStr, ok := lhs.Value().(string)
	if !ok {
		return types.False
	}
	cidrStr, ok := rhs.Value().(string)
	if !ok {
		return types.False
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return types.False
	}
	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return types.False
	}
	return types.Bool(network.Contains(ip))
}

// nowBinding implements now() -> timestamp, the current evaluation time.
func nowBinding(_ ...ref.Val) ref.Val {
	return types.Timestamp{Time: time.Now().UTC()}
}

// hierarchyBinding implements hierarchy(scope, ancestorPattern), a dotted
// scope-path containment check usable directly from a condition expression
// (the same ancestor-chain semantics as internal/scope, exposed to CEL).
func hierarchyBinding(lhs, rhs ref.Val) ref.Val {
	scope, ok := lhs.Value().(string)
	if !ok {
		return types.False
	}
	pattern, ok := rhs.Value().(string)
	if !ok {
		return types.False
	}
	if pattern == scope || pattern == "*" {
		return types.True
	}
	return types.Bool(strings.HasPrefix(scope, pattern+"."))
}

// hasPermissionBinding implements hasPermission(principal, action), a
// convenience predicate over a principal's "permissions" attribute list
// (distinct from "roles", for conditions that want a flatter check).
func hasPermissionBinding(lhs, rhs ref.Val) ref.Val {
	principalMap, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	action, ok := rhs.Value().(string)
	if !ok {
		return types.False
	}
	attrs, ok := principalMap["attributes"].(map[string]interface{})
	if !ok {
		return types.False
	}
	return types.Bool(rolesContain(attrs["permissions"], action))
}
