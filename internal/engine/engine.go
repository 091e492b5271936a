// Package engine implements the decision engine (§4.7): the top-level
// orchestrator that turns a CheckRequest into a CheckResponse by consulting
// the catalog, the derived-roles resolver, and the decision cache.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/authz-engine/go-core/internal/cache"
	"github.com/authz-engine/go-core/internal/cel"
	"github.com/authz-engine/go-core/internal/derived_roles"
	"github.com/authz-engine/go-core/internal/perr"
	"github.com/authz-engine/go-core/internal/policy"
	"github.com/authz-engine/go-core/internal/scope"
	"github.com/authz-engine/go-core/pkg/types"
)

// Engine is the core authorization decision engine.
type Engine struct {
	celEngine            *cel.Engine
	catalog              *policy.Catalog
	cache                cache.Cache
	group                singleflight.Group
	workerPool           *WorkerPool
	scopeResolver        *scope.Resolver
	derivedRolesResolver *derived_roles.DerivedRolesResolver
	metrics              *Metrics
	logger               *zap.Logger

	sweepCancel context.CancelFunc

	config Config
}

// Config configures the decision engine.
type Config struct {
	// CacheEnabled enables the decision cache (§4.8).
	CacheEnabled bool
	// CacheSize is the maximum number of cached entries (default 10,000).
	CacheSize int
	// CacheTTL is the time-to-live for cached entries (default 1 hour).
	CacheTTL time.Duration
	// CacheSweepInterval is how often the background sweep evicts expired
	// entries eagerly, independent of lookups.
	CacheSweepInterval time.Duration
	// ParallelWorkers sizes the worker pool CheckBatch spreads requests
	// across.
	ParallelWorkers int
	// DefaultEffect is the effect produced when no rule matches an action
	// (§7 "implicit-deny default" — this should never be anything but
	// EffectDeny in a conforming deployment).
	DefaultEffect types.Effect
}

// DefaultConfig returns the decision engine's default configuration (§4.8
// policies: 10,000-entry capacity, 1-hour TTL).
func DefaultConfig() Config {
	return Config{
		CacheEnabled:       true,
		CacheSize:          10000,
		CacheTTL:           time.Hour,
		CacheSweepInterval: time.Minute,
		ParallelWorkers:    16,
		DefaultEffect:      types.EffectDeny,
	}
}

// New creates a new decision engine over catalog. catalog is shared with
// whatever is responsible for loading/hot-reloading policies; the engine
// only reads from it.
func New(cfg Config, catalog *policy.Catalog, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	celEngine, err := cel.NewEngine()
	if err != nil {
		return nil, err
	}

	derivedRolesResolver, err := derived_roles.NewDerivedRolesResolver(logger)
	if err != nil {
		return nil, err
	}

	var c cache.Cache
	var sweepCancel context.CancelFunc
	if cfg.CacheEnabled {
		c = cache.NewLRU(cfg.CacheSize, cfg.CacheTTL)

		interval := cfg.CacheSweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		var sweepCtx context.Context
		sweepCtx, sweepCancel = context.WithCancel(context.Background())
		go cache.Sweep(sweepCtx, c, interval)
	}

	return &Engine{
		celEngine:            celEngine,
		catalog:              catalog,
		cache:                c,
		workerPool:           NewWorkerPool(cfg.ParallelWorkers),
		scopeResolver:        scope.NewResolver(scope.DefaultConfig()),
		derivedRolesResolver: derivedRolesResolver,
		metrics:              NewMetrics(),
		logger:               logger,
		sweepCancel:          sweepCancel,
		config:               cfg,
	}, nil
}

// Close stops the engine's background cache sweep and worker pool.
func (e *Engine) Close() {
	if e.sweepCancel != nil {
		e.sweepCancel()
	}
	e.workerPool.Stop()
}

// Check evaluates a single authorization request (§4.7 "operation
// check(request) -> response").
func (e *Engine) Check(ctx context.Context, req *types.CheckRequest) (*types.CheckResponse, error) {
	start := time.Now()
	req.EnsureRequestID()

	// Decisions are cached per catalog version, so entries cached before a
	// catalog replacement are never served afterwards.
	fingerprint := req.Fingerprint() + "@" + e.catalog.Version()

	if e.cache != nil {
		if cached, ok := e.cache.Get(fingerprint); ok {
			e.metrics.RecordCacheHit()
			resp := cloneResponse(cached.(*types.CheckResponse))
			resp.Meta.CacheHit = true
			e.metrics.RecordCheck(aggregateEffect(resp), time.Since(start))
			return resp, nil
		}
		e.metrics.RecordCacheMiss()
	}

	// Single-flight: concurrent callers for the same fingerprint wait for
	// one in-progress build rather than duplicating evaluation (§4.7 step
	// 3, §4.8 "single-flight").
	v, err, _ := e.group.Do(fingerprint, func() (interface{}, error) {
		if e.cache != nil {
			if cached, ok := e.cache.Get(fingerprint); ok {
				return cached, nil
			}
		}

		resp := e.evaluate(ctx, req, start)

		if e.cache != nil {
			e.cache.Set(fingerprint, resp)
		}
		return resp, nil
	})
	if err != nil {
		// evaluate never returns an error itself; this branch exists for
		// completeness should singleflight surface a panic-recovery error.
		return nil, &perr.EngineError{Op: "check", Err: err}
	}

	resp := cloneResponse(v.(*types.CheckResponse))
	e.metrics.RecordCheck(aggregateEffect(resp), time.Since(start))
	return resp, nil
}

// CheckBatch evaluates multiple authorization requests, spreading them
// across the engine's worker pool. Each request is independent; a failure
// evaluating one does not affect the others.
func (e *Engine) CheckBatch(ctx context.Context, requests []*types.CheckRequest) ([]*types.CheckResponse, error) {
	responses := make([]*types.CheckResponse, len(requests))
	var wg sync.WaitGroup

	for i, req := range requests {
		wg.Add(1)
		idx, r := i, req
		e.workerPool.Submit(func() {
			defer wg.Done()
			resp, _ := e.Check(ctx, r)
			responses[idx] = resp
		})
	}

	wg.Wait()
	return responses, nil
}

// evaluate runs the full evaluation pipeline for a cache miss: derived-role
// resolution, then per-action principal/resource evaluation (§4.7 steps
// 4-6).
func (e *Engine) evaluate(ctx context.Context, req *types.CheckRequest, start time.Time) *types.CheckResponse {
	scopeChain, err := e.resolveScopeChain(req)
	if err != nil {
		return e.engineErrorResponse(req, start, &perr.EngineError{Op: "resolveScopeChain", Err: err})
	}

	derivedRoleDefs := e.catalog.DerivedRoleDefinitions(scopeChain)
	effectiveRoles, derivedRolesAdded, err := e.resolveEffectiveRoles(req, derivedRoleDefs)
	if err != nil {
		return e.engineErrorResponse(req, start, &perr.EngineError{Op: "resolveDerivedRoles", Err: err})
	}

	principalPolicies := e.catalog.FindPrincipalPolicies(req.Principal.ID)
	resourcePolicies := e.catalog.FindResourcePolicies(scopeChain, req.Resource.Kind)

	results := make(map[string]types.ActionResult, len(req.Actions))
	policiesEvaluated := make([]string, 0, len(principalPolicies)+len(resourcePolicies))
	seenPolicy := make(map[string]bool)

	deadline, hasDeadline := ctx.Deadline()
	timedOut := false

	// §5 "Ordering guarantees": per-action evaluation proceeds in the
	// request's action order.
	for _, action := range req.Actions {
		if (hasDeadline && time.Now().After(deadline)) || ctx.Err() != nil {
			timedOut = true
			results[action] = types.ActionResult{
				Effect: e.config.DefaultEffect,
				Policy: types.NoMatchPolicy,
				Meta:   map[string]string{"trace": "timeout"},
			}
			continue
		}

		result, consulted := e.evaluateAction(req, action, effectiveRoles, principalPolicies, resourcePolicies)
		results[action] = result
		for _, p := range consulted {
			if !seenPolicy[p] {
				seenPolicy[p] = true
				policiesEvaluated = append(policiesEvaluated, p)
			}
		}
	}
	sort.Strings(policiesEvaluated)

	return &types.CheckResponse{
		RequestID: req.RequestID,
		Results:   results,
		Meta: &types.ResponseMeta{
			EvaluationDurationMs: float64(time.Since(start)) / float64(time.Millisecond),
			PoliciesEvaluated:    policiesEvaluated,
			CacheHit:             false,
			DerivedRoles:         derivedRolesAdded,
			ScopeResolution: &types.ScopeResolution{
				MatchedScope:     effectiveScope(scopeChain),
				InheritanceChain: scopeChain,
				ScopedMatch:      len(scopeChain) > 0,
			},
			Timeout: timedOut,
		},
	}
}

// evaluateAction produces the decision for one action: principal policies
// first (§4.5), falling back to resource policies (§4.6) only when the
// principal layer returns no decision.
func (e *Engine) evaluateAction(
	req *types.CheckRequest,
	action string,
	effectiveRoles []string,
	principalPolicies []*types.PrincipalPolicy,
	resourcePolicies []*types.Policy,
) (types.ActionResult, []string) {
	var consulted []string

	if result, ok := e.evaluatePrincipalPolicies(req, action, principalPolicies, &consulted); ok {
		return result, consulted
	}

	return e.evaluateResourcePolicies(req, action, effectiveRoles, resourcePolicies, &consulted), consulted
}

// evaluatePrincipalPolicies implements §4.5: deny-override across all
// matching principal policies; first allow wins in the absence of a deny;
// "no decision" (ok=false) defers to resource policies.
func (e *Engine) evaluatePrincipalPolicies(
	req *types.CheckRequest,
	action string,
	policies []*types.PrincipalPolicy,
	consulted *[]string,
) (types.ActionResult, bool) {
	var allow *types.ActionResult

	for _, pol := range policies {
		matchedThisPolicy := false
		for _, resRule := range pol.Rules {
			if !resRule.MatchesResourceKind(req.Resource.Kind) {
				continue
			}
			for _, actRule := range resRule.Actions {
				if !actRule.MatchesAction(action) {
					continue
				}

				matched, err := e.evaluateCondition(actRule.Condition, req)
				if err != nil {
					continue
				}
				if !matched {
					continue
				}

				matchedThisPolicy = true
				ruleID := pol.Principal + ":" + resRule.Resource + ":" + actRule.Action
				if actRule.Effect == types.EffectDeny {
					*consulted = append(*consulted, policyLabel(pol))
					return types.ActionResult{Effect: types.EffectDeny, Policy: ruleID}, true
				}
				if allow == nil {
					result := types.ActionResult{Effect: types.EffectAllow, Policy: ruleID}
					allow = &result
				}
			}
		}
		if matchedThisPolicy {
			*consulted = append(*consulted, policyLabel(pol))
		}
	}

	if allow != nil {
		return *allow, true
	}
	return types.ActionResult{}, false
}

// evaluateResourcePolicies implements §4.6: deny-override across all
// matching rules in catalog order (most-specific scope first, preserved by
// Catalog.FindResourcePolicies), implicit deny when nothing matches.
func (e *Engine) evaluateResourcePolicies(
	req *types.CheckRequest,
	action string,
	effectiveRoles []string,
	policies []*types.Policy,
	consulted *[]string,
) types.ActionResult {
	var allow *types.ActionResult

	for _, pol := range policies {
		matchedThisPolicy := false
		for _, rule := range pol.Rules {
			if !rule.MatchesAction(action) {
				continue
			}
			if !rule.MatchesRoles(effectiveRoles) {
				continue
			}

			matched, err := e.evaluateCondition(rule.Condition, req)
			if err != nil {
				continue
			}
			if !matched {
				continue
			}

			matchedThisPolicy = true
			if rule.Effect == types.EffectDeny {
				*consulted = append(*consulted, pol.Name)
				return types.ActionResult{Effect: types.EffectDeny, Policy: pol.Name + ":" + rule.Name}
			}
			if allow == nil {
				result := types.ActionResult{Effect: types.EffectAllow, Policy: pol.Name + ":" + rule.Name}
				allow = &result
			}
		}
		if matchedThisPolicy {
			*consulted = append(*consulted, pol.Name)
		}
	}

	if allow != nil {
		return *allow
	}

	return types.ActionResult{
		Effect: e.config.DefaultEffect,
		Policy: types.NoMatchPolicy,
	}
}

// evaluateCondition evaluates a rule's CEL condition, if present. Runtime
// evaluation errors make the rule non-matching rather than failing the
// enclosing Check call (§7 "rule treated as non-matching").
func (e *Engine) evaluateCondition(condition string, req *types.CheckRequest) (bool, error) {
	if condition == "" {
		return true, nil
	}

	evalCtx := &cel.EvalContext{
		Principal: req.Principal.ToMap(),
		Resource:  req.Resource.ToMap(),
		Request:   map[string]interface{}{"actions": req.Actions},
		Variables: map[string]interface{}{},
		Aux:       req.AuxData,
	}

	match, err := e.celEngine.EvaluateExpression(condition, evalCtx)
	if err != nil {
		return false, err
	}
	return match, nil
}

// resolveScopeChain computes the most-to-least-specific scope chain for
// this request. Resource scope takes precedence over principal scope when
// both are present.
func (e *Engine) resolveScopeChain(req *types.CheckRequest) ([]string, error) {
	effectiveScope := req.Resource.Scope
	if effectiveScope == "" {
		effectiveScope = req.Principal.Scope
	}
	if effectiveScope == "" {
		return nil, nil
	}
	return e.scopeResolver.BuildScopeChain(effectiveScope)
}

// resolveEffectiveRoles resolves derived roles (§4.4) and reports which
// names were added beyond the principal's base roles, for response
// metadata. The principal's own Roles field is never mutated.
func (e *Engine) resolveEffectiveRoles(req *types.CheckRequest, derivedRoleDefs []*types.DerivedRole) ([]string, []string, error) {
	if len(derivedRoleDefs) == 0 {
		return req.Principal.Roles, nil, nil
	}

	resolved, err := e.derivedRolesResolver.Resolve(req.Principal, req.Resource, derivedRoleDefs)
	if err != nil {
		return nil, nil, err
	}

	base := make(map[string]bool, len(req.Principal.Roles))
	for _, r := range req.Principal.Roles {
		base[r] = true
	}
	var added []string
	for _, r := range resolved {
		if !base[r] {
			added = append(added, r)
		}
	}
	sort.Strings(added)

	return resolved, added, nil
}

// engineErrorResponse implements the §7 "catastrophic failure" contract:
// every action is implicit-deny, with trace annotation identifying the
// internal failure.
func (e *Engine) engineErrorResponse(req *types.CheckRequest, start time.Time, cause error) *types.CheckResponse {
	e.metrics.RecordEngineError()
	e.logger.Error("engine error during check, failing closed", zap.String("requestId", req.RequestID), zap.Error(cause))

	results := make(map[string]types.ActionResult, len(req.Actions))
	for _, action := range req.Actions {
		results[action] = types.ActionResult{
			Effect: types.EffectDeny,
			Policy: types.NoMatchPolicy,
			Meta:   map[string]string{"trace": "engine_error", "cause": cause.Error()},
		}
	}

	return &types.CheckResponse{
		RequestID: req.RequestID,
		Results:   results,
		Meta: &types.ResponseMeta{
			EvaluationDurationMs: float64(time.Since(start)) / float64(time.Millisecond),
		},
	}
}

// GetCatalog returns the policy catalog backing this engine.
func (e *Engine) GetCatalog() *policy.Catalog {
	return e.catalog
}

// GetCacheStats returns decision-cache statistics, or nil if caching is
// disabled.
func (e *Engine) GetCacheStats() *cache.Stats {
	if e.cache == nil {
		return nil
	}
	stats := e.cache.Stats()
	return &stats
}

// ClearCache discards every cached decision. The catalog does not call it:
// Check keys decisions by the catalog's version tag, so a replacement with
// a new version tag makes earlier entries unreachable, and they leave the
// cache through LRU eviction or TTL expiry.
func (e *Engine) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func policyLabel(pol *types.PrincipalPolicy) string {
	return "principal:" + pol.Principal
}

func effectiveScope(chain []string) string {
	if len(chain) == 0 {
		return "(global)"
	}
	return chain[0]
}

// aggregateEffect reports "deny" if any action in the response was denied,
// for the coarse-grained RecordCheck metric label.
func aggregateEffect(resp *types.CheckResponse) string {
	for _, r := range resp.Results {
		if r.Effect == types.EffectDeny {
			return string(types.EffectDeny)
		}
	}
	return string(types.EffectAllow)
}

// cloneResponse returns a shallow copy of resp with its own Meta, so
// mutating CacheHit on a cache hit never races with another goroutine
// reading the cached original.
func cloneResponse(resp *types.CheckResponse) *types.CheckResponse {
	metaCopy := *resp.Meta
	return &types.CheckResponse{
		RequestID: resp.RequestID,
		Results:   resp.Results,
		Meta:      &metaCopy,
	}
}
