package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/authz-engine/go-core/pkg/types"
)

// RollbackManager publishes resource-policy updates through the catalog
// with an automatic rollback to the prior snapshot on validation or publish
// failure. Principal policies and derived roles are carried through
// unchanged on update and restored verbatim on rollback.
type RollbackManager struct {
	catalog      *Catalog
	versionStore *VersionStore
	validator    *Validator
	metrics      *Metrics
}

// NewRollbackManager creates a new rollback manager
func NewRollbackManager(catalog *Catalog, versionStore *VersionStore, validator *Validator) *RollbackManager {
	return &RollbackManager{
		catalog:      catalog,
		versionStore: versionStore,
		validator:    validator,
		metrics:      NewMetrics(),
	}
}

// UpdateWithRollback attempts to update resource policies with automatic
// rollback on failure. Returns the new version on success, or an error with
// rollback details on failure.
func (rm *RollbackManager) UpdateWithRollback(ctx context.Context, newPolicies map[string]*types.Policy, comment string) (*PolicyVersion, error) {
	startTime := time.Now()
	rm.metrics.RecordReloadAttempt()

	currentPolicies := make(map[string]*types.Policy)
	for _, p := range rm.catalog.AllResourcePolicies() {
		currentPolicies[p.Name] = p
	}

	currentVersion, err := rm.versionStore.SaveVersion(currentPolicies, fmt.Sprintf("Pre-update snapshot: %s", comment))
	if err != nil {
		duration := time.Since(startTime).Seconds()
		rm.metrics.RecordReloadFailure(duration)
		return nil, fmt.Errorf("failed to save current version: %w", err)
	}

	validationErrors := make([]error, 0)
	for name, policy := range newPolicies {
		rm.metrics.RecordValidationAttempt()
		if err := rm.validator.ValidatePolicy(policy); err != nil {
			rm.metrics.RecordValidationFailure()
			validationErrors = append(validationErrors, fmt.Errorf("policy %s: %w", name, err))
		} else {
			rm.metrics.RecordValidationSuccess()
		}
	}

	if len(validationErrors) > 0 {
		duration := time.Since(startTime).Seconds()
		rm.metrics.RecordReloadFailure(duration)
		return nil, fmt.Errorf("validation failed (%d errors): %v", len(validationErrors), validationErrors)
	}

	resourcePolicies := make([]*types.Policy, 0, len(newPolicies))
	for _, p := range newPolicies {
		resourcePolicies = append(resourcePolicies, p)
	}

	principalPolicies := rm.catalog.AllPrincipalPolicies()
	derivedRoles := rm.catalog.AllDerivedRoles()
	publishVersion := time.Now().UTC().Format(time.RFC3339Nano)

	if err := rm.catalog.ReplaceAll(resourcePolicies, principalPolicies, derivedRoles, publishVersion); err != nil {
		if rollbackErr := rm.rollback(ctx, currentVersion); rollbackErr != nil {
			return nil, fmt.Errorf("update failed: %w, rollback also failed: %v", err, rollbackErr)
		}
		return nil, fmt.Errorf("update failed (rolled back to version %d): %w", currentVersion.Version, err)
	}

	newVersion, err := rm.versionStore.SaveVersion(newPolicies, comment)
	if err != nil {
		duration := time.Since(startTime).Seconds()
		rm.metrics.RecordReloadFailure(duration)
		if rollbackErr := rm.rollback(ctx, currentVersion); rollbackErr != nil {
			return nil, fmt.Errorf("failed to save new version: %w, rollback also failed: %v", err, rollbackErr)
		}
		return nil, fmt.Errorf("failed to save new version (rolled back): %w", err)
	}

	duration := time.Since(startTime).Seconds()
	rm.metrics.RecordReloadSuccess(duration)
	rm.metrics.SetCurrentVersion(newVersion.Version)
	rm.metrics.SetPolicyCount(len(newPolicies))

	return newVersion, nil
}

// Rollback performs a manual rollback to a specific version
func (rm *RollbackManager) Rollback(ctx context.Context, targetVersion int64) error {
	startTime := time.Now()
	rm.metrics.RecordRollbackAttempt()

	version, err := rm.versionStore.GetVersion(targetVersion)
	if err != nil {
		duration := time.Since(startTime).Seconds()
		rm.metrics.RecordRollbackFailure(duration)
		return fmt.Errorf("failed to get version %d: %w", targetVersion, err)
	}

	if err := rm.rollback(ctx, version); err != nil {
		duration := time.Since(startTime).Seconds()
		rm.metrics.RecordRollbackFailure(duration)
		return err
	}

	duration := time.Since(startTime).Seconds()
	rm.metrics.RecordRollbackSuccess(duration)
	rm.metrics.SetCurrentVersion(version.Version)
	rm.metrics.SetPolicyCount(len(version.Policies))

	return nil
}

// RollbackToPrevious rolls back to the previous version
func (rm *RollbackManager) RollbackToPrevious(ctx context.Context) error {
	version, err := rm.versionStore.GetPreviousVersion()
	if err != nil {
		return fmt.Errorf("failed to get previous version: %w", err)
	}

	return rm.rollback(ctx, version)
}

// rollback republishes the catalog with version's resource policies,
// leaving principal policies and derived roles as they currently stand.
func (rm *RollbackManager) rollback(ctx context.Context, version *PolicyVersion) error {
	if version == nil {
		return fmt.Errorf("cannot rollback to nil version")
	}

	resourcePolicies := make([]*types.Policy, 0, len(version.Policies))
	for _, policy := range version.Policies {
		resourcePolicies = append(resourcePolicies, policy)
	}

	principalPolicies := rm.catalog.AllPrincipalPolicies()
	derivedRoles := rm.catalog.AllDerivedRoles()
	publishVersion := time.Now().UTC().Format(time.RFC3339Nano)

	if err := rm.catalog.ReplaceAll(resourcePolicies, principalPolicies, derivedRoles, publishVersion); err != nil {
		return fmt.Errorf("failed to restore policies during rollback: %w", err)
	}

	comment := fmt.Sprintf("Rollback to version %d", version.Version)
	if _, err := rm.versionStore.SaveVersion(version.Policies, comment); err != nil {
		return fmt.Errorf("rollback succeeded but failed to save rollback version: %w", err)
	}

	return nil
}

// GetCurrentVersion returns the current policy version
func (rm *RollbackManager) GetCurrentVersion() (*PolicyVersion, error) {
	return rm.versionStore.GetCurrentVersion()
}

// GetVersion retrieves a specific version by number
func (rm *RollbackManager) GetVersion(version int64) (*PolicyVersion, error) {
	return rm.versionStore.GetVersion(version)
}

// ListVersions returns all stored versions
func (rm *RollbackManager) ListVersions() []*PolicyVersion {
	return rm.versionStore.ListVersions()
}

// GetStats returns version store statistics
func (rm *RollbackManager) GetStats() PolicyVersionStats {
	return rm.versionStore.GetStats()
}

// RollbackInfo contains information about a rollback operation
type RollbackInfo struct {
	Success       bool
	FromVersion   int64
	ToVersion     int64
	RollbackTime  time.Time
	PoliciesCount int
	Error         error
}

// PerformRollbackWithInfo performs rollback and returns detailed information
func (rm *RollbackManager) PerformRollbackWithInfo(ctx context.Context, targetVersion int64) *RollbackInfo {
	info := &RollbackInfo{
		RollbackTime: time.Now(),
		ToVersion:    targetVersion,
	}

	currentVersion, err := rm.versionStore.GetCurrentVersion()
	if err != nil {
		info.Error = fmt.Errorf("failed to get current version: %w", err)
		return info
	}
	info.FromVersion = currentVersion.Version

	if err := rm.Rollback(ctx, targetVersion); err != nil {
		info.Error = err
		return info
	}

	targetVer, err := rm.versionStore.GetVersion(targetVersion)
	if err != nil {
		info.Error = fmt.Errorf("rollback succeeded but failed to get target version: %w", err)
		info.Success = true
		return info
	}

	info.Success = true
	info.PoliciesCount = len(targetVer.Policies)
	return info
}
