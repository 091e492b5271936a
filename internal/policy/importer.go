// Package policy provides policy import functionality
package policy

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/authz-engine/go-core/pkg/types"
	"gopkg.in/yaml.v3"
)

// ImportRequest represents an import request
type ImportRequest struct {
	Format  ExportFormat   `json:"format"`
	Options *ImportOptions `json:"options,omitempty"`
}

// ImportOptions defines import options
type ImportOptions struct {
	Validate  bool `json:"validate"`  // Validate policies before import
	DryRun    bool `json:"dryRun"`    // Don't actually import, just validate
	Overwrite bool `json:"overwrite"` // Replace existing policies
	Merge     bool `json:"merge"`     // Merge with existing
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	Imported int                      `json:"imported"`
	Skipped  int                      `json:"skipped"`
	Errors   []*ImportValidationError `json:"errors,omitempty"`
	Warnings []*ImportValidationError `json:"warnings,omitempty"`
	Summary  *ImportSummary           `json:"summary"`
}

// ImportSummary provides a summary of imported items
type ImportSummary struct {
	ResourcePolicies  int `json:"resourcePolicies"`
	PrincipalPolicies int `json:"principalPolicies"`
	DerivedRoles      int `json:"derivedRoles"`
}

// Importer handles policy import operations. Unlike the catalog's own
// ReplaceAll (a wholesale atomic swap), importer merges incoming documents
// into the live set one at a time and re-publishes the whole catalog once.
type Importer struct {
	catalog   *Catalog
	validator *ImportValidator
}

// NewImporter creates a new policy importer backed by catalog.
func NewImporter(catalog *Catalog) (*Importer, error) {
	validator, err := NewImportValidator(catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Importer{
		catalog:   catalog,
		validator: validator,
	}, nil
}

// Import imports policies based on the request
func (i *Importer) Import(req *ImportRequest, r io.Reader) (*ImportResult, error) {
	if req == nil {
		return nil, fmt.Errorf("import request is required")
	}

	if req.Options == nil {
		req.Options = &ImportOptions{
			Validate:  true,
			DryRun:    false,
			Overwrite: false,
			Merge:     false,
		}
	}

	result := &ImportResult{
		Errors:   make([]*ImportValidationError, 0),
		Warnings: make([]*ImportValidationError, 0),
		Summary:  &ImportSummary{},
	}

	var exportResult *ExportResult
	var err error

	switch req.Format {
	case FormatJSON:
		exportResult, err = i.importFromJSON(r)
	case FormatYAML:
		exportResult, err = i.importFromYAML(r)
	case FormatBundle:
		exportResult, err = i.importFromBundle(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse import data: %w", err)
	}

	if req.Options.Validate {
		validationResult := i.validator.ValidateBatch(exportResult.ResourcePolicies, exportResult.PrincipalPolicies, exportResult.DerivedRoles)
		result.Errors = append(result.Errors, validationResult.Errors...)
		result.Warnings = append(result.Warnings, validationResult.Warnings...)

		if !validationResult.Valid {
			return result, fmt.Errorf("validation failed: %s", FormatValidationErrors(validationResult))
		}
	}

	result.Summary = i.calculateSummary(exportResult)

	if req.Options.DryRun {
		result.Imported = result.Summary.ResourcePolicies + result.Summary.PrincipalPolicies + result.Summary.DerivedRoles
		return result, nil
	}

	resourcePolicies, principalPolicies, derivedRoles := i.mergeWithExisting(exportResult, req.Options, result)

	version := time.Now().UTC().Format(time.RFC3339Nano)
	if err := i.catalog.ReplaceAll(resourcePolicies, principalPolicies, derivedRoles, version); err != nil {
		return result, fmt.Errorf("failed to publish merged catalog: %w", err)
	}

	return result, nil
}

// mergeWithExisting combines the catalog's current contents with the
// incoming batch according to the overwrite/merge options, counting
// imported and skipped items along the way.
func (i *Importer) mergeWithExisting(incoming *ExportResult, options *ImportOptions, result *ImportResult) ([]*types.Policy, []*types.PrincipalPolicy, []*types.DerivedRole) {
	existingResource := make(map[string]*types.Policy)
	for _, p := range i.catalog.AllResourcePolicies() {
		existingResource[p.Name] = p
	}
	existingPrincipal := make(map[string]*types.PrincipalPolicy)
	for _, p := range i.catalog.AllPrincipalPolicies() {
		existingPrincipal[p.Principal] = p
	}
	existingDerived := make(map[string]*types.DerivedRole)
	for _, dr := range i.catalog.AllDerivedRoles() {
		existingDerived[dr.Name] = dr
	}

	for _, policy := range incoming.ResourcePolicies {
		if existing, ok := existingResource[policy.Name]; ok {
			if !options.Overwrite && !options.Merge {
				result.Skipped++
				result.Warnings = append(result.Warnings, &ImportValidationError{
					PolicyName: policy.Name,
					Field:      "import",
					Message:    "policy already exists, skipped (use overwrite or merge option)",
				})
				continue
			}
			if options.Merge {
				policy = i.mergePolicies(existing, policy)
			}
		}
		existingResource[policy.Name] = policy
		result.Imported++
	}

	for _, pp := range incoming.PrincipalPolicies {
		if _, ok := existingPrincipal[pp.Principal]; ok && !options.Overwrite && !options.Merge {
			result.Skipped++
			result.Warnings = append(result.Warnings, &ImportValidationError{
				PolicyName: pp.Principal,
				Field:      "import",
				Message:    "principal policy already exists, skipped (use overwrite or merge option)",
			})
			continue
		}
		existingPrincipal[pp.Principal] = pp
		result.Imported++
	}

	for _, dr := range incoming.DerivedRoles {
		if _, ok := existingDerived[dr.Name]; ok && !options.Overwrite {
			result.Skipped++
			result.Warnings = append(result.Warnings, &ImportValidationError{
				PolicyName: dr.Name,
				Field:      "import",
				Message:    "derived role already exists, skipped (use overwrite option)",
			})
			continue
		}
		existingDerived[dr.Name] = dr
		result.Imported++
	}

	resourcePolicies := make([]*types.Policy, 0, len(existingResource))
	for _, p := range existingResource {
		resourcePolicies = append(resourcePolicies, p)
	}
	principalPolicies := make([]*types.PrincipalPolicy, 0, len(existingPrincipal))
	for _, p := range existingPrincipal {
		principalPolicies = append(principalPolicies, p)
	}
	derivedRoles := make([]*types.DerivedRole, 0, len(existingDerived))
	for _, dr := range existingDerived {
		derivedRoles = append(derivedRoles, dr)
	}

	return resourcePolicies, principalPolicies, derivedRoles
}

// mergePolicies merges two resource policies, keeping existing rules and
// adding any new ones by name.
func (i *Importer) mergePolicies(existing, incoming *types.Policy) *types.Policy {
	merged := *existing

	ruleMap := make(map[string]*types.Rule)
	for _, rule := range existing.Rules {
		ruleMap[rule.Name] = rule
	}

	for _, rule := range incoming.Rules {
		if _, exists := ruleMap[rule.Name]; !exists {
			merged.Rules = append(merged.Rules, rule)
		}
	}

	if incoming.Scope != "" {
		merged.Scope = incoming.Scope
	}

	return &merged
}

// importFromJSON imports from JSON format
func (i *Importer) importFromJSON(r io.Reader) (*ExportResult, error) {
	var result ExportResult
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return &result, nil
}

// importFromYAML imports from YAML format
func (i *Importer) importFromYAML(r io.Reader) (*ExportResult, error) {
	var result ExportResult
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}
	return &result, nil
}

// importFromBundle imports from a tar.gz bundle
func (i *Importer) importFromBundle(r io.Reader) (*ExportResult, error) {
	result := &ExportResult{
		ResourcePolicies:  make([]*types.Policy, 0),
		PrincipalPolicies: make([]*types.PrincipalPolicy, 0),
		DerivedRoles:      make([]*types.DerivedRole, 0),
	}

	gzipReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}

		if header.Typeflag == tar.TypeDir {
			continue
		}

		content := make([]byte, header.Size)
		if _, err := io.ReadFull(tarReader, content); err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", header.Name, err)
		}

		switch {
		case strings.HasPrefix(header.Name, "resource_policies/"):
			var policy types.Policy
			if err := yaml.Unmarshal(content, &policy); err != nil {
				return nil, fmt.Errorf("failed to parse policy %s: %w", header.Name, err)
			}
			result.ResourcePolicies = append(result.ResourcePolicies, &policy)
		case strings.HasPrefix(header.Name, "principal_policies/"):
			var pp types.PrincipalPolicy
			if err := yaml.Unmarshal(content, &pp); err != nil {
				return nil, fmt.Errorf("failed to parse principal policy %s: %w", header.Name, err)
			}
			result.PrincipalPolicies = append(result.PrincipalPolicies, &pp)
		case strings.HasPrefix(header.Name, "derived_roles/"):
			var dr types.DerivedRole
			if err := yaml.Unmarshal(content, &dr); err != nil {
				return nil, fmt.Errorf("failed to parse derived role %s: %w", header.Name, err)
			}
			result.DerivedRoles = append(result.DerivedRoles, &dr)
		case header.Name == "metadata.json":
			var metadata ExportMetadata
			if err := json.Unmarshal(content, &metadata); err != nil {
				return nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			result.Metadata = &metadata
		}
	}

	return result, nil
}

// calculateSummary calculates import summary
func (i *Importer) calculateSummary(result *ExportResult) *ImportSummary {
	return &ImportSummary{
		ResourcePolicies:  len(result.ResourcePolicies),
		PrincipalPolicies: len(result.PrincipalPolicies),
		DerivedRoles:      len(result.DerivedRoles),
	}
}
