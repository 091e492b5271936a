// Package policy provides policy export functionality
package policy

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/authz-engine/go-core/pkg/types"
	"gopkg.in/yaml.v3"
)

// ExportFormat represents the export format type
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatYAML   ExportFormat = "yaml"
	FormatBundle ExportFormat = "bundle"
)

// ExportRequest represents an export request
type ExportRequest struct {
	Format  ExportFormat   `json:"format"`
	Filters *ExportFilters `json:"filters,omitempty"`
	Options *ExportOptions `json:"options,omitempty"`
}

// ExportFilters defines filtering criteria for export
type ExportFilters struct {
	Kind    string   `json:"kind,omitempty"`    // resource, principal, derived_role
	IDs     []string `json:"ids,omitempty"`     // specific policy IDs
	Version string   `json:"version,omitempty"` // API version
}

// ExportOptions defines export options
type ExportOptions struct {
	IncludeMetadata bool `json:"includeMetadata"`
	Pretty          bool `json:"pretty"`
}

// ExportMetadata contains metadata about the export
type ExportMetadata struct {
	Timestamp        time.Time `json:"timestamp" yaml:"timestamp"`
	Version          string    `json:"version" yaml:"version"`
	PolicyCount      int       `json:"policyCount" yaml:"policyCount"`
	DerivedRoleCount int       `json:"derivedRoleCount" yaml:"derivedRoleCount"`
}

// ExportResult represents the result of an export operation
type ExportResult struct {
	ResourcePolicies  []*types.Policy          `json:"resourcePolicies,omitempty" yaml:"resourcePolicies,omitempty"`
	PrincipalPolicies []*types.PrincipalPolicy `json:"principalPolicies,omitempty" yaml:"principalPolicies,omitempty"`
	DerivedRoles      []*types.DerivedRole     `json:"derivedRoles,omitempty" yaml:"derivedRoles,omitempty"`
	Metadata          *ExportMetadata          `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Exporter handles policy export operations
type Exporter struct {
	catalog *Catalog
}

// NewExporter creates a new policy exporter backed by catalog.
func NewExporter(catalog *Catalog) *Exporter {
	return &Exporter{catalog: catalog}
}

// Export exports policies based on the request
func (e *Exporter) Export(req *ExportRequest) (*ExportResult, error) {
	if req == nil {
		return nil, fmt.Errorf("export request is required")
	}

	if req.Options == nil {
		req.Options = &ExportOptions{
			IncludeMetadata: true,
			Pretty:          true,
		}
	}

	resourcePolicies, err := e.getFilteredResourcePolicies(req.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get filtered resource policies: %w", err)
	}

	principalPolicies, err := e.getFilteredPrincipalPolicies(req.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get filtered principal policies: %w", err)
	}

	derivedRoles, err := e.getFilteredDerivedRoles(req.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get filtered derived roles: %w", err)
	}

	result := &ExportResult{
		ResourcePolicies:  resourcePolicies,
		PrincipalPolicies: principalPolicies,
		DerivedRoles:      derivedRoles,
	}

	if req.Options.IncludeMetadata {
		result.Metadata = &ExportMetadata{
			Timestamp:        time.Now(),
			Version:          e.catalog.Version(),
			PolicyCount:      len(resourcePolicies) + len(principalPolicies),
			DerivedRoleCount: len(derivedRoles),
		}
	}

	return result, nil
}

// ExportToJSON exports policies to JSON format
func (e *Exporter) ExportToJSON(req *ExportRequest, w io.Writer) error {
	result, err := e.Export(req)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	if req.Options != nil && req.Options.Pretty {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(result)
}

// ExportToYAML exports policies to YAML format
func (e *Exporter) ExportToYAML(req *ExportRequest, w io.Writer) error {
	result, err := e.Export(req)
	if err != nil {
		return err
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	return encoder.Encode(result)
}

// ExportToBundle exports policies to a tar.gz bundle
func (e *Exporter) ExportToBundle(req *ExportRequest, w io.Writer) error {
	result, err := e.Export(req)
	if err != nil {
		return err
	}

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	if result.Metadata != nil {
		metadataBytes, err := json.MarshalIndent(result.Metadata, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		if err := e.addFileToTar(tarWriter, "metadata.json", metadataBytes); err != nil {
			return err
		}
	}

	for _, policy := range result.ResourcePolicies {
		policyBytes, err := yaml.Marshal(policy)
		if err != nil {
			return fmt.Errorf("failed to marshal policy %s: %w", policy.Name, err)
		}

		filename := fmt.Sprintf("resource_policies/%s.yaml", policy.Name)
		if err := e.addFileToTar(tarWriter, filename, policyBytes); err != nil {
			return err
		}
	}

	for _, pp := range result.PrincipalPolicies {
		ppBytes, err := yaml.Marshal(pp)
		if err != nil {
			return fmt.Errorf("failed to marshal principal policy %s: %w", pp.Principal, err)
		}

		filename := fmt.Sprintf("principal_policies/%s.yaml", pp.Principal)
		if err := e.addFileToTar(tarWriter, filename, ppBytes); err != nil {
			return err
		}
	}

	for _, dr := range result.DerivedRoles {
		drBytes, err := yaml.Marshal(dr)
		if err != nil {
			return fmt.Errorf("failed to marshal derived role %s: %w", dr.Name, err)
		}

		filename := fmt.Sprintf("derived_roles/%s.yaml", dr.Name)
		if err := e.addFileToTar(tarWriter, filename, drBytes); err != nil {
			return err
		}
	}

	return nil
}

// addFileToTar adds a file to the tar archive
func (e *Exporter) addFileToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}

	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write tar data: %w", err)
	}

	return nil
}

// getFilteredResourcePolicies retrieves resource policies based on filters
func (e *Exporter) getFilteredResourcePolicies(filters *ExportFilters) ([]*types.Policy, error) {
	allPolicies := e.catalog.AllResourcePolicies()

	if filters == nil {
		return allPolicies, nil
	}
	if filters.Kind != "" && filters.Kind != "resource" {
		return nil, nil
	}

	var filtered []*types.Policy
	for _, policy := range allPolicies {
		if len(filters.IDs) > 0 && !containsString(filters.IDs, policy.Name) {
			continue
		}
		if filters.Version != "" && policy.APIVersion != filters.Version {
			continue
		}
		filtered = append(filtered, policy)
	}

	return filtered, nil
}

// getFilteredPrincipalPolicies retrieves principal policies based on filters
func (e *Exporter) getFilteredPrincipalPolicies(filters *ExportFilters) ([]*types.PrincipalPolicy, error) {
	allPolicies := e.catalog.AllPrincipalPolicies()

	if filters == nil {
		return allPolicies, nil
	}
	if filters.Kind != "" && filters.Kind != "principal" {
		return nil, nil
	}

	var filtered []*types.PrincipalPolicy
	for _, policy := range allPolicies {
		if len(filters.IDs) > 0 && !containsString(filters.IDs, policy.Principal) {
			continue
		}
		if filters.Version != "" && policy.APIVersion != filters.Version {
			continue
		}
		filtered = append(filtered, policy)
	}

	return filtered, nil
}

// getFilteredDerivedRoles retrieves derived roles based on filters
func (e *Exporter) getFilteredDerivedRoles(filters *ExportFilters) ([]*types.DerivedRole, error) {
	if filters != nil && filters.Kind != "" && filters.Kind != "derived_role" {
		return nil, nil
	}

	allDerivedRoles := e.catalog.AllDerivedRoles()

	if filters == nil || len(filters.IDs) == 0 {
		return allDerivedRoles, nil
	}

	var filtered []*types.DerivedRole
	for _, dr := range allDerivedRoles {
		if containsString(filters.IDs, dr.Name) {
			filtered = append(filtered, dr)
		}
	}

	return filtered, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
