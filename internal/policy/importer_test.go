package policy

import (
	"strings"
	"testing"

	"github.com/authz-engine/go-core/pkg/types"
)

func TestImporter_Import_SkipsExistingByDefault(t *testing.T) {
	c := NewCatalog()
	existing := docPolicy("document-policy", "document", rule("r", types.EffectAllow, "read"))
	if err := c.ReplaceAll([]*types.Policy{existing}, nil, nil, "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	importer, err := NewImporter(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := strings.NewReader(`{"resourcePolicies":[{"apiVersion":"v1","name":"document-policy","resource":"document","rules":[{"name":"r","actions":["read"],"effect":"allow","roleIndependent":true}]}]}`)

	result, err := importer.Import(&ImportRequest{Format: FormatJSON}, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("expected existing policy to be skipped, got skipped=%d imported=%d", result.Skipped, result.Imported)
	}
}

func TestImporter_Import_OverwriteReplacesExisting(t *testing.T) {
	c := NewCatalog()
	existing := docPolicy("document-policy", "document", rule("r", types.EffectAllow, "read"))
	if err := c.ReplaceAll([]*types.Policy{existing}, nil, nil, "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	importer, err := NewImporter(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := strings.NewReader(`{"resourcePolicies":[{"apiVersion":"v1","name":"document-policy","resource":"document","rules":[{"name":"r","actions":["read","write"],"effect":"allow","roleIndependent":true}]}]}`)

	result, err := importer.Import(&ImportRequest{Format: FormatJSON, Options: &ImportOptions{Validate: true, Overwrite: true}}, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("expected overwritten policy to count as imported, got %d", result.Imported)
	}

	updated, ok := c.GetResourcePolicy("document-policy")
	if !ok || len(updated.Rules[0].Actions) != 2 {
		t.Errorf("expected overwrite to replace rules, got %+v", updated)
	}
}

func TestImporter_Import_DryRunDoesNotPublish(t *testing.T) {
	c := NewCatalog()
	importer, err := NewImporter(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := strings.NewReader(`{"resourcePolicies":[{"apiVersion":"v1","name":"document-policy","resource":"document","rules":[{"name":"r","actions":["read"],"effect":"allow","roleIndependent":true}]}]}`)

	result, err := importer.Import(&ImportRequest{Format: FormatJSON, Options: &ImportOptions{Validate: true, DryRun: true}}, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("expected dry run to report the would-be import count, got %d", result.Imported)
	}

	rp, _, _ := c.Count()
	if rp != 0 {
		t.Errorf("expected dry run to leave the catalog untouched, got %d resource policies", rp)
	}
}

func TestImporter_Import_RejectsInvalidPolicy(t *testing.T) {
	c := NewCatalog()
	importer, err := NewImporter(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := strings.NewReader(`{"resourcePolicies":[{"apiVersion":"v1","name":"","resource":"document","rules":[]}]}`)

	_, err = importer.Import(&ImportRequest{Format: FormatJSON, Options: &ImportOptions{Validate: true}}, body)
	if err == nil {
		t.Fatal("expected validation to reject a policy missing its name and rules")
	}
}

func TestImporter_Import_UnsupportedFormatErrors(t *testing.T) {
	c := NewCatalog()
	importer, err := NewImporter(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = importer.Import(&ImportRequest{Format: ExportFormat("xml")}, strings.NewReader(""))
	if err == nil {
		t.Fatal("expected unsupported format to error")
	}
}
