package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/authz-engine/go-core/internal/perr"
	"github.com/authz-engine/go-core/pkg/types"
)

// rawDocument is the on-disk shape every policy document shares: an
// apiVersion/kind/metadata envelope around a kind-specific spec payload
// (§6 "policy documents are YAML with a JSON-compatible subset"). The
// kind discriminates which concrete type the spec node decodes into,
// matching §3's tagged-variant model rather than one duck-typed struct.
type rawDocument struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   rawMetadata  `yaml:"metadata"`
	Spec       yaml.Node    `yaml:"spec"`
}

type rawMetadata struct {
	Name    string `yaml:"name"`
	Scope   string `yaml:"scope"`
	Version string `yaml:"version"`
}

// ParsedDocument carries whichever one of the three policy kinds a
// document decoded into.
type ParsedDocument struct {
	ResourcePolicy  *types.Policy
	PrincipalPolicy *types.PrincipalPolicy
	DerivedRoles    []*types.DerivedRole
}

// parseDocument decodes raw YAML/JSON bytes into a ParsedDocument,
// rejecting documents with an unrecognized or missing kind at load time
// (§4.2 "validator rejects malformed input with structured errors").
func parseDocument(content []byte) (*ParsedDocument, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, &perr.ParseError{Err: err}
	}

	switch types.PolicyKind(raw.Kind) {
	case types.KindResourcePolicy:
		var spec struct {
			Resource string        `yaml:"resource"`
			Rules    []*types.Rule `yaml:"rules"`
		}
		if err := raw.Spec.Decode(&spec); err != nil {
			return nil, &perr.ParseError{Policy: raw.Metadata.Name, Err: err}
		}
		policy := &types.Policy{
			APIVersion: raw.APIVersion,
			Name:       raw.Metadata.Name,
			Resource:   spec.Resource,
			Version:    raw.Metadata.Version,
			Scope:      raw.Metadata.Scope,
			Rules:      spec.Rules,
		}
		return &ParsedDocument{ResourcePolicy: policy}, nil

	case types.KindPrincipalPolicy:
		var spec struct {
			Principal string                          `yaml:"principal"`
			Rules     []*types.PrincipalResourceRule `yaml:"rules"`
		}
		if err := raw.Spec.Decode(&spec); err != nil {
			return nil, &perr.ParseError{Policy: raw.Metadata.Name, Err: err}
		}
		policy := &types.PrincipalPolicy{
			APIVersion: raw.APIVersion,
			Principal:  spec.Principal,
			Version:    raw.Metadata.Version,
			Scope:      raw.Metadata.Scope,
			Rules:      spec.Rules,
		}
		return &ParsedDocument{PrincipalPolicy: policy}, nil

	case types.KindDerivedRoles:
		var spec struct {
			Definitions []*types.DerivedRole `yaml:"definitions"`
		}
		if err := raw.Spec.Decode(&spec); err != nil {
			return nil, &perr.ParseError{Policy: raw.Metadata.Name, Err: err}
		}
		for _, dr := range spec.Definitions {
			if dr.Scope == "" {
				dr.Scope = raw.Metadata.Scope
			}
		}
		return &ParsedDocument{DerivedRoles: spec.Definitions}, nil

	default:
		return nil, &perr.SchemaError{
			Policy: raw.Metadata.Name,
			Err:    fmt.Errorf("unrecognized policy kind %q", raw.Kind),
		}
	}
}
