// Package source holds the per-type configuration of the BioThings
// annotation sources: where each source lives, which fields are requested
// by default, and which scopes identifiers are matched against.
package source

import (
	"errors"
	"fmt"

	"github.com/zero-day-ai/annotator/curie"
)

// ErrInvalidConfig indicates a source configuration is incomplete or conflicting.
var ErrInvalidConfig = errors.New("invalid source configuration")

// Config describes one annotation source.
type Config struct {
	// Type is the semantic type served by the source (gene, chem, disease).
	Type string `yaml:"type"`

	// Endpoint is the base URL of the BioThings API, e.g. "https://mygene.info/v3".
	Endpoint string `yaml:"endpoint"`

	// Fields are the field paths requested when the caller does not name any.
	Fields []string `yaml:"fields"`

	// Scopes are the field paths identifiers are matched against.
	Scopes []string `yaml:"scopes"`

	// Filter is an optional CEL expression over `record`; records for which
	// it evaluates to false are dropped.
	Filter string `yaml:"filter,omitempty"`
}

// Validate checks that the configuration can be queried.
func (c Config) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidConfig)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("%w: %s: endpoint is required", ErrInvalidConfig, c.Type)
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("%w: %s: at least one scope is required", ErrInvalidConfig, c.Type)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("%w: %s: at least one default field is required", ErrInvalidConfig, c.Type)
	}
	return nil
}

// Registry is a read-only set of source configurations keyed by type.
type Registry struct {
	sources map[string]Config
	filters map[string]*Filter
	order   []string
}

// NewRegistry validates cfgs and compiles their filters.
func NewRegistry(cfgs ...Config) (*Registry, error) {
	r := &Registry{
		sources: make(map[string]Config, len(cfgs)),
		filters: make(map[string]*Filter),
	}

	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.sources[c.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate source for type %q", ErrInvalidConfig, c.Type)
		}
		if c.Filter != "" {
			f, err := CompileFilter(c.Filter)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.Type, err)
			}
			r.filters[c.Type] = f
		}
		r.sources[c.Type] = c
		r.order = append(r.order, c.Type)
	}

	return r, nil
}

// Defaults returns the stock MyGene.info, MyChem.info and MyDisease.info sources.
func Defaults() []Config {
	return []Config{
		{
			Type:     curie.TypeGene,
			Endpoint: "https://mygene.info/v3",
			Fields:   []string{"name", "symbol", "summary", "type_of_gene", "MIM"},
			Scopes:   []string{"entrezgene", "ensemblgene", "uniprot", "accession", "retired"},
		},
		{
			Type:     curie.TypeChem,
			Endpoint: "https://mychem.info/v1",
			Fields: []string{
				"drugbank.id",
				"chebi.id",
				"chebi.iupac",
				"chebi.relationship",
				"chembl.smiles",
				"chembl.first_approval",
				"chembl.first_in_class",
				"chembl.unii",
				"chembl.drug_indications",
				"chembl.drug_mechanisms",
				"pubchem.molecular_weight",
				"pubchem.molecular_formula",
				"drugcentral.approval",
			},
			Scopes: []string{"chebi.id", "chembl.molecule_chembl_id", "pubchem.cid", "drugbank.id", "unii.unii"},
		},
		{
			Type:     curie.TypeDisease,
			Endpoint: "https://mydisease.info/v1",
			Fields:   []string{"mondo.mondo", "mondo.label", "mondo.definition", "umls.umls"},
			Scopes:   []string{"mondo.mondo", "doid.doid", "umls.umls"},
		},
	}
}

// DefaultRegistry builds a registry from Defaults.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Defaults()...)
	if err != nil {
		panic(fmt.Sprintf("source: default registry is invalid: %v", err))
	}
	return r
}

// Merge overlays overrides onto base by type. Non-empty override fields
// replace the base values; types absent from base are appended.
func Merge(base []Config, overrides ...Config) []Config {
	out := make([]Config, len(base))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.Type] = i
	}

	for _, o := range overrides {
		i, ok := index[o.Type]
		if !ok {
			index[o.Type] = len(out)
			out = append(out, o)
			continue
		}
		if o.Endpoint != "" {
			out[i].Endpoint = o.Endpoint
		}
		if len(o.Fields) > 0 {
			out[i].Fields = o.Fields
		}
		if len(o.Scopes) > 0 {
			out[i].Scopes = o.Scopes
		}
		if o.Filter != "" {
			out[i].Filter = o.Filter
		}
	}

	return out
}

// Get returns the configuration for a semantic type.
func (r *Registry) Get(typ string) (Config, bool) {
	c, ok := r.sources[typ]
	return c, ok
}

// Filter returns the compiled record filter for typ, or nil when none is set.
func (r *Registry) Filter(typ string) *Filter {
	return r.filters[typ]
}

// Types returns the registered types in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
