package curie

import (
	"sort"
	"strings"
)

// Rule maps a CURIE prefix onto an annotation source.
type Rule struct {
	// Prefix is the CURIE prefix without the trailing colon.
	Prefix string

	// Type is the semantic type the prefix belongs to.
	Type string

	// Field is the source field holding identifiers of this prefix.
	Field string

	// KeepPrefix sends the full CURIE to the source instead of the local id.
	KeepPrefix bool

	// Convert rewrites the full CURIE into the source identifier.
	Convert func(curie string) string
}

var rules = map[string]Rule{
	"NCBIGene":         {Prefix: "NCBIGene", Type: TypeGene, Field: "entrezgene"},
	"ENSEMBL":          {Prefix: "ENSEMBL", Type: TypeGene, Field: "ensembl.gene"},
	"UniProtKB":        {Prefix: "UniProtKB", Type: TypeGene, Field: "uniprot.Swiss-Prot"},
	"CHEMBL.COMPOUND":  {Prefix: "CHEMBL.COMPOUND", Type: TypeChem, Field: "chembl.molecule_chembl_id", Convert: chemblID},
	"PUBCHEM.COMPOUND": {Prefix: "PUBCHEM.COMPOUND", Type: TypeChem, Field: "pubchem.cid"},
	"CHEBI":            {Prefix: "CHEBI", Type: TypeChem, Field: "chebi.id", KeepPrefix: true},
	"MONDO":            {Prefix: "MONDO", Type: TypeDisease, Field: "mondo.mondo"},
	"DOID":             {Prefix: "DOID", Type: TypeDisease, Field: "doid.doid"},
}

// chemblID turns "CHEMBL.COMPOUND:CHEMBL25" (or "CHEMBL.COMPOUND:25") into "CHEMBL25".
func chemblID(curie string) string {
	local := strings.TrimPrefix(curie, "CHEMBL.COMPOUND:")
	if strings.HasPrefix(local, "CHEMBL") {
		return local
	}
	return "CHEMBL" + local
}

// Lookup returns the rule registered for prefix.
func Lookup(prefix string) (Rule, bool) {
	r, ok := rules[prefix]
	return r, ok
}

// Prefixes returns every registered prefix in sorted order.
func Prefixes() []string {
	out := make([]string, 0, len(rules))
	for p := range rules {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Types returns the distinct semantic types reachable from the prefix table.
func Types() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range Prefixes() {
		t := rules[p].Type
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
