package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/annotator/curie"
	"github.com/zero-day-ai/annotator/record"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{curie.TypeGene, curie.TypeChem, curie.TypeDisease}, r.Types())

	gene, ok := r.Get(curie.TypeGene)
	require.True(t, ok)
	assert.Equal(t, "https://mygene.info/v3", gene.Endpoint)
	assert.Contains(t, gene.Scopes, "entrezgene")
	assert.Contains(t, gene.Fields, "symbol")

	chem, ok := r.Get(curie.TypeChem)
	require.True(t, ok)
	assert.Contains(t, chem.Scopes, "chembl.molecule_chembl_id")
	assert.Len(t, chem.Fields, 13)

	_, ok = r.Get("pathway")
	assert.False(t, ok)
	assert.Nil(t, r.Filter(curie.TypeGene))
}

func TestDefaults_CoverEveryPrefixType(t *testing.T) {
	r := DefaultRegistry()
	for _, typ := range curie.Types() {
		_, ok := r.Get(typ)
		assert.True(t, ok, "no source for type %s", typ)
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	valid := Config{Type: "gene", Endpoint: "http://x", Fields: []string{"a"}, Scopes: []string{"b"}}

	tests := []struct {
		name    string
		cfgs    []Config
		wantErr string
	}{
		{name: "missing type", cfgs: []Config{{Endpoint: "http://x"}}, wantErr: "type is required"},
		{name: "missing endpoint", cfgs: []Config{{Type: "gene", Fields: []string{"a"}, Scopes: []string{"b"}}}, wantErr: "endpoint is required"},
		{name: "missing scopes", cfgs: []Config{{Type: "gene", Endpoint: "http://x", Fields: []string{"a"}}}, wantErr: "scope"},
		{name: "missing fields", cfgs: []Config{{Type: "gene", Endpoint: "http://x", Scopes: []string{"a"}}}, wantErr: "default field"},
		{name: "duplicate type", cfgs: []Config{valid, valid}, wantErr: "duplicate"},
		{
			name:    "bad filter",
			cfgs:    []Config{{Type: "gene", Endpoint: "http://x", Fields: []string{"a"}, Scopes: []string{"b"}, Filter: "record.("}},
			wantErr: "compile filter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.cfgs...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRegistry_CompilesFilter(t *testing.T) {
	r, err := NewRegistry(Config{
		Type:     "gene",
		Endpoint: "http://x",
		Fields:   []string{"a"},
		Scopes:   []string{"b"},
		Filter:   "!has(record.notfound)",
	})
	require.NoError(t, err)

	f := r.Filter("gene")
	require.NotNil(t, f)
	assert.Equal(t, "!has(record.notfound)", f.String())
}

func TestMerge(t *testing.T) {
	merged := Merge(Defaults(),
		Config{Type: curie.TypeGene, Endpoint: "http://localhost:8000/v3", Fields: []string{"symbol"}},
		Config{Type: "pathway", Endpoint: "http://pathways", Fields: []string{"name"}, Scopes: []string{"id"}},
	)

	require.Len(t, merged, 4)
	assert.Equal(t, "http://localhost:8000/v3", merged[0].Endpoint)
	assert.Equal(t, []string{"symbol"}, merged[0].Fields)
	// Scopes were not overridden.
	assert.Equal(t, Defaults()[0].Scopes, merged[0].Scopes)
	assert.Equal(t, "pathway", merged[3].Type)

	// Base is untouched.
	assert.Equal(t, "https://mygene.info/v3", Defaults()[0].Endpoint)
}

func TestFilter_Match(t *testing.T) {
	f, err := CompileFilter(`has(record.symbol) && record.symbol == "CDK2"`)
	require.NoError(t, err)

	keep, err := f.Match(record.Record{"symbol": "CDK2"})
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = f.Match(record.Record{"symbol": "TP53"})
	require.NoError(t, err)
	assert.False(t, keep)

	keep, err = f.Match(record.Record{"query": "1017"})
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestFilter_NonBool(t *testing.T) {
	f, err := CompileFilter(`"text"`)
	require.NoError(t, err)

	_, err = f.Match(record.Record{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want bool")
}

func TestFilter_Apply(t *testing.T) {
	f, err := CompileFilter("!has(record.notfound)")
	require.NoError(t, err)

	in := []record.Record{
		{"query": "1", "_id": "1"},
		{"query": "2", "notfound": true},
		{"query": "3", "_id": "3"},
	}
	out, failed := f.Apply(in)
	assert.Empty(t, failed)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0]["_id"])
	assert.Equal(t, "3", out[1]["_id"])

	var nilFilter *Filter
	same, failed := nilFilter.Apply(in)
	assert.Empty(t, failed)
	assert.Len(t, same, 3)
}

func TestFilter_Apply_DropsUnevaluable(t *testing.T) {
	f, err := CompileFilter(`record.type_of_gene == "protein-coding"`)
	require.NoError(t, err)

	in := []record.Record{
		{"query": "1017", "type_of_gene": "protein-coding"},
		{"query": "0", "notfound": true},
		{"query": "7157", "type_of_gene": "pseudo"},
	}
	out, failed := f.Apply(in)
	require.Len(t, out, 1)
	assert.Equal(t, "1017", out[0]["query"])
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error(), "evaluate filter")
}
