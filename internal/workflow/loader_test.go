package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/synapse/pkg/api"
)

const researchYAML = `
name: research
start: research
nodes:
  research:
    impl: builtin_research
    model: openai
    retries: 2
    next: summarize
  summarize:
    impl: builtin_summarize
    retries: 0
    next: null
`

func TestParse_ValidDocument(t *testing.T) {
	g, err := Parse("research.yml", []byte(researchYAML))
	require.NoError(t, err)

	assert.Equal(t, "research.yml", g.Ref())
	assert.Equal(t, api.StepName("research"), g.EntryStep())

	chain := g.Chain()
	require.Len(t, chain, 2)
	assert.Equal(t, api.StepDefinition{
		Name: "research", Impl: "builtin_research", Model: "openai", MaxRetries: 2, Next: "summarize",
	}, chain[0])
	assert.Equal(t, api.StepDefinition{
		Name: "summarize", Impl: "builtin_summarize", Model: api.DefaultModel, MaxRetries: 0,
	}, chain[1])
}

func TestParse_Defaults(t *testing.T) {
	g, err := Parse("min.yml", []byte("start: only\nnodes:\n  only: {}\n"))
	require.NoError(t, err)

	def, err := g.Lookup("only")
	require.NoError(t, err)
	assert.Equal(t, api.DefaultImpl, def.Impl)
	assert.Equal(t, api.DefaultModel, def.Model)
	assert.Equal(t, api.DefaultMaxRetries, def.MaxRetries)
	assert.True(t, def.Terminal())
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing start":    "nodes:\n  a: {}\n",
		"missing nodes":    "start: a\n",
		"empty document":   "",
		"unknown start":    "start: b\nnodes:\n  a: {}\n",
		"unknown next":     "start: a\nnodes:\n  a:\n    next: z\n",
		"negative retries": "start: a\nnodes:\n  a:\n    retries: -1\n",
		"cycle":            "start: a\nnodes:\n  a:\n    next: b\n  b:\n    next: a\n",
		"reserved name":    "start: end\nnodes:\n  end: {}\n",
		"unknown field":    "start: a\nnodes:\n  a:\n    retry: 3\n",
		"malformed yaml":   "start: [a\n",
		"non-int retries":  "start: a\nnodes:\n  a:\n    retries: many\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("bad.yml", []byte(doc))
			require.Error(t, err)
			assert.True(t, IsInvalid(err), "expected InvalidWorkflowError, got %T: %v", err, err)

			var iwe *api.InvalidWorkflowError
			require.True(t, errors.As(err, &iwe))
			assert.Equal(t, "bad.yml", iwe.Ref)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yml")
	require.NoError(t, os.WriteFile(path, []byte(researchYAML), 0o644))

	g, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, g.Ref())
	assert.Equal(t, 2, g.Len())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, IsInvalid(err))
}
