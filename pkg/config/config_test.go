package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/textsearch"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadJSONLayout(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"dataset": {
			"triplestore_urls": ["http://127.0.0.1:9999/blazegraph/sparql"],
			"file_paths": [],
			"is_quadstore": "yes"
		},
		"provenance": {
			"triplestore_urls": [],
			"file_paths": ["./prov.json"],
			"is_quadstore": 0
		},
		"blazegraph_full_text_search": "no",
		"graphdb_connector_name": "fts",
		"cache_triplestore_url": {"endpoint": "", "update_endpoint": ""}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://127.0.0.1:9999/blazegraph/sparql"}, cfg.Dataset.TriplestoreURLs)
	assert.True(t, cfg.Dataset.IsQuadstore)
	assert.Equal(t, []string{"./prov.json"}, cfg.Provenance.FilePaths)
	assert.False(t, cfg.Provenance.IsQuadstore)
	assert.False(t, cfg.BlazegraphFullTextSearch)
	assert.Equal(t, []textsearch.Engine{textsearch.EngineGraphDB}, cfg.SearchSelection().Engines())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
dataset:
  file_paths: [data.nq]
provenance:
  file_paths: [prov.nq]
local_full_text_search: ok
server:
  addr: ":9090"
  query_timeout: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.LocalFullTextSearch)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.QueryTimeout)
}

func TestBooleanSpellings(t *testing.T) {
	for _, tt := range []struct {
		raw  string
		want bool
	}{
		{`"yes"`, true}, {`"t"`, true}, {`"ok"`, true}, {`"1"`, true}, {`1`, true}, {`true`, true},
		{`"no"`, false}, {`"f"`, false}, {`"0"`, false}, {`0`, false}, {`false`, false},
	} {
		path := writeFile(t, "config.json", `{
			"dataset": {"file_paths": ["d.nq"]},
			"provenance": {"file_paths": ["p.nq"]},
			"fuseki_full_text_search": `+tt.raw+`
		}`)
		cfg, err := Load(path)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, cfg.FusekiFullTextSearch, tt.raw)
	}
}

func TestBooleanRejectsGarbage(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"dataset": {"file_paths": ["d.nq"]},
		"provenance": {"file_paths": ["p.nq"]},
		"virtuoso_full_text_search": "maybe"
	}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"store without location", func(c *Config) { c.Provenance = StoreConfig{} }},
		{"malformed url", func(c *Config) { c.Dataset.TriplestoreURLs = []string{"localhost:9999/sparql"} }},
		{"two search engines", func(c *Config) {
			c.BlazegraphFullTextSearch = true
			c.GraphDBConnectorName = "fts"
		}},
	}
	require.NoError(t, Example().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Example()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TIMEAGNOSTIC_DATASET_TRIPLESTORE_URLS", "http://a.example/sparql,http://b.example/sparql")
	t.Setenv("TIMEAGNOSTIC_PROVENANCE_FILE_PATHS", "prov.nq")
	t.Setenv("TIMEAGNOSTIC_SERVER_ADDR", ":7000")
	t.Setenv("TIMEAGNOSTIC_LOG_JSON", "yes")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.example/sparql", "http://b.example/sparql"}, cfg.Dataset.TriplestoreURLs)
	assert.Equal(t, []string{"prov.nq"}, cfg.Provenance.FilePaths)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.True(t, cfg.Log.JSON)
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFile)
	want := Example()
	want.Provenance = StoreConfig{FilePaths: []string{"prov.zip"}, IsQuadstore: true}
	require.NoError(t, Write(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.Dataset.TriplestoreURLs, got.Dataset.TriplestoreURLs)
	assert.Equal(t, want.Provenance.FilePaths, got.Provenance.FilePaths)
	assert.True(t, got.Provenance.IsQuadstore)
	assert.Equal(t, want.Server, got.Server)
	assert.Equal(t, want.HTTP, got.HTTP)
}
