// Package config loads timeagnostic settings from TOML, YAML or JSON
// files and TIMEAGNOSTIC_* environment variables.
//
// The JSON layout used by existing deployments loads unchanged:
//
//	{
//	  "dataset":    {"triplestore_urls": ["http://127.0.0.1:9999/blazegraph/sparql"], "file_paths": [], "is_quadstore": true},
//	  "provenance": {"triplestore_urls": [], "file_paths": ["./prov.json"], "is_quadstore": false},
//	  "blazegraph_full_text_search": "no",
//	  "graphdb_connector_name": ""
//	}
package config

import (
	"net/url"
	"time"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/parallel"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
	"github.com/coolbeans/timeagnostic/pkg/textsearch"
)

// Config is the complete configuration.
type Config struct {
	Dataset    StoreConfig `mapstructure:"dataset" toml:"dataset" yaml:"dataset" json:"dataset"`
	Provenance StoreConfig `mapstructure:"provenance" toml:"provenance" yaml:"provenance" json:"provenance"`

	// Full-text search over update statements. At most one may be set;
	// with none, a portable CONTAINS filter is used.
	BlazegraphFullTextSearch bool   `mapstructure:"blazegraph_full_text_search" toml:"blazegraph_full_text_search" yaml:"blazegraph_full_text_search" json:"blazegraph_full_text_search"`
	FusekiFullTextSearch     bool   `mapstructure:"fuseki_full_text_search" toml:"fuseki_full_text_search" yaml:"fuseki_full_text_search" json:"fuseki_full_text_search"`
	VirtuosoFullTextSearch   bool   `mapstructure:"virtuoso_full_text_search" toml:"virtuoso_full_text_search" yaml:"virtuoso_full_text_search" json:"virtuoso_full_text_search"`
	LocalFullTextSearch      bool   `mapstructure:"local_full_text_search" toml:"local_full_text_search" yaml:"local_full_text_search" json:"local_full_text_search"`
	GraphDBConnectorName     string `mapstructure:"graphdb_connector_name" toml:"graphdb_connector_name" yaml:"graphdb_connector_name" json:"graphdb_connector_name"`

	HTTP     HTTPConfig     `mapstructure:"http" toml:"http" yaml:"http" json:"http"`
	Parallel ParallelConfig `mapstructure:"parallel" toml:"parallel" yaml:"parallel" json:"parallel"`
	Server   ServerConfig   `mapstructure:"server" toml:"server" yaml:"server" json:"server"`
	Log      LogConfig      `mapstructure:"log" toml:"log" yaml:"log" json:"log"`

	// InstantCacheSize bounds the memo of parsed timestamps.
	InstantCacheSize int `mapstructure:"instant_cache_size" toml:"instant_cache_size" yaml:"instant_cache_size" json:"instant_cache_size"`
}

// StoreConfig locates one logical store.
type StoreConfig struct {
	TriplestoreURLs []string `mapstructure:"triplestore_urls" toml:"triplestore_urls" yaml:"triplestore_urls" json:"triplestore_urls"`
	FilePaths       []string `mapstructure:"file_paths" toml:"file_paths" yaml:"file_paths" json:"file_paths"`
	IsQuadstore     bool     `mapstructure:"is_quadstore" toml:"is_quadstore" yaml:"is_quadstore" json:"is_quadstore"`
}

// HTTPConfig tunes requests to remote endpoints.
type HTTPConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" toml:"timeout" yaml:"timeout" json:"timeout"`
	RetryMax int           `mapstructure:"retry_max" toml:"retry_max" yaml:"retry_max" json:"retry_max"`
}

// ParallelConfig sizes the reconstruction pool. Zero means GOMAXPROCS.
type ParallelConfig struct {
	Workers   int `mapstructure:"workers" toml:"workers" yaml:"workers" json:"workers"`
	Threshold int `mapstructure:"threshold" toml:"threshold" yaml:"threshold" json:"threshold"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" toml:"addr" yaml:"addr" json:"addr"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" toml:"query_timeout" yaml:"query_timeout" json:"query_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level" yaml:"level" json:"level"`
	JSON  bool   `mapstructure:"json" toml:"json" yaml:"json" json:"json"`
}

// Source returns the sparql source for a store.
func (s StoreConfig) Source(name string) sparql.Source {
	return sparql.Source{Name: name, URLs: s.TriplestoreURLs, FilePaths: s.FilePaths}
}

// SearchSelection returns the configured full-text search engines.
func (c *Config) SearchSelection() textsearch.Selection {
	return textsearch.Selection{
		Blazegraph:       c.BlazegraphFullTextSearch,
		GraphDBConnector: c.GraphDBConnectorName,
		Fuseki:           c.FusekiFullTextSearch,
		Virtuoso:         c.VirtuosoFullTextSearch,
		Local:            c.LocalFullTextSearch,
	}
}

// HTTPOptions returns the client options for remote endpoints.
func (c *Config) HTTPOptions() []sparql.HTTPOption {
	var opts []sparql.HTTPOption
	if c.HTTP.Timeout > 0 {
		opts = append(opts, sparql.WithHTTPTimeout(c.HTTP.Timeout))
	}
	if c.HTTP.RetryMax >= 0 {
		opts = append(opts, sparql.WithRetryMax(c.HTTP.RetryMax))
	}
	return opts
}

// Pool returns the reconstruction pool options.
func (c *Config) Pool() parallel.Options {
	return parallel.Options{Workers: c.Parallel.Workers, Threshold: c.Parallel.Threshold}
}

// Validate checks that both stores can be reached and that at most one
// full-text engine is selected.
func (c *Config) Validate() error {
	for _, store := range []struct {
		name string
		cfg  StoreConfig
	}{
		{"dataset", c.Dataset},
		{"provenance", c.Provenance},
	} {
		if len(store.cfg.TriplestoreURLs) == 0 && len(store.cfg.FilePaths) == 0 {
			return errors.WithHintf(
				errors.Wrapf(errors.ErrInvalidConfig, "%s has no location", store.name),
				"set %s.triplestore_urls or %s.file_paths", store.name, store.name)
		}
		for _, raw := range store.cfg.TriplestoreURLs {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return errors.Wrapf(errors.ErrInvalidConfig, "%s.triplestore_urls: %q is not an http(s) URL", store.name, raw)
			}
		}
	}
	if c.Parallel.Workers < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "parallel.workers must be >= 0, got %d", c.Parallel.Workers)
	}
	if c.InstantCacheSize < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "instant_cache_size must be >= 0, got %d", c.InstantCacheSize)
	}
	return c.SearchSelection().Validate()
}
