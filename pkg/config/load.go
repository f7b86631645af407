package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
)

// EnvPrefix prefixes every environment override, e.g.
// TIMEAGNOSTIC_SERVER_ADDR for server.addr.
const EnvPrefix = "TIMEAGNOSTIC"

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "timeagnostic.toml"

// SetDefaults registers the default of every key, which also makes every
// key reachable from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dataset.triplestore_urls", []string{})
	v.SetDefault("dataset.file_paths", []string{})
	v.SetDefault("dataset.is_quadstore", false)
	v.SetDefault("provenance.triplestore_urls", []string{})
	v.SetDefault("provenance.file_paths", []string{})
	v.SetDefault("provenance.is_quadstore", false)

	v.SetDefault("blazegraph_full_text_search", false)
	v.SetDefault("fuseki_full_text_search", false)
	v.SetDefault("virtuoso_full_text_search", false)
	v.SetDefault("local_full_text_search", false)
	v.SetDefault("graphdb_connector_name", "")

	v.SetDefault("http.timeout", sparql.DefaultHTTPTimeout)
	v.SetDefault("http.retry_max", sparql.DefaultRetryMax)
	v.SetDefault("parallel.workers", 0)
	v.SetDefault("parallel.threshold", 0)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.query_timeout", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("instant_cache_size", instant.DefaultCacheSize)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads path, applies environment overrides and validates the
// result. The format follows the file extension. An empty path uses
// DefaultFile when it exists, and defaults plus environment otherwise.
func Load(path string) (*Config, error) {
	v := newViper()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		yesNoHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(errors.Mark(err, errors.ErrInvalidConfig), "decode config")
	}
	return &cfg, nil
}

var (
	truthy = map[string]bool{"true": true, "1": true, "t": true, "y": true, "yes": true, "ok": true}
	falsy  = map[string]bool{"false": true, "0": true, "f": true, "n": true, "no": true, "": true}
)

// yesNoHook decodes the boolean spellings accepted by older
// configuration files ("yes", "no", "t", "ok", 1, 0) into bool fields.
func yesNoHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.Bool {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		s := strings.ToLower(strings.TrimSpace(data.(string)))
		switch {
		case truthy[s]:
			return true, nil
		case falsy[s]:
			return false, nil
		}
		return nil, errors.Newf("%q is not a boolean", data)
	case reflect.Int, reflect.Int64, reflect.Float64:
		return reflect.ValueOf(data).Convert(reflect.TypeOf(float64(0))).Float() != 0, nil
	}
	return data, nil
}

// Example returns a configuration that reads both stores from a local
// Blazegraph endpoint.
func Example() *Config {
	endpoint := "http://127.0.0.1:9999/blazegraph/sparql"
	return &Config{
		Dataset:          StoreConfig{TriplestoreURLs: []string{endpoint}, FilePaths: []string{}},
		Provenance:       StoreConfig{TriplestoreURLs: []string{endpoint}, FilePaths: []string{}},
		HTTP:             HTTPConfig{Timeout: sparql.DefaultHTTPTimeout, RetryMax: sparql.DefaultRetryMax},
		Server:           ServerConfig{Addr: ":8080", QueryTimeout: 5 * time.Minute},
		Log:              LogConfig{Level: "info"},
		InstantCacheSize: instant.DefaultCacheSize,
	}
}

// Marshal renders cfg as TOML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	return data, nil
}

// Write persists cfg as TOML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}
	return nil
}
