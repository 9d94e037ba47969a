// Package config parses the process-wide key/value configuration and the
// per-connection secret schema into typed settings, and constructs the
// auth.Strategy and pool.Config values the rest of the engine is driven
// from.
package config

import (
	"strconv"
	"time"

	"github.com/ha1tch/mssqlengine/pkg/dml"
	"github.com/ha1tch/mssqlengine/pkg/errors"
	"github.com/ha1tch/mssqlengine/pkg/pool"
)

// Settings holds every recognized process-wide configuration key, with
// defaults matching the key table.
type Settings struct {
	ConnectionLimit    int
	ConnectionCache    bool
	ConnectionTimeout  time.Duration
	IdleTimeout        time.Duration
	MinConnections     int
	AcquireTimeout     time.Duration
	CatalogCacheTTL    time.Duration
	DMLBatchSize       int
	DMLMaxParameters   int
	InsertBatchSize    int
	InsertMaxSQLBytes  int
	ConvertVarcharMax  bool
}

// Defaults returns the key table's defaults, matching spec.md's
// EXTERNAL INTERFACES configuration table.
func Defaults() Settings {
	return Settings{
		ConnectionLimit:   10,
		ConnectionCache:   true,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       0,
		MinConnections:    0,
		AcquireTimeout:    30 * time.Second,
		CatalogCacheTTL:   0,
		DMLBatchSize:      500,
		DMLMaxParameters:  2000,
		InsertBatchSize:   2000,
		InsertMaxSQLBytes: 8 * 1024 * 1024,
		ConvertVarcharMax: false,
	}
}

// configKeys are the recognized keys; an unrecognized key in Parse is a
// ConfigError, not a silent no-op, so typos surface immediately.
var configKeys = map[string]bool{
	"connection_limit":     true,
	"connection_cache":     true,
	"connection_timeout":   true,
	"idle_timeout":         true,
	"min_connections":      true,
	"acquire_timeout":      true,
	"catalog_cache_ttl":    true,
	"dml_batch_size":       true,
	"dml_max_parameters":   true,
	"insert_batch_size":    true,
	"insert_max_sql_bytes": true,
	"convert_varchar_max":  true,
}

// Parse builds Settings from a raw string-keyed map (as loaded from a
// connection-string option list, an extension config object, or
// environment overrides), starting from Defaults and overriding only the
// keys present in raw.
func Parse(raw map[string]string) (Settings, error) {
	s := Defaults()
	for k, v := range raw {
		if !configKeys[k] {
			return Settings{}, errors.New(errors.ErrCodeConfigInvalid, "unknown configuration key "+strconv.Quote(k)).
				WithField("key", k).Build()
		}
		if err := s.set(k, v); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

func (s *Settings) set(key, v string) error {
	switch key {
	case "connection_limit":
		return s.setInt(key, v, &s.ConnectionLimit)
	case "connection_cache":
		return s.setBool(key, v, &s.ConnectionCache)
	case "connection_timeout":
		return s.setDuration(key, v, &s.ConnectionTimeout)
	case "idle_timeout":
		return s.setDuration(key, v, &s.IdleTimeout)
	case "min_connections":
		return s.setInt(key, v, &s.MinConnections)
	case "acquire_timeout":
		return s.setDuration(key, v, &s.AcquireTimeout)
	case "catalog_cache_ttl":
		return s.setDuration(key, v, &s.CatalogCacheTTL)
	case "dml_batch_size":
		return s.setInt(key, v, &s.DMLBatchSize)
	case "dml_max_parameters":
		return s.setInt(key, v, &s.DMLMaxParameters)
	case "insert_batch_size":
		return s.setInt(key, v, &s.InsertBatchSize)
	case "insert_max_sql_bytes":
		return s.setInt(key, v, &s.InsertMaxSQLBytes)
	case "convert_varchar_max":
		return s.setBool(key, v, &s.ConvertVarcharMax)
	}
	return nil
}

// PoolConfig derives a pool.Config from these settings.
func (s Settings) PoolConfig() pool.Config {
	return pool.Config{
		Limit:          s.ConnectionLimit,
		CacheEnabled:   s.ConnectionCache,
		IdleTimeout:    s.IdleTimeout,
		MinConnections: s.MinConnections,
		AcquireTimeout: s.AcquireTimeout,
	}
}

// DMLConfig derives a dml.Config from these settings. batchSize selects
// between dml_batch_size (UPDATE/DELETE) and insert_batch_size (INSERT);
// callers pass whichever applies to the statement being built.
func (s Settings) DMLConfig(batchSize int) dml.Config {
	return dml.Config{
		BatchSize:     batchSize,
		MaxParameters: s.DMLMaxParameters,
		MaxSQLBytes:   s.InsertMaxSQLBytes,
	}
}

func (s *Settings) setInt(key, v string, dest *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parsing "+key).WithField("value", v).Build()
	}
	*dest = n
	return nil
}

func (s *Settings) setBool(key, v string, dest *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parsing "+key).WithField("value", v).Build()
	}
	*dest = b
	return nil
}

// setDuration accepts either a bare integer (seconds, per the key table's
// "30 s"-style defaults) or a Go duration string ("30s", "5m").
func (s *Settings) setDuration(key, v string, dest *time.Duration) error {
	if secs, err := strconv.Atoi(v); err == nil {
		*dest = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parsing "+key).WithField("value", v).Build()
	}
	*dest = d
	return nil
}
