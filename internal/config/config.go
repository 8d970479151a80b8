// Package config defines the pipeline configuration model for the SIMDASI
// extractor. A pipeline file is JSON or YAML (chosen by extension) and maps
// one-to-one onto Pipeline:
//
//	{
//	  "job": "simdasi_jatim",
//	  "source_list": { "url": "https://docs.google.com/.../export?format=csv", "has_header": true },
//	  "simdasi": { "timeout": "30s", "fallback_years": 11 },
//	  "storage": { "kind": "postgres", "dsn": "postgresql://..." },
//	  "runtime": { "workers": 1 }
//	}
//
// Secrets are usually injected through the environment instead; see ApplyEnv.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level configuration object.
type Pipeline struct {
	// Job names the run in logs, metrics and the history ledger.
	Job string `json:"job" yaml:"job"`

	// SourceList points at the CSV list of detail-table URLs.
	SourceList SourceList `json:"source_list" yaml:"source_list"`

	// Sources is an inline alternative (or addition) to SourceList.
	Sources []Source `json:"sources" yaml:"sources"`

	Simdasi  Simdasi  `json:"simdasi" yaml:"simdasi"`
	Storage  Storage  `json:"storage" yaml:"storage"`
	Runtime  Runtime  `json:"runtime" yaml:"runtime"`
	History  History  `json:"history" yaml:"history"`
	Metrics  Metrics  `json:"metrics" yaml:"metrics"`
	Schedule Schedule `json:"schedule" yaml:"schedule"`
}

// SourceList locates the source-list CSV: exactly one of URL or Path.
type SourceList struct {
	URL       string `json:"url" yaml:"url"`
	Path      string `json:"path" yaml:"path"`
	HasHeader bool   `json:"has_header" yaml:"has_header"`
}

// Source is one detail table to extract and where to write it.
type Source struct {
	// URL is the detail endpoint template including tahun/<yyyy>,
	// id_tabel/<id>, wilayah/<code> and key/<key> segments.
	URL    string `json:"url" yaml:"url"`
	Schema string `json:"schema" yaml:"schema"`
	Table  string `json:"table" yaml:"table"`
	// Multiply scales measure columns by 1000.
	Multiply bool `json:"multiply" yaml:"multiply"`
}

// Simdasi tunes the API client and extraction.
type Simdasi struct {
	CatalogBaseURL string   `json:"catalog_base_url" yaml:"catalog_base_url"`
	Timeout        Duration `json:"timeout" yaml:"timeout"`
	MaxRetries     int      `json:"max_retries" yaml:"max_retries"`
	RequestsPerSec float64  `json:"requests_per_sec" yaml:"requests_per_sec"`
	Burst          int      `json:"burst" yaml:"burst"`
	FallbackYears  int      `json:"fallback_years" yaml:"fallback_years"`
	UserAgent      string   `json:"user_agent" yaml:"user_agent"`
}

// Storage selects the sink backend.
type Storage struct {
	// Kind is one of "postgres", "mysql", "mssql", "sqlite".
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`
}

// Runtime controls concurrency across sources.
type Runtime struct {
	// Workers bounds how many sources are processed at once. 1 is sequential.
	Workers int `json:"workers" yaml:"workers"`
}

// History configures the run ledger.
type History struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is one of "none", "prometheus", "datadog".
	Backend        string `json:"backend" yaml:"backend"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr" yaml:"datadog_addr"`
}

// Gate values for Schedule.Gate.
const (
	GateLastSunday = "last_sunday"
	GateAlways     = "always"
)

// Schedule controls when an unforced run proceeds.
type Schedule struct {
	Gate string `json:"gate" yaml:"gate"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultJob            = "simdasi"
	DefaultTimeout        = 30 * time.Second
	DefaultFallbackYears  = 11
	DefaultStorageKind    = "postgres"
	DefaultMetricsBackend = "none"
	DefaultDatadogAddr    = "127.0.0.1:8125"
	DefaultHistoryDSN     = "file:simdasi_history.db?cache=shared"
)

// Duration is a time.Duration that decodes from "30s"-style strings or from
// a plain number of seconds.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return d.parse(s)
	}
	return d.parse(string(b))
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: duration must be a scalar, got %v at line %d", n.Tag, n.Line)
	}
	return d.parse(n.Value)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		d.Duration = v
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q", s)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

// Load reads a pipeline file, decodes it by extension (.yaml/.yml or JSON),
// then applies environment overrides and defaults.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	p, err := Decode(b, filepath.Ext(path))
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: %s: %w", path, err)
	}
	ApplyEnv(&p, os.LookupEnv)
	ApplyDefaults(&p)
	return p, nil
}

// Decode parses b as YAML when ext is ".yaml" or ".yml" and as JSON otherwise.
func Decode(b []byte, ext string) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode json: %w", err)
		}
	}
	return p, nil
}

// Environment variables read by ApplyEnv.
const (
	EnvDSN            = "SIMDASI_DSN"
	EnvMetricsBackend = "METRICS_BACKEND"
	EnvPushgatewayURL = "PUSHGATEWAY_URL"
)

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production. Empty values are ignored.
func ApplyEnv(p *Pipeline, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDSN); ok && v != "" {
		p.Storage.DSN = v
	}
	if v, ok := lookup(EnvMetricsBackend); ok && v != "" {
		p.Metrics.Backend = strings.ToLower(v)
	}
	if v, ok := lookup(EnvPushgatewayURL); ok && v != "" {
		p.Metrics.PushgatewayURL = v
	}
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(p *Pipeline) {
	if strings.TrimSpace(p.Job) == "" {
		p.Job = DefaultJob
	}
	if p.Simdasi.Timeout.Duration <= 0 {
		p.Simdasi.Timeout.Duration = DefaultTimeout
	}
	if p.Simdasi.FallbackYears <= 0 {
		p.Simdasi.FallbackYears = DefaultFallbackYears
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = DefaultStorageKind
	}
	if p.Runtime.Workers <= 0 {
		p.Runtime.Workers = 1
	}
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = DefaultMetricsBackend
	}
	if p.Metrics.Backend == "datadog" && p.Metrics.DatadogAddr == "" {
		p.Metrics.DatadogAddr = DefaultDatadogAddr
	}
	if p.History.Enabled && p.History.DSN == "" {
		p.History.DSN = DefaultHistoryDSN
	}
	if p.Schedule.Gate == "" {
		p.Schedule.Gate = GateLastSunday
	}
}
