package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single lint finding. Path is a dotted path into the config
// (e.g. "storage.kind", "sources[2].url").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	knownStorage = map[string]struct{}{"postgres": {}, "sqlite": {}, "mssql": {}, "mysql": {}}
	knownMetrics = map[string]struct{}{"none": {}, "prometheus": {}, "datadog": {}}
	knownGates   = map[string]struct{}{GateLastSunday: {}, GateAlways: {}}
)

// ValidatePipeline lints p without mutating it. Run it after ApplyDefaults so
// omitted fields are not reported.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{SeverityError, "job", "job must not be empty; it labels metrics and history rows"})
	}
	issues = append(issues, validateSources(p)...)
	issues = append(issues, validateSimdasi(p.Simdasi)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateMetrics(p.Metrics)...)

	if p.History.Enabled && strings.TrimSpace(p.History.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "history.dsn", "history is enabled but has no dsn"})
	}
	if _, ok := knownGates[p.Schedule.Gate]; !ok {
		issues = append(issues, Issue{SeverityError, "schedule.gate",
			fmt.Sprintf("unknown gate %q; want %q or %q", p.Schedule.Gate, GateLastSunday, GateAlways)})
	}
	return issues
}

func validateSources(p Pipeline) []Issue {
	var issues []Issue
	sl := p.SourceList

	hasList := sl.URL != "" || sl.Path != ""
	if !hasList && len(p.Sources) == 0 {
		issues = append(issues, Issue{SeverityError, "source_list", "either source_list.url, source_list.path or sources must be set"})
	}
	if sl.URL != "" && sl.Path != "" {
		issues = append(issues, Issue{SeverityError, "source_list", "source_list.url and source_list.path are mutually exclusive"})
	}
	if sl.URL != "" {
		if u, err := url.Parse(sl.URL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, Issue{SeverityError, "source_list.url", fmt.Sprintf("invalid url %q", sl.URL)})
		}
	}

	seen := map[string]int{}
	for i, s := range p.Sources {
		path := fmt.Sprintf("sources[%d]", i)
		if strings.TrimSpace(s.URL) == "" {
			issues = append(issues, Issue{SeverityError, path + ".url", "url must not be empty"})
		} else if !strings.Contains(s.URL, "id_tabel/") || !strings.Contains(s.URL, "key/") {
			issues = append(issues, Issue{SeverityWarning, path + ".url", "url lacks id_tabel/ or key/ segments; year discovery will fall back to the default range"})
		}
		if strings.TrimSpace(s.Table) == "" {
			issues = append(issues, Issue{SeverityError, path + ".table", "table must not be empty"})
		}
		if strings.TrimSpace(s.Schema) == "" {
			issues = append(issues, Issue{SeverityError, path + ".schema", "schema must not be empty"})
		}
		key := s.Schema + "." + s.Table
		if j, dup := seen[key]; dup {
			issues = append(issues, Issue{SeverityWarning, path,
				fmt.Sprintf("writes %s like sources[%d]; the later source replaces the earlier table", key, j)})
		} else {
			seen[key] = i
		}
	}
	return issues
}

func validateSimdasi(s Simdasi) []Issue {
	var issues []Issue
	if s.CatalogBaseURL != "" {
		if u, err := url.Parse(s.CatalogBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, Issue{SeverityError, "simdasi.catalog_base_url", fmt.Sprintf("invalid url %q", s.CatalogBaseURL)})
		}
	}
	if s.MaxRetries < 0 {
		issues = append(issues, Issue{SeverityError, "simdasi.max_retries", "must be >= 0"})
	}
	if s.RequestsPerSec < 0 {
		issues = append(issues, Issue{SeverityError, "simdasi.requests_per_sec", "must be >= 0"})
	}
	if s.Burst < 0 {
		issues = append(issues, Issue{SeverityError, "simdasi.burst", "must be >= 0"})
	}
	if s.FallbackYears > 50 {
		issues = append(issues, Issue{SeverityWarning, "simdasi.fallback_years",
			fmt.Sprintf("%d years is one request per year per source", s.FallbackYears)})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	if _, ok := knownStorage[s.Kind]; !ok {
		issues = append(issues, Issue{SeverityError, "storage.kind",
			fmt.Sprintf("unknown storage kind %q; want postgres, mysql, mssql or sqlite", s.Kind)})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "storage.dsn", "dsn must not be empty (or set " + EnvDSN + ")"})
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue
	if r.Workers < 1 {
		issues = append(issues, Issue{SeverityError, "runtime.workers", "must be >= 1"})
	}
	if r.Workers > 8 {
		issues = append(issues, Issue{SeverityWarning, "runtime.workers", "more than 8 concurrent sources may trip API rate limits"})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	if _, ok := knownMetrics[m.Backend]; !ok {
		issues = append(issues, Issue{SeverityError, "metrics.backend",
			fmt.Sprintf("unknown metrics backend %q; want none, prometheus or datadog", m.Backend)})
		return issues
	}
	if m.Backend == "prometheus" && m.PushgatewayURL == "" {
		issues = append(issues, Issue{SeverityWarning, "metrics.pushgateway_url", "prometheus backend without pushgateway_url; pushing to http://localhost:9091"})
	}
	return issues
}
