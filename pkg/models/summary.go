package models

import (
	"encoding/json"
	"fmt"
)

// SummaryStatus is the verdict of a single validation check or of a merged
// test summary.
type SummaryStatus string

const (
	SummaryPassed SummaryStatus = "passed"
	SummaryFailed SummaryStatus = "failed"
)

// ToolVersions identifies the validator toolchain a summary was produced
// with.
type ToolVersions struct {
	SpecVersion string
	CoreVersion string
}

// ValidationSummary is the result of one check, produced by the static
// descriptor validator or by a dynamic tester (one per weight/variant
// format).
type ValidationSummary struct {
	Name         string         `yaml:"name"`
	Status       SummaryStatus  `yaml:"status"`
	Error        string         `yaml:"error,omitempty"`
	Traceback    []string       `yaml:"traceback,omitempty"`
	Warnings     map[string]any `yaml:"warnings,omitempty"`
	NestedErrors map[string]any `yaml:"nested_errors,omitempty"`
	SpecVersion  string         `yaml:"spec_version,omitempty"`
	CoreVersion  string         `yaml:"core_version,omitempty"`

	// SourceName is runner bookkeeping; it is stripped before merging.
	SourceName string `yaml:"source_name,omitempty"`
}

// SyntheticFailure represents a validator that could not even run (e.g.
// environment setup failure) as a regular failed entry so it is merged
// normally rather than silently dropped.
func SyntheticFailure(name string, err error, tools ToolVersions) ValidationSummary {
	return ValidationSummary{
		Name:        name,
		Status:      SummaryFailed,
		Error:       err.Error(),
		SpecVersion: tools.SpecVersion,
		CoreVersion: tools.CoreVersion,
	}
}

// DedupKey returns the composite identity used to deduplicate entries within
// a namespace: tool versions, test name, status, error text, warnings and
// nested errors. Timestamps and run ids are intentionally absent so that
// re-running an unchanged validator does not inflate the summary.
func (s ValidationSummary) DedupKey() string {
	key := struct {
		SpecVersion  string         `json:"spec_version"`
		CoreVersion  string         `json:"core_version"`
		Name         string         `json:"name"`
		Status       SummaryStatus  `json:"status"`
		Error        string         `json:"error"`
		Warnings     map[string]any `json:"warnings"`
		NestedErrors map[string]any `json:"nested_errors"`
	}{s.SpecVersion, s.CoreVersion, s.Name, s.Status, s.Error, normalizeMap(s.Warnings), normalizeMap(s.NestedErrors)}

	b, err := json.Marshal(key)
	if err != nil {
		// non-JSON-encodable warning payloads still need a stable key
		return fmt.Sprintf("%s|%s|%s|%s|%s|%#v|%#v",
			s.SpecVersion, s.CoreVersion, s.Name, s.Status, s.Error, s.Warnings, s.NestedErrors)
	}
	return string(b)
}

// normalizeMap rewrites YAML-decoded values so they are JSON encodable
// (YAML allows non-string mapping keys).
func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeMap(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}

// TestSummary is the persisted, merged view over all validation summaries of
// one resource version, keyed by validator namespace.
type TestSummary struct {
	// RDFSha256 fingerprints the deployed descriptor the summary was
	// computed against, for staleness detection.
	RDFSha256 string `yaml:"rdf_sha256,omitempty"`

	Status SummaryStatus `yaml:"status,omitempty"`

	// SpecVersion/CoreVersion record the core validator toolchain of the
	// last fresh core run.
	SpecVersion string `yaml:"spec_version,omitempty"`
	CoreVersion string `yaml:"core_version,omitempty"`

	// Tests holds the deduplicated, order-stable entries per namespace.
	Tests map[string][]ValidationSummary `yaml:"tests"`
}

// Recompute derives the overall status: passed iff every entry across every
// namespace passed. Zero entries count as passed (vacuous conjunction; see
// DESIGN.md for the rationale behind this choice).
func (t *TestSummary) Recompute() {
	t.Status = SummaryPassed
	for _, entries := range t.Tests {
		for _, e := range entries {
			if e.Status != SummaryPassed {
				t.Status = SummaryFailed
				return
			}
		}
	}
}

// EntryCount returns the number of entries across all namespaces.
func (t *TestSummary) EntryCount() int {
	n := 0
	for _, entries := range t.Tests {
		n += len(entries)
	}
	return n
}

// Tools returns the recorded core toolchain versions.
func (t *TestSummary) Tools() ToolVersions {
	return ToolVersions{SpecVersion: t.SpecVersion, CoreVersion: t.CoreVersion}
}
