// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

// GCSOutputEnvVar is the single well-known environment variable the runner
// sets to tell the test script where to write its artifacts.
const GCSOutputEnvVar = "GCS_OUTPUT"

// SummaryConfig locates a tensorboard event summary to aggregate.
type SummaryConfig struct {
	FileLocation string
	// AggregationStrategy picks how multiple scalar points collapse into
	// one metric value, e.g. "last", "average", "median".
	AggregationStrategy string
}

// ProfileConfig locates a profiling trace to convert into metrics before
// ingestion.
type ProfileConfig struct {
	FileLocation string
}

// MetricConfig describes the telemetry collected for one test. Resolution of
// runtime-generated locations returns a new value; a MetricConfig is never
// mutated after construction.
type MetricConfig struct {
	TensorboardSummary SummaryConfig
	Profile            *ProfileConfig
	// UseRuntimeGeneratedGCSFolder routes the test's output through the
	// per-instance artifact location instead of a fixed path.
	UseRuntimeGeneratedGCSFolder bool
}

// WithResolvedLocations returns a copy with the tensorboard summary (and
// profile, when configured) pointing at run-name-specific locations. The
// receiver is left untouched.
func (m MetricConfig) WithResolvedLocations(tbFileLocation, profileFileLocation string) MetricConfig {
	resolved := m
	resolved.TensorboardSummary.FileLocation = tbFileLocation
	if m.Profile != nil {
		profile := *m.Profile
		profile.FileLocation = profileFileLocation
		resolved.Profile = &profile
	}
	return resolved
}

// HasProfile reports whether a profiling trace is configured.
func (m MetricConfig) HasProfile() bool {
	return m.Profile != nil && m.Profile.FileLocation != ""
}
