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

// Package metrics converts raw benchmark artifacts into metric records and
// hands them to the ingestion collaborator. Post-processing is attempted
// exactly once per pipeline instance: a failed ingestion must stay visible,
// never be masked by a retry.
package metrics

import (
	"context"

	"github.com/pkg/errors"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/names"
)

// Metric is one measured value extracted from a run.
type Metric struct {
	Name  string
	Value float64
	Unit  string
}

// Ingester is the metrics/metadata storage collaborator. The concrete
// implementation (BigQuery-backed) lives outside this repository.
type Ingester interface {
	// GenerateProcessID returns the id under which one post-process
	// invocation is recorded.
	GenerateProcessID() string
	// ProcessMetrics parses the run's artifacts and inserts metric and
	// metadata rows. profileMetrics, when non-nil, carries metrics
	// already extracted from the profiling trace.
	ProcessMetrics(ctx context.Context, processID string, desc config.TestDescriptor, metricCfg *config.MetricConfig, gcp config.GCPConfig, artifactLocation string, profileMetrics []Metric) error
}

// Profiler converts a profiling trace (xplane) into structured metrics.
type Profiler interface {
	XplaneToMetrics(ctx context.Context, profileLocation string) ([]Metric, error)
}

// ArtifactLister enumerates objects under an artifact prefix.
type ArtifactLister interface {
	List(ctx context.Context, location string) ([]string, error)
}

// PostProcessor runs the post-process stage for one pipeline instance.
type PostProcessor struct {
	Ingester  Ingester
	Profiler  Profiler
	Artifacts ArtifactLister
}

// Process generates a process id, converts the profiling trace when one is
// configured, then triggers metric ingestion. Profiling strictly precedes
// ingestion. Process is called on both successful and failed runs so the
// signal of a missing result is recorded.
func (p *PostProcessor) Process(ctx context.Context, desc config.TestDescriptor, metricCfg *config.MetricConfig, gcp config.GCPConfig, artifactLocation string) error {
	processID := p.Ingester.GenerateProcessID()
	logging.Info("Post-processing %s under process id %s", desc.BenchmarkID, processID)

	if p.Artifacts != nil && artifactLocation != "" {
		objects, err := p.Artifacts.List(ctx, artifactLocation)
		switch {
		case err != nil:
			logging.Warn("Could not list artifacts under %s: %v", artifactLocation, err)
		case len(objects) == 0:
			logging.Warn("No artifacts found under %s", artifactLocation)
		default:
			logging.Debug("Found %d artifacts under %s", len(objects), artifactLocation)
		}
	}

	var profileMetrics []Metric
	if metricCfg != nil && metricCfg.HasProfile() {
		if p.Profiler == nil {
			return errors.Errorf("test %s configures a profile at %s but no profiler is wired",
				desc.BenchmarkID, metricCfg.Profile.FileLocation)
		}
		var err error
		profileMetrics, err = p.Profiler.XplaneToMetrics(ctx, metricCfg.Profile.FileLocation)
		if err != nil {
			return errors.Wrapf(err, "converting profile trace at %s", metricCfg.Profile.FileLocation)
		}
	}

	if err := p.Ingester.ProcessMetrics(ctx, processID, desc, metricCfg, gcp, artifactLocation, profileMetrics); err != nil {
		return errors.Wrapf(err, "ingesting metrics for %s", desc.BenchmarkID)
	}
	return nil
}

// NoopIngester logs instead of inserting rows. It backs dry runs and local
// development.
type NoopIngester struct{}

// GenerateProcessID implements Ingester.
func (NoopIngester) GenerateProcessID() string {
	return names.GenerateProcessID()
}

// ProcessMetrics implements Ingester.
func (NoopIngester) ProcessMetrics(_ context.Context, processID string, desc config.TestDescriptor, _ *config.MetricConfig, _ config.GCPConfig, artifactLocation string, profileMetrics []Metric) error {
	logging.Info("[dry-run] process %s: would ingest metrics for %s from %s (%d profile metrics)",
		processID, desc.BenchmarkID, artifactLocation, len(profileMetrics))
	return nil
}
