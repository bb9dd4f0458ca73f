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

// Package pipeline composes provisioning, execution, metric post-processing
// and cleanup into one benchmark pipeline instance with a uniform external
// contract across all backends.
package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/metrics"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/quarantine"
)

// Stage names one phase of a pipeline instance.
type Stage string

const (
	StageInit           Stage = "init"
	StageProvisioning   Stage = "provisioning"
	StageRunning        Stage = "running"
	StagePostProcessing Stage = "post-processing"
	StageCleanUp        Stage = "clean-up"
	StageDone           Stage = "done"
)

// Grouping labels for scheduling; quarantined instances are grouped apart so
// their outcomes do not gate unrelated tests.
const (
	GroupDefault    = "default"
	GroupQuarantine = "quarantine"
)

// Spec defines one pipeline instance. Constructed by the test-matrix
// enumerator; immutable afterwards.
type Spec struct {
	Descriptor config.TestDescriptor
	GCP        config.GCPConfig
	Metric     *config.MetricConfig
	Backend    Provisioner

	// BaseOutputDir is the bucket prefix artifact locations are generated
	// under, e.g. "gs://ml-auto-solutions/output".
	BaseOutputDir string

	// GenerateRunName enables the name-aware variant: a human-readable
	// run name is generated and threaded into metric file paths and the
	// run command environment.
	GenerateRunName bool
	// RunNameEnv overrides the env var the run name is exported under.
	RunNameEnv string
	// NestedRunNameInTBLocation places the run name as a directory
	// component inside the tensorboard location.
	NestedRunNameInTBLocation bool
}

// Result is the outcome of one pipeline instance, consumed by the external
// scheduler.
type Result struct {
	BenchmarkID      string
	Group            string
	StageReached     Stage
	Err              error
	ArtifactLocation string
	Duration         time.Duration
}

// OK reports whether the instance completed without failure.
func (r Result) OK() bool {
	return r.Err == nil
}

// Pipeline is one composed benchmark pipeline instance.
type Pipeline struct {
	spec       Spec
	quarantine quarantine.Checker
	post       *metrics.PostProcessor
}

// New validates the spec and composes a pipeline. The quarantine checker is
// injected so membership can be faked in tests.
func New(spec Spec, checker quarantine.Checker, post *metrics.PostProcessor) (*Pipeline, error) {
	if err := spec.Descriptor.Validate(); err != nil {
		return nil, err
	}
	if spec.Backend == nil {
		return nil, errors.Errorf("test %s: no backend provisioner", spec.Descriptor.BenchmarkID)
	}
	if post == nil {
		return nil, errors.Errorf("test %s: no post-processor", spec.Descriptor.BenchmarkID)
	}
	return &Pipeline{spec: spec, quarantine: checker, post: post}, nil
}

// BenchmarkID identifies the instance.
func (p *Pipeline) BenchmarkID() string {
	return p.spec.Descriptor.BenchmarkID
}

// Group returns the scheduling group for this instance. Quarantine changes
// grouping only; stage order and semantics are invariant under membership.
func (p *Pipeline) Group() string {
	if p.quarantine != nil && p.quarantine.IsQuarantined(p.spec.Descriptor.BenchmarkID) {
		return GroupQuarantine
	}
	return GroupDefault
}

// Execute runs the composed stage sequence: provision, run, post-process,
// clean up. Once provisioning has produced an endpoint, cleanup runs on
// every exit path, including run and post-process failures; a cleanup
// failure never masks the primary failure.
func (p *Pipeline) Execute(ctx context.Context) (result Result) {
	start := time.Now()
	desc := p.spec.Descriptor
	result = Result{
		BenchmarkID:  desc.BenchmarkID,
		Group:        p.Group(),
		StageReached: StageInit,
	}
	defer func() {
		result.Duration = time.Since(start)
	}()

	rc, err := buildRunContext(p.spec)
	if err != nil {
		result.Err = classify(StageProvisioning, err)
		return result
	}
	result.ArtifactLocation = rc.ArtifactLocation

	logging.Info("[%s] provisioning via %s backend", desc.BenchmarkID, p.spec.Backend.Kind())
	result.StageReached = StageProvisioning
	ep, err := p.spec.Backend.Provision(ctx, desc, p.spec.GCP, rc)
	if err != nil {
		result.Err = classify(StageProvisioning, err)
		return result
	}

	// Endpoint acquired: from here on, release it on every exit path.
	defer func() {
		result.StageReached = StageCleanUp
		logging.Info("[%s] cleaning up", desc.BenchmarkID)
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Minute)
		defer cancel()
		if cleanupErr := p.spec.Backend.CleanUp(cleanupCtx, desc, p.spec.GCP, rc, ep); cleanupErr != nil {
			tagged := classify(StageCleanUp, cleanupErr)
			if result.Err == nil {
				result.Err = tagged
			} else {
				logging.Error("[%s] cleanup failed after earlier %s: %v",
					desc.BenchmarkID, KindOf(result.Err), cleanupErr)
			}
			return
		}
		if result.Err == nil {
			result.StageReached = StageDone
		}
	}()

	logging.Info("[%s] running (timeout %s)", desc.BenchmarkID, desc.Timeout)
	result.StageReached = StageRunning
	runCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	runErr := p.spec.Backend.Run(runCtx, desc, p.spec.GCP, rc, ep)
	cancel()
	if runErr != nil {
		result.Err = classify(StageRunning, runErr)
	}

	// Post-processing is always attempted once the run stage executed, so
	// a missing result is recorded rather than silently dropped. Retries
	// stay disabled by construction: Process is called exactly once.
	result.StageReached = StagePostProcessing
	if ppErr := p.post.Process(ctx, desc, rc.MetricCfg, p.spec.GCP, rc.ArtifactLocation); ppErr != nil {
		tagged := classify(StagePostProcessing, ppErr)
		if result.Err == nil {
			result.Err = tagged
		} else {
			logging.Error("[%s] post-process failed after run failure: %v", desc.BenchmarkID, ppErr)
		}
	}

	return result
}
