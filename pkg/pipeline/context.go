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

package pipeline

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/names"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/sshkeys"
)

// DefaultRunNameEnv is the environment variable the resolved run name is
// exported under for name-aware tests.
const DefaultRunNameEnv = "M_RUN_NAME"

// RunContext carries the runtime identity of one pipeline instance. It is
// generated once at pipeline start and read, never written, by later stages.
type RunContext struct {
	BenchmarkID  string
	RunName      string
	WorkloadID   string
	ResourceName string
	SSHKeys      *sshkeys.KeyPair

	// ArtifactLocation is the durable storage prefix for this instance's
	// outputs; never reused across instances.
	ArtifactLocation string

	// MetricCfg is the resolved metric configuration; when a run name was
	// generated, file locations already point at run-name-specific paths.
	MetricCfg *config.MetricConfig

	// RunScript is the descriptor's run script, with the run-name export
	// prepended for name-aware variants.
	RunScript string
}

// buildRunContext derives all per-instance identifiers. Run-name fan-out
// resolves the tensorboard and profile locations concurrently before the
// context is handed to any stage.
func buildRunContext(spec Spec) (*RunContext, error) {
	desc := spec.Descriptor
	rc := &RunContext{
		BenchmarkID:      desc.BenchmarkID,
		WorkloadID:       names.GenerateWorkloadID(desc.BenchmarkID),
		ResourceName:     names.GenerateResourceName(desc.BenchmarkID),
		ArtifactLocation: names.GenerateGCSFolder(spec.BaseOutputDir, desc.GCSSubfolder, desc.BenchmarkID),
		RunScript:        desc.RunScript,
	}

	if spec.Metric != nil {
		cfg := *spec.Metric
		rc.MetricCfg = &cfg
	}

	switch spec.Backend.Kind() {
	case BackendQueuedResource, BackendVMSSH:
		keys, err := sshkeys.Generate()
		if err != nil {
			return nil, err
		}
		rc.SSHKeys = keys
	}

	if spec.GenerateRunName && rc.MetricCfg != nil {
		rc.RunName = names.GenerateRunName(desc.BenchmarkID)

		runNameEnv := spec.RunNameEnv
		if runNameEnv == "" {
			runNameEnv = DefaultRunNameEnv
		}
		rc.RunScript = fmt.Sprintf("export %s=%s\n%s", runNameEnv, rc.RunName, desc.RunScript)

		// Two independent downstream resolutions fan out from the run
		// name and reconverge before the runner stage.
		var (
			g          errgroup.Group
			tbLoc      string
			profileLoc string
		)
		g.Go(func() error {
			tbLoc = names.GenerateTBFileLocation(
				rc.RunName, rc.MetricCfg.TensorboardSummary.FileLocation, spec.NestedRunNameInTBLocation)
			return nil
		})
		if rc.MetricCfg.HasProfile() {
			g.Go(func() error {
				profileLoc = names.GenerateProfileFileLocation(
					rc.RunName, rc.MetricCfg.Profile.FileLocation)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		resolved := rc.MetricCfg.WithResolvedLocations(tbLoc, profileLoc)
		rc.MetricCfg = &resolved
	}

	return rc, nil
}
