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

// Package xpk submits multi-host benchmark workloads to a GKE cluster
// through the xpk CLI. The run command is embedded in the submission, so
// the run phase only waits for the workload to finish.
package xpk

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/pipeline"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/shell"
)

// DefaultProvisionTimeout bounds how long a submitted workload may wait for
// cluster capacity before provisioning counts as timed out. Queue waits on
// shared clusters are long by design.
const DefaultProvisionTimeout = 300 * time.Minute

// Options carries the optional workload toggles the scheduler understands.
type Options struct {
	// UsePathways schedules the workload through the pathways runtime.
	UsePathways bool
	// RamdiskDirectory mounts a ramdisk at the given path inside the
	// workload containers.
	RamdiskDirectory string
	// VertexTensorboardExperiment uploads tensorboard data to the named
	// Vertex AI experiment.
	VertexTensorboardExperiment string
}

// Backend implements pipeline.Provisioner over the xpk CLI.
type Backend struct {
	Runner shell.Runner

	// Python and ScriptPath locate the CLI; see EnsureCheckout.
	Python     string
	ScriptPath string

	Options Options

	// ProvisionTimeout overrides DefaultProvisionTimeout; PollInterval
	// overrides the 60s status polling cadence.
	ProvisionTimeout time.Duration
	PollInterval     time.Duration
}

// New builds an xpk backend over a command runner and a CLI checkout.
func New(runner shell.Runner, scriptPath string) *Backend {
	return &Backend{Runner: runner, Python: "python3", ScriptPath: scriptPath}
}

// Kind implements pipeline.Provisioner.
func (b *Backend) Kind() pipeline.BackendKind {
	return pipeline.BackendClusterWorkload
}

// Provision submits the workload and waits for it to start running on the
// cluster. The submission already carries the run command with the artifact
// location exported.
func (b *Backend) Provision(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *pipeline.RunContext) (pipeline.Endpoint, error) {
	provisionTimeout := b.ProvisionTimeout
	if provisionTimeout == 0 {
		provisionTimeout = DefaultProvisionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()

	args := b.createArgs(desc, gcp, rc)
	res := b.Runner(ctx, b.Python, args...)
	if res.ExitCode != 0 {
		return pipeline.Endpoint{}, errors.Errorf(
			"xpk workload create for %s exited %d: %s", rc.WorkloadID, res.ExitCode, res.Stderr)
	}
	logging.Info("Submitted workload %s to cluster %s", rc.WorkloadID, desc.ClusterName)

	if err := b.waitForStatus(ctx, desc, gcp, rc.WorkloadID, false); err != nil {
		return pipeline.Endpoint{}, err
	}
	return pipeline.Endpoint{
		Kind:       b.Kind(),
		WorkloadID: rc.WorkloadID,
	}, nil
}

// Run waits for the embedded run command to finish, bounded by ctx.
func (b *Backend) Run(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, _ *pipeline.RunContext, ep pipeline.Endpoint) error {
	return b.waitForStatus(ctx, desc, gcp, ep.WorkloadID, true)
}

// CleanUp deletes the workload regardless of its state.
func (b *Backend) CleanUp(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, _ *pipeline.RunContext, ep pipeline.Endpoint) error {
	args := []string{
		b.ScriptPath, "workload", "delete",
		"--workload=" + ep.WorkloadID,
		"--cluster=" + desc.ClusterName,
		"--project=" + gcp.Project,
		"--zone=" + gcp.Zone,
	}
	res := b.Runner(ctx, b.Python, args...)
	if res.ExitCode != 0 {
		return errors.Errorf("xpk workload delete for %s exited %d: %s", ep.WorkloadID, res.ExitCode, res.Stderr)
	}
	logging.Info("Deleted workload %s", ep.WorkloadID)
	return nil
}

// createArgs derives the submission argv. The run command exports the
// artifact location itself so every container sees the output contract.
func (b *Backend) createArgs(desc config.TestDescriptor, gcp config.GCPConfig, rc *pipeline.RunContext) []string {
	command := fmt.Sprintf("export %s=%s\n%s", config.GCSOutputEnvVar, rc.ArtifactLocation, rc.RunScript)

	numSlices := desc.Accelerator.NumSlices
	if numSlices == 0 {
		numSlices = 1
	}

	args := []string{
		b.ScriptPath, "workload", "create",
		"--cluster=" + desc.ClusterName,
		"--workload=" + rc.WorkloadID,
		"--command=" + command,
		"--docker-image=" + desc.DockerImage,
		"--tpu-type=" + desc.Accelerator.Name(),
		"--num-slices=" + strconv.Itoa(numSlices),
		"--project=" + gcp.Project,
		"--zone=" + gcp.Zone,
	}
	if b.Options.UsePathways {
		args = append(args, "--use-pathways")
	}
	if b.Options.RamdiskDirectory != "" {
		args = append(args, "--ramdisk-directory="+b.Options.RamdiskDirectory)
	}
	if b.Options.VertexTensorboardExperiment != "" {
		args = append(args,
			"--use-vertex-tensorboard",
			"--experiment-name="+b.Options.VertexTensorboardExperiment)
	}
	return args
}

// waitForStatus polls the workload list until the workload is running (or,
// when terminal is set, until it finished). A Failed workload is an error in
// both modes.
func (b *Backend) waitForStatus(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, workloadID string, terminal bool) error {
	interval := b.PollInterval
	if interval == 0 {
		interval = 60 * time.Second
	}
	listArgs := []string{
		b.ScriptPath, "workload", "list",
		"--cluster=" + desc.ClusterName,
		"--filter-by-job=" + workloadID,
		"--project=" + gcp.Project,
		"--zone=" + gcp.Zone,
	}

	return wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		res := b.Runner(ctx, b.Python, listArgs...)
		if res.ExitCode != 0 {
			// Listing hiccups are transient; the deadline bounds us.
			logging.Warn("xpk workload list for %s exited %d: %s", workloadID, res.ExitCode, res.Stderr)
			return false, nil
		}

		status := workloadStatus(res.Stdout, workloadID)
		logging.Debug("Workload %s status %q", workloadID, status)
		switch status {
		case "Failed":
			return false, errors.Errorf("workload %s failed on cluster %s", workloadID, desc.ClusterName)
		case "Finished", "Succeeded":
			return true, nil
		case "Running":
			return !terminal, nil
		default:
			return false, nil
		}
	})
}

// workloadStatus extracts the status column from the list output line naming
// the workload. Empty when the workload has not surfaced yet.
func workloadStatus(stdout, workloadID string) string {
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != workloadID {
			continue
		}
		return fields[len(fields)-1]
	}
	return ""
}
