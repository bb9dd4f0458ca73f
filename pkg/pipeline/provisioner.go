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
	"context"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
)

// BackendKind tags the provisioning mechanics behind a pipeline instance.
type BackendKind string

const (
	// BackendQueuedResource provisions a TPU through the queued-resource
	// API and reaches it over SSH.
	BackendQueuedResource BackendKind = "queued-resource"
	// BackendVMSSH provisions (or attaches to) a single GPU VM reached
	// over SSH.
	BackendVMSSH BackendKind = "vm-ssh"
	// BackendClusterWorkload submits a multi-host workload through the
	// xpk CLI; the run command is embedded in the submission.
	BackendClusterWorkload BackendKind = "cluster-workload"
	// BackendBatchJob submits a raw Kubernetes batch job; the manifest
	// provisions and runs in one step and cleanup is left to the
	// cluster's job TTL.
	BackendBatchJob BackendKind = "batch-job"
)

// Endpoint is the backend-specific addressable handle to provisioned
// compute: worker addresses for SSH backends, a workload id for the cluster
// scheduler, or a job name for batch jobs.
type Endpoint struct {
	Kind         BackendKind
	ResourceName string
	Addresses    []string
	WorkloadID   string
	JobName      string
	Namespace    string
	// Existing marks a pre-existing instance the pipeline attached to;
	// cleanup then removes only the one-time SSH keys.
	Existing bool
}

// Provisioner gives every backend the same external contract: acquire
// compute, execute the test against it, and release it. Implementations live
// under pkg/backend.
type Provisioner interface {
	Kind() BackendKind

	// Provision acquires compute and returns a ready endpoint. For the
	// batch-job backend submission already starts the run.
	Provision(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *RunContext) (Endpoint, error)

	// Run executes the test script against the endpoint, or waits for the
	// embedded run to complete for backends whose submission carries the
	// run command. Bounded by the descriptor timeout via ctx.
	Run(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *RunContext, ep Endpoint) error

	// CleanUp releases backend resources regardless of run outcome.
	CleanUp(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *RunContext, ep Endpoint) error
}
