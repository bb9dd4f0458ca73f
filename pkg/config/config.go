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

// Package config holds the immutable descriptions of one benchmark run:
// what to run, where to provision it, and what telemetry to collect.
package config

import (
	"time"

	"github.com/pkg/errors"
)

// AcceleratorKind classifies the hardware a test runs on.
type AcceleratorKind string

const (
	AcceleratorTPU AcceleratorKind = "tpu"
	AcceleratorGPU AcceleratorKind = "gpu"
	AcceleratorCPU AcceleratorKind = "cpu"
)

// Accelerator describes the accelerator shape a test requests.
type Accelerator struct {
	Kind AcceleratorKind
	// Type is the provider identifier, e.g. "v4-8" for a TPU slice or
	// "nvidia-tesla-a100" for a GPU node selector.
	Type string
	// MachineType is the VM shape for single-host GPU tests.
	MachineType string
	// RuntimeVersion is the TPU software version.
	RuntimeVersion string
	// Count is the number of accelerator chips attached per host.
	Count int64
	// NumSlices is the slice replication factor for multi-host tests.
	NumSlices int
	// NumHosts is the number of hosts participating in one run.
	NumHosts int
}

// Name returns the identifier passed to the workload scheduler, e.g.
// "v4-8" or "h100-80gb-8".
func (a Accelerator) Name() string {
	return a.Type
}

// TestDescriptor is the immutable description of one benchmark run. It is
// constructed by the test-matrix enumerator and shared read-only by every
// pipeline stage.
type TestDescriptor struct {
	// BenchmarkID uniquely identifies this pipeline instance within one
	// scheduling cycle.
	BenchmarkID string
	// TestName is the bare test name; identifiers beginning with "tf_"
	// always run their scripts on all workers.
	TestName string
	Owner    string

	Accelerator Accelerator
	DockerImage string

	SetupScript string
	RunScript   string

	// Timeout bounds the run stage wall clock.
	Timeout time.Duration

	// ClusterName is the target cluster for workload and batch-job
	// backends.
	ClusterName string
	// Namespace for batch jobs; defaults to "default" when empty.
	Namespace string

	// GCSSubfolder groups this test's artifacts under the output bucket.
	GCSSubfolder string

	// ExistingInstanceName attaches the VmSsh backend to a pre-existing
	// instance instead of creating one.
	ExistingInstanceName string

	// InstallNvidiaDrivers installs GPU drivers after VM creation.
	InstallNvidiaDrivers bool
	// Reservation requests a specific capacity reservation, if available.
	Reservation bool
}

// RunsOnAllWorkers reports whether scripts run on every worker rather than
// worker 0 only. TensorFlow tests always fan out.
func (d TestDescriptor) RunsOnAllWorkers(allWorkers bool) bool {
	if len(d.TestName) >= 3 && d.TestName[:3] == "tf_" {
		return true
	}
	return allWorkers
}

// Validate checks the invariants the pipeline relies on.
func (d TestDescriptor) Validate() error {
	if d.BenchmarkID == "" {
		return errors.New("benchmark id must not be empty")
	}
	if d.Timeout <= 0 {
		return errors.Errorf("test %s: timeout must be positive, got %s", d.BenchmarkID, d.Timeout)
	}
	return nil
}

// GCPConfig locates the project and zone a test provisions into.
type GCPConfig struct {
	Project string
	Zone    string
	// DatasetName names the metrics dataset the ingestion collaborator
	// writes to.
	DatasetName string
}

// Region derives the region from the zone by trimming the zone letter
// suffix, e.g. "us-central2-b" -> "us-central2".
func (g GCPConfig) Region() string {
	if len(g.Zone) < 2 {
		return g.Zone
	}
	return g.Zone[:len(g.Zone)-2]
}
