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

package tpuqr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	tpu "google.golang.org/api/tpu/v2alpha1"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/pipeline"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/sshkeys"
)

type fakeAPI struct {
	created   *tpu.QueuedResource
	createdID string

	// states is consumed one Get at a time; the last entry repeats.
	states  []string
	getCall int

	nodes   map[string]*tpu.Node
	deleted []string
}

func (f *fakeAPI) CreateQueuedResource(_ context.Context, parent, id string, qr *tpu.QueuedResource) error {
	f.created = qr
	f.createdID = id
	return nil
}

func (f *fakeAPI) GetQueuedResource(_ context.Context, name string) (*tpu.QueuedResource, error) {
	state := f.states[len(f.states)-1]
	if f.getCall < len(f.states) {
		state = f.states[f.getCall]
	}
	f.getCall++
	return &tpu.QueuedResource{
		Name:  name,
		State: &tpu.QueuedResourceState{State: state},
	}, nil
}

func (f *fakeAPI) DeleteQueuedResource(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeAPI) GetNode(_ context.Context, name string) (*tpu.Node, error) {
	node, ok := f.nodes[name]
	if !ok {
		return nil, errors.New("node not found: " + name)
	}
	return node, nil
}

type execCall struct {
	addrs      []string
	script     string
	allWorkers bool
	env        map[string]string
}

type fakeExecutor struct {
	calls []execCall
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, _ *sshkeys.KeyPair, addrs []string, script string, allWorkers bool, env map[string]string) error {
	f.calls = append(f.calls, execCall{addrs: addrs, script: script, allWorkers: allWorkers, env: env})
	return f.err
}

func tpuDescriptor() config.TestDescriptor {
	return config.TestDescriptor{
		BenchmarkID: "jax-nightly-mnist-v4-8",
		TestName:    "jax-nightly-mnist",
		SetupScript: "pip install jax[tpu]",
		RunScript:   "python3 mnist.py",
		Timeout:     time.Hour,
		Accelerator: config.Accelerator{
			Kind:           config.AcceleratorTPU,
			Type:           "v4-8",
			RuntimeVersion: "tpu-ubuntu2204-base",
		},
	}
}

func testGCP() config.GCPConfig {
	return config.GCPConfig{Project: "my-project", Zone: "us-central2-b"}
}

func testRunContext(t *testing.T) *pipeline.RunContext {
	t.Helper()
	keys, err := sshkeys.Generate()
	if err != nil {
		t.Fatalf("generating keys: %v", err)
	}
	return &pipeline.RunContext{
		BenchmarkID:      "jax-nightly-mnist-v4-8",
		ResourceName:     "jax-nightly-mnist-v4-8-abc123",
		ArtifactLocation: "gs://ml-auto-bucket/jax/jax-nightly-mnist-v4-8-xyz",
		RunScript:        "python3 mnist.py",
		SSHKeys:          keys,
	}
}

const qrParent = "projects/my-project/locations/us-central2-b"

func TestProvisionWaitsForActiveAndRunsSetup(t *testing.T) {
	api := &fakeAPI{
		states: []string{"ACCEPTED", "PROVISIONING", "ACTIVE"},
		nodes: map[string]*tpu.Node{
			qrParent + "/nodes/jax-nightly-mnist-v4-8-abc123": {
				NetworkEndpoints: []*tpu.NetworkEndpoint{
					{IpAddress: "10.0.0.2", AccessConfig: &tpu.AccessConfig{ExternalIp: "34.1.2.3"}},
					{IpAddress: "10.0.0.3", AccessConfig: &tpu.AccessConfig{ExternalIp: "34.1.2.4"}},
				},
			},
		},
	}
	exec := &fakeExecutor{}
	b := New(api, exec)
	b.PollInterval = time.Millisecond

	ep, err := b.Provision(context.Background(), tpuDescriptor(), testGCP(), testRunContext(t))
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if api.createdID != "jax-nightly-mnist-v4-8-abc123" {
		t.Errorf("queued resource id = %q", api.createdID)
	}
	if diff := cmp.Diff([]string{"34.1.2.3", "34.1.2.4"}, ep.Addresses); diff != "" {
		t.Errorf("addresses mismatch (-want +got):\n%s", diff)
	}
	if ep.ResourceName != qrParent+"/queuedResources/jax-nightly-mnist-v4-8-abc123" {
		t.Errorf("resource name = %q", ep.ResourceName)
	}

	if len(exec.calls) != 1 {
		t.Fatalf("setup executions = %d, want 1", len(exec.calls))
	}
	setup := exec.calls[0]
	if setup.script != "pip install jax[tpu]" {
		t.Errorf("setup script = %q", setup.script)
	}
	if setup.allWorkers {
		t.Error("setup for a non-tf test should target worker 0 by default")
	}
}

func TestProvisionSetupFansOutWhenRequested(t *testing.T) {
	api := &fakeAPI{
		states: []string{"ACTIVE"},
		nodes: map[string]*tpu.Node{
			qrParent + "/nodes/jax-nightly-mnist-v4-8-abc123": {
				NetworkEndpoints: []*tpu.NetworkEndpoint{
					{IpAddress: "10.0.0.2"},
					{IpAddress: "10.0.0.3"},
				},
			},
		},
	}
	exec := &fakeExecutor{}
	b := New(api, exec)
	b.PollInterval = time.Millisecond
	b.AllWorkers = true

	if _, err := b.Provision(context.Background(), tpuDescriptor(), testGCP(), testRunContext(t)); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if len(exec.calls) != 1 || !exec.calls[0].allWorkers {
		t.Errorf("setup should fan out when all workers are requested: %+v", exec.calls)
	}
}

func TestProvisionRequestShape(t *testing.T) {
	api := &fakeAPI{
		states: []string{"ACTIVE"},
		nodes: map[string]*tpu.Node{
			qrParent + "/nodes/jax-nightly-mnist-v4-8-abc123": {
				NetworkEndpoints: []*tpu.NetworkEndpoint{{IpAddress: "10.0.0.2"}},
			},
		},
	}
	b := New(api, &fakeExecutor{})
	b.PollInterval = time.Millisecond

	rc := testRunContext(t)
	desc := tpuDescriptor()
	desc.Reservation = true
	if _, err := b.Provision(context.Background(), desc, testGCP(), rc); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if api.created.Guaranteed == nil || !api.created.Guaranteed.Reserved {
		t.Error("reservation request did not ask for guaranteed capacity")
	}
	specs := api.created.Tpu.NodeSpec
	if len(specs) != 1 {
		t.Fatalf("node specs = %d, want 1", len(specs))
	}
	node := specs[0].Node
	if node.AcceleratorType != "v4-8" || node.RuntimeVersion != "tpu-ubuntu2204-base" {
		t.Errorf("node shape = %s/%s", node.AcceleratorType, node.RuntimeVersion)
	}
	if node.Metadata["ssh-keys"] != rc.SSHKeys.MetadataValue(sshkeys.DefaultUser) {
		t.Error("ssh key metadata not planted on the node")
	}
}

func TestProvisionMultisliceNodeIDs(t *testing.T) {
	api := &fakeAPI{
		states: []string{"ACTIVE"},
		nodes: map[string]*tpu.Node{
			qrParent + "/nodes/jax-nightly-mnist-v4-8-abc123-0": {
				NetworkEndpoints: []*tpu.NetworkEndpoint{{IpAddress: "10.0.0.2"}},
			},
			qrParent + "/nodes/jax-nightly-mnist-v4-8-abc123-1": {
				NetworkEndpoints: []*tpu.NetworkEndpoint{{IpAddress: "10.0.0.3"}},
			},
		},
	}
	b := New(api, &fakeExecutor{})
	b.PollInterval = time.Millisecond

	desc := tpuDescriptor()
	desc.Accelerator.NumSlices = 2
	ep, err := b.Provision(context.Background(), desc, testGCP(), testRunContext(t))
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	if len(api.created.Tpu.NodeSpec) != 2 {
		t.Fatalf("node specs = %d, want 2", len(api.created.Tpu.NodeSpec))
	}
	if got := api.created.Tpu.NodeSpec[1].NodeId; got != "jax-nightly-mnist-v4-8-abc123-1" {
		t.Errorf("second slice node id = %q", got)
	}
	if diff := cmp.Diff([]string{"10.0.0.2", "10.0.0.3"}, ep.Addresses); diff != "" {
		t.Errorf("addresses mismatch (-want +got):\n%s", diff)
	}
}

func TestProvisionFailedState(t *testing.T) {
	api := &fakeAPI{states: []string{"ACCEPTED", "FAILED"}}
	b := New(api, &fakeExecutor{})
	b.PollInterval = time.Millisecond

	_, err := b.Provision(context.Background(), tpuDescriptor(), testGCP(), testRunContext(t))
	if err == nil {
		t.Fatal("Provision should fail when the queued resource fails")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Error("hard failure misclassified as a timeout")
	}
}

func TestProvisionQueueTimeout(t *testing.T) {
	api := &fakeAPI{states: []string{"ACCEPTED"}}
	b := New(api, &fakeExecutor{})
	b.PollInterval = time.Millisecond
	b.CreateTimeout = 20 * time.Millisecond

	_, err := b.Provision(context.Background(), tpuDescriptor(), testGCP(), testRunContext(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRunExportsArtifactLocation(t *testing.T) {
	exec := &fakeExecutor{}
	b := New(&fakeAPI{}, exec)

	rc := testRunContext(t)
	ep := pipeline.Endpoint{Addresses: []string{"34.1.2.3", "34.1.2.4"}}
	if err := b.Run(context.Background(), tpuDescriptor(), testGCP(), rc, ep); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	call := exec.calls[0]
	if call.env[config.GCSOutputEnvVar] != rc.ArtifactLocation {
		t.Errorf("%s = %q, want %q", config.GCSOutputEnvVar, call.env[config.GCSOutputEnvVar], rc.ArtifactLocation)
	}
	if call.allWorkers {
		t.Error("non-tf test should run on worker 0 only by default")
	}
}

func TestRunTensorflowFansOut(t *testing.T) {
	exec := &fakeExecutor{}
	b := New(&fakeAPI{}, exec)

	desc := tpuDescriptor()
	desc.TestName = "tf_resnet"
	ep := pipeline.Endpoint{Addresses: []string{"34.1.2.3", "34.1.2.4"}}
	if err := b.Run(context.Background(), desc, testGCP(), testRunContext(t), ep); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !exec.calls[0].allWorkers {
		t.Error("tf_ test must run on all workers")
	}
}

func TestCleanUpDeletesQueuedResource(t *testing.T) {
	api := &fakeAPI{}
	b := New(api, &fakeExecutor{})

	ep := pipeline.Endpoint{ResourceName: qrParent + "/queuedResources/jax-nightly-mnist-v4-8-abc123"}
	if err := b.CleanUp(context.Background(), tpuDescriptor(), testGCP(), testRunContext(t), ep); err != nil {
		t.Fatalf("CleanUp failed: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != ep.ResourceName {
		t.Errorf("deleted = %v, want exactly the provisioned resource", api.deleted)
	}
}
