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

package xpk

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/pipeline"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/shell"
)

type fakeRunner struct {
	calls [][]string

	createExit int
	deleteExit int

	// listOutputs is consumed one list call at a time; the last entry
	// repeats.
	listOutputs []string
	listCall    int
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) shell.Result {
	f.calls = append(f.calls, append([]string{name}, args...))
	switch args[2] {
	case "create":
		return shell.Result{ExitCode: f.createExit, Stderr: "create failed"}
	case "delete":
		return shell.Result{ExitCode: f.deleteExit, Stderr: "delete failed"}
	case "list":
		out := f.listOutputs[len(f.listOutputs)-1]
		if f.listCall < len(f.listOutputs) {
			out = f.listOutputs[f.listCall]
		}
		f.listCall++
		return shell.Result{Stdout: out}
	}
	return shell.Result{ExitCode: 1, Stderr: "unexpected subcommand"}
}

func (f *fakeRunner) callsFor(sub string) [][]string {
	var out [][]string
	for _, c := range f.calls {
		if len(c) > 3 && c[3] == sub {
			out = append(out, c)
		}
	}
	return out
}

func newBackend(r *fakeRunner) *Backend {
	b := New(r.run, "/tmp/xpk/xpk.py")
	b.PollInterval = time.Millisecond
	return b
}

func clusterDescriptor() config.TestDescriptor {
	return config.TestDescriptor{
		BenchmarkID: "maxtext-nightly-v5e-256-2slice",
		TestName:    "maxtext-nightly",
		DockerImage: "gcr.io/my-project/maxtext:nightly",
		RunScript:   "bash run.sh",
		ClusterName: "benchmarks-v5e",
		Timeout:     2 * time.Hour,
		Accelerator: config.Accelerator{
			Kind:      config.AcceleratorTPU,
			Type:      "v5litepod-256",
			NumSlices: 2,
		},
	}
}

func testGCP() config.GCPConfig {
	return config.GCPConfig{Project: "my-project", Zone: "us-east5-b"}
}

func testRunContext() *pipeline.RunContext {
	return &pipeline.RunContext{
		BenchmarkID:      "maxtext-nightly-v5e-256-2slice",
		WorkloadID:       "maxtext-nightly-v5e-256-2slice-ab12",
		ArtifactLocation: "gs://ml-auto-bucket/maxtext/xyz",
		RunScript:        "bash run.sh",
	}
}

func listLine(workloadID, status string) string {
	return "Jobset Name           Created Time  Priority  TPU VMs Needed  Status\n" +
		workloadID + "  2026-08-23    medium    2               " + status + "\n"
}

func TestProvisionSubmitsAndWaitsForRunning(t *testing.T) {
	rc := testRunContext()
	runner := &fakeRunner{listOutputs: []string{
		"",
		listLine(rc.WorkloadID, "Queued"),
		listLine(rc.WorkloadID, "Running"),
	}}
	b := newBackend(runner)

	ep, err := b.Provision(context.Background(), clusterDescriptor(), testGCP(), rc)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if ep.WorkloadID != rc.WorkloadID {
		t.Errorf("endpoint workload id = %q", ep.WorkloadID)
	}

	creates := runner.callsFor("create")
	if len(creates) != 1 {
		t.Fatalf("create calls = %d, want 1", len(creates))
	}
	argv := strings.Join(creates[0], " ")
	for _, want := range []string{
		"python3 /tmp/xpk/xpk.py workload create",
		"--cluster=benchmarks-v5e",
		"--workload=" + rc.WorkloadID,
		"--docker-image=gcr.io/my-project/maxtext:nightly",
		"--tpu-type=v5litepod-256",
		"--num-slices=2",
		"--project=my-project",
		"--zone=us-east5-b",
	} {
		if !strings.Contains(argv, want) {
			t.Errorf("create argv missing %q:\n%s", want, argv)
		}
	}

	// The artifact location rides inside the submitted command.
	var command string
	for _, arg := range creates[0] {
		if strings.HasPrefix(arg, "--command=") {
			command = arg
		}
	}
	if !strings.Contains(command, "export "+config.GCSOutputEnvVar+"=gs://ml-auto-bucket/maxtext/xyz\n") {
		t.Errorf("command does not export the artifact location: %q", command)
	}
	if !strings.Contains(command, "bash run.sh") {
		t.Errorf("command does not carry the run script: %q", command)
	}
}

func TestProvisionOptionalToggles(t *testing.T) {
	rc := testRunContext()
	runner := &fakeRunner{listOutputs: []string{listLine(rc.WorkloadID, "Running")}}
	b := newBackend(runner)
	b.Options = Options{
		UsePathways:                 true,
		RamdiskDirectory:            "/ramdisk",
		VertexTensorboardExperiment: "maxtext-nightly",
	}

	if _, err := b.Provision(context.Background(), clusterDescriptor(), testGCP(), rc); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	argv := strings.Join(runner.callsFor("create")[0], " ")
	for _, want := range []string{
		"--use-pathways",
		"--ramdisk-directory=/ramdisk",
		"--use-vertex-tensorboard",
		"--experiment-name=maxtext-nightly",
	} {
		if !strings.Contains(argv, want) {
			t.Errorf("create argv missing %q:\n%s", want, argv)
		}
	}
}

func TestProvisionFailsOnRejectedSubmission(t *testing.T) {
	runner := &fakeRunner{createExit: 1, listOutputs: []string{""}}
	b := newBackend(runner)

	_, err := b.Provision(context.Background(), clusterDescriptor(), testGCP(), testRunContext())
	if err == nil {
		t.Fatal("Provision should surface a rejected submission")
	}
	if len(runner.callsFor("list")) != 0 {
		t.Error("rejected submission must not be waited on")
	}
}

func TestProvisionQueueTimeout(t *testing.T) {
	rc := testRunContext()
	runner := &fakeRunner{listOutputs: []string{listLine(rc.WorkloadID, "Queued")}}
	b := newBackend(runner)
	b.ProvisionTimeout = 20 * time.Millisecond

	_, err := b.Provision(context.Background(), clusterDescriptor(), testGCP(), rc)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRunWaitsForCompletion(t *testing.T) {
	rc := testRunContext()
	runner := &fakeRunner{listOutputs: []string{
		listLine(rc.WorkloadID, "Running"),
		listLine(rc.WorkloadID, "Finished"),
	}}
	b := newBackend(runner)

	ep := pipeline.Endpoint{WorkloadID: rc.WorkloadID}
	if err := b.Run(context.Background(), clusterDescriptor(), testGCP(), rc, ep); err != nil {
		t.Errorf("Run failed: %v", err)
	}
	if got := len(runner.callsFor("list")); got != 2 {
		t.Errorf("list calls = %d, want 2", got)
	}
}

func TestRunSurfacesWorkloadFailure(t *testing.T) {
	rc := testRunContext()
	runner := &fakeRunner{listOutputs: []string{listLine(rc.WorkloadID, "Failed")}}
	b := newBackend(runner)

	ep := pipeline.Endpoint{WorkloadID: rc.WorkloadID}
	err := b.Run(context.Background(), clusterDescriptor(), testGCP(), rc, ep)
	if err == nil {
		t.Fatal("Run on a failed workload should error")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Error("workload failure misclassified as a timeout")
	}
}

func TestCleanUpDeletesWorkload(t *testing.T) {
	runner := &fakeRunner{}
	b := newBackend(runner)

	ep := pipeline.Endpoint{WorkloadID: "maxtext-nightly-v5e-256-2slice-ab12"}
	if err := b.CleanUp(context.Background(), clusterDescriptor(), testGCP(), testRunContext(), ep); err != nil {
		t.Fatalf("CleanUp failed: %v", err)
	}
	deletes := runner.callsFor("delete")
	if len(deletes) != 1 {
		t.Fatalf("delete calls = %d, want 1", len(deletes))
	}
	argv := strings.Join(deletes[0], " ")
	if !strings.Contains(argv, "--workload="+ep.WorkloadID) {
		t.Errorf("delete argv missing workload id:\n%s", argv)
	}
}

func TestWorkloadStatusParsing(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{"running", listLine("my-workload", "Running"), "Running"},
		{"not surfaced yet", "Jobset Name  Status\n", ""},
		{"other workload only", listLine("someone-elses", "Failed"), ""},
		{"empty output", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := workloadStatus(tc.stdout, "my-workload"); got != tc.want {
				t.Errorf("workloadStatus = %q, want %q", got, tc.want)
			}
		})
	}
}
