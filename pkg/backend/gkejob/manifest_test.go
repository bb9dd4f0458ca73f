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

package gkejob

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	batchv1 "k8s.io/api/batch/v1"
	"sigs.k8s.io/yaml"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
)

func gpuDescriptor() config.TestDescriptor {
	return config.TestDescriptor{
		BenchmarkID: "pytorch-nightly-resnet",
		TestName:    "pytorch-nightly-resnet",
		DockerImage: "gcr.io/my-project/pytorch-gpu:nightly",
		SetupScript: "bash setup.sh",
		RunScript:   "python3 train.py --epochs 1",
		Accelerator: config.Accelerator{
			Kind:     config.AcceleratorGPU,
			Type:     "nvidia-tesla-a100",
			Count:    8,
			NumHosts: 4,
		},
	}
}

// Manifest derivation is a pure function of the descriptor: with
// num_hosts=4, timeout=0 and accelerator count 8 the job must carry
// completions=4, parallelism=4, the 3600s deadline fallback, and a GPU
// limit of 8.
func TestJobManifestDerivation(t *testing.T) {
	job, err := JobManifest(gpuDescriptor(), "pytorch-nightly-resnet-abc123")
	if err != nil {
		t.Fatalf("JobManifest failed: %v", err)
	}

	if got := *job.Spec.Completions; got != 4 {
		t.Errorf("completions = %d, want 4", got)
	}
	if got := *job.Spec.Parallelism; got != 4 {
		t.Errorf("parallelism = %d, want 4", got)
	}
	if got := *job.Spec.ActiveDeadlineSeconds; got != 3600 {
		t.Errorf("activeDeadlineSeconds = %d, want 3600 fallback", got)
	}
	if got := *job.Spec.BackoffLimit; got != 0 {
		t.Errorf("backoffLimit = %d, want 0", got)
	}
	if got := *job.Spec.CompletionMode; got != batchv1.IndexedCompletion {
		t.Errorf("completionMode = %s, want Indexed", got)
	}

	podSpec := job.Spec.Template.Spec
	if got := podSpec.NodeSelector[acceleratorNodeSelector]; got != "nvidia-tesla-a100" {
		t.Errorf("nodeSelector = %q, want nvidia-tesla-a100", got)
	}

	container := podSpec.Containers[0]
	gpuLimit := container.Resources.Limits[gpuResourceName]
	if gpuLimit.Value() != 8 {
		t.Errorf("gpu limit = %s, want 8", gpuLimit.String())
	}
	if diff := cmp.Diff([]string{"bash", "setup.sh"}, container.Command); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"python3", "train.py", "--epochs", "1"}, container.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestJobManifestTimeoutPropagates(t *testing.T) {
	desc := gpuDescriptor()
	desc.Timeout = 90 * time.Minute
	job, err := JobManifest(desc, "j")
	if err != nil {
		t.Fatalf("JobManifest failed: %v", err)
	}
	if got := *job.Spec.ActiveDeadlineSeconds; got != 5400 {
		t.Errorf("activeDeadlineSeconds = %d, want 5400", got)
	}
}

func TestJobManifestEnvAndVolumes(t *testing.T) {
	job, err := JobManifest(gpuDescriptor(), "j")
	if err != nil {
		t.Fatalf("JobManifest failed: %v", err)
	}
	container := job.Spec.Template.Spec.Containers[0]

	wantEnv := map[string]string{
		"POD_NAME":      "metadata.name",
		"POD_NAMESPACE": "metadata.namespace",
		"JOB_NAME":      "metadata.labels['job-name']",
	}
	if len(container.Env) != len(wantEnv) {
		t.Fatalf("env count = %d, want %d", len(container.Env), len(wantEnv))
	}
	for _, env := range container.Env {
		fieldPath, ok := wantEnv[env.Name]
		if !ok {
			t.Errorf("unexpected env var %s", env.Name)
			continue
		}
		if env.ValueFrom == nil || env.ValueFrom.FieldRef == nil || env.ValueFrom.FieldRef.FieldPath != fieldPath {
			t.Errorf("env %s not sourced from pod field %s", env.Name, fieldPath)
		}
	}

	if len(container.VolumeMounts) != 1 || container.VolumeMounts[0].MountPath != sharedMemoryPath {
		t.Errorf("expected a single mount at %s, got %+v", sharedMemoryPath, container.VolumeMounts)
	}
	vol := job.Spec.Template.Spec.Volumes[0]
	if vol.EmptyDir == nil || vol.EmptyDir.Medium != "Memory" {
		t.Errorf("shared memory volume not a memory-medium emptyDir: %+v", vol)
	}
}

// The wire form must match the schema the cluster expects.
func TestJobManifestWireSchema(t *testing.T) {
	job, err := JobManifest(gpuDescriptor(), "pytorch-nightly-resnet-abc123")
	if err != nil {
		t.Fatalf("JobManifest failed: %v", err)
	}
	data, err := yaml.Marshal(job)
	if err != nil {
		t.Fatalf("marshalling job: %v", err)
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshalling job yaml: %v", err)
	}
	spec, ok := parsed["spec"].(map[string]interface{})
	if !ok {
		t.Fatal("spec not found")
	}
	if got := spec["completionMode"]; got != "Indexed" {
		t.Errorf("completionMode = %v, want Indexed", got)
	}
	if got := parsed["apiVersion"]; got != "batch/v1" {
		t.Errorf("apiVersion = %v, want batch/v1", got)
	}
	if got := parsed["kind"]; got != "Job" {
		t.Errorf("kind = %v, want Job", got)
	}
}

func TestJobManifestRejectsBadScript(t *testing.T) {
	desc := gpuDescriptor()
	desc.RunScript = `python3 "broken`
	if _, err := JobManifest(desc, "j"); err == nil {
		t.Error("JobManifest accepted an untokenizable run script")
	}
}
