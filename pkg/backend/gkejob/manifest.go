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
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/shell"
)

const (
	// defaultDeadlineSeconds caps a job whose descriptor carries no
	// timeout.
	defaultDeadlineSeconds int64 = 3600

	acceleratorNodeSelector = "cloud.google.com/gke-accelerator"
	gpuResourceName         = "nvidia.com/gpu"

	headlessServiceLabel = "headless-svc"
	sharedMemoryVolume   = "dshm"
	sharedMemoryPath     = "/dev/shm"
)

// JobManifest derives the batch Job for a descriptor. The manifest both
// provisions and runs the test: completions and parallelism equal the host
// count, completion mode is Indexed, and there is no automatic retry. It is
// a pure function of the descriptor and the job name.
func JobManifest(desc config.TestDescriptor, jobName string) (*batchv1.Job, error) {
	command, err := shell.Split(desc.SetupScript)
	if err != nil {
		return nil, err
	}
	args, err := shell.Split(desc.RunScript)
	if err != nil {
		return nil, err
	}

	deadline := int64(desc.Timeout.Seconds())
	if deadline == 0 {
		deadline = defaultDeadlineSeconds
	}
	numHosts := int32(desc.Accelerator.NumHosts)
	backoffLimit := int32(0)
	completionMode := batchv1.IndexedCompletion

	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "batch/v1",
			Kind:       "Job",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: jobName,
			Labels: map[string]string{
				"accelerator": desc.Accelerator.Name(),
				"benchmarkId": desc.BenchmarkID,
			},
		},
		Spec: batchv1.JobSpec{
			ActiveDeadlineSeconds: &deadline,
			BackoffLimit:          &backoffLimit,
			CompletionMode:        &completionMode,
			Completions:           &numHosts,
			Parallelism:           &numHosts,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					// Matches the headless service deployed with the
					// cluster, so indexed pods can address each other.
					Labels: map[string]string{headlessServiceLabel: "true"},
				},
				Spec: corev1.PodSpec{
					Subdomain: headlessServiceLabel,
					NodeSelector: map[string]string{
						acceleratorNodeSelector: desc.Accelerator.Type,
					},
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:            "main",
							Image:           desc.DockerImage,
							ImagePullPolicy: corev1.PullAlways,
							Command:         command,
							Args:            args,
							Resources: corev1.ResourceRequirements{
								Limits: corev1.ResourceList{
									gpuResourceName: *resource.NewQuantity(desc.Accelerator.Count, resource.DecimalSI),
								},
							},
							Env: []corev1.EnvVar{
								podFieldEnv("POD_NAME", "metadata.name"),
								podFieldEnv("POD_NAMESPACE", "metadata.namespace"),
								podFieldEnv("JOB_NAME", "metadata.labels['job-name']"),
							},
							VolumeMounts: []corev1.VolumeMount{
								{
									Name:      sharedMemoryVolume,
									MountPath: sharedMemoryPath,
									ReadOnly:  false,
								},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: sharedMemoryVolume,
							VolumeSource: corev1.VolumeSource{
								EmptyDir: &corev1.EmptyDirVolumeSource{
									Medium: corev1.StorageMediumMemory,
								},
							},
						},
					},
				},
			},
		},
	}, nil
}

func podFieldEnv(name, fieldPath string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			FieldRef: &corev1.ObjectFieldSelector{
				FieldPath: fieldPath,
			},
		},
	}
}
