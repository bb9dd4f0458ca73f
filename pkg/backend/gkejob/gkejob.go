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

// Package gkejob runs a benchmark as a raw Kubernetes batch job. The job
// manifest provisions and runs the test in one step; the run phase only
// waits for the job to finish. Finished jobs are garbage collected by the
// cluster, so this backend has no cleanup of its own.
package gkejob

import (
	"context"
	"time"

	"github.com/pkg/errors"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/pipeline"
)

const defaultNamespace = "default"

// Backend implements pipeline.Provisioner for raw batch jobs.
type Backend struct {
	Client kubernetes.Interface
	// PollInterval overrides the status polling cadence; zero means the
	// 15s default.
	PollInterval time.Duration
}

// New builds a batch-job backend over a Kubernetes client.
func New(client kubernetes.Interface) *Backend {
	return &Backend{Client: client}
}

// Kind implements pipeline.Provisioner.
func (b *Backend) Kind() pipeline.BackendKind {
	return pipeline.BackendBatchJob
}

// Provision derives the job manifest and submits it. Submission already
// starts the run; the returned endpoint names the created job.
func (b *Backend) Provision(ctx context.Context, desc config.TestDescriptor, _ config.GCPConfig, rc *pipeline.RunContext) (pipeline.Endpoint, error) {
	job, err := JobManifest(desc, rc.WorkloadID)
	if err != nil {
		return pipeline.Endpoint{}, errors.Wrapf(err, "deriving job manifest for %s", desc.BenchmarkID)
	}

	namespace := desc.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	created, err := b.Client.BatchV1().Jobs(namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return pipeline.Endpoint{}, errors.Wrapf(err, "creating job %s", job.Name)
	}
	logging.Info("Created batch job %s/%s", namespace, created.Name)

	return pipeline.Endpoint{
		Kind:      b.Kind(),
		JobName:   created.Name,
		Namespace: namespace,
	}, nil
}

// Run waits for the submitted job to complete, bounded by ctx.
func (b *Backend) Run(ctx context.Context, desc config.TestDescriptor, _ config.GCPConfig, _ *pipeline.RunContext, ep pipeline.Endpoint) error {
	interval := b.PollInterval
	if interval == 0 {
		interval = 15 * time.Second
	}

	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		job, err := b.Client.BatchV1().Jobs(ep.Namespace).Get(ctx, ep.JobName, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return false, errors.Errorf("job %s disappeared before finishing", ep.JobName)
			}
			// Transient API errors do not fail the wait.
			logging.Warn("Polling job %s: %v", ep.JobName, err)
			return false, nil
		}
		for _, cond := range job.Status.Conditions {
			if cond.Status != corev1.ConditionTrue {
				continue
			}
			switch cond.Type {
			case batchv1.JobComplete:
				return true, nil
			case batchv1.JobFailed:
				return false, errors.Errorf("job %s failed: %s: %s", ep.JobName, cond.Reason, cond.Message)
			}
		}
		return false, nil
	})
	return errors.Wrapf(err, "waiting for job %s in %s", ep.JobName, ep.Namespace)
}

// CleanUp implements pipeline.Provisioner. Finished jobs are reclaimed by
// the cluster's job TTL controller; there is nothing to release here.
func (b *Backend) CleanUp(_ context.Context, desc config.TestDescriptor, _ config.GCPConfig, _ *pipeline.RunContext, ep pipeline.Endpoint) error {
	logging.Debug("Batch job %s for %s left to cluster GC", ep.JobName, desc.BenchmarkID)
	return nil
}
