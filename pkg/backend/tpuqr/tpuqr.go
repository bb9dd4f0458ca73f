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

// Package tpuqr provisions TPU slices through the queued-resource API and
// executes test scripts on the resulting workers over SSH.
package tpuqr

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	tpu "google.golang.org/api/tpu/v2alpha1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/pipeline"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/remote"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/sshkeys"
)

const (
	// DefaultCreateTimeout bounds how long a queued resource may sit in the
	// queue before provisioning counts as timed out.
	DefaultCreateTimeout = 60 * time.Minute

	stateActive     = "ACTIVE"
	stateFailed     = "FAILED"
	stateSuspending = "SUSPENDING"
	stateSuspended  = "SUSPENDED"
)

// Backend implements pipeline.Provisioner for queued TPU resources.
type Backend struct {
	API  API
	Exec remote.Executor

	// AllWorkers runs setup and run scripts on every worker instead of
	// worker 0 only. TensorFlow tests fan out regardless.
	AllWorkers bool

	// CreateTimeout overrides DefaultCreateTimeout; PollInterval overrides
	// the 30s status polling cadence.
	CreateTimeout time.Duration
	PollInterval  time.Duration
}

// New builds a queued-resource backend over the TPU API and an SSH executor.
func New(api API, exec remote.Executor) *Backend {
	return &Backend{API: api, Exec: exec}
}

// Kind implements pipeline.Provisioner.
func (b *Backend) Kind() pipeline.BackendKind {
	return pipeline.BackendQueuedResource
}

// Provision requests the queued resource, waits until it turns ACTIVE,
// resolves the worker addresses and runs the setup script on them.
func (b *Backend) Provision(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *pipeline.RunContext) (pipeline.Endpoint, error) {
	createTimeout := b.CreateTimeout
	if createTimeout == 0 {
		createTimeout = DefaultCreateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	parent := fmt.Sprintf("projects/%s/locations/%s", gcp.Project, gcp.Zone)
	qrName := fmt.Sprintf("%s/queuedResources/%s", parent, rc.ResourceName)

	qr := queuedResourceRequest(desc, parent, rc.ResourceName, rc.SSHKeys)
	if err := b.API.CreateQueuedResource(ctx, parent, rc.ResourceName, qr); err != nil {
		return pipeline.Endpoint{}, errors.Wrapf(err, "requesting queued resource %s", rc.ResourceName)
	}
	logging.Info("Requested queued resource %s, waiting for it to become active", rc.ResourceName)

	if err := b.waitActive(ctx, qrName); err != nil {
		return pipeline.Endpoint{}, err
	}

	addrs, err := b.workerAddresses(ctx, desc, parent, rc.ResourceName)
	if err != nil {
		return pipeline.Endpoint{}, err
	}
	logging.Info("Queued resource %s active with %d workers", rc.ResourceName, len(addrs))

	if desc.SetupScript != "" {
		// Setup targets the same workers the run script will.
		allWorkers := desc.RunsOnAllWorkers(b.AllWorkers)
		if err := b.Exec.Execute(ctx, rc.SSHKeys, addrs, desc.SetupScript, allWorkers, nil); err != nil {
			return pipeline.Endpoint{}, errors.Wrap(err, "running setup script")
		}
	}

	return pipeline.Endpoint{
		Kind:         b.Kind(),
		ResourceName: qrName,
		Addresses:    addrs,
	}, nil
}

// Run executes the run script over SSH with the artifact location exported.
func (b *Backend) Run(ctx context.Context, desc config.TestDescriptor, _ config.GCPConfig, rc *pipeline.RunContext, ep pipeline.Endpoint) error {
	env := map[string]string{config.GCSOutputEnvVar: rc.ArtifactLocation}
	allWorkers := desc.RunsOnAllWorkers(b.AllWorkers)
	return b.Exec.Execute(ctx, rc.SSHKeys, ep.Addresses, rc.RunScript, allWorkers, env)
}

// CleanUp deletes the queued resource and its nodes.
func (b *Backend) CleanUp(ctx context.Context, desc config.TestDescriptor, _ config.GCPConfig, _ *pipeline.RunContext, ep pipeline.Endpoint) error {
	logging.Info("Deleting queued resource %s", ep.ResourceName)
	if err := b.API.DeleteQueuedResource(ctx, ep.ResourceName); err != nil {
		return errors.Wrapf(err, "deleting queued resource for %s", desc.BenchmarkID)
	}
	return nil
}

func (b *Backend) waitActive(ctx context.Context, qrName string) error {
	interval := b.PollInterval
	if interval == 0 {
		interval = 30 * time.Second
	}
	return wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		qr, err := b.API.GetQueuedResource(ctx, qrName)
		if err != nil {
			logging.Warn("Polling queued resource %s: %v", qrName, err)
			return false, nil
		}
		state := ""
		if qr.State != nil {
			state = qr.State.State
		}
		switch state {
		case stateActive:
			return true, nil
		case stateFailed, stateSuspending, stateSuspended:
			return false, errors.Errorf("queued resource %s entered state %s", qrName, state)
		default:
			logging.Debug("Queued resource %s in state %s", qrName, state)
			return false, nil
		}
	})
}

// workerAddresses collects the network endpoints of every node in creation
// order, external IPs preferred.
func (b *Backend) workerAddresses(ctx context.Context, desc config.TestDescriptor, parent, resourceName string) ([]string, error) {
	var addrs []string
	for slice := 0; slice < sliceCount(desc); slice++ {
		nodeName := fmt.Sprintf("%s/nodes/%s", parent, nodeID(resourceName, desc, slice))
		node, err := b.API.GetNode(ctx, nodeName)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving node %s", nodeName)
		}
		for _, ep := range node.NetworkEndpoints {
			addr := ep.IpAddress
			if ep.AccessConfig != nil && ep.AccessConfig.ExternalIp != "" {
				addr = ep.AccessConfig.ExternalIp
			}
			if addr == "" {
				return nil, errors.Errorf("node %s has an endpoint without an address", nodeName)
			}
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf("queued resource %s has no network endpoints", resourceName)
	}
	return addrs, nil
}

// queuedResourceRequest derives the creation payload for a descriptor. One
// node spec per slice; the one-time SSH key is planted through instance
// metadata.
func queuedResourceRequest(desc config.TestDescriptor, parent, resourceName string, keys *sshkeys.KeyPair) *tpu.QueuedResource {
	var nodeSpecs []*tpu.NodeSpec
	for slice := 0; slice < sliceCount(desc); slice++ {
		nodeSpecs = append(nodeSpecs, &tpu.NodeSpec{
			Parent: parent,
			NodeId: nodeID(resourceName, desc, slice),
			Node: &tpu.Node{
				AcceleratorType: desc.Accelerator.Type,
				RuntimeVersion:  desc.Accelerator.RuntimeVersion,
				NetworkConfig:   &tpu.NetworkConfig{EnableExternalIps: true},
				Metadata: map[string]string{
					"ssh-keys": keys.MetadataValue(sshkeys.DefaultUser),
				},
			},
		})
	}

	qr := &tpu.QueuedResource{
		Tpu: &tpu.Tpu{NodeSpec: nodeSpecs},
	}
	if desc.Reservation {
		qr.Guaranteed = &tpu.Guaranteed{Reserved: true}
	} else {
		qr.BestEffort = &tpu.BestEffort{}
	}
	return qr
}

func sliceCount(desc config.TestDescriptor) int {
	if desc.Accelerator.NumSlices > 1 {
		return desc.Accelerator.NumSlices
	}
	return 1
}

// nodeID names the slice nodes. Single-slice resources reuse the resource
// name so operators see one artifact, multislice ones get a per-slice
// suffix.
func nodeID(resourceName string, desc config.TestDescriptor, slice int) string {
	if sliceCount(desc) == 1 {
		return resourceName
	}
	return fmt.Sprintf("%s-%d", resourceName, slice)
}
