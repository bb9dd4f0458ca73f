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

// Package gpuvm provisions a single GPU VM (or attaches to a pre-existing
// one) and executes test scripts on it over SSH.
package gpuvm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	compute "google.golang.org/api/compute/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/pipeline"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/remote"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/sshkeys"
)

const (
	// DefaultCreateTimeout bounds instance creation and boot.
	DefaultCreateTimeout = 60 * time.Minute

	// DefaultSourceImage is the boot image for created instances; deep
	// learning images carry the CUDA toolchain and the driver installer.
	DefaultSourceImage = "projects/deeplearning-platform-release/global/images/family/common-cu124-ubuntu-2204"

	sshKeysMetadataKey = "ssh-keys"

	instanceRunning = "RUNNING"
)

// Backend implements pipeline.Provisioner for single GPU VMs reached over
// SSH. When the descriptor names an existing instance, creation and deletion
// are skipped and only the one-time SSH keys are planted and removed.
type Backend struct {
	API  API
	Exec remote.Executor

	// SourceImage overrides the boot image for created instances.
	SourceImage string

	// CreateTimeout overrides DefaultCreateTimeout; PollInterval overrides
	// the 15s boot polling cadence.
	CreateTimeout time.Duration
	PollInterval  time.Duration
}

// New builds a GPU VM backend over the Compute API and an SSH executor.
func New(api API, exec remote.Executor) *Backend {
	return &Backend{API: api, Exec: exec}
}

// Kind implements pipeline.Provisioner.
func (b *Backend) Kind() pipeline.BackendKind {
	return pipeline.BackendVMSSH
}

// Provision creates the instance (or attaches to the named existing one),
// waits for an external address, and runs the setup script.
func (b *Backend) Provision(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *pipeline.RunContext) (pipeline.Endpoint, error) {
	createTimeout := b.CreateTimeout
	if createTimeout == 0 {
		createTimeout = DefaultCreateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	var ep pipeline.Endpoint
	var err error
	if desc.ExistingInstanceName != "" {
		ep, err = b.attachExisting(ctx, desc, gcp, rc)
	} else {
		ep, err = b.createInstance(ctx, desc, gcp, rc)
	}
	if err != nil {
		return pipeline.Endpoint{}, err
	}

	if desc.SetupScript != "" {
		if err := b.Exec.Execute(ctx, rc.SSHKeys, ep.Addresses, desc.SetupScript, true, nil); err != nil {
			return pipeline.Endpoint{}, errors.Wrap(err, "running setup script")
		}
	}
	return ep, nil
}

// Run executes the run script over SSH with the artifact location exported.
func (b *Backend) Run(ctx context.Context, _ config.TestDescriptor, _ config.GCPConfig, rc *pipeline.RunContext, ep pipeline.Endpoint) error {
	env := map[string]string{config.GCSOutputEnvVar: rc.ArtifactLocation}
	return b.Exec.Execute(ctx, rc.SSHKeys, ep.Addresses, rc.RunScript, false, env)
}

// CleanUp deletes a created instance. For an existing instance only the
// one-time SSH key entry is removed from its metadata.
func (b *Backend) CleanUp(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *pipeline.RunContext, ep pipeline.Endpoint) error {
	if ep.Existing {
		logging.Info("Removing one-time SSH key from existing instance %s", ep.ResourceName)
		return b.removeSSHKey(ctx, gcp, ep.ResourceName, rc.SSHKeys)
	}
	logging.Info("Deleting instance %s", ep.ResourceName)
	if err := b.API.DeleteInstance(ctx, gcp.Project, gcp.Zone, ep.ResourceName); err != nil {
		return errors.Wrapf(err, "deleting instance for %s", desc.BenchmarkID)
	}
	return nil
}

func (b *Backend) createInstance(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *pipeline.RunContext) (pipeline.Endpoint, error) {
	inst := b.instanceRequest(desc, gcp, rc)
	if err := b.API.InsertInstance(ctx, gcp.Project, gcp.Zone, inst); err != nil {
		return pipeline.Endpoint{}, errors.Wrapf(err, "creating instance %s", inst.Name)
	}
	logging.Info("Created instance %s, waiting for it to boot", inst.Name)

	addr, err := b.waitRunning(ctx, gcp, inst.Name)
	if err != nil {
		return pipeline.Endpoint{}, err
	}
	return pipeline.Endpoint{
		Kind:         b.Kind(),
		ResourceName: inst.Name,
		Addresses:    []string{addr},
	}, nil
}

// attachExisting plants the one-time SSH key on the named instance and
// resolves its address. The instance itself is never created or deleted.
func (b *Backend) attachExisting(ctx context.Context, desc config.TestDescriptor, gcp config.GCPConfig, rc *pipeline.RunContext) (pipeline.Endpoint, error) {
	inst, err := b.API.GetInstance(ctx, gcp.Project, gcp.Zone, desc.ExistingInstanceName)
	if err != nil {
		return pipeline.Endpoint{}, errors.Wrapf(err, "resolving existing instance %s", desc.ExistingInstanceName)
	}

	md := inst.Metadata
	if md == nil {
		md = &compute.Metadata{}
	}
	entry := rc.SSHKeys.MetadataValue(sshkeys.DefaultUser)
	planted := false
	for _, item := range md.Items {
		if item.Key == sshKeysMetadataKey && item.Value != nil {
			merged := *item.Value + "\n" + entry
			item.Value = &merged
			planted = true
		}
	}
	if !planted {
		md.Items = append(md.Items, &compute.MetadataItems{Key: sshKeysMetadataKey, Value: &entry})
	}
	if err := b.API.SetInstanceMetadata(ctx, gcp.Project, gcp.Zone, inst.Name, md); err != nil {
		return pipeline.Endpoint{}, errors.Wrapf(err, "planting ssh key on %s", inst.Name)
	}

	addr, err := externalAddress(inst)
	if err != nil {
		return pipeline.Endpoint{}, err
	}
	return pipeline.Endpoint{
		Kind:         b.Kind(),
		ResourceName: inst.Name,
		Addresses:    []string{addr},
		Existing:     true,
	}, nil
}

func (b *Backend) removeSSHKey(ctx context.Context, gcp config.GCPConfig, name string, keys *sshkeys.KeyPair) error {
	inst, err := b.API.GetInstance(ctx, gcp.Project, gcp.Zone, name)
	if err != nil {
		return errors.Wrapf(err, "resolving instance %s", name)
	}
	if inst.Metadata == nil {
		return nil
	}
	entry := keys.MetadataValue(sshkeys.DefaultUser)
	for _, item := range inst.Metadata.Items {
		if item.Key != sshKeysMetadataKey || item.Value == nil {
			continue
		}
		var kept []string
		for _, line := range strings.Split(*item.Value, "\n") {
			if line != "" && line != entry {
				kept = append(kept, line)
			}
		}
		value := strings.Join(kept, "\n")
		item.Value = &value
	}
	return errors.Wrapf(
		b.API.SetInstanceMetadata(ctx, gcp.Project, gcp.Zone, name, inst.Metadata),
		"removing ssh key from %s", name)
}

func (b *Backend) waitRunning(ctx context.Context, gcp config.GCPConfig, name string) (string, error) {
	interval := b.PollInterval
	if interval == 0 {
		interval = 15 * time.Second
	}
	var addr string
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		inst, err := b.API.GetInstance(ctx, gcp.Project, gcp.Zone, name)
		if err != nil {
			logging.Warn("Polling instance %s: %v", name, err)
			return false, nil
		}
		if inst.Status != instanceRunning {
			logging.Debug("Instance %s in status %s", name, inst.Status)
			return false, nil
		}
		addr, err = externalAddress(inst)
		if err != nil {
			// Running but not yet addressable.
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "waiting for instance %s", name)
	}
	return addr, nil
}

// instanceRequest derives the creation payload for a descriptor. GPU
// instances must not live-migrate, and the deep learning image's driver
// installer is toggled through metadata.
func (b *Backend) instanceRequest(desc config.TestDescriptor, gcp config.GCPConfig, rc *pipeline.RunContext) *compute.Instance {
	sourceImage := b.SourceImage
	if sourceImage == "" {
		sourceImage = DefaultSourceImage
	}

	sshEntry := rc.SSHKeys.MetadataValue(sshkeys.DefaultUser)
	items := []*compute.MetadataItems{
		{Key: sshKeysMetadataKey, Value: &sshEntry},
	}
	if desc.InstallNvidiaDrivers {
		installDrivers := "True"
		items = append(items, &compute.MetadataItems{Key: "install-nvidia-driver", Value: &installDrivers})
	}

	inst := &compute.Instance{
		Name:        rc.ResourceName,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", gcp.Zone, desc.Accelerator.MachineType),
		Disks: []*compute.AttachedDisk{
			{
				Boot:       true,
				AutoDelete: true,
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: sourceImage,
					DiskSizeGb:  200,
				},
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				Network: "global/networks/default",
				AccessConfigs: []*compute.AccessConfig{
					{Name: "External NAT", Type: "ONE_TO_ONE_NAT"},
				},
			},
		},
		Scheduling: &compute.Scheduling{OnHostMaintenance: "TERMINATE"},
		Metadata:   &compute.Metadata{Items: items},
	}

	if desc.Accelerator.Count > 0 && desc.Accelerator.Type != "" {
		inst.GuestAccelerators = []*compute.AcceleratorConfig{
			{
				AcceleratorType:  fmt.Sprintf("zones/%s/acceleratorTypes/%s", gcp.Zone, desc.Accelerator.Type),
				AcceleratorCount: desc.Accelerator.Count,
			},
		}
	}
	if desc.Reservation {
		inst.ReservationAffinity = &compute.ReservationAffinity{ConsumeReservationType: "ANY_RESERVATION"}
	}
	return inst
}

func externalAddress(inst *compute.Instance) (string, error) {
	for _, nic := range inst.NetworkInterfaces {
		for _, ac := range nic.AccessConfigs {
			if ac.NatIP != "" {
				return ac.NatIP, nil
			}
		}
	}
	return "", errors.Errorf("instance %s has no external address", inst.Name)
}
