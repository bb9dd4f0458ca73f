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

// Package matrix expands a YAML test matrix into the descriptors one
// scheduling cycle runs. Each matrix entry is crossed with its setup modes
// and slice counts; every combination becomes one pipeline instance with a
// unique benchmark id.
package matrix

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/config"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/pipeline"
)

// ThresholdEnvVar is exported into run commands that carry a per-topology
// performance threshold.
const ThresholdEnvVar = "TFLOPS_THRESHOLD"

// Entry is one expanded pipeline instance.
type Entry struct {
	Descriptor config.TestDescriptor
	Backend    pipeline.BackendKind
	// TFLOPSThreshold is the pass bar for this topology; zero when the
	// matrix does not set one.
	TFLOPSThreshold float64
}

// Matrix is one scheduling cycle's worth of expanded tests.
type Matrix struct {
	Group        string
	Concurrency  int
	GCP          config.GCPConfig
	OutputBucket string
	Entries      []Entry
}

type matrixFile struct {
	Group       string `yaml:"group"`
	Concurrency int    `yaml:"concurrency"`
	GCP         struct {
		Project     string `yaml:"project"`
		Zone        string `yaml:"zone"`
		DatasetName string `yaml:"dataset_name"`
	} `yaml:"gcp"`
	OutputBucket string      `yaml:"output_bucket"`
	Tests        []testEntry `yaml:"tests"`
}

type testEntry struct {
	Name    string `yaml:"name"`
	Owner   string `yaml:"owner"`
	Backend string `yaml:"backend"`

	ClusterName  string `yaml:"cluster_name"`
	Namespace    string `yaml:"namespace"`
	GCSSubfolder string `yaml:"gcs_subfolder"`

	Accelerator struct {
		Kind           string `yaml:"kind"`
		Type           string `yaml:"type"`
		MachineType    string `yaml:"machine_type"`
		RuntimeVersion string `yaml:"runtime_version"`
		Count          int64  `yaml:"count"`
		NumHosts       int    `yaml:"num_hosts"`
	} `yaml:"accelerator"`

	// Modes pick the docker image and software channel, e.g. stable and
	// nightly. DockerImages maps mode to image.
	Modes        []string          `yaml:"modes"`
	DockerImages map[string]string `yaml:"docker_images"`

	SliceCounts      []int           `yaml:"slice_counts"`
	TFLOPSThresholds map[int]float64 `yaml:"tflops_thresholds"`

	SetupScript    string `yaml:"setup_script"`
	RunScript      string `yaml:"run_script"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`

	ExistingInstanceName string `yaml:"existing_instance_name"`
	InstallNvidiaDrivers bool   `yaml:"install_nvidia_drivers"`
	Reservation          bool   `yaml:"reservation"`
}

// Load reads and expands a matrix file.
func Load(fs afero.Fs, path string) (*Matrix, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading test matrix %s", path)
	}
	var file matrixFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parsing test matrix %s", path)
	}
	return expand(file)
}

func expand(file matrixFile) (*Matrix, error) {
	m := &Matrix{
		Group:       file.Group,
		Concurrency: file.Concurrency,
		GCP: config.GCPConfig{
			Project:     file.GCP.Project,
			Zone:        file.GCP.Zone,
			DatasetName: file.GCP.DatasetName,
		},
		OutputBucket: file.OutputBucket,
	}

	seen := map[string]bool{}
	for _, test := range file.Tests {
		backend, err := backendKind(test.Backend)
		if err != nil {
			return nil, errors.Wrapf(err, "test %s", test.Name)
		}

		modes := test.Modes
		if len(modes) == 0 {
			modes = []string{"stable"}
		}
		sliceCounts := test.SliceCounts
		if len(sliceCounts) == 0 {
			sliceCounts = []int{1}
		}

		for _, mode := range modes {
			for _, slices := range sliceCounts {
				entry, err := expandOne(test, backend, mode, slices)
				if err != nil {
					return nil, err
				}
				id := entry.Descriptor.BenchmarkID
				if seen[id] {
					return nil, errors.Errorf("duplicate benchmark id %s in matrix", id)
				}
				seen[id] = true
				m.Entries = append(m.Entries, entry)
			}
		}
	}
	return m, nil
}

func expandOne(test testEntry, backend pipeline.BackendKind, mode string, slices int) (Entry, error) {
	image, ok := test.DockerImages[mode]
	if !ok && len(test.DockerImages) > 0 {
		return Entry{}, errors.Errorf("test %s: no docker image for mode %s", test.Name, mode)
	}

	threshold := test.TFLOPSThresholds[slices]
	runScript := test.RunScript
	if threshold > 0 {
		runScript = fmt.Sprintf("export %s=%g\n%s", ThresholdEnvVar, threshold, runScript)
	}

	desc := config.TestDescriptor{
		BenchmarkID:          fmt.Sprintf("%s-%s-%dslice", test.Name, mode, slices),
		TestName:             test.Name,
		Owner:                test.Owner,
		DockerImage:          image,
		SetupScript:          test.SetupScript,
		RunScript:            runScript,
		Timeout:              time.Duration(test.TimeoutMinutes) * time.Minute,
		ClusterName:          test.ClusterName,
		Namespace:            test.Namespace,
		GCSSubfolder:         test.GCSSubfolder,
		ExistingInstanceName: test.ExistingInstanceName,
		InstallNvidiaDrivers: test.InstallNvidiaDrivers,
		Reservation:          test.Reservation,
		Accelerator: config.Accelerator{
			Kind:           config.AcceleratorKind(test.Accelerator.Kind),
			Type:           test.Accelerator.Type,
			MachineType:    test.Accelerator.MachineType,
			RuntimeVersion: test.Accelerator.RuntimeVersion,
			Count:          test.Accelerator.Count,
			NumSlices:      slices,
			NumHosts:       test.Accelerator.NumHosts,
		},
	}
	if err := desc.Validate(); err != nil {
		return Entry{}, err
	}
	return Entry{Descriptor: desc, Backend: backend, TFLOPSThreshold: threshold}, nil
}

func backendKind(name string) (pipeline.BackendKind, error) {
	switch pipeline.BackendKind(name) {
	case pipeline.BackendQueuedResource, pipeline.BackendVMSSH,
		pipeline.BackendClusterWorkload, pipeline.BackendBatchJob:
		return pipeline.BackendKind(name), nil
	default:
		return "", errors.Errorf("unknown backend %q", name)
	}
}
