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

// Package quarantine classifies known-flaky benchmarks so their outcomes do
// not gate unrelated tests. Membership changes grouping only, never
// execution semantics.
package quarantine

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Checker reports quarantine membership. It is injected into the pipeline
// orchestrator at construction so tests can fake it.
type Checker interface {
	IsQuarantined(benchmarkID string) bool
}

// Set is a Checker backed by a fixed membership set.
type Set struct {
	members map[string]bool
}

// NewSet builds a Set from a list of benchmark ids.
func NewSet(ids []string) *Set {
	members := make(map[string]bool, len(ids))
	for _, id := range ids {
		members[id] = true
	}
	return &Set{members: members}
}

// IsQuarantined reports whether the benchmark id is quarantined.
func (s *Set) IsQuarantined(benchmarkID string) bool {
	return s.members[benchmarkID]
}

// Len returns the number of quarantined benchmarks.
func (s *Set) Len() int {
	return len(s.members)
}

type quarantineFile struct {
	Tests []string `yaml:"tests"`
}

// Load reads a quarantine list from a YAML file of the form:
//
//	tests:
//	  - benchmark-id-1
//	  - benchmark-id-2
func Load(fs afero.Fs, path string) (*Set, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading quarantine list %s", path)
	}
	var file quarantineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parsing quarantine list %s", path)
	}
	return NewSet(file.Tests), nil
}
