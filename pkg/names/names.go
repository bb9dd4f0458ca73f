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

// Package names generates the runtime identifiers a pipeline instance
// threads through its stages: run names, workload ids, resource names, and
// artifact locations. All generated values are unique across concurrently
// constructed instances.
package names

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

const (
	// maxWorkloadIDLen is the RFC-1035 driven cap the workload scheduler
	// enforces on workload names.
	maxWorkloadIDLen = 40

	timeLayout = "2006-01-02-15-04-05"
)

// GenerateGCSFolder returns the artifact prefix for one pipeline instance:
// <baseOutputDir>/<subfolder>/<benchmarkID>-<timestamp>-<suffix>. The prefix
// is never reused across instances.
func GenerateGCSFolder(baseOutputDir, subfolder, benchmarkID string) string {
	folder := fmt.Sprintf("%s-%s-%s", benchmarkID, time.Now().UTC().Format(timeLayout), shortID())
	return strings.TrimSuffix(baseOutputDir, "/") + "/" + path.Join(subfolder, folder)
}

// GenerateRunName returns a human-readable, unique run name derived from the
// benchmark id. Run names feed into metric file paths and the run-name
// environment variable.
func GenerateRunName(benchmarkID string) string {
	return fmt.Sprintf("%s-%s-%s", Sanitize(benchmarkID), time.Now().UTC().Format(timeLayout), shortID())
}

// GenerateTBFileLocation resolves the tensorboard summary location for a run.
// When nested, the run name becomes a directory component under the base
// location; otherwise the run name is a file prefix.
func GenerateTBFileLocation(runName, baseFileLocation string, nested bool) string {
	base := strings.TrimSuffix(baseFileLocation, "/")
	if nested {
		return base + "/" + path.Join(runName, "tensorboard")
	}
	return base + "/" + runName
}

// GenerateProfileFileLocation resolves the profiling trace location for a
// run under the base location.
func GenerateProfileFileLocation(runName, baseFileLocation string) string {
	base := strings.TrimSuffix(baseFileLocation, "/")
	return base + "/" + path.Join(runName, "plugins", "profile")
}

// GenerateResourceName returns a unique compute resource name with the given
// prefix, safe for TPU and VM naming.
func GenerateResourceName(prefix string) string {
	return fmt.Sprintf("%s-%s", Sanitize(prefix), shortID())
}

// GenerateWorkloadID returns a unique workload name derived from the
// benchmark id, truncated to the scheduler's length cap.
func GenerateWorkloadID(benchmarkID string) string {
	suffix := shortID()
	base := Sanitize(benchmarkID)
	if max := maxWorkloadIDLen - len(suffix) - 1; len(base) > max {
		base = strings.Trim(base[:max], "-")
	}
	return base + "-" + suffix
}

// GenerateProcessID returns a unique id for one post-process invocation.
func GenerateProcessID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Sanitize lowers a benchmark id into an RFC-1035-safe name fragment:
// lowercase alphanumerics and dashes, starting with a letter.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			if out := b.String(); out == "" || out[len(out)-1] != '-' {
				b.WriteRune('-')
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "t"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "t" + out
	}
	return out
}

func shortID() string {
	id := uuid.Must(uuid.NewV4())
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
