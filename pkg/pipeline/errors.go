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

package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure so the external scheduler can
// distinguish infrastructure flakiness from test regressions. No stage
// converts one kind into another.
type ErrorKind string

const (
	ProvisioningTimeout ErrorKind = "provisioning-timeout"
	ProvisioningFailure ErrorKind = "provisioning-failure"
	RunTimeout          ErrorKind = "run-timeout"
	RunFailure          ErrorKind = "run-failure"
	PostProcessFailure  ErrorKind = "post-process-failure"
	CleanupFailure      ErrorKind = "cleanup-failure"
)

// StageError is a failure surfaced by one pipeline stage.
type StageError struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s at stage %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure classification from an error chain, or ""
// when the error is not a pipeline failure.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// classify tags an error from the given stage. Provisioning and running
// separate timeouts from plain failures; the remaining stages have a single
// kind each.
func classify(stage Stage, err error) *StageError {
	timedOut := errors.Is(err, context.DeadlineExceeded)
	var kind ErrorKind
	switch stage {
	case StageProvisioning:
		kind = ProvisioningFailure
		if timedOut {
			kind = ProvisioningTimeout
		}
	case StageRunning:
		kind = RunFailure
		if timedOut {
			kind = RunTimeout
		}
	case StagePostProcessing:
		kind = PostProcessFailure
	case StageCleanUp:
		kind = CleanupFailure
	default:
		kind = ProvisioningFailure
	}
	return &StageError{Kind: kind, Stage: stage, Err: err}
}
