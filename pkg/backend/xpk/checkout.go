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
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
)

const (
	// RepoURL is where the workload CLI is cloned from.
	RepoURL = "https://github.com/AI-Hypercomputer/xpk.git"
	// DefaultBranch is the branch checked out when none is requested.
	DefaultBranch = "main"

	scriptName = "xpk.py"
)

// EnsureCheckout clones the xpk repository at the given branch into dir and
// returns the path to the CLI entry script. An existing checkout is reused
// as-is; branch switches need a fresh directory.
func EnsureCheckout(ctx context.Context, dir, branch string) (string, error) {
	if branch == "" {
		branch = DefaultBranch
	}
	script := filepath.Join(dir, scriptName)
	if _, err := os.Stat(script); err == nil {
		logging.Debug("Reusing xpk checkout at %s", dir)
		return script, nil
	}

	logging.Info("Cloning %s at branch %s", RepoURL, branch)
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           RepoURL,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         1,
	})
	if err != nil {
		return "", errors.Wrapf(err, "cloning xpk at branch %s", branch)
	}
	if _, err := os.Stat(script); err != nil {
		return "", errors.Wrapf(err, "checkout at %s has no %s", dir, scriptName)
	}
	return script, nil
}
