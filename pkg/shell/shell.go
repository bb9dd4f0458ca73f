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

// Package shell runs external CLI tools (gcloud, kubectl, xpk) and captures
// their output.
package shell

import (
	"bytes"
	"context"
	"math/rand"
	"os/exec"
	"strings"
	"time"
)

// Result captures the outcome of one command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command and returns its result. Backends hold a Runner
// so tests can substitute a fake.
type Runner func(ctx context.Context, name string, args ...string) Result

// ExecuteCommand runs name with args and waits for it to finish.
func ExecuteCommand(ctx context.Context, name string, args ...string) Result {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
	}
	return res
}

// Command is a command with optional stdin, for tools that read manifests
// from a pipe.
type Command struct {
	name  string
	args  []string
	input string
}

// NewCommand builds a Command.
func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// SetInput sets the data written to the command's stdin.
func (c *Command) SetInput(input string) {
	c.input = input
}

// Execute runs the command and waits for it to finish.
func (c *Command) Execute(ctx context.Context) Result {
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	if c.input != "" {
		cmd.Stdin = strings.NewReader(c.input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
	}
	return res
}

const nameCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomString returns a lowercase alphanumeric string of the given length,
// suitable as a suffix for generated resource names.
func RandomString(length int) string {
	seededRand := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = nameCharset[seededRand.Intn(len(nameCharset))]
	}
	return string(b)
}
