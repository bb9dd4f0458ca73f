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

// Package cmd defines the mlauto CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "mlauto",
	Short: "Runs hardware-accelerator benchmarks on Google Cloud.",
	Long: `mlauto expands a YAML test matrix into benchmark pipelines and runs them
against TPU queued resources, GPU VMs, GKE clusters via xpk, or raw
Kubernetes batch jobs. Each pipeline provisions its own compute, executes
the test, post-processes metrics and releases what it acquired.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetDebug(debugLogging)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging.")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
