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

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/backend/gkejob"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/backend/gpuvm"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/backend/tpuqr"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/backend/xpk"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/imagebuild"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/matrix"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/metrics"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/names"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/pipeline"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/quarantine"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/remote"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/shell"
)

var (
	matrixFile     string
	projectID      string
	zone           string
	outputBucket   string
	concurrency    int
	quarantineFile string
	outputManifest string

	dockerImage     string
	baseDockerImage string
	buildContext    string
	platform        string

	allWorkers      bool
	generateRunName bool
	xpkDir          string
	xpkBranch       string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&matrixFile, "matrix", "m", "", "Path to the YAML test matrix. Required.")
	runCmd.Flags().StringVarP(&projectID, "project", "p", "", "Google Cloud project. Overrides the matrix value.")
	runCmd.Flags().StringVar(&zone, "zone", "", "Google Cloud zone. Overrides the matrix value.")
	runCmd.Flags().StringVar(&outputBucket, "output-bucket", "", "GCS prefix artifact locations are generated under. Overrides the matrix value.")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum pipelines running at once. Defaults to the matrix value, then 2.")
	runCmd.Flags().StringVar(&quarantineFile, "quarantine", "", "Path to a YAML quarantine list. Quarantined tests still run but are grouped apart.")
	runCmd.Flags().StringVarP(&outputManifest, "output-manifest", "o", "", "Write the batch-job manifests to this path instead of running anything.")

	runCmd.Flags().StringVarP(&dockerImage, "docker-image", "i", "", "Pre-built image overriding the matrix images (e.g. gcr.io/my-project/bench:tag).")
	runCmd.Flags().StringVar(&baseDockerImage, "base-docker-image", "", "Base image to build upon with Crane. Requires --build-context.")
	runCmd.Flags().StringVarP(&buildContext, "build-context", "c", "", "Build context directory for the Crane build. Required with --base-docker-image.")
	runCmd.Flags().StringVarP(&platform, "platform", "f", imagebuild.DefaultPlatform, "Target platform for the Crane build.")

	runCmd.Flags().BoolVar(&allWorkers, "all-workers", false, "Run scripts on every worker instead of worker 0 (tf_ tests always fan out).")
	runCmd.Flags().BoolVar(&generateRunName, "generate-run-name", false, "Generate a run name and thread it into metric locations and the run command.")
	runCmd.Flags().StringVar(&xpkDir, "xpk-dir", filepath.Join(os.TempDir(), "xpk"), "Directory the xpk CLI is checked out into.")
	runCmd.Flags().StringVar(&xpkBranch, "xpk-branch", xpk.DefaultBranch, "Branch of the xpk CLI to check out.")

	_ = runCmd.MarkFlagRequired("matrix")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Expands a test matrix and runs each entry as a benchmark pipeline.",
	Long: `The 'run' command reads a YAML test matrix, expands it across setup modes
and slice counts, and executes one pipeline per combination, bounded by the
concurrency cap. Images can come from the matrix, a single --docker-image
override, or an on-the-fly Crane build (--base-docker-image with
--build-context).`,
	Run:          runRunCmd,
	SilenceUsage: true,
}

func runRunCmd(cmd *cobra.Command, args []string) {
	logging.Info("Executing mlauto run command...")

	if dockerImage != "" && baseDockerImage != "" {
		logging.Fatal("Cannot provide both --docker-image and --base-docker-image.")
	}
	if dockerImage != "" && buildContext != "" {
		logging.Fatal("--build-context cannot be provided when --docker-image is used as no build is performed.")
	}
	if baseDockerImage != "" && buildContext == "" {
		logging.Fatal("A --build-context must be provided when --base-docker-image is used for a Crane build.")
	}

	fs := afero.NewOsFs()
	m, err := matrix.Load(fs, matrixFile)
	if err != nil {
		logging.Fatal("Failed to load test matrix: %v", err)
	}
	if projectID != "" {
		m.GCP.Project = projectID
	}
	if zone != "" {
		m.GCP.Zone = zone
	}
	if outputBucket != "" {
		m.OutputBucket = outputBucket
	}
	logging.Info("Matrix %s: %d pipelines in project %s, zone %s",
		m.Group, len(m.Entries), m.GCP.Project, m.GCP.Zone)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	image := dockerImage
	if baseDockerImage != "" {
		builder := imagebuild.NewBuilder()
		builder.Platform = platform
		image, err = builder.Build(m.GCP.Project, baseDockerImage, buildContext)
		if err != nil {
			logging.Fatal("Image build failed: %v", err)
		}
	}
	if image != "" {
		for i := range m.Entries {
			m.Entries[i].Descriptor.DockerImage = image
		}
	}

	if outputManifest != "" {
		if err := writeManifests(fs, m, outputManifest); err != nil {
			logging.Fatal("Failed to write manifests: %v", err)
		}
		return
	}

	var checker quarantine.Checker
	if quarantineFile != "" {
		set, err := quarantine.Load(fs, quarantineFile)
		if err != nil {
			logging.Fatal("Failed to load quarantine list: %v", err)
		}
		logging.Info("Quarantine list carries %d tests", set.Len())
		checker = set
	}

	backends, err := buildBackends(ctx, m)
	if err != nil {
		logging.Fatal("Failed to set up backends: %v", err)
	}

	post := &metrics.PostProcessor{Ingester: metrics.NoopIngester{}}
	if lister, err := metrics.NewGCSLister(ctx); err != nil {
		logging.Warn("Artifact listing disabled: %v", err)
	} else {
		post.Artifacts = lister
		defer lister.Close()
	}

	results, err := executeAll(ctx, m, backends, checker, post)
	if err != nil {
		logging.Fatal("mlauto run failed: %v", err)
	}
	if failed := printSummary(results); failed > 0 {
		logging.Fatal("%d of %d pipelines failed", failed, len(results))
	}
}

// buildBackends constructs one provisioner per backend kind the matrix uses.
// Kinds the matrix never names cost nothing to set up.
func buildBackends(ctx context.Context, m *matrix.Matrix) (map[pipeline.BackendKind]pipeline.Provisioner, error) {
	kinds := map[pipeline.BackendKind]bool{}
	for _, e := range m.Entries {
		kinds[e.Backend] = true
	}

	backends := map[pipeline.BackendKind]pipeline.Provisioner{}
	for kind := range kinds {
		switch kind {
		case pipeline.BackendQueuedResource:
			api, err := tpuqr.NewServiceAPI(ctx)
			if err != nil {
				return nil, err
			}
			b := tpuqr.New(api, remote.NewClient())
			b.AllWorkers = allWorkers
			backends[kind] = b
		case pipeline.BackendVMSSH:
			api, err := gpuvm.NewServiceAPI(ctx)
			if err != nil {
				return nil, err
			}
			backends[kind] = gpuvm.New(api, remote.NewClient())
		case pipeline.BackendClusterWorkload:
			script, err := xpk.EnsureCheckout(ctx, xpkDir, xpkBranch)
			if err != nil {
				return nil, err
			}
			backends[kind] = xpk.New(shell.ExecuteCommand, script)
		case pipeline.BackendBatchJob:
			client, err := kubernetesClient()
			if err != nil {
				return nil, err
			}
			backends[kind] = gkejob.New(client)
		}
	}
	return backends, nil
}

func kubernetesClient() (kubernetes.Interface, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

// executeAll runs every pipeline, at most the concurrency cap at once.
func executeAll(ctx context.Context, m *matrix.Matrix, backends map[pipeline.BackendKind]pipeline.Provisioner, checker quarantine.Checker, post *metrics.PostProcessor) ([]pipeline.Result, error) {
	limit := concurrency
	if limit == 0 {
		limit = m.Concurrency
	}
	if limit == 0 {
		limit = 2
	}

	// Construct everything before launching anything, so a bad entry
	// cannot strand pipelines that already started.
	pipelines := make([]*pipeline.Pipeline, 0, len(m.Entries))
	for _, entry := range m.Entries {
		p, err := pipeline.New(pipeline.Spec{
			Descriptor:      entry.Descriptor,
			GCP:             m.GCP,
			Backend:         backends[entry.Backend],
			BaseOutputDir:   m.OutputBucket,
			GenerateRunName: generateRunName,
		}, checker, post)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results []pipeline.Result
	)
	g.SetLimit(limit)

	for _, p := range pipelines {
		p := p
		g.Go(func() error {
			res := p.Execute(ctx)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].BenchmarkID < results[j].BenchmarkID
	})
	return results, nil
}

// printSummary prints one line per pipeline and returns the failure count.
func printSummary(results []pipeline.Result) int {
	const fmtPrecision = time.Second
	pass := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	quarantined := color.New(color.FgYellow).SprintFunc()

	failed := 0
	for _, res := range results {
		status := pass("PASS")
		if !res.OK() {
			failed++
			status = fail("FAIL")
		}
		group := ""
		if res.Group == pipeline.GroupQuarantine {
			group = " " + quarantined("[quarantine]")
		}
		if res.Err != nil {
			logging.Info("%s %s%s (%s, reached %s): %v",
				status, res.BenchmarkID, group, res.Duration.Round(fmtPrecision), res.StageReached, res.Err)
		} else {
			logging.Info("%s %s%s (%s)", status, res.BenchmarkID, group, res.Duration.Round(fmtPrecision))
		}
	}
	return failed
}

// writeManifests renders the batch-job entries as Kubernetes YAML instead of
// executing anything.
func writeManifests(fs afero.Fs, m *matrix.Matrix, path string) error {
	var docs []string
	for _, entry := range m.Entries {
		if entry.Backend != pipeline.BackendBatchJob {
			logging.Warn("Skipping %s: only batch-job entries render to a manifest", entry.Descriptor.BenchmarkID)
			continue
		}
		job, err := gkejob.JobManifest(entry.Descriptor, names.GenerateWorkloadID(entry.Descriptor.BenchmarkID))
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(job)
		if err != nil {
			return err
		}
		docs = append(docs, string(data))
	}
	logging.Info("Writing %d manifests to %s", len(docs), path)
	return afero.WriteFile(fs, path, []byte(strings.Join(docs, "---\n")), 0o644)
}
