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

// Package imagebuild assembles a benchmark image by appending the test
// scripts as a layer onto a base image, without a local Docker daemon.
package imagebuild

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/anishchapagain/google-ml-auto-solutions/pkg/logging"
	"github.com/anishchapagain/google-ml-auto-solutions/pkg/shell"
)

// DefaultPlatform is the platform benchmark images are built for.
const DefaultPlatform = "linux/amd64"

// DefaultIgnorePatterns are always excluded from the scripts layer, on top
// of whatever the build context's .dockerignore adds.
var DefaultIgnorePatterns = []string{".git/", "__pycache__/", "*.pyc"}

// Builder appends a filtered build-context layer onto a base image and
// pushes the result.
type Builder struct {
	Fs afero.Fs
	// Platform overrides DefaultPlatform.
	Platform string
}

// NewBuilder returns a Builder over the OS filesystem.
func NewBuilder() *Builder {
	return &Builder{Fs: afero.NewOsFs()}
}

// Build pulls baseImage, appends the filtered contents of contextDir as a
// layer, pushes the result under the project's registry and returns the
// pushed reference.
func (b *Builder) Build(project, baseImage, contextDir string) (string, error) {
	platform, err := parsePlatform(b.platform())
	if err != nil {
		return "", err
	}

	target := fmt.Sprintf("gcr.io/%s/benchmark-runner:%s-%s",
		project, shell.RandomString(4), time.Now().Format("2006-01-02-15-04-05"))
	logging.Info("Building %s from base %s with context %s", target, baseImage, contextDir)

	matcher, err := LoadIgnorePatterns(b.Fs, contextDir, DefaultIgnorePatterns)
	if err != nil {
		return "", err
	}

	layerPath, err := b.contextLayer(contextDir, matcher)
	if err != nil {
		return "", err
	}
	defer os.Remove(layerPath)

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(layerPath)
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return "", errors.Wrap(err, "creating layer from build context")
	}

	baseRef, err := name.ParseReference(baseImage)
	if err != nil {
		return "", errors.Wrapf(err, "parsing base image %q", baseImage)
	}
	base, err := crane.Pull(baseRef.String(), crane.WithPlatform(&platform))
	if err != nil {
		return "", errors.Wrapf(err, "pulling base image %q", baseImage)
	}

	img, err := mutate.AppendLayers(base, layer)
	if err != nil {
		return "", errors.Wrap(err, "appending scripts layer")
	}

	if err := crane.Push(img, target, crane.WithPlatform(&platform)); err != nil {
		return "", errors.Wrapf(err, "pushing %q", target)
	}
	logging.Info("Pushed %s", target)
	return target, nil
}

func (b *Builder) platform() string {
	if b.Platform != "" {
		return b.Platform
	}
	return DefaultPlatform
}

// LoadIgnorePatterns builds a matcher from the defaults plus the build
// context's .dockerignore, when present.
func LoadIgnorePatterns(fsys afero.Fs, dir string, defaults []string) (*patternmatcher.PatternMatcher, error) {
	patterns := append([]string(nil), defaults...)

	ignorePath := filepath.Join(dir, ".dockerignore")
	if exists, _ := afero.Exists(fsys, ignorePath); exists {
		file, err := fsys.Open(ignorePath)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", ignorePath)
		}
		defer file.Close()
		filePatterns, err := ignorefile.ReadAll(file)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", ignorePath)
		}
		patterns = append(patterns, filePatterns...)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, errors.Wrap(err, "building ignore matcher")
	}
	return matcher, nil
}

// contextLayer writes the filtered build context as a gzipped tar into a
// temporary file and returns its path.
func (b *Builder) contextLayer(contextDir string, matcher *patternmatcher.PatternMatcher) (string, error) {
	tmp, err := os.CreateTemp("", "benchmark-image-layer-*.tar.gz")
	if err != nil {
		return "", errors.Wrap(err, "creating layer temp file")
	}
	defer tmp.Close()

	if err := writeFilteredTar(b.Fs, contextDir, matcher, tmp); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// writeFilteredTar tars contextDir into w, skipping everything the matcher
// ignores.
func writeFilteredTar(fsys afero.Fs, contextDir string, matcher *patternmatcher.PatternMatcher, w io.Writer) (err error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	defer func() {
		if cerr := tw.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing tar writer")
		}
		if cerr := gz.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing gzip writer")
		}
	}()

	return afero.Walk(fsys, contextDir, func(path string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relPath, err := filepath.Rel(contextDir, path)
		if err != nil {
			return errors.Wrapf(err, "relativizing %q", path)
		}
		if relPath == "." {
			return nil
		}

		// Directory patterns only match paths with a trailing slash.
		matchPath := filepath.ToSlash(relPath)
		if info.IsDir() && !strings.HasSuffix(matchPath, "/") {
			matchPath += "/"
		}
		ignored, err := matcher.MatchesOrParentMatches(matchPath)
		if err != nil {
			return errors.Wrapf(err, "matching %q", relPath)
		}
		if ignored {
			logging.Debug("Ignoring %q", relPath)
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		header, err := tar.FileInfoHeader(info, relPath)
		if err != nil {
			return errors.Wrapf(err, "tar header for %q", relPath)
		}
		header.Name = filepath.ToSlash(relPath)
		if err := tw.WriteHeader(header); err != nil {
			return errors.Wrapf(err, "writing tar header for %q", relPath)
		}

		if info.Mode().IsRegular() {
			file, err := fsys.Open(path)
			if err != nil {
				return errors.Wrapf(err, "opening %q", path)
			}
			defer file.Close()
			if _, err := io.Copy(tw, file); err != nil {
				return errors.Wrapf(err, "writing %q", relPath)
			}
		}
		return nil
	})
}

func parsePlatform(platformStr string) (v1.Platform, error) {
	parts := strings.Split(platformStr, "/")
	if len(parts) != 2 {
		return v1.Platform{}, errors.Errorf("invalid platform %q, expected os/arch", platformStr)
	}
	return v1.Platform{OS: parts[0], Architecture: parts[1]}, nil
}
