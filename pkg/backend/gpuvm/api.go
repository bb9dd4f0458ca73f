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

package gpuvm

import (
	"context"

	"github.com/pkg/errors"
	compute "google.golang.org/api/compute/v1"
)

// API is the slice of the Compute Engine surface this backend uses. The
// production implementation wraps the generated client; tests fake it.
type API interface {
	InsertInstance(ctx context.Context, project, zone string, inst *compute.Instance) error
	GetInstance(ctx context.Context, project, zone, name string) (*compute.Instance, error)
	DeleteInstance(ctx context.Context, project, zone, name string) error
	SetInstanceMetadata(ctx context.Context, project, zone, name string, md *compute.Metadata) error
}

// ServiceAPI adapts the generated Compute client to the API interface.
type ServiceAPI struct {
	Service *compute.Service
}

// NewServiceAPI builds the production API over a Compute service client.
func NewServiceAPI(ctx context.Context) (*ServiceAPI, error) {
	svc, err := compute.NewService(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating compute service client")
	}
	return &ServiceAPI{Service: svc}, nil
}

func (s *ServiceAPI) InsertInstance(ctx context.Context, project, zone string, inst *compute.Instance) error {
	_, err := s.Service.Instances.Insert(project, zone, inst).Context(ctx).Do()
	return err
}

func (s *ServiceAPI) GetInstance(ctx context.Context, project, zone, name string) (*compute.Instance, error) {
	return s.Service.Instances.Get(project, zone, name).Context(ctx).Do()
}

func (s *ServiceAPI) DeleteInstance(ctx context.Context, project, zone, name string) error {
	_, err := s.Service.Instances.Delete(project, zone, name).Context(ctx).Do()
	return err
}

func (s *ServiceAPI) SetInstanceMetadata(ctx context.Context, project, zone, name string, md *compute.Metadata) error {
	_, err := s.Service.Instances.SetMetadata(project, zone, name, md).Context(ctx).Do()
	return err
}
