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

package tpuqr

import (
	"context"

	"github.com/pkg/errors"
	tpu "google.golang.org/api/tpu/v2alpha1"
)

// API is the slice of the TPU queued-resource surface this backend uses.
// The production implementation wraps the generated client; tests fake it.
type API interface {
	CreateQueuedResource(ctx context.Context, parent, id string, qr *tpu.QueuedResource) error
	GetQueuedResource(ctx context.Context, name string) (*tpu.QueuedResource, error)
	DeleteQueuedResource(ctx context.Context, name string) error
	GetNode(ctx context.Context, name string) (*tpu.Node, error)
}

// ServiceAPI adapts the generated TPU client to the API interface.
type ServiceAPI struct {
	Service *tpu.Service
}

// NewServiceAPI builds the production API over a TPU service client.
func NewServiceAPI(ctx context.Context) (*ServiceAPI, error) {
	svc, err := tpu.NewService(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating tpu service client")
	}
	return &ServiceAPI{Service: svc}, nil
}

func (s *ServiceAPI) CreateQueuedResource(ctx context.Context, parent, id string, qr *tpu.QueuedResource) error {
	_, err := s.Service.Projects.Locations.QueuedResources.Create(parent, qr).
		QueuedResourceId(id).Context(ctx).Do()
	return err
}

func (s *ServiceAPI) GetQueuedResource(ctx context.Context, name string) (*tpu.QueuedResource, error) {
	return s.Service.Projects.Locations.QueuedResources.Get(name).Context(ctx).Do()
}

func (s *ServiceAPI) DeleteQueuedResource(ctx context.Context, name string) error {
	// Force tears down the attached nodes together with the queued
	// resource.
	_, err := s.Service.Projects.Locations.QueuedResources.Delete(name).
		Force(true).Context(ctx).Do()
	return err
}

func (s *ServiceAPI) GetNode(ctx context.Context, name string) (*tpu.Node, error) {
	return s.Service.Projects.Locations.Nodes.Get(name).Context(ctx).Do()
}
