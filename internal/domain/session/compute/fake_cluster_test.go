// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package compute

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/enginemgr/internal/domain/session/ports"
)

// fakeCluster is an in-memory ports.Cluster with scriptable readiness and failures.
type fakeCluster struct {
	mu        sync.Mutex
	services  map[string]ports.ServiceInfo
	workloads map[string]ports.WorkloadSpec
	listCalls int

	readyAfter  int // pods report ready on this ListPods call (0 = never)
	hostIP      string
	nodePort    int32
	serviceErr  error
	workloadErr error
	deleteWlErr error
	deleteSvErr error
	deleted     []string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		services:   map[string]ports.ServiceInfo{},
		workloads:  map[string]ports.WorkloadSpec{},
		readyAfter: 1,
		hostIP:     "10.0.0.7",
		nodePort:   31555,
	}
}

func (f *fakeCluster) CreateService(ctx context.Context, spec ports.WorkloadSpec) (ports.ServiceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.serviceErr != nil {
		return ports.ServiceInfo{}, f.serviceErr
	}
	if _, ok := f.services[spec.Name]; ok {
		return ports.ServiceInfo{}, ports.ErrAlreadyExists
	}
	svc := ports.ServiceInfo{Name: spec.Name, Ports: []ports.ServicePort{{Name: "http", Port: 8080, NodePort: f.nodePort}}}
	f.services[spec.Name] = svc
	return svc, nil
}

func (f *fakeCluster) GetService(ctx context.Context, name string) (ports.ServiceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[name]
	if !ok {
		return ports.ServiceInfo{}, ports.ErrNotFound
	}
	return svc, nil
}

func (f *fakeCluster) CreateWorkload(ctx context.Context, spec ports.WorkloadSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.workloadErr != nil {
		return f.workloadErr
	}
	if _, ok := f.workloads[spec.Name]; ok {
		return ports.ErrAlreadyExists
	}
	f.workloads[spec.Name] = spec
	return nil
}

func (f *fakeCluster) ListPods(ctx context.Context, selector string) ([]ports.PodInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var pods []ports.PodInfo
	for name := range f.workloads {
		if SelectorFor(name) != selector {
			continue
		}
		if f.readyAfter > 0 && f.listCalls >= f.readyAfter {
			pods = append(pods, ports.PodInfo{Name: name + "-0", Phase: "Running", Ready: true, HostIP: f.hostIP})
		} else {
			pods = append(pods, ports.PodInfo{Name: name + "-0", Phase: "Pending"})
		}
	}
	return pods, nil
}

func (f *fakeCluster) DeleteWorkload(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteWlErr != nil {
		return f.deleteWlErr
	}
	if _, ok := f.workloads[name]; !ok {
		return ports.ErrNotFound
	}
	delete(f.workloads, name)
	f.deleted = append(f.deleted, "workload/"+name)
	return nil
}

func (f *fakeCluster) DeleteService(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteSvErr != nil {
		return f.deleteSvErr
	}
	if _, ok := f.services[name]; !ok {
		return ports.ErrNotFound
	}
	delete(f.services, name)
	f.deleted = append(f.deleted, "service/"+name)
	return nil
}

var errAPIDown = errors.New("api server unavailable")

var _ ports.Cluster = (*fakeCluster)(nil)
