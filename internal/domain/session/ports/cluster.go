// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyExists is returned by Create* when the named object exists.
	ErrAlreadyExists = errors.New("cluster object already exists")
	// ErrNotFound is returned by Delete* when the named object does not exist.
	ErrNotFound = errors.New("cluster object not found")
)

// WorkloadSpec names a single-replica engine workload and its service.
// Labels are applied to both; the service selects pods by them.
type WorkloadSpec struct {
	Name   string
	Labels map[string]string
}

// ServicePort is one port exposed by a service.
type ServicePort struct {
	Name     string
	Port     int32
	NodePort int32
}

// ServiceInfo describes a created service.
type ServiceInfo struct {
	Name  string
	Ports []ServicePort
}

// PodInfo is the readiness view of one workload pod.
type PodInfo struct {
	Name    string
	Phase   string
	Ready   bool
	HostIP  string
	Message string
}

// Cluster is the control-plane client the compute provisioner needs.
// Implementations map their own "exists"/"missing" errors to ErrAlreadyExists/ErrNotFound.
type Cluster interface {
	CreateService(ctx context.Context, spec WorkloadSpec) (ServiceInfo, error)
	GetService(ctx context.Context, name string) (ServiceInfo, error)
	CreateWorkload(ctx context.Context, spec WorkloadSpec) error
	ListPods(ctx context.Context, labelSelector string) ([]PodInfo, error)
	DeleteWorkload(ctx context.Context, name string) error
	DeleteService(ctx context.Context, name string) error
}
