// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package kube implements the compute cluster port on the Kubernetes API.
package kube

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/ManuGH/enginemgr/internal/domain/session/ports"
	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// NewClientset connects with the kubeconfig at path, or with the in-cluster
// service account when path is empty.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("load cluster config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	return cs, nil
}

// Cluster creates engines as a Service plus a Deployment in one namespace.
type Cluster struct {
	client    kubernetes.Interface
	namespace string
	templates *Templates
	logger    zerolog.Logger
}

var _ ports.Cluster = (*Cluster)(nil)

func NewCluster(client kubernetes.Interface, namespace string, templates *Templates) *Cluster {
	if namespace == "" {
		namespace = "default"
	}
	return &Cluster{
		client:    client,
		namespace: namespace,
		templates: templates,
		logger:    xglog.WithComponent("kube").With().Str(xglog.FieldNamespace, namespace).Logger(),
	}
}

func (c *Cluster) CreateService(ctx context.Context, spec ports.WorkloadSpec) (ports.ServiceInfo, error) {
	svc := c.templates.Service(spec.Name, c.namespace, spec.Labels)
	created, err := c.client.CoreV1().Services(c.namespace).Create(ctx, svc, metav1.CreateOptions{})
	if err != nil {
		return ports.ServiceInfo{}, mapError("create service", spec.Name, err)
	}
	c.logger.Debug().Str(xglog.FieldComputeKey, spec.Name).Msg("service created")
	return serviceInfo(created), nil
}

func (c *Cluster) GetService(ctx context.Context, name string) (ports.ServiceInfo, error) {
	svc, err := c.client.CoreV1().Services(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return ports.ServiceInfo{}, mapError("get service", name, err)
	}
	return serviceInfo(svc), nil
}

func (c *Cluster) CreateWorkload(ctx context.Context, spec ports.WorkloadSpec) error {
	dep := c.templates.Deployment(spec.Name, c.namespace, spec.Labels)
	if _, err := c.client.AppsV1().Deployments(c.namespace).Create(ctx, dep, metav1.CreateOptions{}); err != nil {
		return mapError("create deployment", spec.Name, err)
	}
	c.logger.Debug().Str(xglog.FieldComputeKey, spec.Name).Msg("deployment created")
	return nil
}

func (c *Cluster) ListPods(ctx context.Context, labelSelector string) ([]ports.PodInfo, error) {
	list, err := c.client.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, mapError("list pods", labelSelector, err)
	}
	pods := make([]ports.PodInfo, 0, len(list.Items))
	for i := range list.Items {
		pods = append(pods, podInfo(&list.Items[i]))
	}
	return pods, nil
}

func (c *Cluster) DeleteWorkload(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationForeground
	err := c.client.AppsV1().Deployments(c.namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil {
		return mapError("delete deployment", name, err)
	}
	return nil
}

func (c *Cluster) DeleteService(ctx context.Context, name string) error {
	if err := c.client.CoreV1().Services(c.namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return mapError("delete service", name, err)
	}
	return nil
}

func mapError(op, name string, err error) error {
	switch {
	case apierrors.IsAlreadyExists(err):
		return fmt.Errorf("%s %s: %w", op, name, ports.ErrAlreadyExists)
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%s %s: %w", op, name, ports.ErrNotFound)
	default:
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
}

func serviceInfo(svc *corev1.Service) ports.ServiceInfo {
	info := ports.ServiceInfo{Name: svc.Name}
	for _, p := range svc.Spec.Ports {
		info.Ports = append(info.Ports, ports.ServicePort{Name: p.Name, Port: p.Port, NodePort: p.NodePort})
	}
	return info
}

func podInfo(pod *corev1.Pod) ports.PodInfo {
	info := ports.PodInfo{
		Name:    pod.Name,
		Phase:   string(pod.Status.Phase),
		HostIP:  pod.Status.HostIP,
		Message: pod.Status.Message,
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			info.Ready = cond.Status == corev1.ConditionTrue
		}
	}
	if info.Message == "" {
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
				info.Message = cs.State.Waiting.Reason
				break
			}
		}
	}
	return info
}
