// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package kube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8syaml "k8s.io/apimachinery/pkg/util/yaml"

	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// Templates holds the operator-provided Service and Deployment manifests that
// every engine is stamped from.
type Templates struct {
	dir    string
	logger zerolog.Logger

	mu         sync.RWMutex
	service    *corev1.Service
	deployment *appsv1.Deployment
}

// LoadTemplates reads both manifests from dir. An empty dir or a missing file
// falls back to the built-in template.
func LoadTemplates(dir string) (*Templates, error) {
	t := &Templates{dir: dir, logger: xglog.WithComponent("kube_templates")}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the manifests. On error the previous templates stay in use.
func (t *Templates) Reload() error {
	svc := &corev1.Service{}
	if err := t.decode(ServiceTemplateFile, defaultServiceYAML, svc); err != nil {
		return err
	}
	if len(svc.Spec.Ports) == 0 {
		return fmt.Errorf("%s: service template defines no ports", ServiceTemplateFile)
	}

	dep := &appsv1.Deployment{}
	if err := t.decode(DeploymentTemplateFile, defaultDeploymentYAML, dep); err != nil {
		return err
	}
	if len(dep.Spec.Template.Spec.Containers) == 0 {
		return fmt.Errorf("%s: deployment template defines no containers", DeploymentTemplateFile)
	}

	t.mu.Lock()
	t.service = svc
	t.deployment = dep
	t.mu.Unlock()
	return nil
}

func (t *Templates) decode(file, fallback string, into any) error {
	var r io.Reader = strings.NewReader(fallback)
	if t.dir != "" {
		f, err := os.Open(filepath.Join(t.dir, file))
		switch {
		case err == nil:
			defer func() { _ = f.Close() }()
			r = f
		case errors.Is(err, os.ErrNotExist):
			t.logger.Debug().Str("file", file).Msg("manifest not found, using built-in template")
		default:
			return fmt.Errorf("open %s: %w", file, err)
		}
	}
	if err := k8syaml.NewYAMLOrJSONDecoder(r, 4096).Decode(into); err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}
	return nil
}

// Service stamps the service template for one engine.
func (t *Templates) Service(name, namespace string, labels map[string]string) *corev1.Service {
	t.mu.RLock()
	svc := t.service.DeepCopy()
	t.mu.RUnlock()

	svc.ObjectMeta = stampMeta(svc.ObjectMeta, name, namespace, labels)
	svc.Spec.Selector = copyLabels(labels)
	return svc
}

// Deployment stamps the deployment template for one engine: one replica whose
// pods carry labels and whose first container is named after the engine.
func (t *Templates) Deployment(name, namespace string, labels map[string]string) *appsv1.Deployment {
	t.mu.RLock()
	dep := t.deployment.DeepCopy()
	t.mu.RUnlock()

	dep.ObjectMeta = stampMeta(dep.ObjectMeta, name, namespace, labels)
	replicas := int32(1)
	dep.Spec.Replicas = &replicas
	dep.Spec.Selector = &metav1.LabelSelector{MatchLabels: copyLabels(labels)}
	dep.Spec.Template.Labels = copyLabels(labels)
	dep.Spec.Template.Spec.Containers[0].Name = name
	return dep
}

func stampMeta(meta metav1.ObjectMeta, name, namespace string, labels map[string]string) metav1.ObjectMeta {
	meta.Name = name
	meta.Namespace = namespace
	meta.ResourceVersion = ""
	meta.UID = ""
	if meta.Labels == nil {
		meta.Labels = map[string]string{}
	}
	for k, v := range labels {
		meta.Labels[k] = v
	}
	return meta
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Watch reloads the templates when either manifest changes until ctx ends.
// Without a manifest directory it returns immediately.
func (t *Templates) Watch(ctx context.Context) error {
	if t.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(t.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch manifest dir: %w", err)
	}
	t.logger.Info().Str("dir", t.dir).Msg("watching engine manifests")

	go t.watchLoop(ctx, watcher)
	return nil
}

func (t *Templates) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() { _ = watcher.Close() }()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(event.Name)
			if base != ServiceTemplateFile && base != DeploymentTemplateFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				if err := t.Reload(); err != nil {
					t.logger.Error().Err(err).Msg("manifest reload failed, keeping previous templates")
					return
				}
				t.logger.Info().Msg("engine manifests reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.Error().Err(err).Msg("manifest watcher error")
		}
	}
}
