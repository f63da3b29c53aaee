// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package kube

const (
	ServiceTemplateFile    = "engineService.yaml"
	DeploymentTemplateFile = "engineDeployment.yaml"
)

// Built-in templates used when the manifest directory does not provide one.
const defaultServiceYAML = `apiVersion: v1
kind: Service
metadata:
  name: engine
spec:
  type: NodePort
  ports:
    - name: engine
      port: 8080
      targetPort: 8080
      protocol: TCP
`

const defaultDeploymentYAML = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: engine
spec:
  replicas: 1
  template:
    spec:
      containers:
        - name: engine
          image: enginemgr/engine:latest
          ports:
            - containerPort: 8080
          readinessProbe:
            tcpSocket:
              port: 8080
            periodSeconds: 2
`
