// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/enginemgr/internal/config"
	"github.com/ManuGH/enginemgr/internal/durable"
	"github.com/ManuGH/enginemgr/internal/persistence/sqlite"
)

func runStorageCLI(args []string) int {
	return runStorage(args, os.Stdout, os.Stderr)
}

func runStorage(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printStorageUsage(stdout)
		return 0
	}

	switch args[0] {
	case "verify":
		return runStorageVerify(args[1:], stdout, stderr)
	case "export":
		return runStorageExport(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printStorageUsage(stderr)
		return 2
	}
}

func printStorageUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  enginemgr storage verify --path PATH [--mode quick|full]")
	_, _ = fmt.Fprintln(w, "  enginemgr storage export --out FILE [--config FILE] [--status RUNNING,...]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Subcommands:")
	_, _ = fmt.Fprintln(w, "  verify    Check SQLite instance store integrity")
	_, _ = fmt.Fprintln(w, "  export    Write a JSON snapshot of orchestration instances")
}

func runStorageVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("enginemgr storage verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("path", "", "Path to the SQLite database file")
	mode := fs.String("mode", "quick", "Verification mode: quick or full")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *path == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --path is required")
		return 2
	}
	m := sqlite.VerifyMode(strings.ToLower(strings.TrimSpace(*mode)))
	if m != sqlite.VerifyQuick && m != sqlite.VerifyFull {
		_, _ = fmt.Fprintf(stderr, "Error: invalid mode %q. Use 'quick' or 'full'.\n", *mode)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	issues, err := sqlite.VerifyIntegrity(ctx, *path, m)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Verification interrupted: %v\n", err)
		return 1
	}
	if issues != nil {
		_, _ = fmt.Fprintln(stderr, "CORRUPTION DETECTED:")
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stderr, "  - %s\n", issue)
		}
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "integrity verified: ok")
	return 0
}

// snapshot is the export file format.
type snapshot struct {
	ExportedAt time.Time           `json:"exportedAt"`
	Backend    string              `json:"backend"`
	Instances  []*durable.Instance `json:"instances"`
}

func runStorageExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("enginemgr storage export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "Snapshot file to write")
	configPath := fs.String("config", "", "Path to config file (YAML)")
	statuses := fs.String("status", "", "Comma-separated runtime statuses to include (default all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *out == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		return 2
	}

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load config: %v\n", err)
		return 1
	}
	store, err := durable.OpenStore(durable.StoreConfig{
		Backend:       cfg.Store.Backend,
		Path:          cfg.StorePath(),
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	n, err := exportInstances(context.Background(), store, cfg.Store.Backend, parseStatuses(*statuses), *out)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "exported %d instances to %s\n", n, *out)
	return 0
}

func parseStatuses(csv string) []durable.RuntimeStatus {
	var out []durable.RuntimeStatus
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, durable.RuntimeStatus(strings.ToUpper(s)))
		}
	}
	return out
}

// exportInstances writes the snapshot atomically so a reader never sees a partial file.
func exportInstances(ctx context.Context, store durable.Store, backend string, statuses []durable.RuntimeStatus, path string) (int, error) {
	instances, err := store.List(ctx, durable.Query{Statuses: statuses})
	if err != nil {
		return 0, fmt.Errorf("list instances: %w", err)
	}
	if instances == nil {
		instances = []*durable.Instance{}
	}
	data, err := json.MarshalIndent(snapshot{
		ExportedAt: time.Now().UTC(),
		Backend:    backend,
		Instances:  instances,
	}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	return len(instances), nil
}
