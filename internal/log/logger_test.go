// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestConfigure_AttachesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "enginemgr-test", Version: "v0.0.1"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("durable")
	l.Debug().Str(FieldInstanceID, "case-1").Msg("turn")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw=%q)", err, buf.String())
	}
	if entry["service"] != "enginemgr-test" {
		t.Errorf("service = %v", entry["service"])
	}
	if entry["version"] != "v0.0.1" {
		t.Errorf("version = %v", entry["version"])
	}
	if entry[FieldComponent] != "durable" {
		t.Errorf("component = %v", entry[FieldComponent])
	}
}

func TestConfigure_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "loud", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	L().Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}
	L().Info().Msg("shown")
	if buf.Len() == 0 {
		t.Fatal("info line missing")
	}
}
