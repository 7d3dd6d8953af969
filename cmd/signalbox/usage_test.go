package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/models"
)

func TestUsageCmd(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	gdb, err := openDB(cfg)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	rows := []models.Agent{
		{ID: "builder|aaaa", ProjectID: 1, AgentType: "builder", Model: "gpt-4o-mini", InputTokens: 12000, OutputTokens: 345, Cost: 0.002},
		{ID: "delegator|bbbb", ProjectID: 1, AgentType: "delegator", Model: "gpt-4o", InputTokens: 1000, OutputTokens: 0, Cost: 0.003},
	}
	if err := gdb.Create(&rows).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"usage", "-c", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("usage failed: %v\n%s", err, buf.String())
	}
	out := buf.String()
	for _, want := range []string{"Project 1: Default", "builder|aaaa", "12,000", "delegator|bbbb", "TOTAL", "13,000", "345", "$0.0050"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestUsageCmd_UnknownProject(t *testing.T) {
	path := writeConfig(t, "")

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"usage", "-c", path, "-p", "42"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing project")
	}
}
