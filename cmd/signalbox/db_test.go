package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/models"
)

func TestDBMigrateCmd(t *testing.T) {
	path := writeConfig(t, "default_project_id: 3\n")

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "migrate", "-c", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("db migrate failed: %v\n%s", err, buf.String())
	}
	out := buf.String()
	if !strings.Contains(out, "Migrated 2 tables on sqlite") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(out, "Default project: 3") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestDBMigrateCmd_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "session:\n  usage_policy: sometimes\n")

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "migrate", "-c", path})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for invalid usage policy")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %v, want load config prefix", err)
	}
}

func TestOpenDB_IsIdempotent(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 0; i < 2; i++ {
		gdb, err := openDB(cfg)
		if err != nil {
			t.Fatalf("openDB #%d: %v", i, err)
		}
		var n int64
		if err := gdb.WithContext(context.Background()).Model(&models.Project{}).Count(&n).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 1 {
			t.Errorf("openDB #%d: %d projects, want 1", i, n)
		}
	}
}
