package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/morezero/guest-agent/internal/agent"
)

const mainTestPrefix = "cmd/guest-agent:main_test"

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate", "ensure-db", "clear", "status", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("%s - subcommand %q not registered", mainTestPrefix, name)
		}
	}
	for _, name := range []string{"up", "status"} {
		cmd, _, err := root.Find([]string{"migrate", name})
		if err != nil || cmd.Name() != name {
			t.Errorf("%s - migrate %s not registered", mainTestPrefix, name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("%s - version failed: %v", mainTestPrefix, err)
	}
	if strings.TrimSpace(out.String()) != agent.Version {
		t.Errorf("%s - version printed %q, want %q", mainTestPrefix, out.String(), agent.Version)
	}
}

func TestApplyFlags_OnlyChangedOverride(t *testing.T) {
	t.Setenv("COMMS_URL", "nats://env:4222")
	t.Setenv("STATUS_SCHEMA", "env_schema")
	t.Setenv("APT_USE_SUDO", "true")

	fv := &flagValues{}
	cmd := &cobra.Command{Use: "test"}
	bindFlags(cmd, fv)
	if err := cmd.ParseFlags([]string{"--comms-url", "nats://flag:4222", "--periodic-interval", "5", "--http-port", "0"}); err != nil {
		t.Fatalf("%s - parse flags: %v", mainTestPrefix, err)
	}

	cfg, err := loadConfig(cmd, fv)
	if err != nil {
		t.Fatalf("%s - loadConfig: %v", mainTestPrefix, err)
	}
	if cfg.COMMSURL != "nats://flag:4222" {
		t.Errorf("%s - COMMSURL = %q", mainTestPrefix, cfg.COMMSURL)
	}
	if cfg.StatusSchema != "env_schema" {
		t.Errorf("%s - StatusSchema = %q, env value should survive", mainTestPrefix, cfg.StatusSchema)
	}
	if cfg.PeriodicInterval != 5 || cfg.HTTPPort != 0 {
		t.Errorf("%s - interval=%d port=%d", mainTestPrefix, cfg.PeriodicInterval, cfg.HTTPPort)
	}
	if !cfg.AptUseSudo {
		t.Errorf("%s - unset apt-use-sudo flag should keep the environment value", mainTestPrefix)
	}
}

func TestWithDatabase(t *testing.T) {
	got, err := withDatabase("postgres://u:p@db:5432/nova?sslmode=disable", "nova_test")
	if err != nil {
		t.Fatalf("%s - withDatabase: %v", mainTestPrefix, err)
	}
	if got != "postgres://u:p@db:5432/nova_test?sslmode=disable" {
		t.Errorf("%s - got %q", mainTestPrefix, got)
	}
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"frobnicate"})
	if err := root.Execute(); err == nil {
		t.Fatalf("%s - expected error for unknown command", mainTestPrefix)
	}
}
