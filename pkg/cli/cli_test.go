package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/relayq/relayq/pkg/config"
)

func TestNewRootCommand_Tree(t *testing.T) {
	root := NewRootCommand()

	want := map[string]bool{
		"serve":   false,
		"migrate": false,
		"dlq":     false,
		"config":  false,
		"version": false,
	}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestConfigValidateCommand(t *testing.T) {
	t.Setenv("RELAYQ_QUEUE_BACKEND", "memory")
	t.Setenv("RELAYQ_RATE_LIMIT_BACKEND", "local")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"config", "validate"})

	if err := root.Execute(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
}

func TestConfigValidateCommand_RejectsBadConfig(t *testing.T) {
	t.Setenv("RELAYQ_QUEUE_BACKEND", "kafka")

	root := NewRootCommand()
	root.SetArgs([]string{"config", "validate"})
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "queue.backend") {
		t.Errorf("expected queue.backend in error, got %v", err)
	}
}

func TestWorkerConfig_CarriesQueueLeaseTTL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Queue.LeaseTTL = 45 * time.Second
	cfg.Workers.Concurrency = 3
	cfg.Workers.MaxAttempts = 7

	wc := workerConfig(cfg)

	if wc.LeaseTTL != 45*time.Second {
		t.Errorf("expected lease TTL 45s, got %v", wc.LeaseTTL)
	}
	if wc.Concurrency != 3 {
		t.Errorf("expected concurrency 3, got %d", wc.Concurrency)
	}
	if wc.Retry.MaxAttempts != 7 {
		t.Errorf("expected max attempts 7, got %d", wc.Retry.MaxAttempts)
	}
}

func TestDLQCommand_RequiresArgsForReplay(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"dlq", "replay"})
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err == nil {
		t.Fatal("expected an error when no entry ids are given")
	}
}
