package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

const sampleConfig = `
self: 2
mailbox-listen: "127.0.0.1:9001"
monitor-addr: "127.0.0.1:9000"
monitor-listen: "127.0.0.1:9000"
peers:
  1: "127.0.0.1:9101"
  2: "127.0.0.1:9102"
  3: "127.0.0.1:9103"
constants:
  NUM_SERVERS: 2
  NUM_CLIENTS: 1
`

func TestLoadBindsEveryDocumentedKey(t *testing.T) {
	path := writeTestConfig(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Self != 2 {
		t.Errorf("Self: got %d, want 2", cfg.Self)
	}
	if cfg.MailboxListen != "127.0.0.1:9001" {
		t.Errorf("MailboxListen: got %q", cfg.MailboxListen)
	}
	if cfg.MonitorAddr != "127.0.0.1:9000" {
		t.Errorf("MonitorAddr: got %q", cfg.MonitorAddr)
	}
	if cfg.Constants["NUM_SERVERS"] != 2 || cfg.Constants["NUM_CLIENTS"] != 1 {
		t.Errorf("Constants: got %v", cfg.Constants)
	}
	if len(cfg.Peers) != 3 {
		t.Fatalf("Peers: got %d entries, want 3", len(cfg.Peers))
	}
	if cfg.Peers[1].Addr != "127.0.0.1:9101" {
		t.Errorf("Peers[1]: got %q", cfg.Peers[1].Addr)
	}
}

func TestPeerAddrReturnsConfiguredAddress(t *testing.T) {
	path := writeTestConfig(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.PeerAddr(3); got != "127.0.0.1:9103" {
		t.Errorf("got %q, want 127.0.0.1:9103", got)
	}
}

func TestPeerAddrPanicsOnUnknownPeer(t *testing.T) {
	path := writeTestConfig(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected PeerAddr to panic for an unconfigured peer")
		}
	}()
	cfg.PeerAddr(99)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
