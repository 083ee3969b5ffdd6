package config

import (
	"os"
	"testing"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 19132 {
		t.Fatalf("Port = %d, want 19132", cfg.Port)
	}
	if cfg.MaxConnections != 64 {
		t.Fatalf("MaxConnections = %d, want 64", cfg.MaxConnections)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	os.Setenv("RAKNET_PORT", "27015")
	defer os.Unsetenv("RAKNET_PORT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 27015 {
		t.Fatalf("Port = %d, want 27015 from env override", cfg.Port)
	}
}

func TestPeerConfigTranslation(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pc, err := cfg.PeerConfig()
	if err != nil {
		t.Fatalf("PeerConfig: %v", err)
	}
	if pc.Port != cfg.Port || pc.MaxConnections != cfg.MaxConnections {
		t.Fatalf("PeerConfig did not carry over Port/MaxConnections: %+v", pc)
	}
	if pc.LayerConfig.MTU != cfg.MTU {
		t.Fatalf("PeerConfig.LayerConfig.MTU = %d, want %d", pc.LayerConfig.MTU, cfg.MTU)
	}
}

func TestPeerConfigRejectsInvalidEncryptionKeyLength(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.EncryptionKey = "abcd"
	if _, err := cfg.PeerConfig(); err == nil {
		t.Fatal("expected a too-short hex key to be rejected")
	}
}
