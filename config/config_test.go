package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	lcrypto "lotterychain/crypto"
)

const testOwner = "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lotteryd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	owner, err := cfg.OwnerIdentity()
	if err != nil || owner.IsZero() {
		t.Fatalf("default owner invalid: %v", err)
	}
	keyPath := cfg.OwnerKeyPath(path)
	if keyPath != filepath.Join(filepath.Dir(path), "owner.key") {
		t.Fatalf("owner key path %q", keyPath)
	}
	key, err := lcrypto.LoadKey(keyPath)
	if err != nil {
		t.Fatalf("owner key not written: %v", err)
	}
	if lcrypto.IdentityFromKey(key) != owner {
		t.Fatalf("owner key does not control %s", owner.Hex())
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Owner != cfg.Owner || reloaded.OwnerKeyFile != "owner.key" || reloaded.ListenAddress != ":8090" {
		t.Fatalf("reloaded config mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lotteryd.toml")
	contents := `ListenAddress = "127.0.0.1:9100"
DataDir = "/var/lib/lottery"
Owner = "0x` + testOwner + `"
Env = "staging"
RestartGuard = true
AllowAirdrop = true
RateLimitPerSecond = 5.0
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9100" || cfg.DataDir != "/var/lib/lottery" || cfg.Env != "staging" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.RestartGuard || !cfg.AllowAirdrop {
		t.Fatalf("flags not parsed: %+v", cfg)
	}
	if cfg.RateLimitBurst != 6 || cfg.LogMaxSizeMB != 100 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	owner, err := cfg.OwnerIdentity()
	if err != nil || owner.Hex() != testOwner {
		t.Fatalf("owner: %s %v", owner.Hex(), err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing owner": `ListenAddress = ":1"`,
		"zero owner":    `Owner = "` + strings.Repeat("00", 32) + `"`,
		"short owner":   `Owner = "abcd"`,
		"unknown key":   `Owner = "` + testOwner + `"` + "\nValidatorKey = \"x\"",
		"bad log level": `Owner = "` + testOwner + `"` + "\nLogLevel = \"loud\"",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lotteryd.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
