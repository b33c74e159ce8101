package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	lcrypto "lotterychain/crypto"
	"lotterychain/native/lottery"
	"lotterychain/observability/logging"
)

type Config struct {
	ListenAddress      string  `toml:"ListenAddress"`
	DataDir            string  `toml:"DataDir"`
	Owner              string  `toml:"Owner"`
	OwnerKeyFile       string  `toml:"OwnerKeyFile"`
	Env                string  `toml:"Env"`
	LogLevel           string  `toml:"LogLevel"`
	LogFile            string  `toml:"LogFile"`
	LogMaxSizeMB       int     `toml:"LogMaxSizeMB"`
	LogMaxBackups      int     `toml:"LogMaxBackups"`
	RestartGuard       bool    `toml:"RestartGuard"`
	AllowAirdrop       bool    `toml:"AllowAirdrop"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

// Load loads the configuration from the given path. When none exists it writes
// a default file together with a freshly generated owner key beside it.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lottery-data"
	}
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.LogMaxBackups < 0 {
		cfg.LogMaxBackups = 0
	}
	if cfg.RateLimitPerSecond > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = int(cfg.RateLimitPerSecond) + 1
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	owner, err := c.OwnerIdentity()
	if err != nil {
		return err
	}
	if owner.IsZero() {
		return fmt.Errorf("Owner must be a non-zero identity")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("RateLimitPerSecond must not be negative")
	}
	return nil
}

// OwnerIdentity parses the configured owner.
func (c *Config) OwnerIdentity() (lottery.Identity, error) {
	if strings.TrimSpace(c.Owner) == "" {
		return lottery.Identity{}, fmt.Errorf("Owner is required")
	}
	return lottery.ParseIdentity(c.Owner)
}

// OwnerKeyPath resolves OwnerKeyFile relative to the config file at path.
func (c *Config) OwnerKeyPath(path string) string {
	if c.OwnerKeyFile == "" || filepath.IsAbs(c.OwnerKeyFile) {
		return c.OwnerKeyFile
	}
	return filepath.Join(filepath.Dir(path), c.OwnerKeyFile)
}

// createDefault creates and saves a default configuration file and the owner
// key that signs directives for it.
func createDefault(path string) (*Config, error) {
	key, err := lcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:      ":8090",
		DataDir:            "./lottery-data",
		Owner:              lcrypto.IdentityFromKey(key).Hex(),
		OwnerKeyFile:       "owner.key",
		LogLevel:           "info",
		LogMaxSizeMB:       100,
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	if err := lcrypto.SaveKey(cfg.OwnerKeyPath(path), key); err != nil {
		return nil, fmt.Errorf("save owner key: %w", err)
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
