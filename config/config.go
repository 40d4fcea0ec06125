package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"moneymarket/crypto"
)

const (
	DatabaseLevelDB = "leveldb"
	DatabaseMemory  = "memory"
)

type Config struct {
	RPCAddress    string    `toml:"RPCAddress"`
	DataDir       string    `toml:"DataDir"`
	Database      string    `toml:"Database"`
	SettlementDSN string    `toml:"SettlementDSN"`
	GenesisFile   string    `toml:"GenesisFile"`
	Admins        []string  `toml:"Admins"`
	PausedModules []string  `toml:"PausedModules"`
	PriceMaxAge   Duration  `toml:"PriceMaxAge"`
	Env           string    `toml:"Env"`
	LogFile       string    `toml:"LogFile"`
	RPC           RPC       `toml:"rpc"`
	Telemetry     Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		RPCAddress:    "127.0.0.1:8545",
		DataDir:       "./mm-data",
		Database:      DatabaseLevelDB,
		SettlementDSN: "",
		Admins:        []string{},
		PausedModules: []string{},
		PriceMaxAge:   Duration(5 * time.Minute),
		Env:           "dev",
		RPC: RPC{
			RateLimitPerSecond: 20,
			RateBurst:          40,
		},
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	cfg.RPC.JWTSecret = hex.EncodeToString(secret)
	if err := persist(path, cfg); err != nil {
		return nil, err
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
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) normalize() {
	c.Database = strings.ToLower(strings.TrimSpace(c.Database))
	if c.Database == "" {
		c.Database = DatabaseLevelDB
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "dev"
	}
	if c.Admins == nil {
		c.Admins = []string{}
	}
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
	if c.RPC.RateBurst == 0 && c.RPC.RateLimitPerSecond > 0 {
		c.RPC.RateBurst = int(c.RPC.RateLimitPerSecond)
		if c.RPC.RateBurst < 1 {
			c.RPC.RateBurst = 1
		}
	}
}

// AdminAddresses decodes the configured administrator addresses.
func (c *Config) AdminAddresses() ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(c.Admins))
	for _, raw := range c.Admins {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("admin %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
