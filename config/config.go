package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"srpchain/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress      string `toml:"RPCAddress"`
	DataDir         string `toml:"DataDir"`
	NetworkName     string `toml:"NetworkName"`
	OwnerKeystore   string `toml:"OwnerKeystore"`
	OwnerAddress    string `toml:"OwnerAddress"`
	LogFile         string `toml:"LogFile"`
	MinStorageStake string `toml:"MinStorageStake"`
	MetricsAddress  string `toml:"MetricsAddress"`
}

// Load loads the configuration from the given path, creating a default file
// (and owner keystore) when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "srp-local"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./srp-data"
	}
	if cfg.OwnerKeystore == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// StorageStake parses the configured staked-storage minimum. An empty value
// means no quota.
func (c *Config) StorageStake() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.MinStorageStake)
	if trimmed == "" {
		return nil, nil
	}
	stake, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || stake.Sign() < 0 {
		return nil, fmt.Errorf("invalid MinStorageStake %q", c.MinStorageStake)
	}
	return stake, nil
}

// Owner decodes the configured owner address, if any.
func (c *Config) Owner() ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(c.OwnerAddress)
	if trimmed == "" {
		return out, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid OwnerAddress: %w", err)
	}
	return addr.Fixed(), nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := defaultKeystorePath(configPath)
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
		if cfg.OwnerAddress == "" {
			cfg.OwnerAddress = key.PubKey().Address().String()
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystore != keystorePath {
		cfg.OwnerKeystore = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:    ":8080",
		DataDir:       "./srp-data",
		NetworkName:   "srp-local",
		OwnerKeystore: keystorePath,
		OwnerAddress:  key.PubKey().Address().String(),
	}

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
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
