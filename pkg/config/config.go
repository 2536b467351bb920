// Package config provides a reusable loader for coinmesh node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a coinmesh full node. It mirrors
// the structure of the YAML files under cmd/fullnode/config.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		PeersFile      string   `mapstructure:"peers_file" json:"peers_file"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		Kind       string  `mapstructure:"kind" json:"kind"` // "puzzle" or "stake"
		Difficulty float64 `mapstructure:"difficulty" json:"difficulty"`
	} `mapstructure:"consensus" json:"consensus"`

	Ledger struct {
		SnapshotPath string `mapstructure:"snapshot_path" json:"snapshot_path"`
	} `mapstructure:"ledger" json:"ledger"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Metrics struct {
		Addr string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // optional .env; missing file is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/fullnode/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the COINMESH_ENV environment
// variable, falling back to the default file set when it is unset or empty.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("COINMESH_ENV"))
}

// PeerList is the static bootstrap peer set — there is no dynamic peer
// discovery, so the initial peer set comes from a flat YAML list of
// "host:port" listen addresses, read once at startup.
type PeerList struct {
	Peers []string `yaml:"peers"`
}

// LoadPeerList reads a peers.yaml-shaped file. A missing file is not an
// error — it yields an empty peer list, matching a brand-new node with no
// known peers yet.
func LoadPeerList(path string) (PeerList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PeerList{}, nil
		}
		return PeerList{}, fmt.Errorf("read peer list: %w", err)
	}
	var pl PeerList
	if err := yaml.Unmarshal(raw, &pl); err != nil {
		return PeerList{}, fmt.Errorf("parse peer list: %w", err)
	}
	return pl, nil
}
