// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a mesh node / provider
// daemon. Every section is optional so a minimal config file (or none
// at all, relying purely on defaults + env overrides) still produces a
// usable Config.
type Config struct {
	Environment string            `yaml:"environment" json:"environment"`
	Mesh        *MeshConfig       `yaml:"mesh" json:"mesh"`
	VM          *VMConfig         `yaml:"vm" json:"vm"`
	Filter      *FilterConfig     `yaml:"filter" json:"filter"`
	Reputation  *ReputationConfig `yaml:"reputation" json:"reputation"`
	ChainStore  *ChainStoreConfig `yaml:"chain_store" json:"chain_store"`
	EventLog    *EventLogConfig   `yaml:"event_log" json:"event_log"`
	KeyStore    *KeyStoreConfig   `yaml:"keystore" json:"keystore"`
	Logging     *LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig    `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig     `yaml:"health" json:"health"`
}

// MeshConfig configures the UDP mesh transport and peer discovery
// (spec §4.1-§4.3).
type MeshConfig struct {
	ListenPort      int           `yaml:"listen_port" json:"listen_port"`
	NetworkID       string        `yaml:"network_id" json:"network_id"`
	BootstrapPeers  []string      `yaml:"bootstrap_peers" json:"bootstrap_peers"`
	StunServers     []string      `yaml:"stun_servers" json:"stun_servers"`
	GossipInterval  time.Duration `yaml:"gossip_interval" json:"gossip_interval"`
	FreshnessWindow time.Duration `yaml:"freshness_window" json:"freshness_window"`
}

// VMConfig configures the VM protocol provider/consumer and the local
// VM tracker (spec §4.4, §4.7).
type VMConfig struct {
	TrackerPath       string        `yaml:"tracker_path" json:"tracker_path"`
	AckTimeout        time.Duration `yaml:"ack_timeout" json:"ack_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
}

// FilterConfig configures provider-side request filtering and peer
// selection (spec §4.5). Mirrors vm/filter.Config's shape so it can be
// loaded straight from file into the filter manager.
type FilterConfig struct {
	OwnerPeerID       string   `yaml:"owner_peer_id" json:"owner_peer_id"`
	BlockedPeers      []string `yaml:"blocked_peers" json:"blocked_peers"`
	TrustedNetworks   []string `yaml:"trusted_networks" json:"trusted_networks"`
	AcceptTrustedOnly bool     `yaml:"accept_trusted_only" json:"accept_trusted_only"`
	MaxCPU            float64  `yaml:"max_cpu" json:"max_cpu"`
	MaxMemoryMB       int      `yaml:"max_memory_mb" json:"max_memory_mb"`
	MaxDiskGB         int      `yaml:"max_disk_gb" json:"max_disk_gb"`
	ForbiddenKeywords []string `yaml:"forbidden_keywords" json:"forbidden_keywords"`
	RequiredKeywords  []string `yaml:"required_keywords" json:"required_keywords"`
	QuietHoursEnabled bool     `yaml:"quiet_hours_enabled" json:"quiet_hours_enabled"`
	QuietHoursStart   int      `yaml:"quiet_hours_start" json:"quiet_hours_start"`
	QuietHoursEnd     int      `yaml:"quiet_hours_end" json:"quiet_hours_end"`
}

// ReputationConfig configures the optional on-chain reputation anchor
// (SPEC_FULL §4.10). Absent or Enabled=false, peer selection runs
// purely on gossip data.
type ReputationConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Chain           string `yaml:"chain" json:"chain"` // "ethereum" or "solana"
	RPCEndpoint     string `yaml:"rpc_endpoint" json:"rpc_endpoint"`
	ContractAddress string `yaml:"contract_address" json:"contract_address"`
	ProgramID       string `yaml:"program_id" json:"program_id"`
}

// ChainStoreConfig configures the witness chain store (SPEC_FULL §2):
// the append-only per-peer checkpoint chain consulted during witness
// selection (spec §4.8). Backend "file" (the default) keeps one JSON
// file whose path is Directory; backend "postgres" requires every Postgres*
// field.
type ChainStoreConfig struct {
	Backend          string `yaml:"backend" json:"backend"` // "file" or "postgres"
	Directory        string `yaml:"directory" json:"directory"`
	PostgresHost     string `yaml:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port" json:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user" json:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password" json:"postgres_password"`
	PostgresDatabase string `yaml:"postgres_database" json:"postgres_database"`
	PostgresSSLMode  string `yaml:"postgres_sslmode" json:"postgres_sslmode"`
}

// EventLogConfig configures the provider daemon's JSONL event sinks
// (spec §6).
type EventLogConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Directory string `yaml:"directory" json:"directory"`
}

// KeyStoreConfig configures where the node's long-lived identity key
// is stored.
type KeyStoreConfig struct {
	Type          string `yaml:"type" json:"type"`
	Directory     string `yaml:"directory" json:"directory"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// LoggingConfig configures internal/logger's output.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig configures the Prometheus metrics HTTP surface.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig configures the health-check HTTP surface.
type HealthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Port    int      `yaml:"port" json:"port"`
	Path    string   `yaml:"path" json:"path"`
	Checks  []string `yaml:"checks" json:"checks"`
}

// LoadFromFile loads configuration from a YAML or JSON file, trying
// YAML first and falling back to JSON (so both .yaml and .json config
// files work with the same loader).
func LoadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to path, choosing format by its
// extension (.json vs anything else -> YAML).
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults fills in zero-valued sections and fields with sane
// defaults, so a sparse or empty config file still produces a fully
// usable Config.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Mesh == nil {
		cfg.Mesh = &MeshConfig{}
	}
	if cfg.Mesh.ListenPort == 0 {
		cfg.Mesh.ListenPort = 7946
	}
	if cfg.Mesh.GossipInterval == 0 {
		cfg.Mesh.GossipInterval = 10 * time.Second
	}
	if cfg.Mesh.FreshnessWindow == 0 {
		cfg.Mesh.FreshnessWindow = 5 * time.Minute
	}

	if cfg.VM == nil {
		cfg.VM = &VMConfig{}
	}
	if cfg.VM.AckTimeout == 0 {
		cfg.VM.AckTimeout = 30 * time.Second
	}
	if cfg.VM.HeartbeatInterval == 0 {
		cfg.VM.HeartbeatInterval = 60 * time.Second
	}

	if cfg.Filter == nil {
		cfg.Filter = &FilterConfig{}
	}

	if cfg.EventLog == nil {
		cfg.EventLog = &EventLogConfig{}
	}
	if cfg.EventLog.Directory == "" {
		cfg.EventLog.Directory = ".omerta/events"
	}

	if cfg.ChainStore == nil {
		cfg.ChainStore = &ChainStoreConfig{}
	}
	if cfg.ChainStore.Backend == "" {
		cfg.ChainStore.Backend = "file"
	}
	if cfg.ChainStore.Directory == "" {
		cfg.ChainStore.Directory = ".omerta/chainstore/checkpoints.json"
	}

	if cfg.KeyStore == nil {
		cfg.KeyStore = &KeyStoreConfig{}
	}
	if cfg.KeyStore.Type == "" {
		cfg.KeyStore.Type = "file"
	}
	if cfg.KeyStore.Directory == "" {
		cfg.KeyStore.Directory = ".omerta/keys"
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health == nil {
		cfg.Health = &HealthConfig{}
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8080
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}
