// Package config provides the unified configuration system for walletmux.
// It defines a single BaseConfig structure that all connectors consume,
// ensuring consistent configuration across the entire system.
//
// The configuration is organized into logical sections:
//   - Network: RPC endpoints, chain identity, supported networks
//   - Activation: account-fetch and change-notification behavior
//   - Timeouts: Connection and operation timeouts
//   - Observability: Metrics and logging
//
// Example usage:
//
//	cfg := config.NewBaseConfig("injected", "injected")
//	cfg.Network.SupportedNetworkIDs = []uint64{1, 5}
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// BaseConfig is the single unified configuration structure that all
// connectors use. Specific connectors read the sections relevant to them and
// ignore the rest.
type BaseConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name"`
	// Type specifies the connector type (e.g., "static", "injected", "rpc")
	Type string `yaml:"type" json:"type"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// Network settings identify the chain and endpoint
	Network NetworkConfig `yaml:"network" json:"network"`

	// Activation settings control the activation sequence behavior
	Activation ActivationConfig `yaml:"activation" json:"activation"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// NetworkConfig identifies the chain a connector talks to.
type NetworkConfig struct {
	// Endpoint is the provider endpoint URL (rpc connector)
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// NetworkID is the expected network, 0 means accept whatever the
	// provider reports
	NetworkID uint64 `yaml:"network_id" json:"network_id"`
	// SupportedNetworkIDs restricts activation to the listed networks;
	// empty means unrestricted
	SupportedNetworkIDs []uint64 `yaml:"supported_network_ids" json:"supported_network_ids"`
	// Accounts preconfigures accounts (static connector)
	Accounts []string `yaml:"accounts" json:"accounts"`
}

// ActivationConfig controls how the connection manager drives a connector
// through its activation sequence.
type ActivationConfig struct {
	// ActivateAccountImmediately fetches the account during activation;
	// when false the account is committed as "none selected" and fetched
	// later via ActivateAccount
	ActivateAccountImmediately bool `yaml:"activate_account_immediately" json:"activate_account_immediately"`
	// ListenForNetworkChanges subscribes to network change notifications
	ListenForNetworkChanges bool `yaml:"listen_for_network_changes" json:"listen_for_network_changes"`
	// ListenForAccountChanges subscribes to account change notifications
	ListenForAccountChanges bool `yaml:"listen_for_account_changes" json:"listen_for_account_changes"`
}

// TimeoutConfig contains all timeout-related settings.
// These prevent operations from hanging indefinitely.
type TimeoutConfig struct {
	// Request timeout for individual provider operations
	Request time.Duration `yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Idle timeout before closing inactive connections
	Idle time.Duration `yaml:"idle" json:"idle"`
	// KeepAlive interval for connection health checks
	KeepAlive time.Duration `yaml:"keep_alive" json:"keep_alive"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableLogging controls logging output
	EnableLogging bool `yaml:"enable_logging" json:"enable_logging"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewBaseConfig creates a new BaseConfig with sensible defaults.
//
// Parameters:
//   - name: The connector instance name
//   - connectorType: The type of connector (e.g., "static", "rpc")
func NewBaseConfig(name, connectorType string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Type:    connectorType,
		Version: "1.0.0",
		Activation: ActivationConfig{
			ActivateAccountImmediately: true,
			ListenForNetworkChanges:    true,
			ListenForAccountChanges:    true,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
			Idle:       5 * time.Minute,
			KeepAlive:  30 * time.Second,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableLogging: true,
			LogLevel:      "info",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *BaseConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("connector name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("connector type is required")
	}
	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Network.NetworkID != 0 && len(c.Network.SupportedNetworkIDs) > 0 {
		supported := false
		for _, id := range c.Network.SupportedNetworkIDs {
			if id == c.Network.NetworkID {
				supported = true
				break
			}
		}
		if !supported {
			return fmt.Errorf("network_id %d is not in supported_network_ids", c.Network.NetworkID)
		}
	}
	return nil
}
