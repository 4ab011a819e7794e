// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables in config
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Mesh != nil {
		cfg.Mesh.NetworkID = SubstituteEnvVars(cfg.Mesh.NetworkID)
		for i, p := range cfg.Mesh.BootstrapPeers {
			cfg.Mesh.BootstrapPeers[i] = SubstituteEnvVars(p)
		}
	}

	if cfg.VM != nil {
		cfg.VM.TrackerPath = SubstituteEnvVars(cfg.VM.TrackerPath)
	}

	if cfg.Reputation != nil {
		cfg.Reputation.RPCEndpoint = SubstituteEnvVars(cfg.Reputation.RPCEndpoint)
		cfg.Reputation.ContractAddress = SubstituteEnvVars(cfg.Reputation.ContractAddress)
		cfg.Reputation.ProgramID = SubstituteEnvVars(cfg.Reputation.ProgramID)
	}

	if cfg.ChainStore != nil {
		cfg.ChainStore.Directory = SubstituteEnvVars(cfg.ChainStore.Directory)
		cfg.ChainStore.PostgresHost = SubstituteEnvVars(cfg.ChainStore.PostgresHost)
		cfg.ChainStore.PostgresUser = SubstituteEnvVars(cfg.ChainStore.PostgresUser)
		cfg.ChainStore.PostgresPassword = SubstituteEnvVars(cfg.ChainStore.PostgresPassword)
		cfg.ChainStore.PostgresDatabase = SubstituteEnvVars(cfg.ChainStore.PostgresDatabase)
	}

	if cfg.EventLog != nil {
		cfg.EventLog.Directory = SubstituteEnvVars(cfg.EventLog.Directory)
	}

	if cfg.KeyStore != nil {
		cfg.KeyStore.Type = SubstituteEnvVars(cfg.KeyStore.Type)
		cfg.KeyStore.Directory = SubstituteEnvVars(cfg.KeyStore.Directory)
		cfg.KeyStore.PassphraseEnv = SubstituteEnvVars(cfg.KeyStore.PassphraseEnv)
	}

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
		cfg.Logging.FilePath = SubstituteEnvVars(cfg.Logging.FilePath)
	}

	if cfg.Health != nil {
		cfg.Health.Path = SubstituteEnvVars(cfg.Health.Path)
	}

	if cfg.Metrics != nil {
		cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	}
}

// LoadDotEnv loads a .env file (if present) into the process
// environment before config loading, so ${VAR} substitution and
// environment overrides can see values from it. Grounded on
// oidc/auth0_integration_test.go's godotenv.Overload usage,
// generalized from a test-only fixture load to the node's normal
// startup path. A missing .env file is not an error -- most
// deployments configure purely via the real environment.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// GetEnvironment returns the current environment from OMERTA_ENV or
// ENVIRONMENT, defaulting to "development".
func GetEnvironment() string {
	env := os.Getenv("OMERTA_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
