package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvPrivateKey   = "PRIVATE_KEY"
	EnvFlashbotsKey = "FLASHBOTS_SIGNER_KEY"
	EnvRPCEndpoint  = "RPC_ENDPOINT"
	EnvRelayURL     = "RELAY_URL"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv lets the environment override endpoints that often carry API keys
func (c *Config) ApplyEnv() {
	c.Network.RPCEndpoint = GetEnvWithDefault(EnvRPCEndpoint, c.Network.RPCEndpoint)
	c.Network.RelayURL = GetEnvWithDefault(EnvRelayURL, c.Network.RelayURL)
}

// ParseKey decodes a hex private key with or without the 0x prefix
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
