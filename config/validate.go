package config

import (
	"fmt"
	"strings"
)

// MaxRPCBodyBytes caps MaxBodyBytes.
const MaxRPCBodyBytes = 1 << 20

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("rpc address is required")
	}
	switch c.Database {
	case DatabaseLevelDB:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("data dir is required for leveldb")
		}
	case DatabaseMemory:
	default:
		return fmt.Errorf("unsupported database %q", c.Database)
	}
	if _, err := c.AdminAddresses(); err != nil {
		return err
	}
	if c.PriceMaxAge < 0 {
		return fmt.Errorf("price max age must not be negative")
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.RateBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if c.RPC.MaxBodyBytes < 0 || c.RPC.MaxBodyBytes > MaxRPCBodyBytes {
		return fmt.Errorf("rpc: max body bytes must be within [0, %d]", MaxRPCBodyBytes)
	}
	if (c.Telemetry.Traces || c.Telemetry.Metrics) && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: endpoint is required when export is enabled")
	}
	return nil
}
