package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moneymarket/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DatabaseLevelDB, cfg.Database)
	require.Len(t, cfg.RPC.JWTSecret, 64)
	require.Equal(t, 5*time.Minute, cfg.PriceMaxAge.Std())

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPC.JWTSecret, again.RPC.JWTSecret)
	require.Equal(t, cfg.PriceMaxAge, again.PriceMaxAge)
}

func TestLoadParsesSettings(t *testing.T) {
	admin := crypto.ContractAddress("admin", "x")
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
Database = "MEMORY"
SettlementDSN = "file:outbox.db"
GenesisFile = "genesis.yaml"
Admins = ["` + admin.String() + `"]
PausedModules = ["pool"]
PriceMaxAge = "90s"
LogFile = "/var/log/mmd.log"

[rpc]
JWTSecret = "secret"
RateLimitPerSecond = 2.5
TrustProxyHeaders = true

[telemetry]
Endpoint = "collector:4317"
Traces = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DatabaseMemory, cfg.Database)
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, 90*time.Second, cfg.PriceMaxAge.Std())
	require.Equal(t, []string{"pool"}, cfg.PausedModules)
	require.Equal(t, 2, cfg.RPC.RateBurst)
	require.True(t, cfg.RPC.TrustProxyHeaders)
	require.True(t, cfg.Telemetry.Traces)

	admins, err := cfg.AdminAddresses()
	require.NoError(t, err)
	require.Len(t, admins, 1)
	require.True(t, admins[0].Equal(admin))
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "RPCAddress = \"x\"\nBogus = 1\n",
		"database":     "RPCAddress = \"x\"\nDatabase = \"mongo\"\n",
		"admin":        "RPCAddress = \"x\"\nDatabase = \"memory\"\nAdmins = [\"nope\"]\n",
		"duration":     "RPCAddress = \"x\"\nPriceMaxAge = \"soon\"\n",
		"telemetry":    "RPCAddress = \"x\"\nDatabase = \"memory\"\n[telemetry]\nMetrics = true\n",
		"missing addr": "Database = \"memory\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestParseGenesis(t *testing.T) {
	g, err := ParseGenesis([]byte(`
markets:
  - asset_id: atom
    denom: uatom
    collateral_factor: "0.5"
    price: "10.25"
  - asset_id: USDC
    denom: uusdc
    collateral_factor: 0.8
    price: 1
`))
	require.NoError(t, err)
	require.Equal(t, "main", g.RiskLabel)
	require.Len(t, g.Markets, 2)
	require.Equal(t, "ATOM", g.Markets[0].AssetID)
	require.Equal(t, "0.5", g.Markets[0].Factor().String())
	require.Equal(t, "10.25", g.Markets[0].InitialPrice().String())
	require.Equal(t, "0.8", g.Markets[1].Factor().String())

	_, err = ParseGenesis([]byte("markets:\n  - asset_id: A\n    denom: a\n    collateral_factor: \"1.5\"\n    price: \"1\"\n"))
	require.Error(t, err)
	_, err = ParseGenesis([]byte("markets:\n  - asset_id: A\n    denom: a\n    collateral_factor: \"0.5\"\n    price: \"1\"\n  - asset_id: a\n    denom: b\n    collateral_factor: \"0.5\"\n    price: \"1\"\n"))
	require.ErrorContains(t, err, "duplicate")
	_, err = ParseGenesis([]byte("markets:\n  - asset_id: A\n    collateral_factor: \"0.5\"\n    price: \"1\"\n"))
	require.Error(t, err)
}
