package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"moneymarket/contracts"
	"moneymarket/crypto"
	"moneymarket/rpc"
)

const (
	rpcURLEnv   = "MM_RPC_URL"
	rpcTokenEnv = "MM_RPC_TOKEN"
)

type globals struct {
	endpoint string
	token    string
	risk     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "mmctl",
		Short:        "Operate a money market node over JSON-RPC",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&g.endpoint, "rpc", envOr(rpcURLEnv, "http://127.0.0.1:8545"), "RPC endpoint (overrides "+rpcURLEnv+")")
	flags.StringVar(&g.token, "token", os.Getenv(rpcTokenEnv), "Bearer token for mutating calls (overrides "+rpcTokenEnv+")")
	flags.StringVar(&g.risk, "risk", "main", "Risk engine address or label")

	for _, action := range []string{"deposit", "withdraw", "borrow", "repay"} {
		root.AddCommand(poolCommand(g, action))
	}
	root.AddCommand(
		marketMembershipCommand(g, "enter", "Count an asset's supply as collateral"),
		marketMembershipCommand(g, "exit", "Stop counting an asset's supply as collateral"),
		registerCommand(g),
		updateFactorCommand(g),
		setPriceCommand(g),
		liquidityCommand(g),
		balancesCommand(g),
		marketsCommand(g),
		contractsCommand(g),
		pendingCommand(g),
		tokenCommand(),
		keygenCommand(),
	)
	return root
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (g *globals) client() *rpc.Client {
	return rpc.NewClient(g.endpoint, g.token)
}

// resolveContract accepts a bech32 address or a label. Labels derive the
// address the node assigns to code/label.
func resolveContract(code, value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s address or label required", code)
	}
	if addr, err := crypto.DecodeAddress(trimmed); err == nil {
		return addr, nil
	}
	if code == contracts.PoolCode {
		trimmed = strings.ToUpper(trimmed)
	}
	return crypto.ContractAddress(code, trimmed), nil
}

func (g *globals) riskAddress() (crypto.Address, error) {
	return resolveContract(contracts.RiskCode, g.risk)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
